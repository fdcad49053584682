package dataapi

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Numeric 兼容接口把数字编码为字符串的情况
type Numeric float64

func (n *Numeric) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || strings.EqualFold(string(data), "null") {
		*n = 0
		return nil
	}
	if data[0] == '"' && data[len(data)-1] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*n = Numeric(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = Numeric(f)
	return nil
}

func (n Numeric) Float64() float64 {
	return float64(n)
}

// dataTrade data-api /trades 返回的一笔成交
type dataTrade struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Type            string  `json:"type"` // TRADE, REDEEM, SPLIT, MERGE
	Side            string  `json:"side"`
	Asset           string  `json:"asset"`
	ConditionID     string  `json:"conditionId"`
	Size            Numeric `json:"size"`
	UsdcSize        Numeric `json:"usdcSize"`
	Price           Numeric `json:"price"`
	Timestamp       int64   `json:"timestamp"`
	Title           string  `json:"title"`
	Outcome         string  `json:"outcome"`
	TransactionHash string  `json:"transactionHash"`
}

// dataPosition data-api /positions 返回的一个持仓
type dataPosition struct {
	ConditionID  string  `json:"conditionId"`
	Size         Numeric `json:"size"`
	CurrentValue Numeric `json:"currentValue"`
}

// gammaMarket gamma API 返回的市场元数据
type gammaMarket struct {
	ID              string  `json:"id"`
	ConditionID     string  `json:"conditionId"`
	Volume24Hr      Numeric `json:"volume24hr"`
	Closed          *bool   `json:"closed"`
	AcceptingOrders *bool   `json:"acceptingOrders"`
	EndDateISO      string  `json:"endDateIso"`
	ClobTokenIds    string  `json:"clobTokenIds"` // JSON 数组编码成的字符串
	OutcomePrices   string  `json:"outcomePrices"`
}

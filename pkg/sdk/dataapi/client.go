package dataapi

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/copyflow/internal/domain"
	"github.com/betbot/copyflow/pkg/sdk/httpx"
)

var log = logrus.WithField("module", "dataapi")

const (
	DefaultDataURL  = "https://data-api.polymarket.com"
	DefaultGammaURL = "https://gamma-api.polymarket.com"
)

// Client 包装 data-api 与 gamma API，实现钱包动态源与市场数据源。
type Client struct {
	data  *httpx.Client
	gamma *httpx.Client
}

func NewClient(dataURL, gammaURL string) *Client {
	if dataURL == "" {
		dataURL = DefaultDataURL
	}
	if gammaURL == "" {
		gammaURL = DefaultGammaURL
	}
	return &Client{
		data:  httpx.NewClient(dataURL),
		gamma: httpx.NewClient(gammaURL),
	}
}

// GetRecentTrades 拉取某钱包 since 之后的成交，按时间升序返回。
// 只保留 TRADE 类型，REDEEM/SPLIT/MERGE 等头寸操作不是可复制的下单。
func (c *Client) GetRecentTrades(ctx context.Context, address string, since time.Time) ([]domain.WalletTrade, error) {
	params := map[string]any{
		"user":  address,
		"limit": 100,
	}
	if !since.IsZero() {
		// 往前多要一秒，保证服务端无论开闭区间都会带回
		// 水位线同秒的成交
		params["after"] = since.Unix() - 1
	}

	var raw []dataTrade
	resp, err := c.data.DoRequest(ctx, "GET", "/trades", &httpx.RequestOptions{Params: params}, &raw)
	if err := httpx.ParseHTTPError(resp, err); err != nil {
		return nil, errors.Wrapf(err, "拉取钱包 %s 成交失败", address)
	}

	out := make([]domain.WalletTrade, 0, len(raw))
	for _, t := range raw {
		if !strings.EqualFold(t.Type, "TRADE") {
			continue
		}
		ts := time.Unix(t.Timestamp, 0)
		// 窗口是闭区间：时间戳只有秒级精度，同一秒可能有多笔
		// 成交，水位线同秒的新 txHash 必须能被再次返回，
		// 去重交给上层按 txHash 做
		if !since.IsZero() && ts.Before(since) {
			continue
		}
		out = append(out, domain.WalletTrade{
			MarketID:  t.ConditionID,
			Title:     t.Title,
			Outcome:   t.Outcome,
			TokenID:   t.Asset,
			Side:      domain.Side(strings.ToLower(t.Side)),
			Size:      t.UsdcSize.Float64(),
			Price:     t.Price.Float64(),
			TxHash:    t.TransactionHash,
			Timestamp: ts,
		})
	}

	// data-api 按时间倒序返回，水位线扫描需要从旧到新
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// GetWalletPositions 拉取被跟踪钱包的实时持仓组合
func (c *Client) GetWalletPositions(ctx context.Context, address string) (*domain.WalletPortfolio, error) {
	var raw []dataPosition
	resp, err := c.data.DoRequest(ctx, "GET", "/positions", &httpx.RequestOptions{
		Params: map[string]any{"user": address, "limit": 500},
	}, &raw)
	if err := httpx.ParseHTTPError(resp, err); err != nil {
		return nil, errors.Wrapf(err, "拉取钱包 %s 持仓失败", address)
	}

	pf := &domain.WalletPortfolio{}
	for _, p := range raw {
		pf.Positions = append(pf.Positions, domain.WalletPosition{
			ConditionID:  p.ConditionID,
			Size:         p.Size.Float64(),
			CurrentValue: p.CurrentValue.Float64(),
		})
		pf.TotalPortfolioValue += p.CurrentValue.Float64()
	}
	return pf, nil
}

// GetMarketStatuses 批量查询市场结算状态。查不到的市场不出现在结果里。
func (c *Client) GetMarketStatuses(ctx context.Context, marketIDs []string) (map[string]domain.MarketStatus, error) {
	if len(marketIDs) == 0 {
		return map[string]domain.MarketStatus{}, nil
	}

	var raw []gammaMarket
	resp, err := c.gamma.DoRequest(ctx, "GET", "/markets", &httpx.RequestOptions{
		Params: map[string]any{"condition_ids": marketIDs},
	}, &raw)
	if err := httpx.ParseHTTPError(resp, err); err != nil {
		return nil, errors.Wrap(err, "查询市场状态失败")
	}

	out := make(map[string]domain.MarketStatus, len(raw))
	for _, m := range raw {
		st := domain.MarketStatus{
			Closed:          m.Closed != nil && *m.Closed,
			AcceptingOrders: m.AcceptingOrders == nil || *m.AcceptingOrders,
		}
		if m.EndDateISO != "" {
			if t, err := time.Parse("2006-01-02", m.EndDateISO); err == nil {
				st.EndDate = t
			}
		}
		if st.Closed {
			st.ResolvedPrices = parseResolvedPrices(m.ClobTokenIds, m.OutcomePrices)
		}
		out[m.ConditionID] = st
	}
	return out, nil
}

// Volume24h 返回市场过去 24 小时成交量（USDC）
func (c *Client) Volume24h(ctx context.Context, marketID string) (float64, error) {
	var raw []gammaMarket
	resp, err := c.gamma.DoRequest(ctx, "GET", "/markets", &httpx.RequestOptions{
		Params: map[string]any{"condition_ids": marketID},
	}, &raw)
	if err := httpx.ParseHTTPError(resp, err); err != nil {
		return 0, errors.Wrapf(err, "查询市场 %s 成交量失败", marketID)
	}
	if len(raw) == 0 {
		return 0, errors.Errorf("市场 %s 不存在", marketID)
	}
	return raw[0].Volume24Hr.Float64(), nil
}

// parseResolvedPrices 把 gamma 的 clobTokenIds/outcomePrices
// 两个字符串编码的 JSON 数组对齐成 tokenID -> 结算价
func parseResolvedPrices(tokenIDs, prices string) map[string]float64 {
	var tokens []string
	var priceStrs []string
	if err := json.Unmarshal([]byte(tokenIDs), &tokens); err != nil {
		return nil
	}
	if err := json.Unmarshal([]byte(prices), &priceStrs); err != nil {
		return nil
	}
	if len(tokens) != len(priceStrs) {
		log.Warnf("clobTokenIds 与 outcomePrices 长度不一致: %d != %d", len(tokens), len(priceStrs))
		return nil
	}
	out := make(map[string]float64, len(tokens))
	for i, tok := range tokens {
		var p Numeric
		if err := p.UnmarshalJSON([]byte(`"` + priceStrs[i] + `"`)); err != nil {
			continue
		}
		out[tok] = p.Float64()
	}
	return out
}

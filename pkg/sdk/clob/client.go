package clob

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"math"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/polymarket/go-order-utils/pkg/builder"
	orderconfig "github.com/polymarket/go-order-utils/pkg/config"
	gomodel "github.com/polymarket/go-order-utils/pkg/model"
	"github.com/sirupsen/logrus"

	"github.com/betbot/copyflow/internal/domain"
	"github.com/betbot/copyflow/pkg/sdk/httpx"
)

var log = logrus.WithField("module", "clob")

const (
	DefaultClobURL = "https://clob.polymarket.com"

	// taker 为零地址表示公开订单
	zeroAddress = "0x0000000000000000000000000000000000000000"
)

// Client 对接 CLOB 交易所：签名下单、查余额、查订单簿。
// dryRun 模式下不触网，下单直接返回模拟成交。
type Client struct {
	http    *httpx.Client
	auth    *authSigner
	builder builder.ExchangeOrderBuilder
	funder  string
	dryRun  bool
}

func NewClient(clobURL string, key *ecdsa.PrivateKey, funderAddress string, dryRun bool) (*Client, error) {
	if clobURL == "" {
		clobURL = DefaultClobURL
	}
	c := &Client{
		http:   httpx.NewClient(clobURL),
		dryRun: dryRun,
		funder: funderAddress,
	}
	if dryRun && key == nil {
		return c, nil
	}
	if key == nil {
		return nil, errors.New("实盘模式必须配置签名私钥")
	}
	if _, err := orderconfig.GetContracts(polygonChainID); err != nil {
		return nil, errors.Wrap(err, "获取合约地址失败")
	}
	c.auth = newAuthSigner(key)
	c.builder = builder.NewExchangeOrderBuilderImpl(big.NewInt(polygonChainID), nil)
	if c.funder == "" {
		c.funder = c.auth.address.Hex()
	}
	return c, nil
}

// Address 返回签名钱包地址；dry-run 无私钥时为空
func (c *Client) Address() string {
	if c.auth == nil {
		return ""
	}
	return c.auth.address.Hex()
}

// Connect 派生 API 凭证。启动时调用一次。
func (c *Client) Connect(ctx context.Context) error {
	if c.auth == nil {
		return nil
	}
	return c.auth.ensureCreds(ctx, c.http)
}

// clobOrderRequest POST /order 的请求体
type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
}

type clobOrderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

type clobOrderResponse struct {
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
	Success  bool   `json:"success"`
}

type clobBalanceResponse struct {
	Balance string `json:"balance"`
}

type clobNegRiskResponse struct {
	NegRisk bool `json:"neg_risk"`
}

type clobBookResponse struct {
	Bids []clobBookLevel `json:"bids"`
	Asks []clobBookLevel `json:"asks"`
}

type clobBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PlaceOrder 签名并提交一笔 FOK 吃单。req.Size 是份额数。
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	if c.dryRun {
		log.WithFields(logrus.Fields{
			"market": req.MarketID,
			"side":   req.Side,
			"size":   req.Size,
			"price":  req.Price,
		}).Info("dry-run 模拟成交")
		return &domain.OrderResult{
			OrderID:  "sim-" + uuid.NewString(),
			Status:   domain.OrderStatusSimulated,
			MarketID: req.MarketID,
			Side:     req.Side,
			Size:     req.Size,
			Price:    req.Price,
		}, nil
	}

	if err := c.auth.ensureCreds(ctx, c.http); err != nil {
		return nil, err
	}

	negRisk, err := c.isNegRisk(ctx, req.TokenID)
	if err != nil {
		return nil, err
	}

	signed, err := c.buildSignedOrder(req, negRisk)
	if err != nil {
		return nil, err
	}

	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       signed.Order.TokenId.String(),
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          sideString(req.Side),
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     c.apiKey(),
		OrderType: "FOK",
	}

	raw, err := marshalBody(body)
	if err != nil {
		return nil, errors.Wrap(err, "序列化订单失败")
	}
	headers, err := c.auth.l2Headers("POST", "/order", raw)
	if err != nil {
		return nil, err
	}

	var out clobOrderResponse
	resp, err := c.http.DoRequest(ctx, "POST", "/order", &httpx.RequestOptions{
		Headers: headers,
		Data:    raw,
	}, &out)
	if err := httpx.ParseHTTPError(resp, err); err != nil {
		return nil, errors.Wrap(err, "提交订单失败")
	}
	if !out.Success {
		return nil, errors.Errorf("交易所拒单: %s", out.ErrorMsg)
	}

	status := domain.OrderStatusOpen
	if out.Status == "matched" {
		status = domain.OrderStatusFilled
	}
	return &domain.OrderResult{
		OrderID:  out.OrderID,
		Status:   status,
		MarketID: req.MarketID,
		Side:     req.Side,
		Size:     req.Size,
		Price:    req.Price,
	}, nil
}

// GetBalance 查询可用 USDC 余额。dry-run 返回固定模拟资金。
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	if c.dryRun {
		return 10000, nil
	}
	if err := c.auth.ensureCreds(ctx, c.http); err != nil {
		return 0, err
	}

	// HMAC 消息只包含路径，不含查询串
	headers, err := c.auth.l2Headers("GET", "/balance-allowance", nil)
	if err != nil {
		return 0, err
	}

	var out clobBalanceResponse
	resp, err := c.http.DoRequest(ctx, "GET", "/balance-allowance", &httpx.RequestOptions{
		Headers: headers,
		Params:  map[string]any{"asset_type": "COLLATERAL", "signature_type": 0},
	}, &out)
	if err := httpx.ParseHTTPError(resp, err); err != nil {
		return 0, errors.Wrap(err, "查询余额失败")
	}

	// 余额是 6 位小数的整数表示
	micro, err := strconv.ParseFloat(out.Balance, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "余额格式非法: %s", out.Balance)
	}
	return micro / 1e6, nil
}

// GetOrderBook 拉取订单簿快照（公开接口，无需鉴权）
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*domain.OrderBook, error) {
	var out clobBookResponse
	resp, err := c.http.DoRequest(ctx, "GET", "/book", &httpx.RequestOptions{
		Params: map[string]any{"token_id": tokenID},
	}, &out)
	if err := httpx.ParseHTTPError(resp, err); err != nil {
		return nil, errors.Wrapf(err, "拉取订单簿失败: %s", tokenID)
	}

	book := &domain.OrderBook{}
	for _, l := range out.Bids {
		book.Bids = append(book.Bids, parseLevel(l))
	}
	for _, l := range out.Asks {
		book.Asks = append(book.Asks, parseLevel(l))
	}
	return book, nil
}

func parseLevel(l clobBookLevel) domain.OrderBookLevel {
	p, _ := strconv.ParseFloat(l.Price, 64)
	s, _ := strconv.ParseFloat(l.Size, 64)
	return domain.OrderBookLevel{Price: p, Size: s}
}

func (c *Client) isNegRisk(ctx context.Context, tokenID string) (bool, error) {
	var out clobNegRiskResponse
	resp, err := c.http.DoRequest(ctx, "GET", "/neg-risk", &httpx.RequestOptions{
		Params: map[string]any{"token_id": tokenID},
	}, &out)
	if err := httpx.ParseHTTPError(resp, err); err != nil {
		return false, errors.Wrap(err, "查询 neg-risk 失败")
	}
	return out.NegRisk, nil
}

func (c *Client) apiKey() string {
	c.auth.mu.Lock()
	defer c.auth.mu.Unlock()
	if c.auth.creds == nil {
		return ""
	}
	return c.auth.creds.APIKey
}

// buildSignedOrder 构造并签名 EIP-712 订单。全程整数运算，
// CLOB 要求 makerAmount 与 takerAmount 按价格严格对账。
func (c *Client) buildSignedOrder(req domain.OrderRequest, negRisk bool) (*gomodel.SignedOrder, error) {
	pricePrecision := detectPricePrecision(req.Price)
	priceInt := int64(math.Round(req.Price * float64(pricePrecision)))
	sharesCents := int64(math.Floor(req.Size * 100))
	if sharesCents <= 0 || priceInt <= 0 {
		return nil, errors.Errorf("订单数量非法: size=%.4f price=%.4f", req.Size, req.Price)
	}

	amountFactor := int64(1_000_000) / (100 * pricePrecision)
	usdcAmount := sharesCents * priceInt * amountFactor
	sharesAmount := sharesCents * 10000

	// BUY: 付 USDC 收份额；SELL: 付份额收 USDC
	var makerAmount, takerAmount int64
	if req.Side == domain.SideBuy {
		makerAmount, takerAmount = usdcAmount, sharesAmount
	} else {
		makerAmount, takerAmount = sharesAmount, usdcAmount
	}

	var verifyingContract gomodel.VerifyingContract
	if negRisk {
		verifyingContract = gomodel.NegRiskCTFExchange
	} else {
		verifyingContract = gomodel.CTFExchange
	}

	orderData := &gomodel.OrderData{
		Maker:         c.funder,
		Taker:         zeroAddress,
		TokenId:       req.TokenID,
		MakerAmount:   strconv.FormatInt(makerAmount, 10),
		TakerAmount:   strconv.FormatInt(takerAmount, 10),
		FeeRateBps:    "0",
		Nonce:         "0",
		Signer:        crypto.PubkeyToAddress(c.auth.privateKey.PublicKey).Hex(),
		Expiration:    "0",
		Side:          toClobSide(req.Side),
		SignatureType: gomodel.EOA,
	}

	signed, err := c.builder.BuildSignedOrder(c.auth.privateKey, orderData, verifyingContract)
	if err != nil {
		return nil, errors.Wrap(err, "签名订单失败")
	}
	return signed, nil
}

func toClobSide(s domain.Side) gomodel.Side {
	if s == domain.SideSell {
		return gomodel.SELL
	}
	return gomodel.BUY
}

func sideString(s domain.Side) string {
	if s == domain.SideSell {
		return "SELL"
	}
	return "BUY"
}

// detectPricePrecision 按市场 tick 推断价格精度。
// 0.60 → 100（tick 0.01），0.673 → 1000（tick 0.001）。
func detectPricePrecision(price float64) int64 {
	for _, prec := range []int64{100, 1000, 10000} {
		rounded := math.Round(price * float64(prec))
		if math.Abs(rounded/float64(prec)-price) < 1e-10 {
			return prec
		}
	}
	return 100
}

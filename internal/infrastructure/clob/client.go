package clob

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	orderbuilder "github.com/polymarket/go-order-utils/pkg/builder"
	ordermodel "github.com/polymarket/go-order-utils/pkg/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/betbot/pairbot/internal/domain"
	"github.com/betbot/pairbot/internal/ports"
	"github.com/betbot/pairbot/pkg/config"
)

var log = logrus.WithField("component", "clob")

// API 端点
const (
	endpointDeriveAPIKey     = "/auth/derive-api-key"
	endpointCreateAPIKey     = "/auth/api-key"
	endpointBook             = "/book"
	endpointBalanceAllowance = "/balance-allowance"
	endpointOrder            = "/order"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// Creds L2 API 凭证
type Creds struct {
	Key        string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

func (c *Creds) valid() bool {
	return c != nil && c.Key != "" && c.Secret != "" && c.Passphrase != ""
}

// Client CLOB REST 客户端，实现 ports.ExchangeGateway。
// 没有私钥时只能读盘口（模拟盘用）。
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter

	key      *ecdsa.PrivateKey
	signer   common.Address
	funder   common.Address
	sigType  int
	chainID  int64
	negRisk  bool
	tickSize float64

	mu    sync.RWMutex
	creds *Creds
}

var _ ports.ExchangeGateway = (*Client)(nil)

// NewPublic 只读客户端（盘口）
func NewPublic(ex config.ExchangeConfig) *Client {
	timeout := time.Duration(ex.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := ex.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	httpc := resty.New().
		SetBaseURL(strings.TrimSuffix(ex.ClobHost, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "pairbot-clob")
	return &Client{
		http:     httpc,
		limiter:  rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		chainID:  ex.ChainID,
		negRisk:  ex.NegRisk,
		tickSize: 0.01,
	}
}

// New 交易客户端；API 凭证未配置时在第一次需要时自动推导
func New(ex config.ExchangeConfig, w config.WalletConfig) (*Client, error) {
	key, err := LoadPrivateKey(w)
	if err != nil {
		return nil, err
	}
	c := NewPublic(ex)
	c.key = key
	c.signer = crypto.PubkeyToAddress(key.PublicKey)
	c.funder = c.signer
	if w.FunderAddress != "" {
		if !common.IsHexAddress(w.FunderAddress) {
			return nil, fmt.Errorf("invalid funder address %q", w.FunderAddress)
		}
		c.funder = common.HexToAddress(w.FunderAddress)
	}
	c.sigType = w.SignatureType
	if ex.APIKey != "" {
		c.creds = &Creds{Key: ex.APIKey, Secret: ex.APISecret, Passphrase: ex.APIPassphrase}
	}
	return c, nil
}

// Address 下单签名地址
func (c *Client) Address() string { return c.signer.Hex() }

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter")
	}
	return nil
}

func (c *Client) l1Headers(ts, nonce int64) (map[string]string, error) {
	sig, err := clobAuthSignature(c.key, c.chainID, ts, nonce)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"POLY_ADDRESS":   c.signer.Hex(),
		"POLY_SIGNATURE": sig,
		"POLY_TIMESTAMP": strconv.FormatInt(ts, 10),
		"POLY_NONCE":     strconv.FormatInt(nonce, 10),
	}, nil
}

func (c *Client) l2Headers(method, path, body string) (map[string]string, error) {
	c.mu.RLock()
	creds := c.creds
	c.mu.RUnlock()
	if !creds.valid() {
		return nil, errors.New("api creds not configured")
	}
	ts := time.Now().Unix()
	sig, err := l2Signature(creds.Secret, ts, method, path, body)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"POLY_ADDRESS":    c.signer.Hex(),
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  strconv.FormatInt(ts, 10),
		"POLY_API_KEY":    creds.Key,
		"POLY_PASSPHRASE": creds.Passphrase,
	}, nil
}

// EnsureCreds 没有 API 凭证时先推导已有的，推导不到再创建
func (c *Client) EnsureCreds(ctx context.Context) error {
	c.mu.RLock()
	ok := c.creds.valid()
	c.mu.RUnlock()
	if ok {
		return nil
	}
	if c.key == nil {
		return errors.New("私钥未配置，无法推导 API key")
	}
	headers, err := c.l1Headers(time.Now().Unix(), 0)
	if err != nil {
		return err
	}

	var creds Creds
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetResult(&creds).Get(endpointDeriveAPIKey)
	if err != nil || resp.IsError() || !creds.valid() {
		if err == nil {
			log.Infof("推导 API key 失败 (HTTP %d)，尝试创建", resp.StatusCode())
		}
		creds = Creds{}
		resp, err = c.http.R().SetContext(ctx).SetHeaders(headers).SetBody(map[string]any{}).SetResult(&creds).Post(endpointCreateAPIKey)
		if err != nil {
			return errors.Wrap(err, "create api key")
		}
		if resp.IsError() || !creds.valid() {
			return errors.Errorf("create api key: HTTP %d: %s", resp.StatusCode(), resp.String())
		}
	}
	c.mu.Lock()
	c.creds = &creds
	c.mu.Unlock()
	log.WithField("address", c.signer.Hex()).Info("API key 已就绪")
	return nil
}

type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookResponse struct {
	AssetID  string      `json:"asset_id"`
	Bids     []bookLevel `json:"bids"`
	Asks     []bookLevel `json:"asks"`
	TickSize string      `json:"tick_size"`
}

func parseLevels(in []bookLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, lv := range in {
		p, err1 := strconv.ParseFloat(lv.Price, 64)
		s, err2 := strconv.ParseFloat(lv.Size, 64)
		if err1 != nil || err2 != nil || p <= 0 || s <= 0 {
			continue
		}
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out
}

// GetOrderBook 盘口快照（最优价在前）
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*domain.OrderBook, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	var out bookResponse
	resp, err := c.http.R().SetContext(ctx).SetQueryParam("token_id", tokenID).SetResult(&out).Get(endpointBook)
	if err != nil {
		return nil, errors.Wrapf(err, "get book %s", tokenID)
	}
	if resp.IsError() {
		return nil, errors.Errorf("get book %s: HTTP %d: %s", tokenID, resp.StatusCode(), resp.String())
	}
	book := &domain.OrderBook{TokenID: tokenID, Bids: parseLevels(out.Bids), Asks: parseLevels(out.Asks)}
	book.Normalize()
	return book, nil
}

// GetBalance 可用 USDC（接口返回 6 位精度的整数字符串）
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	if err := c.EnsureCreds(ctx); err != nil {
		return 0, err
	}
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	headers, err := c.l2Headers(http.MethodGet, endpointBalanceAllowance, "")
	if err != nil {
		return 0, err
	}
	var out struct {
		Balance string `json:"balance"`
	}
	resp, err := c.http.R().SetContext(ctx).
		SetHeaders(headers).
		SetQueryParams(map[string]string{
			"asset_type":     "COLLATERAL",
			"signature_type": strconv.Itoa(c.sigType),
		}).
		SetResult(&out).
		Get(endpointBalanceAllowance)
	if err != nil {
		return 0, errors.Wrap(err, "get balance")
	}
	if resp.IsError() {
		return 0, errors.Errorf("get balance: HTTP %d: %s", resp.StatusCode(), resp.String())
	}
	raw, err := decimal.NewFromString(orZero(out.Balance))
	if err != nil {
		return 0, errors.Wrapf(err, "parse balance %q", out.Balance)
	}
	return raw.Shift(-collateralDecimals).InexactFloat64(), nil
}

type orderJSON struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

type postOrderBody struct {
	Order     orderJSON `json:"order"`
	Owner     string    `json:"owner"`
	OrderType string    `json:"orderType"`
	DeferExec bool      `json:"deferExec"`
}

type postOrderResponse struct {
	Success      bool   `json:"success"`
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	Status       string `json:"status"`
	MakingAmount string `json:"makingAmount"`
	TakingAmount string `json:"takingAmount"`
}

func saltNow() int64 { return time.Now().UnixNano() }

// signOrder 用 go-order-utils 构建并签名 CTF Exchange 订单
func (c *Client) signOrder(req domain.OrderRequest) (*ordermodel.SignedOrder, error) {
	maker, taker, err := orderAmounts(req.Side, req.Price, req.Size, priceDecimalsOf(c.tickSize))
	if err != nil {
		return nil, err
	}
	side := ordermodel.BUY
	if req.Side == domain.SideSell {
		side = ordermodel.SELL
	}
	contract := ordermodel.CTFExchange
	if c.negRisk {
		contract = ordermodel.NegRiskCTFExchange
	}
	b := orderbuilder.NewExchangeOrderBuilderImpl(big.NewInt(c.chainID), saltNow)
	return b.BuildSignedOrder(c.key, &ordermodel.OrderData{
		Maker:         c.funder.Hex(),
		Taker:         zeroAddress,
		TokenId:       req.TokenID,
		MakerAmount:   maker.String(),
		TakerAmount:   taker.String(),
		FeeRateBps:    "0",
		Nonce:         "0",
		Signer:        c.signer.Hex(),
		Expiration:    "0",
		Side:          side,
		SignatureType: ordermodel.SignatureType(c.sigType),
	}, contract)
}

func (c *Client) encodeOrder(o *ordermodel.SignedOrder, orderType domain.OrderType) ([]byte, error) {
	c.mu.RLock()
	owner := ""
	if c.creds != nil {
		owner = c.creds.Key
	}
	c.mu.RUnlock()
	side := string(domain.SideBuy)
	if o.Side != nil && o.Side.Int64() == int64(ordermodel.SELL) {
		side = string(domain.SideSell)
	}
	return json.Marshal(postOrderBody{
		Owner:     owner,
		OrderType: string(orderType),
		Order: orderJSON{
			Salt:          o.Salt.Int64(),
			Maker:         o.Maker.Hex(),
			Signer:        o.Signer.Hex(),
			Taker:         o.Taker.Hex(),
			TokenID:       o.TokenId.String(),
			MakerAmount:   o.MakerAmount.String(),
			TakerAmount:   o.TakerAmount.String(),
			Expiration:    o.Expiration.String(),
			Nonce:         o.Nonce.String(),
			FeeRateBps:    o.FeeRateBps.String(),
			Side:          side,
			SignatureType: int(o.SignatureType.Int64()),
			Signature:     "0x" + common.Bytes2Hex(o.Signature),
		},
	})
}

// PlaceOrder 签名并提交订单，返回实际成交。FAK 没有吃到任何档位时返回 ports.ErrNotFilled。
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	if c.key == nil {
		return nil, errors.New("只读客户端不能下单")
	}
	if err := c.EnsureCreds(ctx); err != nil {
		return nil, err
	}
	signed, err := c.signOrder(req)
	if err != nil {
		return nil, errors.Wrap(err, "sign order")
	}
	body, err := c.encodeOrder(signed, req.OrderType)
	if err != nil {
		return nil, errors.Wrap(err, "encode order")
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	headers, err := c.l2Headers(http.MethodPost, endpointOrder, string(body))
	if err != nil {
		return nil, err
	}

	var out postOrderResponse
	resp, err := c.http.R().SetContext(ctx).
		SetHeaders(headers).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post(endpointOrder)
	if err != nil {
		return nil, errors.Wrap(err, "post order")
	}
	return parseOrderResponse(req, resp.StatusCode(), out)
}

func parseOrderResponse(req domain.OrderRequest, status int, out postOrderResponse) (*domain.OrderResult, error) {
	msg := strings.ToLower(out.ErrorMsg)
	if strings.Contains(msg, "no orders found to match") || strings.Contains(msg, "couldn't be fully filled") {
		return nil, ports.ErrNotFilled
	}
	if status >= 300 || !out.Success || out.ErrorMsg != "" {
		return nil, errors.Errorf("post order: HTTP %d: %s", status, out.ErrorMsg)
	}
	shares, avg, err := fillFromAmounts(req.Side, out.MakingAmount, out.TakingAmount)
	if err != nil {
		return nil, err
	}
	if shares <= 0 {
		return nil, ports.ErrNotFilled
	}
	return &domain.OrderResult{
		OrderID:    out.OrderID,
		FilledSize: shares,
		AvgPrice:   avg,
		FilledAt:   time.Now(),
	}, nil
}

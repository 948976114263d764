package gateway

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"pixbridge/pkg/errorutil"
	"pixbridge/pkg/logger"
)

var satsPerCoin = decimal.NewFromInt(100_000_000)

// QuoteClient 报价客户端，返回每个币的法币价格
type QuoteClient struct {
	url    string
	fiat   string
	client *http.Client
	logger logger.Logger
}

type quoteResponse struct {
	Price decimal.Decimal `json:"price"`
}

// NewQuoteClient 创建报价客户端
func NewQuoteClient(quoteURL, fiat string, timeout time.Duration, log logger.Logger) *QuoteClient {
	if fiat == "" {
		fiat = "BRL"
	}
	return &QuoteClient{
		url:    quoteURL,
		fiat:   fiat,
		client: &http.Client{Timeout: timeout},
		logger: log,
	}
}

// Price 查询 currency 的法币单价
func (c *QuoteClient) Price(ctx context.Context, currency string) (decimal.Decimal, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return decimal.Zero, errorutil.NonRetriableWithCause(errorutil.KindValidation, "invalid quote url", err)
	}
	q := u.Query()
	q.Set("currency", currency)
	q.Set("fiat", c.fiat)
	u.RawQuery = q.Encode()

	var resp quoteResponse
	if err := doJSON(ctx, c.client, http.MethodGet, u.String(), nil, nil, &resp); err != nil {
		return decimal.Zero, err
	}
	if !resp.Price.IsPositive() {
		return decimal.Zero, errorutil.NonRetriable(errorutil.KindProtocol, "quote price must be positive")
	}

	c.logger.Debugf(ctx, "[Quote] %s/%s = %s", currency, c.fiat, resp.Price)
	return resp.Price, nil
}

// SatsFor 将净法币金额（分）按单价换算为聪，向下取整
func SatsFor(netFiatCents int64, price decimal.Decimal) (int64, error) {
	if !price.IsPositive() {
		return 0, errorutil.Validation("price must be positive")
	}
	if netFiatCents <= 0 {
		return 0, errorutil.Validation("net amount must be positive, got %d", netFiatCents)
	}

	fiat := decimal.New(netFiatCents, -2)
	sats := fiat.Div(price).Mul(satsPerCoin).Floor()
	if !sats.IsPositive() {
		return 0, errorutil.Validation("amount %s is below one satoshi", fiat)
	}
	return sats.IntPart(), nil
}

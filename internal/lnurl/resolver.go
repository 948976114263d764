package lnurl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pixbridge/pkg/logger"
)

const (
	tagPayRequest  = "payRequest"
	statusError    = "ERROR"
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

// Invoice 解析结果
type Invoice struct {
	// Bolt11 可直接支付的发票；直接提供的发票去掉首尾空白和 lightning: 前缀，其余字符原样保留
	Bolt11         string
	Description    string
	SuccessMessage string
	Expiry         time.Duration // 0 表示远端未提供
	PassThrough    bool          // 用户直接提供的发票，未经过网络解析
}

// Resolver 闪电地址解析器（LUD-16 发现 + LUD-06 回调）
type Resolver struct {
	client *http.Client
	scheme string
	logger logger.Logger
}

// Option 可选参数
type Option func(r *Resolver)

// WithHTTPClient 自定义 HTTP 客户端
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.client = c }
}

// WithScheme 覆盖发现请求使用的协议（测试环境使用 http）
func WithScheme(scheme string) Option {
	return func(r *Resolver) {
		if scheme != "" {
			r.scheme = scheme
		}
	}
}

// WithTimeout 单次请求超时
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.client.Timeout = d
		}
	}
}

// NewResolver 创建解析器
func NewResolver(log logger.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		client: &http.Client{Timeout: defaultTimeout},
		scheme: "https",
		logger: log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// payParams LUD-06 第一步响应
type payParams struct {
	Status      string       `json:"status"`
	Reason      string       `json:"reason"`
	Callback    *string      `json:"callback"`
	MinSendable *json.Number `json:"minSendable"`
	MaxSendable *json.Number `json:"maxSendable"`
	Metadata    *string      `json:"metadata"`
	Tag         *string      `json:"tag"`
}

// callbackResponse LUD-06 回调响应
type callbackResponse struct {
	Status        string         `json:"status"`
	Reason        string         `json:"reason"`
	PR            string         `json:"pr"`
	Expiry        *json.Number   `json:"expiry"`
	SuccessAction *successAction `json:"successAction"`
}

type successAction struct {
	Tag         string `json:"tag"`
	Message     string `json:"message"`
	Description string `json:"description"`
}

// Resolve 将用户输入解析为可支付的 BOLT11 发票
// 发票原样返回，不发起网络请求；闪电地址走 LUD-16 发现 + LUD-06 回调
func (r *Resolver) Resolve(ctx context.Context, destination string, amountSats int64) (*Invoice, error) {
	dest := Classify(destination)

	switch dest.Type {
	case DestinationInvoice:
		// 带金额的发票必须与应付金额一致，无金额发票由节点按请求金额支付
		if got, ok := invoiceAmountMsat(dest.Invoice); ok && amountSats > 0 && got != amountSats*1000 {
			return nil, &ResolutionError{
				Code:   CodeInvoiceAmountMismatch,
				Reason: fmt.Sprintf("invoice carries %d msat, order pays %d sats", got, amountSats),
			}
		}
		return &Invoice{Bolt11: dest.Invoice, PassThrough: true}, nil
	case DestinationAddress:
	default:
		return nil, newErr(CodeInvalidFormat)
	}

	if amountSats <= 0 {
		return nil, &ResolutionError{Code: CodeAmountOutOfRange, Reason: fmt.Sprintf("amount %d sats", amountSats)}
	}
	amountMsat := amountSats * 1000

	// 1. 发现
	params, description, err := r.discover(ctx, dest)
	if err != nil {
		return nil, err
	}

	// 2. 金额区间校验，不满足时不发起回调
	minMsat, _ := params.MinSendable.Int64()
	maxMsat, _ := params.MaxSendable.Int64()
	if amountMsat < minMsat || amountMsat > maxMsat {
		return nil, &ResolutionError{
			Code:   CodeAmountOutOfRange,
			Reason: fmt.Sprintf("%d msat not in [%d, %d]", amountMsat, minMsat, maxMsat),
		}
	}

	// 3. 回调取发票
	invoice, err := r.fetchInvoice(ctx, *params.Callback, amountMsat)
	if err != nil {
		return nil, err
	}
	if invoice.Description == "" {
		invoice.Description = description
	}

	r.logger.Infof(ctx, "[LNURL] Resolved %s@%s for %d sats", dest.LocalPart, dest.Domain, amountSats)
	return invoice, nil
}

func (r *Resolver) discover(ctx context.Context, dest Destination) (*payParams, string, error) {
	u := url.URL{
		Scheme: r.scheme,
		Host:   dest.Domain,
		Path:   "/.well-known/lnurlp/" + dest.LocalPart,
	}

	status, body, err := r.get(ctx, u.String())
	if err != nil {
		return nil, "", err
	}
	if status != http.StatusOK {
		return nil, "", &ResolutionError{Code: CodeAddressNotFound, Status: status}
	}

	var params payParams
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&params); err != nil {
		return nil, "", &ResolutionError{Code: CodeMalformedResponse, Err: err}
	}
	if strings.EqualFold(params.Status, statusError) {
		return nil, "", &ResolutionError{Code: CodeRemoteError, Reason: params.Reason}
	}

	switch {
	case params.Callback == nil || *params.Callback == "":
		return nil, "", &ResolutionError{Code: CodeMissingField, Field: "callback"}
	case params.MinSendable == nil:
		return nil, "", &ResolutionError{Code: CodeMissingField, Field: "minSendable"}
	case params.MaxSendable == nil:
		return nil, "", &ResolutionError{Code: CodeMissingField, Field: "maxSendable"}
	case params.Metadata == nil:
		return nil, "", &ResolutionError{Code: CodeMissingField, Field: "metadata"}
	case params.Tag == nil:
		return nil, "", &ResolutionError{Code: CodeMissingField, Field: "tag"}
	}
	if *params.Tag != tagPayRequest {
		return nil, "", &ResolutionError{Code: CodeUnsupportedAddress, Reason: "tag " + *params.Tag}
	}
	if _, err := params.MinSendable.Int64(); err != nil {
		return nil, "", &ResolutionError{Code: CodeMalformedResponse, Err: fmt.Errorf("minSendable: %w", err)}
	}
	if _, err := params.MaxSendable.Int64(); err != nil {
		return nil, "", &ResolutionError{Code: CodeMalformedResponse, Err: fmt.Errorf("maxSendable: %w", err)}
	}

	return &params, metadataText(*params.Metadata), nil
}

func (r *Resolver) fetchInvoice(ctx context.Context, callback string, amountMsat int64) (*Invoice, error) {
	u, err := url.Parse(callback)
	if err != nil || u.Host == "" {
		return nil, &ResolutionError{Code: CodeMalformedResponse, Reason: "invalid callback url", Err: err}
	}
	q := u.Query()
	q.Set("amount", strconv.FormatInt(amountMsat, 10))
	u.RawQuery = q.Encode()

	status, body, err := r.get(ctx, u.String())
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &ResolutionError{Code: CodeCallbackFailed, Status: status}
	}

	var resp callbackResponse
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return nil, &ResolutionError{Code: CodeMalformedResponse, Err: err}
	}
	if strings.EqualFold(resp.Status, statusError) {
		return nil, &ResolutionError{Code: CodeRemoteError, Reason: resp.Reason}
	}
	if resp.PR == "" {
		return nil, newErr(CodeNoInvoiceReturned)
	}

	// 发票金额必须与请求金额一致
	if got, ok := invoiceAmountMsat(resp.PR); ok && got != amountMsat {
		return nil, &ResolutionError{
			Code:   CodeInvoiceAmountMismatch,
			Reason: fmt.Sprintf("invoice carries %d msat, requested %d", got, amountMsat),
		}
	}

	inv := &Invoice{Bolt11: resp.PR}
	if resp.Expiry != nil {
		if secs, err := resp.Expiry.Int64(); err == nil && secs > 0 {
			inv.Expiry = time.Duration(secs) * time.Second
		}
	}
	if sa := resp.SuccessAction; sa != nil {
		switch {
		case sa.Message != "":
			inv.SuccessMessage = sa.Message
		case sa.Description != "":
			inv.SuccessMessage = sa.Description
		}
	}
	return inv, nil
}

// get 发起 GET 请求，传输层错误统一映射为 NetworkError
func (r *Resolver) get(ctx context.Context, target string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, &ResolutionError{Code: CodeInvalidFormat, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, &ResolutionError{Code: CodeNetworkError, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, &ResolutionError{Code: CodeNetworkError, Err: err}
	}
	return resp.StatusCode, body, nil
}

// metadataText 从 LUD-06 metadata（JSON 编码的二维数组）提取 text/plain 描述
func metadataText(metadata string) string {
	var entries [][]interface{}
	if err := json.Unmarshal([]byte(metadata), &entries); err != nil {
		return ""
	}
	for _, e := range entries {
		if len(e) < 2 {
			continue
		}
		if mime, _ := e[0].(string); mime == "text/plain" {
			text, _ := e[1].(string)
			return text
		}
	}
	return ""
}

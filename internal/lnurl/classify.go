package lnurl

import (
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// DestinationType 目标地址类型
type DestinationType int

const (
	DestinationInvalid DestinationType = iota
	DestinationAddress
	DestinationInvoice
)

const minInvoiceLength = 50

var (
	// LUD-16: username 允许 a-z0-9-_.+，域名允许带端口
	addressPattern = regexp.MustCompile(`^([a-z0-9\-_.+]+)@([a-z0-9\-]+(?:\.[a-z0-9\-]+)+(?::[0-9]{1,5})?)$`)
	// BOLT11: ln + 网络前缀 + 可选金额 + 分隔符 1 + bech32 数据
	invoicePattern = regexp.MustCompile(`^ln(bcrt|bc|tbs|tb|sb)([0-9]*[munp]?)1[02-9ac-hj-np-z]+$`)
)

// Destination 分类结果
type Destination struct {
	Type      DestinationType
	Raw       string
	LocalPart string
	Domain    string
	Invoice   string
}

// Classify 识别用户输入：闪电地址 / BOLT11 发票 / 非法
func Classify(raw string) Destination {
	d := Destination{Raw: raw}
	s := strings.TrimSpace(raw)
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "lightning:") {
		s = s[len("lightning:"):]
		lower = lower[len("lightning:"):]
	}

	if m := addressPattern.FindStringSubmatch(lower); m != nil {
		d.Type = DestinationAddress
		d.LocalPart = m[1]
		d.Domain = m[2]
		return d
	}

	if len(lower) >= minInvoiceLength && invoicePattern.MatchString(lower) {
		d.Type = DestinationInvoice
		d.Invoice = s
		return d
	}

	d.Type = DestinationInvalid
	return d
}

// invoiceExponent 金额单位相对 1 BTC = 1e11 msat 的十进制指数
var invoiceExponent = map[byte]int32{0: 11, 'm': 8, 'u': 5, 'n': 2, 'p': -1}

// invoiceAmountMsat 从 BOLT11 人类可读部分解析金额（毫聪）
// 无金额、非整毫聪（pico 金额非 10 的倍数）或超出 int64 的发票返回 ok=false
func invoiceAmountMsat(invoice string) (int64, bool) {
	lower := strings.ToLower(invoice)
	m := invoicePattern.FindStringSubmatch(lower)
	if m == nil || m[2] == "" {
		return 0, false
	}

	amount := m[2]
	multiplier := byte(0)
	if last := amount[len(amount)-1]; last < '0' || last > '9' {
		multiplier = last
		amount = amount[:len(amount)-1]
	}
	exp, known := invoiceExponent[multiplier]
	if amount == "" || !known {
		return 0, false
	}
	n, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, false
	}

	msat := n.Shift(exp)
	if !msat.IsInteger() || msat.GreaterThan(maxMsat) {
		return 0, false
	}
	return msat.IntPart(), true
}

var maxMsat = decimal.NewFromInt(math.MaxInt64)

package etorder

// Status 订单状态
// 主链状态按 rank 严格递增，终态 rank 大于所有主链状态
type Status string

const (
	StatusCreated               Status = "CREATED"
	StatusCurrencySelected      Status = "CURRENCY_SELECTED"
	StatusNetworkSelected       Status = "NETWORK_SELECTED"
	StatusAmountSet             Status = "AMOUNT_SET"
	StatusPaymentMethodSelected Status = "PAYMENT_METHOD_SELECTED"
	StatusPixGenerated          Status = "PIX_GENERATED"
	StatusPixConfirmed          Status = "PIX_CONFIRMED"
	StatusDestinationRequested  Status = "DESTINATION_REQUESTED"
	StatusDestinationProvided   Status = "DESTINATION_PROVIDED"
	StatusCompleted             Status = "COMPLETED"

	StatusFailed    Status = "FAILED"
	StatusTimedOut  Status = "TIMED_OUT"
	StatusCancelled Status = "CANCELLED"
)

var statusRank = map[Status]int{
	StatusCreated:               0,
	StatusCurrencySelected:      1,
	StatusNetworkSelected:       2,
	StatusAmountSet:             3,
	StatusPaymentMethodSelected: 4,
	StatusPixGenerated:          5,
	StatusPixConfirmed:          6,
	StatusDestinationRequested:  7,
	StatusDestinationProvided:   8,
	StatusCompleted:             9,
	StatusFailed:                100,
	StatusTimedOut:              100,
	StatusCancelled:             100,
}

// Rank 返回状态在全序中的位置，未知状态返回 -1
func (s Status) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

// Valid 是否为已知状态
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// IsTerminal 是否为终态
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	}
	return false
}

// AtLeast 当前状态是否不早于 other
// 侧终态 (Failed/TimedOut/Cancelled) 不参与主链比较，只与自身相等
func (s Status) AtLeast(other Status) bool {
	if s == other {
		return true
	}
	if s.Rank() >= 100 || other.Rank() >= 100 {
		return s.Rank() > other.Rank()
	}
	return s.Rank() >= other.Rank()
}

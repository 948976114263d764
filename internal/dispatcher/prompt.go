package dispatcher

import (
	"context"
	"sync"
)

// PromptKind 发给聊天层的提示类型，渲染由聊天层负责
type PromptKind string

const (
	PromptCurrencyMenu       PromptKind = "currency_menu"
	PromptNetworkMenu        PromptKind = "network_menu"
	PromptAmountRequest      PromptKind = "amount_request"
	PromptPaymentMethodMenu  PromptKind = "payment_method_menu"
	PromptPixCode            PromptKind = "pix_code"
	PromptDestinationRequest PromptKind = "destination_request"
	PromptCompletion         PromptKind = "completion"
	PromptFailure            PromptKind = "failure"
	PromptTimeout            PromptKind = "timeout"
	PromptCancelled          PromptKind = "cancelled"
)

// Prompt 提示
type Prompt struct {
	Kind    PromptKind        `json:"kind"`
	OrderID string            `json:"order_id"`
	ChatRef string            `json:"chat_ref"`
	Data    map[string]string `json:"data,omitempty"`
}

// PromptSink 提示输出（lmstfy 队列、测试记录器等）
type PromptSink interface {
	Emit(ctx context.Context, p Prompt) error
}

// RecordingSink 记录所有提示，供测试和本地调试使用
type RecordingSink struct {
	mu      sync.Mutex
	prompts []Prompt
}

// Emit 记录提示
func (s *RecordingSink) Emit(ctx context.Context, p Prompt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, p)
	return nil
}

// Prompts 返回已记录提示的副本
func (s *RecordingSink) Prompts() []Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Prompt, len(s.prompts))
	copy(out, s.prompts)
	return out
}

// Kinds 按顺序返回某订单收到的提示类型
func (s *RecordingSink) Kinds(orderID string) []PromptKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kinds []PromptKind
	for _, p := range s.prompts {
		if p.OrderID == orderID {
			kinds = append(kinds, p.Kind)
		}
	}
	return kinds
}

package dispatcher

import (
	"context"

	"pixbridge/internal/entity/etorder"
	"pixbridge/pkg/errorutil"
)

// Outcome 事件应用结果，调度器从不返回 error
type Outcome struct {
	Order     *etorder.Order   `json:"order,omitempty"` // 应用后的订单快照
	Applied   bool             `json:"applied"`
	Duplicate bool             `json:"duplicate"`
	Rejected  bool             `json:"rejected"`
	Prompts   []Prompt         `json:"prompts,omitempty"`
	Err       *errorutil.Error `json:"error,omitempty"`

	// effects 释放订单锁之后执行的后续动作（网络调用、提交任务）
	effects []effect
}

// effect 后续动作，可以返回一个嵌套事件的结果
type effect func(ctx context.Context) *Outcome

// Result 结果标签：applied / duplicate / rejected / noop
func (o Outcome) Result() string {
	switch {
	case o.Rejected:
		return "rejected"
	case o.Duplicate:
		return "duplicate"
	case o.Applied:
		return "applied"
	}
	return "noop"
}

func rejected(order *etorder.Order, err *errorutil.Error, prompts ...Prompt) Outcome {
	return Outcome{Order: order, Rejected: true, Err: err, Prompts: prompts}
}

func duplicate(order *etorder.Order) Outcome {
	return Outcome{Order: order, Duplicate: true}
}

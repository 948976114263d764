package ingress

import (
	"encoding/json"
	"time"
)

// Message 消息结构（框架内部流转）
type Message struct {
	ID    string // 消息 ID
	Queue string // 队列名称
	Data  []byte // 原始 Job 数据
}

// MessageSource 消息源接口（适配不同 MQ）
type MessageSource interface {
	// Consume 消费消息（阻塞，直到拉取到消息或超时），超时返回 nil 消息
	Consume(queue string, timeout time.Duration, ttr time.Duration) (*Message, error)

	// Ack 确认消息（删除消息）
	Ack(queue string, jobID string) error
}

// DeadLetter 死信投递，Bury 的消息 ACK 后转存
type DeadLetter interface {
	Bury(msg *Message) error
}

// Action 消息处理结果
type Action int

const (
	// ActionSuccess 处理成功，ACK 消息
	ActionSuccess Action = iota
	// ActionRelease 需要重试，不 ACK，TTR 到期后重新投递
	ActionRelease
	// ActionBury 处理失败且不可重试，ACK 后转入死信
	ActionBury
)

func (a Action) String() string {
	switch a {
	case ActionSuccess:
		return "success"
	case ActionRelease:
		return "release"
	case ActionBury:
		return "bury"
	}
	return "unknown"
}

// JobResp 消息处理结果
type JobResp struct {
	Action Action
	Data   []byte // 响应数据（日志用）
}

// SubscriberConfig Subscriber 配置
type SubscriberConfig struct {
	QueueName    string        // 队列名称
	Concurrency  int           // 并发拉取数
	Timeout      time.Duration // 拉取超时
	TTR          time.Duration // Time-To-Run
	Rate         time.Duration // 速率限制（拉取间隔）
	ErrorBackoff time.Duration // 错误退避时间
}

// ProcessorConfig Processor 配置
type ProcessorConfig struct {
	Concurrency int           // 并发处理数
	BufferSize  int           // inputChan 缓冲区大小
	Timeout     time.Duration // 单个消息处理超时
}

// Job 标准 Job 结构（聊天层投递）
type Job struct {
	Payload *JobPayload `json:"payload"`
}

// JobPayload Job 负载
type JobPayload struct {
	Data *JobPayloadData `json:"data"`
}

// JobPayloadData Job 数据
type JobPayloadData struct {
	RequestID  string          `json:"request_id"`  // 请求 ID（TraceID）
	ActionType string          `json:"action_type"` // 动作类型（路由键）
	ID         string          `json:"id"`          // 订单 ID（order_start 为空）
	Data       json.RawMessage `json:"data"`        // 具体业务数据
}

// Meta 元数据
type Meta struct {
	RequestID  string
	ActionType string
	ID         string
}

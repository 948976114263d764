package taskqueue

import (
	"context"
	"errors"
	"time"

	"go.uber.org/atomic"
)

// 错误定义
var (
	ErrUnknownKind  = errors.New("taskqueue: no handler registered for kind")
	ErrTaskNotFound = errors.New("taskqueue: task not found")
	ErrQueueFull    = errors.New("taskqueue: queue is full")
	ErrQueueClosed  = errors.New("taskqueue: queue is closed")
)

// Status 任务状态
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusDone      Status = "DONE"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal 是否为终态
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// Priority 任务优先级
type Priority int

const (
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

// Task 后台任务快照
type Task struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Payload     []byte    `json:"payload,omitempty"`
	OwnerRef    string    `json:"owner_ref"`
	Priority    Priority  `json:"priority"`
	Status      Status    `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
	Result      []byte    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
}

// Handler 任务处理函数
// payload 对队列不透明；返回 error 时由队列决定是否重试
type Handler func(ctx context.Context, payload []byte, ownerRef string) ([]byte, error)

// FinishHook 任务进入终态后回调（每个任务只回调一次）
// err 为最后一次执行的错误，Done 时为 nil
type FinishHook func(ctx context.Context, task Task, err error)

// record 队列内部的任务记录
type record struct {
	task      Task
	cancelled *atomic.Bool
	cancelFn  context.CancelFunc
	timer     *time.Timer
	lastErr   error
}

func newRecord(task Task) *record {
	return &record{
		task:      task,
		cancelled: atomic.NewBool(false),
	}
}

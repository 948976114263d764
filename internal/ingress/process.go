package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pixbridge/internal/dispatcher"
	"pixbridge/pkg/errorutil"
	"pixbridge/pkg/logger"
)

// result 处理结果摘要（写入日志 / JobResp.Data）
type result struct {
	OrderID string           `json:"order_id,omitempty"`
	Status  string           `json:"status,omitempty"`
	Result  string           `json:"result"`
	Error   *errorutil.Error `json:"error,omitempty"`
}

// GetProcess 返回核心处理函数（注入到 Processor）
func GetProcess(log logger.Logger, d OrderDispatcher) Proc {
	return func(ctx context.Context, msg *Message) *JobResp {
		startTime := time.Now()

		// 1. 解析 Job
		meta, data, err := parseJob(msg.Data)
		if err != nil {
			log.Errorf(ctx, "[GetProcess] parseJob failed for %s: %v", msg.ID, err)
			return &JobResp{Action: ActionBury}
		}

		// 2. 注入 TraceID
		ctx = logger.WithTraceID(ctx, meta.RequestID)
		if meta.ID != "" {
			ctx = logger.WithOrderID(ctx, meta.ID)
		}
		log.Infof(ctx, "[GetProcess] Processing job: action_type=%s, id=%s", meta.ActionType, meta.ID)

		// 3. 从 HandlerMap 获取 Handler
		handler, ok := HandlerMap[meta.ActionType]
		if !ok {
			log.Errorf(ctx, "[GetProcess] handler not found for action_type: %s", meta.ActionType)
			return &JobResp{Action: ActionBury}
		}

		// 4. 调用 Handler（捕获 panic）
		resp := invoke(ctx, log, handler, d, meta, data)

		log.Infof(ctx, "[GetProcess] Processing complete: action=%s, duration=%v", resp.Action, time.Since(startTime))
		return resp
	}
}

func invoke(ctx context.Context, log logger.Logger, handler HandlerFunc, d OrderDispatcher, meta *Meta, data json.RawMessage) (resp *JobResp) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf(ctx, "[GetProcess] handler panic: %v", r)
			resp = &JobResp{Action: ActionBury}
		}
	}()

	out, err := handler(ctx, d, meta, data)
	if err != nil {
		if errorutil.IsRetryable(err) {
			log.Warnf(ctx, "[GetProcess] handler failed, release for retry: %v", err)
			return &JobResp{Action: ActionRelease}
		}
		log.Errorf(ctx, "[GetProcess] handler failed, bury: %v", err)
		return &JobResp{Action: ActionBury}
	}
	return &JobResp{Action: ActionSuccess, Data: report(out)}
}

// parseJob 解析 Job
func parseJob(raw []byte) (*Meta, json.RawMessage, error) {
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, nil, fmt.Errorf("json unmarshal failed: %w", err)
	}
	if job.Payload == nil || job.Payload.Data == nil {
		return nil, nil, fmt.Errorf("invalid job structure: payload.data is nil")
	}

	data := job.Payload.Data
	meta := &Meta{
		RequestID:  data.RequestID,
		ActionType: data.ActionType,
		ID:         data.ID,
	}
	if meta.RequestID == "" {
		meta.RequestID = uuid.New().String()
	}
	return meta, data.Data, nil
}

// report 被拒绝的用户输入也 ACK，提示已经发给聊天层
func report(out *dispatcher.Outcome) []byte {
	if out == nil {
		return nil
	}
	r := result{Result: out.Result(), Error: out.Err}
	if out.Order != nil {
		r.OrderID = out.Order.ID
		r.Status = string(out.Order.Status)
	}
	data, _ := json.Marshal(r)
	return data
}

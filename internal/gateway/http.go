package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"pixbridge/pkg/errorutil"
)

const maxBodyBytes = 1 << 20

// doJSON 发送 JSON 请求并解码响应
// 传输层错误和 5xx 可重试；4xx 视为远端业务拒绝；响应无法解码视为协议错误
func doJSON(ctx context.Context, client *http.Client, method, url string, header http.Header, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return errorutil.NonRetriableWithCause(errorutil.KindInternal, "marshal request", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return errorutil.NonRetriableWithCause(errorutil.KindValidation, "build request", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return errorutil.RetriableWithCause(errorutil.KindNetwork, fmt.Sprintf("%s %s", method, url), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return errorutil.RetriableWithCause(errorutil.KindNetwork, "read response", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return errorutil.Retriable(errorutil.KindNetwork,
			fmt.Sprintf("%s %s: status=%d", method, url, resp.StatusCode))
	case resp.StatusCode >= 400:
		return errorutil.NonRetriable(errorutil.KindRemoteBusiness,
			fmt.Sprintf("%s %s: status=%d body=%s", method, url, resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errorutil.NonRetriableWithCause(errorutil.KindProtocol, "decode response", err)
	}
	return nil
}

package cdp

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"

	"cdpblock/pkg/traffic"

	"github.com/mafredri/cdp/protocol/fetch"
)

// ToNeutralRequest 将 CDP 事件转换为中立 Request 模型
func ToNeutralRequest(ev *fetch.RequestPausedReply) *traffic.Request {
	req := traffic.NewRequest()
	req.ID = string(ev.RequestID)
	req.URL = ev.Request.URL
	req.Method = ev.Request.Method
	req.ResourceType = string(ev.ResourceType)

	// CDP 的请求头是 JSON 对象，键顺序不可靠，按键排序保证重放稳定
	var headers map[string]string
	if len(ev.Request.Headers) > 0 {
		if err := json.Unmarshal(ev.Request.Headers, &headers); err == nil {
			keys := make([]string, 0, len(headers))
			for k := range headers {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				req.Headers.Add(k, headers[k])
			}
		}
	}

	if ev.Request.PostData != nil {
		req.Body = []byte(*ev.Request.PostData)
	}
	return req
}

// ToNeutralResponse 将 CDP 事件转换为中立 Response 模型
func ToNeutralResponse(ev *fetch.RequestPausedReply, body []byte) *traffic.Response {
	res := traffic.NewResponse()
	res.StatusCode = 0
	if ev.ResponseStatusCode != nil {
		res.StatusCode = *ev.ResponseStatusCode
	}
	for _, h := range ev.ResponseHeaders {
		res.Headers.Add(h.Name, h.Value)
	}
	res.Body = body
	return res
}

// ToHeaderEntries 将中立 Header 转换为 CDP Header 条目，多值头部展开为多条
func ToHeaderEntries(h *traffic.Header) []fetch.HeaderEntry {
	if h == nil {
		return nil
	}
	entries := make([]fetch.HeaderEntry, 0, h.Len())
	h.Each(func(k, v string) {
		entries = append(entries, fetch.HeaderEntry{Name: k, Value: v})
	})
	return entries
}

// DecodeBody 解码 Fetch.getResponseBody 的返回
func DecodeBody(reply *fetch.GetResponseBodyReply) ([]byte, error) {
	if reply == nil {
		return nil, nil
	}
	if !reply.Base64Encoded {
		return []byte(reply.Body), nil
	}
	b, err := base64.StdEncoding.DecodeString(reply.Body)
	if err != nil {
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	return b, nil
}

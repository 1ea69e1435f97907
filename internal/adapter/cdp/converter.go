package cdp

import (
	"encoding/json"
	"net/url"
	"strings"

	"cdpintercept/internal/interception"
	"cdpintercept/pkg/traffic"

	"github.com/mafredri/cdp/protocol/fetch"
)

// ToPausedRequest 将 Fetch.requestPaused 事件转换为暂停请求，loaderID 来自 Network 域的跟踪结果
func ToPausedRequest(ev *fetch.RequestPausedReply, loaderID string) interception.PausedRequest {
	p := interception.PausedRequest{
		InterceptionID: string(ev.RequestID),
		LoaderID:       loaderID,
		ResourceType:   string(ev.ResourceType),
		URL:            ev.Request.URL,
		Method:         ev.Request.Method,
		Headers:        make(map[string]string),
	}
	if ev.NetworkID != nil {
		p.RequestID = string(*ev.NetworkID)
	}
	if len(ev.Request.Headers) > 0 {
		var headers map[string]string
		if err := json.Unmarshal(ev.Request.Headers, &headers); err == nil {
			for k, v := range headers {
				p.Headers[strings.ToLower(k)] = v
			}
		}
	}
	if ev.Request.PostData != nil {
		pd := *ev.Request.PostData
		p.PostData = &pd
	}
	return p
}

// RedirectedFrom 返回导致本次重定向的 Fetch 请求 ID
func RedirectedFrom(ev *fetch.RequestPausedReply) (string, bool) {
	if ev.RedirectedRequestID == nil {
		return "", false
	}
	return string(*ev.RedirectedRequestID), true
}

// ToNeutralRequest 将拦截请求元数据转换为中立 Request 模型
func ToNeutralRequest(r *interception.InterceptedRequest) *traffic.Request {
	req := traffic.NewRequest()
	req.ID = r.InterceptionID()
	req.URL = r.URL()
	req.Method = r.Method()
	req.ResourceType = r.ResourceType()
	req.IsNavigation = r.IsNavigationRequest()
	for k, v := range r.Headers() {
		req.Headers.Set(k, v)
	}
	if pd, ok := r.PostData(); ok {
		req.Body = []byte(pd)
	}

	// 解析 Query 参数
	if u, err := url.Parse(req.URL); err == nil {
		for key, vals := range u.Query() {
			if len(vals) > 0 {
				req.Query[strings.ToLower(key)] = vals[0]
			}
		}
	}

	// 解析 Cookie
	if cookieHeader := req.Headers.Get("cookie"); cookieHeader != "" {
		for _, pair := range strings.Split(cookieHeader, ";") {
			pair = strings.TrimSpace(pair)
			if kv := strings.SplitN(pair, "=", 2); len(kv) == 2 {
				req.Cookies[strings.ToLower(kv[0])] = kv[1]
			}
		}
	}

	return req
}

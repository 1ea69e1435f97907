package domain

import "cdpintercept/pkg/rulespec"

type SessionID string
type TargetID string

// SessionConfig 会话配置
type SessionConfig struct {
	DevToolsURL       string `json:"devToolsURL"`
	Concurrency       int    `json:"concurrency"`
	QueueSize         int    `json:"queueSize"`
	ProcessTimeoutMS  int    `json:"processTimeoutMS"`
	DispatchTimeoutMS int    `json:"dispatchTimeoutMS"`
}

// EngineStats 规则引擎统计
type EngineStats struct {
	Total   int64                     `json:"total"`
	Matched int64                     `json:"matched"`
	ByRule  map[rulespec.RuleID]int64 `json:"byRule"`
}

// InterceptEvent 单次拦截的处理结果事件
type InterceptEvent struct {
	Session      SessionID `json:"session"`
	Target       TargetID  `json:"target"`
	TraceID      string    `json:"traceId"`
	Timestamp    int64     `json:"timestamp"`
	URL          string    `json:"url"`
	Method       string    `json:"method"`
	ResourceType string    `json:"resourceType"`
	IsNavigation bool      `json:"isNavigation"`
	Result       string    `json:"result"` // continue / respond / abort / none / degraded
	Priority     *int      `json:"priority,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// TargetInfo 可附加的页面目标
type TargetInfo struct {
	ID       TargetID `json:"id"`
	Type     string   `json:"type"`
	URL      string   `json:"url"`
	Title    string   `json:"title"`
	Attached bool     `json:"attached"`
}

// PendingItem 等待人工审批的请求
type PendingItem struct {
	ID           string          `json:"id"`
	TraceID      string          `json:"traceId"`
	Rule         rulespec.RuleID `json:"rule"`
	URL          string          `json:"url"`
	Method       string          `json:"method"`
	ResourceType string          `json:"resourceType"`
	IsNavigation bool            `json:"isNavigation"`
	Timestamp    int64           `json:"timestamp"`
	Deadline     int64           `json:"deadline"`
}

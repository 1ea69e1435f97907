package rulespec

// RuleID 规则唯一标识
type RuleID string

// Config 规则配置文件
type Config struct {
	Version string `yaml:"version" json:"version"`
	Rules   []Rule `yaml:"rules" json:"rules"`
}

// Rule 单条拦截规则，Priority 越大越优先
type Rule struct {
	ID       RuleID `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Disabled bool   `yaml:"disabled" json:"disabled"`
	Priority int    `yaml:"priority" json:"priority"`
	Match    Match  `yaml:"match" json:"match"`
	Action   Action `yaml:"action" json:"action"`
}

// Match 匹配条件组合，空组合视为匹配
type Match struct {
	AllOf  []Condition `yaml:"allOf" json:"allOf"`
	AnyOf  []Condition `yaml:"anyOf" json:"anyOf"`
	NoneOf []Condition `yaml:"noneOf" json:"noneOf"`
}

// ConditionType 条件类型
type ConditionType string

const (
	ConditionURL          ConditionType = "url"
	ConditionMethod       ConditionType = "method"
	ConditionResourceType ConditionType = "resource_type"
	ConditionNavigation   ConditionType = "navigation"
	ConditionHeader       ConditionType = "header"
	ConditionQuery        ConditionType = "query"
	ConditionCookie       ConditionType = "cookie"
	ConditionText         ConditionType = "text"
	ConditionJSON         ConditionType = "json"
)

// Condition 单个匹配条件
type Condition struct {
	Type    ConditionType `yaml:"type" json:"type"`
	Mode    string        `yaml:"mode" json:"mode"`       // url: glob / prefix / exact / regex
	Pattern string        `yaml:"pattern" json:"pattern"` // url 模式
	Values  []string      `yaml:"values" json:"values"`   // method / resource_type 候选值
	Key     string        `yaml:"key" json:"key"`         // header / query / cookie 名称
	Path    string        `yaml:"path" json:"path"`       // json: gjson 路径
	Op      string        `yaml:"op" json:"op"`           // equals / contains / regex / exists
	Value   string        `yaml:"value" json:"value"`
}

// ActionType 行为类型
type ActionType string

const (
	ActionContinue ActionType = "continue"
	ActionRespond  ActionType = "respond"
	ActionAbort    ActionType = "abort"
	// ActionPause 挂起请求等待人工审批，超时后执行 DefaultAction
	ActionPause ActionType = "pause"
)

// Action 规则命中后的行为
type Action struct {
	Type ActionType `yaml:"type" json:"type"`

	// continue
	URL           *string           `yaml:"url" json:"url"`
	Method        *string           `yaml:"method" json:"method"`
	SetHeaders    map[string]string `yaml:"setHeaders" json:"setHeaders"`
	RemoveHeaders []string          `yaml:"removeHeaders" json:"removeHeaders"`
	PostData      *string           `yaml:"postData" json:"postData"`
	PostDataPatch map[string]any    `yaml:"postDataPatch" json:"postDataPatch"` // sjson 路径 -> 值

	// respond
	Status      int               `yaml:"status" json:"status"`
	ContentType string            `yaml:"contentType" json:"contentType"`
	Headers     map[string]string `yaml:"headers" json:"headers"`
	Body        string            `yaml:"body" json:"body"`
	BodyPatch   map[string]any    `yaml:"bodyPatch" json:"bodyPatch"` // sjson 路径 -> 值

	// abort；pause 的默认行为为 abort 时同样使用
	ErrorCode string `yaml:"errorCode" json:"errorCode"`

	// pause
	TimeoutMS     int        `yaml:"timeoutMS" json:"timeoutMS"`
	DefaultAction ActionType `yaml:"defaultAction" json:"defaultAction"` // continue（默认）/ abort
}

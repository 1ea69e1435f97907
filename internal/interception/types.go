package interception

import (
	"context"
	"strings"

	"github.com/mafredri/cdp/protocol/fetch"
)

// Strategy 当前胜出的处理策略
type Strategy string

const (
	StrategyNone     Strategy = "none"
	StrategyContinue Strategy = "continue"
	StrategyRespond  Strategy = "respond"
	StrategyAbort    Strategy = "abort"
	// StrategyDisabled 未开启拦截时的解析结果
	StrategyDisabled Strategy = "disabled"
	// StrategyAlreadyHandled 已下发终结命令后的解析结果
	StrategyAlreadyHandled Strategy = "already-handled"
)

// Commander 拦截终结命令的下发通道，cdp.Fetch 满足该接口
type Commander interface {
	ContinueRequest(ctx context.Context, args *fetch.ContinueRequestArgs) error
	FulfillRequest(ctx context.Context, args *fetch.FulfillRequestArgs) error
	FailRequest(ctx context.Context, args *fetch.FailRequestArgs) error
}

// InterceptAction 延迟执行的拦截处理函数，在 FinalizeInterceptions 中按注册顺序串行执行
type InterceptAction func(ctx context.Context) error

// Observer 请求暂停通知的观察者，通常在其中注册 InterceptAction 或调用协作接口
type Observer func(ctx context.Context, req *InterceptedRequest)

// ContinueOverrides 放行请求时的覆盖项，nil 字段表示不覆盖
type ContinueOverrides struct {
	URL      *string
	Method   *string
	PostData *string
	// Headers 值为 nil 的头不会下发
	Headers map[string]*string
}

// ResponseSpec 模拟响应
type ResponseSpec struct {
	Status      int // 默认 200
	Phrase      string
	Headers     map[string]string
	ContentType string
	Body        []byte
}

// Resolution 当前解析结果
type Resolution struct {
	Action   Strategy
	Priority *int
}

// PausedRequest 浏览器上报的暂停请求
type PausedRequest struct {
	InterceptionID string // Fetch 域的 requestId
	RequestID      string // Network 域的 requestId
	LoaderID       string
	ResourceType   string
	URL            string
	Method         string
	Headers        map[string]string
	PostData       *string
}

// IsNavigation 是否为导航请求
func (p PausedRequest) IsNavigation() bool {
	return p.RequestID != "" && p.RequestID == p.LoaderID && p.ResourceType == "Document"
}

// String 便于日志输出
func (s Strategy) String() string { return string(s) }

func lowerKeys(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = v
	}
	return out
}

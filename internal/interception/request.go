package interception

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mafredri/cdp/protocol/network"

	"cdpintercept/internal/logger"
)

// InterceptedRequest 一个被浏览器暂停的网络请求。
//
// 观察者可以通过两套互斥的入口影响最终结果：
//   - 立即模式 Continue/Respond/Abort：直接下发终结命令；
//   - 协作模式 *WithPriority：只记录候选策略，由 FinalizeInterceptions 统一下发。
//
// 同一个请求只能选择其中一种模式，混用的行为未定义。
// 每个实例最多下发一次终结命令。
type InterceptedRequest struct {
	interceptionID string
	requestID      string
	traceID        string
	url            string
	method         string
	resourceType   string
	headers        map[string]string
	postData       *string
	isNavigation   bool

	commander       Commander
	log             logger.Logger
	dispatchTimeout time.Duration
	redirectChain   *RedirectChain

	mu                sync.Mutex
	allowInterception bool
	handled           bool
	strategy          Strategy
	priority          *int
	continueOverrides ContinueOverrides
	response          ResponseSpec
	abortReason       network.ErrorReason
	actions           []InterceptAction
	outcome           Outcome
}

// Outcome 终结命令的下发结果
type Outcome struct {
	Strategy      Strategy
	Priority      *int
	Err           error
	HandlerErrors int
}

// Option 构造选项
type Option func(*InterceptedRequest)

// WithLogger 设置日志器
func WithLogger(l logger.Logger) Option {
	return func(r *InterceptedRequest) {
		if l != nil {
			r.log = l
		}
	}
}

// WithTraceID 设置追踪 ID
func WithTraceID(id string) Option {
	return func(r *InterceptedRequest) { r.traceID = id }
}

// WithDispatchTimeout 设置 FinalizeInterceptions 下发命令的超时
func WithDispatchTimeout(d time.Duration) Option {
	return func(r *InterceptedRequest) { r.dispatchTimeout = d }
}

// WithRedirectFrom 共享前序请求的重定向链并将其追加到链尾
func WithRedirectFrom(prev *InterceptedRequest) Option {
	return func(r *InterceptedRequest) {
		if prev == nil {
			return
		}
		r.redirectChain = prev.redirectChain
		r.redirectChain.Append(prev)
	}
}

// New 根据暂停事件创建拦截请求
func New(cmd Commander, p PausedRequest, allowInterception bool, opts ...Option) *InterceptedRequest {
	r := &InterceptedRequest{
		interceptionID:    p.InterceptionID,
		requestID:         p.RequestID,
		url:               p.URL,
		method:            p.Method,
		resourceType:      p.ResourceType,
		headers:           lowerKeys(p.Headers),
		isNavigation:      p.IsNavigation(),
		commander:         cmd,
		log:               logger.NewNop(),
		allowInterception: allowInterception,
		strategy:          StrategyNone,
	}
	if p.PostData != nil {
		pd := *p.PostData
		r.postData = &pd
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.redirectChain == nil {
		r.redirectChain = NewRedirectChain()
	}
	r.log = r.log.With("interceptionID", r.interceptionID, "traceID", r.traceID)
	return r
}

// InterceptionID 返回 Fetch 域的请求 ID
func (r *InterceptedRequest) InterceptionID() string { return r.interceptionID }

// RequestID 返回 Network 域的请求 ID
func (r *InterceptedRequest) RequestID() string { return r.requestID }

// TraceID 返回追踪 ID
func (r *InterceptedRequest) TraceID() string { return r.traceID }

func (r *InterceptedRequest) URL() string          { return r.url }
func (r *InterceptedRequest) Method() string       { return r.method }
func (r *InterceptedRequest) ResourceType() string { return r.resourceType }

// IsNavigationRequest 是否为导航请求
func (r *InterceptedRequest) IsNavigationRequest() bool { return r.isNavigation }

// Headers 返回请求头副本，键为小写
func (r *InterceptedRequest) Headers() map[string]string {
	out := make(map[string]string, len(r.headers))
	for k, v := range r.headers {
		out[k] = v
	}
	return out
}

// PostData 返回请求体
func (r *InterceptedRequest) PostData() (string, bool) {
	if r.postData == nil {
		return "", false
	}
	return *r.postData, true
}

// RedirectChain 返回重定向链快照
func (r *InterceptedRequest) RedirectChain() []*InterceptedRequest {
	return r.redirectChain.Snapshot()
}

// IsInterceptResolutionHandled 是否已经下发终结命令
func (r *InterceptedRequest) IsInterceptResolutionHandled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handled
}

// InterceptResolution 返回当前胜出的策略与优先级
func (r *InterceptedRequest) InterceptResolution() Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case !r.allowInterception:
		return Resolution{Action: StrategyDisabled}
	case r.handled:
		return Resolution{Action: StrategyAlreadyHandled}
	}
	return Resolution{Action: r.strategy, Priority: copyInt(r.priority)}
}

// ContinueRequestOverrides 返回当前记录的放行覆盖项
func (r *InterceptedRequest) ContinueRequestOverrides() ContinueOverrides {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.continueOverrides
}

// ResponseForRequest 返回当前记录的模拟响应
func (r *InterceptedRequest) ResponseForRequest() ResponseSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.response
}

// AbortErrorReason 返回当前记录的中止原因
func (r *InterceptedRequest) AbortErrorReason() network.ErrorReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.abortReason
}

// Outcome 返回终结命令下发结果，未下发时 Strategy 为空
func (r *InterceptedRequest) Outcome() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

// EnqueueInterceptAction 注册延迟处理函数
func (r *InterceptedRequest) EnqueueInterceptAction(action InterceptAction) {
	if action == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
}

// Continue 立即放行请求
func (r *InterceptedRequest) Continue(ctx context.Context, o ContinueOverrides) error {
	if r.isDataURL() {
		return nil
	}
	if err := r.claim(); err != nil {
		return err
	}
	return r.dispatch(ctx, StrategyContinue, nil, true, func(ctx context.Context) error {
		return r.commander.ContinueRequest(ctx, buildContinueArgs(r.interceptionID, o))
	})
}

// Respond 立即以模拟响应完成请求
func (r *InterceptedRequest) Respond(ctx context.Context, spec ResponseSpec) error {
	if r.isDataURL() {
		return nil
	}
	if err := r.claim(); err != nil {
		return err
	}
	return r.dispatch(ctx, StrategyRespond, nil, true, func(ctx context.Context) error {
		return r.commander.FulfillRequest(ctx, buildFulfillArgs(r.interceptionID, spec))
	})
}

// Abort 立即中止请求，code 为空时使用 failed
func (r *InterceptedRequest) Abort(ctx context.Context, code string) error {
	if r.isDataURL() {
		return nil
	}
	reason, ok := ErrorReasonFor(code)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownErrorCode, code)
	}
	if err := r.claim(); err != nil {
		return err
	}
	return r.dispatch(ctx, StrategyAbort, nil, true, func(ctx context.Context) error {
		return r.commander.FailRequest(ctx, buildFailArgs(r.interceptionID, reason))
	})
}

// ContinueWithPriority 以指定优先级参与放行决策
func (r *InterceptedRequest) ContinueWithPriority(o ContinueOverrides, priority int) error {
	if r.isDataURL() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkLocked(); err != nil {
		return err
	}
	switch {
	case r.priority == nil || priority > *r.priority:
		r.promoteLocked(StrategyContinue, priority)
	case priority == *r.priority && r.strategy != StrategyAbort && r.strategy != StrategyRespond:
		r.strategy = StrategyContinue
	default:
		return nil
	}
	r.continueOverrides = o
	return nil
}

// RespondWithPriority 以指定优先级参与模拟响应决策
func (r *InterceptedRequest) RespondWithPriority(spec ResponseSpec, priority int) error {
	if r.isDataURL() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkLocked(); err != nil {
		return err
	}
	switch {
	case r.priority == nil || priority > *r.priority:
		r.promoteLocked(StrategyRespond, priority)
	case priority == *r.priority && r.strategy != StrategyAbort:
		r.strategy = StrategyRespond
	default:
		return nil
	}
	r.response = spec
	return nil
}

// AbortWithPriority 以指定优先级参与中止决策，同优先级时 abort 胜出
func (r *InterceptedRequest) AbortWithPriority(code string, priority int) error {
	if r.isDataURL() {
		return nil
	}
	reason, ok := ErrorReasonFor(code)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownErrorCode, code)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkLocked(); err != nil {
		return err
	}
	if r.priority == nil || priority >= *r.priority {
		r.promoteLocked(StrategyAbort, priority)
		r.abortReason = reason
	}
	return nil
}

// FinalizeInterceptions 按注册顺序串行执行所有延迟处理函数，然后下发唯一的终结命令。
// 处理函数的错误与 panic 只记录日志；下发失败同样只记录日志。
func (r *InterceptedRequest) FinalizeInterceptions(ctx context.Context) {
	r.mu.Lock()
	actions := r.actions
	r.actions = nil
	r.mu.Unlock()

	failures := 0
	for i, action := range actions {
		if err := runAction(ctx, action); err != nil {
			failures++
			r.log.Err(err, "拦截处理函数执行失败", "index", i)
		}
	}

	r.mu.Lock()
	r.outcome.HandlerErrors = failures
	if !r.allowInterception || r.handled || r.strategy == StrategyNone {
		r.mu.Unlock()
		return
	}
	r.handled = true
	strategy := r.strategy
	priority := copyInt(r.priority)
	overrides := r.continueOverrides
	response := r.response
	reason := r.abortReason
	r.mu.Unlock()

	dctx, cancel := r.dispatchContext(ctx)
	defer cancel()

	switch strategy {
	case StrategyAbort:
		_ = r.dispatch(dctx, strategy, priority, false, func(ctx context.Context) error {
			return r.commander.FailRequest(ctx, buildFailArgs(r.interceptionID, reason))
		})
	case StrategyRespond:
		_ = r.dispatch(dctx, strategy, priority, false, func(ctx context.Context) error {
			return r.commander.FulfillRequest(ctx, buildFulfillArgs(r.interceptionID, response))
		})
	case StrategyContinue:
		_ = r.dispatch(dctx, strategy, priority, false, func(ctx context.Context) error {
			return r.commander.ContinueRequest(ctx, buildContinueArgs(r.interceptionID, overrides))
		})
	}
}

// claim 立即模式下检查前置条件并占用终结权
func (r *InterceptedRequest) claim() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkLocked(); err != nil {
		return err
	}
	r.handled = true
	return nil
}

func (r *InterceptedRequest) checkLocked() error {
	if !r.allowInterception {
		return ErrInterceptionNotEnabled
	}
	if r.handled {
		return ErrAlreadyHandled
	}
	return nil
}

func (r *InterceptedRequest) promoteLocked(s Strategy, priority int) {
	r.strategy = s
	p := priority
	r.priority = &p
}

// dispatch 下发终结命令；surface 为 true 时将非法请求头错误返回给调用方
func (r *InterceptedRequest) dispatch(ctx context.Context, s Strategy, priority *int, surface bool, call func(context.Context) error) error {
	err := call(ctx)

	r.mu.Lock()
	r.outcome.Strategy = s
	r.outcome.Priority = priority
	r.outcome.Err = err
	r.mu.Unlock()

	if err == nil {
		r.log.Debug("拦截命令已下发", "strategy", s, "url", r.url)
		return nil
	}
	if surface && isInvalidHeader(err) {
		return fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	// 请求或页面可能已销毁，属于可容忍的竞争
	r.log.Err(err, "下发拦截命令失败", "strategy", s, "url", r.url)
	return nil
}

func (r *InterceptedRequest) dispatchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if r.dispatchTimeout <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, r.dispatchTimeout)
}

func (r *InterceptedRequest) isDataURL() bool {
	return strings.HasPrefix(r.url, "data:")
}

func runAction(ctx context.Context, action InterceptAction) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("intercept action panic: %v", p)
		}
	}()
	return action(ctx)
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

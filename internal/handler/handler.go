package handler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/mafredri/cdp/protocol/fetch"

	"cdpintercept/internal/ctxkeys"
	"cdpintercept/internal/interception"
	"cdpintercept/internal/logger"
	"cdpintercept/internal/storage"
	"cdpintercept/pkg/domain"
)

const (
	defaultProcessTimeout  = 3 * time.Second
	defaultDispatchTimeout = time.Second
	redirectCacheSize      = 1024
	redirectCacheTTL       = 2 * time.Minute
)

// 处理结果
const (
	ResultDegraded = "degraded"
)

// Recorder 解析结果的持久化接口
type Recorder interface {
	Save(ctx context.Context, rec *storage.ResolutionRecord) error
}

// Handler 事件处理器，负责通知观察者、收敛拦截决策、记录与发送事件
type Handler struct {
	mu        sync.RWMutex
	observers []interception.Observer

	session         domain.SessionID
	events          chan domain.InterceptEvent
	recorder        Recorder
	processTimeout  time.Duration
	dispatchTimeout time.Duration
	redirects       *expirable.LRU[string, *interception.InterceptedRequest]
	log             logger.Logger
}

// Config 配置选项
type Config struct {
	Session           domain.SessionID
	Events            chan domain.InterceptEvent
	Recorder          Recorder
	ProcessTimeoutMS  int
	DispatchTimeoutMS int
	Logger            logger.Logger
}

// New 创建事件处理器
func New(cfg Config) *Handler {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	h := &Handler{
		session:         cfg.Session,
		events:          cfg.Events,
		recorder:        cfg.Recorder,
		processTimeout:  defaultProcessTimeout,
		dispatchTimeout: defaultDispatchTimeout,
		redirects:       expirable.NewLRU[string, *interception.InterceptedRequest](redirectCacheSize, nil, redirectCacheTTL),
		log:             l,
	}
	if cfg.ProcessTimeoutMS > 0 {
		h.processTimeout = time.Duration(cfg.ProcessTimeoutMS) * time.Millisecond
	}
	if cfg.DispatchTimeoutMS > 0 {
		h.dispatchTimeout = time.Duration(cfg.DispatchTimeoutMS) * time.Millisecond
	}
	return h
}

// AddObserver 注册观察者，按注册顺序通知
func (h *Handler) AddObserver(o interception.Observer) {
	if o == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers = append(h.observers, o)
}

// Handle 处理一次请求暂停事件。redirectedFrom 为前序请求的拦截 ID，可为空。
// 返回创建的拦截请求，便于调用方检查结果。
func (h *Handler) Handle(
	ctx context.Context,
	targetID domain.TargetID,
	cmd interception.Commander,
	p interception.PausedRequest,
	redirectedFrom string,
	enabled bool,
) *interception.InterceptedRequest {
	start := time.Now()
	traceID := uuid.NewString()
	ctx = ctxkeys.WithTraceID(ctx, traceID)
	l := h.log.With("traceID", traceID, "target", string(targetID))

	opts := []interception.Option{
		interception.WithLogger(h.log),
		interception.WithTraceID(traceID),
		interception.WithDispatchTimeout(h.dispatchTimeout),
	}
	if redirectedFrom != "" {
		if prev, ok := h.redirects.Get(redirectedFrom); ok {
			opts = append(opts, interception.WithRedirectFrom(prev))
		}
	}
	req := interception.New(cmd, p, enabled, opts...)
	h.redirects.Add(p.InterceptionID, req)

	l.Debug("开始处理请求拦截", "url", p.URL, "method", p.Method, "navigation", req.IsNavigationRequest())

	h.mu.RLock()
	observers := make([]interception.Observer, len(h.observers))
	copy(observers, h.observers)
	timeout := h.processTimeout
	h.mu.RUnlock()

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for i, o := range observers {
		h.notify(pctx, l, i, o, req)
	}
	req.FinalizeInterceptions(pctx)

	outcome := req.Outcome()
	result := string(outcome.Strategy)
	errText := ""
	if outcome.Err != nil {
		errText = outcome.Err.Error()
	}

	// Fetch 域暂停的请求若无人处理会一直挂起，这里统一放行
	if !req.IsInterceptResolutionHandled() {
		result = ResultDegraded
		if err := h.continueUnhandled(ctx, cmd, p.InterceptionID); err != nil {
			errText = err.Error()
			l.Err(err, "降级放行失败", "url", p.URL)
		} else {
			l.Debug("无观察者处理，执行降级放行", "url", p.URL)
		}
	}

	h.emit(domain.InterceptEvent{
		Session:      h.session,
		Target:       targetID,
		TraceID:      traceID,
		URL:          p.URL,
		Method:       p.Method,
		ResourceType: p.ResourceType,
		IsNavigation: req.IsNavigationRequest(),
		Result:       result,
		Priority:     outcome.Priority,
		Error:        errText,
	})
	h.record(ctx, l, &storage.ResolutionRecord{
		TraceID:        traceID,
		SessionID:      string(h.session),
		TargetID:       string(targetID),
		InterceptionID: p.InterceptionID,
		URL:            p.URL,
		Method:         p.Method,
		ResourceType:   p.ResourceType,
		IsNavigation:   req.IsNavigationRequest(),
		Action:         result,
		Priority:       outcome.Priority,
		HandlerErrors:  outcome.HandlerErrors,
		Error:          errText,
		DurationMS:     time.Since(start).Milliseconds(),
	})
	l.Debug("请求拦截处理完成", "result", result, "duration", time.Since(start))
	return req
}

// Degrade 未进入观察者流程时直接放行，例如并发队列已满
func (h *Handler) Degrade(ctx context.Context, targetID domain.TargetID, cmd interception.Commander, p interception.PausedRequest, reason string) {
	h.log.Warn("执行降级策略：直接放行", "target", string(targetID), "reason", reason, "requestID", p.InterceptionID)
	errText := ""
	if err := h.continueUnhandled(ctx, cmd, p.InterceptionID); err != nil {
		errText = err.Error()
		h.log.Err(err, "降级放行失败", "requestID", p.InterceptionID)
	}
	h.emit(domain.InterceptEvent{
		Session: h.session,
		Target:  targetID,
		URL:     p.URL,
		Method:  p.Method,
		Result:  ResultDegraded,
		Error:   errText,
	})
}

func (h *Handler) notify(ctx context.Context, l logger.Logger, idx int, o interception.Observer, req *interception.InterceptedRequest) {
	defer func() {
		if r := recover(); r != nil {
			l.Err(fmt.Errorf("observer panic: %v", r), "观察者执行异常", "index", idx)
		}
	}()
	o(ctx, req)
}

func (h *Handler) continueUnhandled(ctx context.Context, cmd interception.Commander, id string) error {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.dispatchTimeout)
	defer cancel()
	return cmd.ContinueRequest(dctx, &fetch.ContinueRequestArgs{RequestID: fetch.RequestID(id)})
}

// emit 安全发送事件到通道，自动添加时间戳
func (h *Handler) emit(evt domain.InterceptEvent) {
	if h.events == nil {
		return
	}
	evt.Timestamp = time.Now().UnixMilli()
	select {
	case h.events <- evt:
	default:
	}
}

func (h *Handler) record(ctx context.Context, l logger.Logger, rec *storage.ResolutionRecord) {
	if h.recorder == nil {
		return
	}
	if err := h.recorder.Save(context.WithoutCancel(ctx), rec); err != nil {
		l.Err(err, "写入审计记录失败")
	}
}

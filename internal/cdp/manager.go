package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/rpcc"

	"cdpintercept/internal/handler"
	"cdpintercept/internal/interception"
	"cdpintercept/internal/logger"
	"cdpintercept/pkg/domain"
)

const (
	loaderCacheSize = 4096
	loaderCacheTTL  = 5 * time.Minute
)

// ErrNotAttached 尚未附加到目标
var ErrNotAttached = errors.New("not attached")

// Manager 管理单个页面目标的 CDP 连接与拦截事件流
type Manager struct {
	devtoolsURL string
	targetID    domain.TargetID

	conn      *rpcc.Conn
	client    *cdp.Client
	commander interception.Commander
	ctx       context.Context
	cancel    context.CancelFunc

	handler *handler.Handler
	pool    *workerPool
	enabled atomic.Bool
	loaders *expirable.LRU[string, string] // Network requestId -> loaderId
	log     logger.Logger

	// 每次 Enable 启动的事件流，Disable/Detach 时取消并等待退出
	streamMu     sync.Mutex
	streamCancel context.CancelFunc
	streams      sync.WaitGroup
}

// Options 管理器选项
type Options struct {
	DevToolsURL string
	Concurrency int
	QueueSize   int
	Handler     *handler.Handler
	Logger      logger.Logger
}

// New 创建管理器
func New(opts Options) *Manager {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	m := &Manager{
		devtoolsURL: opts.DevToolsURL,
		handler:     opts.Handler,
		loaders:     expirable.NewLRU[string, string](loaderCacheSize, nil, loaderCacheTTL),
		log:         l,
	}
	if m.handler == nil {
		m.handler = handler.New(handler.Config{Logger: l})
	}
	if opts.Concurrency > 0 {
		m.pool = newWorkerPool(opts.Concurrency, opts.QueueSize)
	}
	return m
}

// ListTargets 列出 DevTools 可附加的页面目标
func ListTargets(ctx context.Context, devtoolsURL string) ([]domain.TargetInfo, error) {
	targets, err := devtool.New(devtoolsURL).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	out := make([]domain.TargetInfo, 0, len(targets))
	for _, t := range targets {
		out = append(out, domain.TargetInfo{
			ID:    domain.TargetID(t.ID),
			Type:  string(t.Type),
			URL:   t.URL,
			Title: t.Title,
		})
	}
	return out, nil
}

// AttachTarget 附加到指定目标，target 为空时选择第一个页面
func (m *Manager) AttachTarget(ctx context.Context, target domain.TargetID) error {
	targets, err := devtool.New(m.devtoolsURL).List(ctx)
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}
	var sel *devtool.Target
	for i := range targets {
		t := targets[i]
		if target == "" && string(t.Type) == "page" {
			sel = t
			break
		}
		if target != "" && string(t.ID) == string(target) {
			sel = t
			break
		}
	}
	if sel == nil {
		return fmt.Errorf("no target %q", target)
	}

	if err := m.connect(ctx, sel.WebSocketDebuggerURL, domain.TargetID(sel.ID)); err != nil {
		return err
	}
	m.log.Info("已附加目标", "url", sel.URL)
	return nil
}

// connect 建立到目标调试地址的连接
func (m *Manager) connect(ctx context.Context, wsURL string, id domain.TargetID) error {
	conn, err := rpcc.DialContext(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.conn = conn
	m.client = cdp.NewClient(conn)
	m.commander = m.client.Fetch
	m.targetID = id
	m.log = m.log.With("target", string(id))
	return nil
}

// TargetID 返回已附加的目标
func (m *Manager) TargetID() domain.TargetID { return m.targetID }

// Enable 开启 Network 与 Fetch 域并开始消费事件。重复调用会先关闭上一轮的事件流，
// 保证每个暂停请求只被消费一次。
func (m *Manager) Enable() error {
	if m.client == nil {
		return ErrNotAttached
	}
	m.streamMu.Lock()
	defer m.streamMu.Unlock()
	m.stopStreamsLocked()

	sctx, cancel := context.WithCancel(m.ctx)
	// 先订阅再开启 Fetch 域，避免丢失开启后立即到达的事件
	paused, err := m.client.Fetch.RequestPaused(sctx)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe requestPaused: %w", err)
	}
	sent, err := m.client.Network.RequestWillBeSent(sctx)
	if err != nil {
		paused.Close()
		cancel()
		return fmt.Errorf("subscribe requestWillBeSent: %w", err)
	}
	if err := m.client.Network.Enable(sctx, nil); err != nil {
		paused.Close()
		sent.Close()
		cancel()
		return fmt.Errorf("network enable: %w", err)
	}
	p := "*"
	patterns := []fetch.RequestPattern{
		{URLPattern: &p, RequestStage: fetch.RequestStageRequest},
	}
	if err := m.client.Fetch.Enable(sctx, &fetch.EnableArgs{Patterns: patterns}); err != nil {
		paused.Close()
		sent.Close()
		cancel()
		return fmt.Errorf("fetch enable: %w", err)
	}

	m.streamCancel = func() {
		cancel()
		paused.Close()
		sent.Close()
	}
	m.enabled.Store(true)
	m.streams.Add(2)
	go func() {
		defer m.streams.Done()
		m.trackLoaders(sent)
	}()
	go func() {
		defer m.streams.Done()
		m.consume(sctx, paused)
	}()
	m.log.Info("拦截已启用")
	return nil
}

// Disable 关闭拦截并停止事件流；已在处理中的请求会以未启用状态收敛并被放行
func (m *Manager) Disable() error {
	if m.client == nil {
		return ErrNotAttached
	}
	m.streamMu.Lock()
	defer m.streamMu.Unlock()
	m.enabled.Store(false)
	err := m.client.Fetch.Disable(m.ctx)
	m.stopStreamsLocked()
	if err != nil {
		return fmt.Errorf("fetch disable: %w", err)
	}
	m.log.Info("拦截已禁用")
	return nil
}

// IsEnabled 是否启用拦截
func (m *Manager) IsEnabled() bool { return m.enabled.Load() }

// Detach 断开连接并停止所有后台协程
func (m *Manager) Detach() error {
	m.enabled.Store(false)
	m.streamMu.Lock()
	m.stopStreamsLocked()
	m.streamMu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
	var err error
	if m.conn != nil {
		err = m.conn.Close()
	}
	if m.pool != nil {
		m.pool.stop()
	}
	m.log.Info("已断开目标")
	return err
}

func (m *Manager) stopStreamsLocked() {
	if m.streamCancel == nil {
		return
	}
	m.streamCancel()
	m.streamCancel = nil
	m.streams.Wait()
}

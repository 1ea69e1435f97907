package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cdpintercept/internal/cdp"
	"cdpintercept/internal/handler"
	"cdpintercept/internal/interception"
	"cdpintercept/internal/logger"
	"cdpintercept/internal/rules"
	"cdpintercept/pkg/domain"
	"cdpintercept/pkg/rulespec"
)

const eventBuffer = 256

var (
	ErrTargetAttached    = errors.New("target already attached")
	ErrTargetNotAttached = errors.New("target not attached")
)

// Session 一个浏览器调试会话：规则引擎、事件处理器与已附加的目标
type Session struct {
	ID      domain.SessionID
	Config  domain.SessionConfig
	Engine  *rules.Engine
	Handler *handler.Handler
	Events  chan domain.InterceptEvent

	mu      sync.Mutex
	targets map[domain.TargetID]*cdp.Manager
	enabled bool
	log     logger.Logger
}

// New 创建会话，规则引擎作为第一个观察者注册
func New(id domain.SessionID, cfg domain.SessionConfig, rec handler.Recorder, l logger.Logger) *Session {
	if l == nil {
		l = logger.NewNop()
	}
	l = l.With("sessionID", string(id))
	events := make(chan domain.InterceptEvent, eventBuffer)
	hcfg := handler.Config{
		Session:           id,
		Events:            events,
		Recorder:          rec,
		ProcessTimeoutMS:  cfg.ProcessTimeoutMS,
		DispatchTimeoutMS: cfg.DispatchTimeoutMS,
		Logger:            l,
	}
	s := &Session{
		ID:      id,
		Config:  cfg,
		Engine:  rules.New(nil, l),
		Handler: handler.New(hcfg),
		Events:  events,
		targets: make(map[domain.TargetID]*cdp.Manager),
		log:     l,
	}
	s.Handler.AddObserver(s.Engine.Observer())
	return s
}

// AddObserver 追加观察者，在规则引擎之后按注册顺序通知
func (s *Session) AddObserver(o interception.Observer) {
	s.Handler.AddObserver(o)
}

// LoadRules 校验并替换规则集
func (s *Session) LoadRules(cfg *rulespec.Config) error {
	if err := rules.Validate(cfg); err != nil {
		return err
	}
	s.Engine.Update(cfg)
	return nil
}

// Attach 附加目标；会话已启用拦截时立即对新目标生效
func (s *Session) Attach(ctx context.Context, target domain.TargetID) (domain.TargetID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if target != "" {
		if _, ok := s.targets[target]; ok {
			return "", ErrTargetAttached
		}
	}
	m := cdp.New(cdp.Options{
		DevToolsURL: s.Config.DevToolsURL,
		Concurrency: s.Config.Concurrency,
		QueueSize:   s.Config.QueueSize,
		Handler:     s.Handler,
		Logger:      s.log,
	})
	if err := m.AttachTarget(ctx, target); err != nil {
		return "", err
	}
	id := m.TargetID()
	if _, ok := s.targets[id]; ok {
		_ = m.Detach()
		return "", ErrTargetAttached
	}
	if s.enabled {
		if err := m.Enable(); err != nil {
			_ = m.Detach()
			return "", err
		}
	}
	s.targets[id] = m
	return id, nil
}

// Detach 分离目标
func (s *Session) Detach(target domain.TargetID) error {
	s.mu.Lock()
	m, ok := s.targets[target]
	delete(s.targets, target)
	s.mu.Unlock()
	if !ok {
		return ErrTargetNotAttached
	}
	return m.Detach()
}

// Attached 返回已附加目标集合
func (s *Session) Attached() map[domain.TargetID]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.TargetID]bool, len(s.targets))
	for id := range s.targets {
		out[id] = true
	}
	return out
}

// Enable 对所有已附加目标启用拦截
func (s *Session) Enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = true
	var errs []error
	for id, m := range s.targets {
		if m.IsEnabled() {
			continue
		}
		if err := m.Enable(); err != nil {
			errs = append(errs, fmt.Errorf("target %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Disable 对所有已附加目标关闭拦截
func (s *Session) Disable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
	var errs []error
	for id, m := range s.targets {
		if err := m.Disable(); err != nil {
			errs = append(errs, fmt.Errorf("target %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Enabled 会话是否处于拦截状态
func (s *Session) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Close 分离全部目标
func (s *Session) Close() error {
	s.mu.Lock()
	targets := s.targets
	s.targets = make(map[domain.TargetID]*cdp.Manager)
	s.enabled = false
	s.mu.Unlock()

	var errs []error
	for _, m := range targets {
		if err := m.Detach(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

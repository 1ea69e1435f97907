package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cdpintercept/internal/cdp"
	"cdpintercept/internal/handler"
	"cdpintercept/internal/interception"
	"cdpintercept/internal/logger"
	"cdpintercept/internal/session"
	"cdpintercept/internal/storage"
	"cdpintercept/pkg/domain"
	"cdpintercept/pkg/rulespec"
)

const connectTimeout = 10 * time.Second

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNoAuditStore    = errors.New("audit store not configured")
)

// AuditStore 审计记录的写入与查询，*storage.Store 满足该接口
type AuditStore interface {
	handler.Recorder
	Recent(ctx context.Context, limit int) ([]storage.ResolutionRecord, error)
	CountByAction(ctx context.Context) (map[string]int64, error)
}

// Service 服务实现：会话生命周期、目标附加与规则管理
type Service struct {
	sessions *session.Manager
	audit    AuditStore
	log      logger.Logger
}

// New 创建服务，audit 为 nil 时不落盘审计记录
func New(audit AuditStore, l logger.Logger) *Service {
	if l == nil {
		l = logger.NewNop()
	}
	var rec handler.Recorder
	if audit != nil {
		rec = audit
	}
	return &Service{sessions: session.NewManager(rec, l), audit: audit, log: l}
}

// StartSession 启动会话
func (s *Service) StartSession(cfg domain.SessionConfig) (domain.SessionID, error) {
	if cfg.DevToolsURL == "" {
		return "", errors.New("devtools url is required")
	}
	ses := s.sessions.Create(cfg)
	return ses.ID, nil
}

// StopSession 停止会话并分离全部目标
func (s *Service) StopSession(id domain.SessionID) error {
	ses, ok := s.sessions.Delete(id)
	if !ok {
		return ErrSessionNotFound
	}
	return ses.Close()
}

// AttachTarget 附加目标，target 为空时选择第一个页面
func (s *Service) AttachTarget(id domain.SessionID, target domain.TargetID) error {
	ses, err := s.get(id)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	attached, err := ses.Attach(ctx, target)
	if err != nil {
		return fmt.Errorf("attach target: %w", err)
	}
	s.log.Info("目标已附加", "sessionID", string(id), "target", string(attached))
	return nil
}

// DetachTarget 分离目标
func (s *Service) DetachTarget(id domain.SessionID, target domain.TargetID) error {
	ses, err := s.get(id)
	if err != nil {
		return err
	}
	return ses.Detach(target)
}

// ListTargets 列出目标并标记已附加状态
func (s *Service) ListTargets(id domain.SessionID) ([]domain.TargetInfo, error) {
	ses, err := s.get(id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	targets, err := cdp.ListTargets(ctx, ses.Config.DevToolsURL)
	if err != nil {
		return nil, err
	}
	attached := ses.Attached()
	for i := range targets {
		targets[i].Attached = attached[targets[i].ID]
	}
	return targets, nil
}

// EnableInterception 启用拦截
func (s *Service) EnableInterception(id domain.SessionID) error {
	ses, err := s.get(id)
	if err != nil {
		return err
	}
	return ses.Enable()
}

// DisableInterception 禁用拦截
func (s *Service) DisableInterception(id domain.SessionID) error {
	ses, err := s.get(id)
	if err != nil {
		return err
	}
	return ses.Disable()
}

// LoadRules 加载规则配置
func (s *Service) LoadRules(id domain.SessionID, cfg *rulespec.Config) error {
	ses, err := s.get(id)
	if err != nil {
		return err
	}
	if err := ses.LoadRules(cfg); err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	return nil
}

// AddObserver 注册自定义观察者
func (s *Service) AddObserver(id domain.SessionID, o interception.Observer) error {
	ses, err := s.get(id)
	if err != nil {
		return err
	}
	ses.AddObserver(o)
	return nil
}

// GetRuleStats 获取规则统计信息
func (s *Service) GetRuleStats(id domain.SessionID) (domain.EngineStats, error) {
	ses, err := s.get(id)
	if err != nil {
		return domain.EngineStats{}, err
	}
	return ses.Engine.Stats(), nil
}

// SubscribeEvents 订阅事件
func (s *Service) SubscribeEvents(id domain.SessionID) (<-chan domain.InterceptEvent, error) {
	ses, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return ses.Events, nil
}

// SubscribePending 订阅等待人工审批的请求
func (s *Service) SubscribePending(id domain.SessionID) (<-chan domain.PendingItem, error) {
	ses, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return ses.Engine.Pending(), nil
}

// Approve 对挂起的请求给出决定
func (s *Service) Approve(id domain.SessionID, itemID string, decision rulespec.Action) error {
	ses, err := s.get(id)
	if err != nil {
		return err
	}
	return ses.Engine.Approve(itemID, decision)
}

// RecentResolutions 查询最近的拦截审计记录，按时间倒序
func (s *Service) RecentResolutions(limit int) ([]storage.ResolutionRecord, error) {
	if s.audit == nil {
		return nil, ErrNoAuditStore
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return s.audit.Recent(ctx, limit)
}

// ResolutionStats 按处理结果统计审计记录数量
func (s *Service) ResolutionStats() (map[string]int64, error) {
	if s.audit == nil {
		return nil, ErrNoAuditStore
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return s.audit.CountByAction(ctx)
}

// Session 返回内部会话，供同进程调用方直接驱动处理器
func (s *Service) Session(id domain.SessionID) (*session.Session, error) {
	return s.get(id)
}

func (s *Service) get(id domain.SessionID) (*session.Session, error) {
	ses, ok := s.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return ses, nil
}

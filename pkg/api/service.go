package api

import (
	"cdpintercept/internal/interception"
	"cdpintercept/internal/logger"
	"cdpintercept/internal/service"
	"cdpintercept/internal/storage"
	"cdpintercept/pkg/domain"
	"cdpintercept/pkg/rulespec"
)

// Service 服务接口
type Service interface {
	// StartSession 启动会话
	StartSession(cfg domain.SessionConfig) (domain.SessionID, error)

	// StopSession 停止会话
	StopSession(id domain.SessionID) error

	// AttachTarget 附加目标
	AttachTarget(id domain.SessionID, target domain.TargetID) error

	// DetachTarget 分离目标
	DetachTarget(id domain.SessionID, target domain.TargetID) error

	// ListTargets 列出目标
	ListTargets(id domain.SessionID) ([]domain.TargetInfo, error)

	// EnableInterception 启用拦截
	EnableInterception(id domain.SessionID) error

	// DisableInterception 禁用拦截
	DisableInterception(id domain.SessionID) error

	// LoadRules 加载规则配置
	LoadRules(id domain.SessionID, cfg *rulespec.Config) error

	// AddObserver 注册拦截观察者，在规则引擎之后按注册顺序通知
	AddObserver(id domain.SessionID, o interception.Observer) error

	// GetRuleStats 获取规则统计信息
	GetRuleStats(id domain.SessionID) (domain.EngineStats, error)

	// SubscribeEvents 订阅事件
	SubscribeEvents(id domain.SessionID) (<-chan domain.InterceptEvent, error)

	// SubscribePending 订阅等待人工审批的请求
	SubscribePending(id domain.SessionID) (<-chan domain.PendingItem, error)

	// Approve 对挂起的请求给出决定（continue / respond / abort）
	Approve(id domain.SessionID, itemID string, decision rulespec.Action) error

	// RecentResolutions 查询最近的拦截审计记录
	RecentResolutions(limit int) ([]storage.ResolutionRecord, error)

	// ResolutionStats 按处理结果统计审计记录
	ResolutionStats() (map[string]int64, error)
}

// AuditStore 审计存储
type AuditStore = service.AuditStore

// NewService 创建并返回服务接口实现，audit 可为 nil
func NewService(audit AuditStore, l logger.Logger) Service {
	return service.New(audit, l)
}

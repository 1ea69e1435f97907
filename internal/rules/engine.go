package rules

import (
	"context"
	"sync"

	cdpadapter "cdpintercept/internal/adapter/cdp"
	"cdpintercept/internal/interception"
	"cdpintercept/internal/logger"
	"cdpintercept/pkg/domain"
	"cdpintercept/pkg/rulespec"
	"cdpintercept/pkg/traffic"
)

// Engine 规则引擎，命中的规则以各自优先级参与协作式拦截决策
type Engine struct {
	mu    sync.RWMutex
	rules []rulespec.Rule

	statsMu sync.Mutex
	total   int64
	matched int64
	byRule  map[rulespec.RuleID]int64

	approvalsMu sync.Mutex
	approvals   map[string]chan rulespec.Action
	pending     chan domain.PendingItem

	log logger.Logger
}

// MatchedRule 命中的规则
type MatchedRule struct {
	Rule *rulespec.Rule
}

// New 创建规则引擎
func New(cfg *rulespec.Config, l logger.Logger) *Engine {
	if l == nil {
		l = logger.NewNop()
	}
	e := &Engine{
		byRule:    make(map[rulespec.RuleID]int64),
		approvals: make(map[string]chan rulespec.Action),
		pending:   make(chan domain.PendingItem, pendingBuffer),
		log:       l,
	}
	e.Update(cfg)
	return e
}

// Update 替换规则集
func (e *Engine) Update(cfg *rulespec.Config) {
	var rs []rulespec.Rule
	if cfg != nil {
		rs = append(rs, cfg.Rules...)
	}
	e.mu.Lock()
	e.rules = rs
	e.mu.Unlock()
	e.log.Info("规则集已更新", "count", len(rs))
}

// Eval 返回全部命中的规则，保持声明顺序
func (e *Engine) Eval(req *traffic.Request) []*MatchedRule {
	e.mu.RLock()
	rs := make([]rulespec.Rule, len(e.rules))
	copy(rs, e.rules)
	e.mu.RUnlock()

	var out []*MatchedRule
	for i := range rs {
		r := &rs[i]
		if r.Disabled {
			continue
		}
		if matchRule(req, r.Match) {
			out = append(out, &MatchedRule{Rule: r})
		}
	}

	e.statsMu.Lock()
	e.total++
	if len(out) > 0 {
		e.matched++
	}
	for _, m := range out {
		e.byRule[m.Rule.ID]++
	}
	e.statsMu.Unlock()
	return out
}

// Stats 返回统计快照
func (e *Engine) Stats() domain.EngineStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	by := make(map[rulespec.RuleID]int64, len(e.byRule))
	for k, v := range e.byRule {
		by[k] = v
	}
	return domain.EngineStats{Total: e.total, Matched: e.matched, ByRule: by}
}

// Observe 作为拦截观察者：为每条命中规则注册一个延迟处理函数
func (e *Engine) Observe(_ context.Context, req *interception.InterceptedRequest) {
	neutral := cdpadapter.ToNeutralRequest(req)
	matched := e.Eval(neutral)
	if len(matched) == 0 {
		return
	}
	for _, m := range matched {
		rule := m.Rule
		if rule.Action.Type == rulespec.ActionPause {
			req.EnqueueInterceptAction(func(ctx context.Context) error {
				return e.awaitApproval(ctx, req, neutral, rule)
			})
			continue
		}
		req.EnqueueInterceptAction(func(context.Context) error {
			return applyRule(req, neutral, rule)
		})
	}
	e.log.Debug("规则命中", "url", req.URL(), "count", len(matched))
}

// Observer 返回可注册到控制器的观察者
func (e *Engine) Observer() interception.Observer {
	return e.Observe
}

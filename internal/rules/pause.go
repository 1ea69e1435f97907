package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cdpintercept/internal/interception"
	"cdpintercept/pkg/domain"
	"cdpintercept/pkg/rulespec"
	"cdpintercept/pkg/traffic"
)

const (
	pendingBuffer       = 64
	defaultPauseTimeout = 30 * time.Second
)

var (
	ErrPendingNotFound = errors.New("pending item not found")
	ErrInvalidDecision = errors.New("invalid approval decision")
)

// Pending 返回待审批请求的通知通道
func (e *Engine) Pending() <-chan domain.PendingItem {
	return e.pending
}

// Approve 对挂起的请求给出决定，decision 只能是 continue / respond / abort
func (e *Engine) Approve(itemID string, decision rulespec.Action) error {
	if err := validateDecision(decision); err != nil {
		return err
	}
	e.approvalsMu.Lock()
	ch, ok := e.approvals[itemID]
	if ok {
		delete(e.approvals, itemID)
	}
	e.approvalsMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPendingNotFound, itemID)
	}
	ch <- decision
	return nil
}

// awaitApproval 挂起请求直到审批、超时或处理上下文结束，然后以规则优先级应用结果
func (e *Engine) awaitApproval(ctx context.Context, req *interception.InterceptedRequest, src *traffic.Request, rule *rulespec.Rule) error {
	timeout := defaultPauseTimeout
	if rule.Action.TimeoutMS > 0 {
		timeout = time.Duration(rule.Action.TimeoutMS) * time.Millisecond
	}
	now := time.Now()
	item := domain.PendingItem{
		ID:           uuid.NewString(),
		TraceID:      req.TraceID(),
		Rule:         rule.ID,
		URL:          req.URL(),
		Method:       req.Method(),
		ResourceType: req.ResourceType(),
		IsNavigation: req.IsNavigationRequest(),
		Timestamp:    now.UnixMilli(),
		Deadline:     now.Add(timeout).UnixMilli(),
	}

	// 容量为 1，Approve 发送时不会阻塞
	ch := make(chan rulespec.Action, 1)
	e.approvalsMu.Lock()
	e.approvals[item.ID] = ch
	e.approvalsMu.Unlock()
	defer func() {
		e.approvalsMu.Lock()
		delete(e.approvals, item.ID)
		e.approvalsMu.Unlock()
	}()

	select {
	case e.pending <- item:
	default:
		e.log.Warn("待审批通知通道已满", "rule", rule.ID, "url", item.URL)
	}
	e.log.Info("请求已挂起等待审批", "rule", rule.ID, "item", item.ID, "url", item.URL)

	t := time.NewTimer(timeout)
	defer t.Stop()

	var decision rulespec.Action
	select {
	case decision = <-ch:
		e.log.Info("审批完成", "item", item.ID, "action", decision.Type)
	case <-t.C:
		decision = defaultDecision(rule.Action)
		e.log.Warn("审批超时，执行默认行为", "item", item.ID, "action", decision.Type)
	case <-ctx.Done():
		decision = defaultDecision(rule.Action)
		e.log.Warn("处理超时，执行默认行为", "item", item.ID, "action", decision.Type)
	}
	return applyRule(req, src, &rulespec.Rule{ID: rule.ID, Priority: rule.Priority, Action: decision})
}

func defaultDecision(a rulespec.Action) rulespec.Action {
	if a.DefaultAction == rulespec.ActionAbort {
		return rulespec.Action{Type: rulespec.ActionAbort, ErrorCode: a.ErrorCode}
	}
	return rulespec.Action{Type: rulespec.ActionContinue}
}

func validateDecision(a rulespec.Action) error {
	switch a.Type {
	case rulespec.ActionContinue, rulespec.ActionRespond:
		return nil
	case rulespec.ActionAbort:
		if _, ok := interception.ErrorReasonFor(a.ErrorCode); !ok {
			return fmt.Errorf("%w: %w: %q", ErrInvalidDecision, interception.ErrUnknownErrorCode, a.ErrorCode)
		}
		return nil
	default:
		return fmt.Errorf("%w: action type %q", ErrInvalidDecision, a.Type)
	}
}

package session

import (
	"context"
	"testing"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpintercept/internal/interception"
	"cdpintercept/pkg/domain"
	"cdpintercept/pkg/rulespec"
)

type nopCommander struct{ fulfilled int }

func (c *nopCommander) ContinueRequest(context.Context, *fetch.ContinueRequestArgs) error {
	return nil
}

func (c *nopCommander) FulfillRequest(context.Context, *fetch.FulfillRequestArgs) error {
	c.fulfilled++
	return nil
}

func (c *nopCommander) FailRequest(context.Context, *fetch.FailRequestArgs) error { return nil }

func TestManager_Registry(t *testing.T) {
	m := NewManager(nil, nil)
	a := m.Create(domain.SessionConfig{DevToolsURL: "http://127.0.0.1:9222"})
	b := m.Create(domain.SessionConfig{DevToolsURL: "http://127.0.0.1:9223"})
	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, m.List(), 2)

	got, ok := m.Get(a.ID)
	require.True(t, ok)
	assert.Same(t, a, got)

	removed, ok := m.Delete(a.ID)
	require.True(t, ok)
	assert.Same(t, a, removed)
	_, ok = m.Delete(a.ID)
	assert.False(t, ok)
	assert.Len(t, m.List(), 1)
}

func TestSession_EngineObservesBeforeCustomObservers(t *testing.T) {
	s := New("s1", domain.SessionConfig{}, nil, nil)
	require.NoError(t, s.LoadRules(&rulespec.Config{Rules: []rulespec.Rule{{
		ID:     "stub",
		Action: rulespec.Action{Type: rulespec.ActionRespond, Status: 201, Body: "ok"},
	}}}))

	// 规则的处理函数在全部观察者通知完成后才执行
	var seen interception.Strategy
	s.AddObserver(func(_ context.Context, req *interception.InterceptedRequest) {
		seen = req.InterceptResolution().Action
	})

	cmd := &nopCommander{}
	s.Handler.Handle(context.Background(), "t1", cmd, interception.PausedRequest{
		InterceptionID: "i-1", URL: "https://a.test/", Method: "GET",
	}, "", true)

	assert.Equal(t, interception.StrategyNone, seen)
	assert.Equal(t, 1, cmd.fulfilled)
	assert.Equal(t, "respond", (<-s.Events).Result)
}

func TestSession_DetachUnknownAndClose(t *testing.T) {
	s := New("s1", domain.SessionConfig{}, nil, nil)
	assert.ErrorIs(t, s.Detach("t1"), ErrTargetNotAttached)
	require.NoError(t, s.Enable())
	assert.True(t, s.Enabled())
	require.NoError(t, s.Close())
	assert.False(t, s.Enabled())
	assert.Empty(t, s.Attached())
}

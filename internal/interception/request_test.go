package interception

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type sentCommand struct {
	method string
	args   any
}

// fakeCommander 记录所有下发的命令
type fakeCommander struct {
	mu   sync.Mutex
	sent []sentCommand
	err  error
}

func (f *fakeCommander) record(method string, args any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentCommand{method: method, args: args})
	return f.err
}

func (f *fakeCommander) ContinueRequest(_ context.Context, args *fetch.ContinueRequestArgs) error {
	return f.record("Fetch.continueRequest", args)
}

func (f *fakeCommander) FulfillRequest(_ context.Context, args *fetch.FulfillRequestArgs) error {
	return f.record("Fetch.fulfillRequest", args)
}

func (f *fakeCommander) FailRequest(_ context.Context, args *fetch.FailRequestArgs) error {
	return f.record("Fetch.failRequest", args)
}

func (f *fakeCommander) commands() []sentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCommand(nil), f.sent...)
}

func newTestRequest(t *testing.T, url string, enabled bool) (*InterceptedRequest, *fakeCommander) {
	t.Helper()
	cmd := &fakeCommander{}
	r := New(cmd, PausedRequest{
		InterceptionID: "interception-job-1.0",
		RequestID:      "1000.1",
		URL:            url,
		Method:         "GET",
		ResourceType:   "XHR",
		Headers:        map[string]string{"Accept": "*/*"},
	}, enabled)
	return r, cmd
}

func strPtr(s string) *string { return &s }

func TestImmediate_ContinueDispatchesOnce(t *testing.T) {
	r, cmd := newTestRequest(t, "https://example.com/api", true)

	require.NoError(t, r.Continue(context.Background(), ContinueOverrides{Method: strPtr("POST")}))

	sent := cmd.commands()
	require.Len(t, sent, 1)
	assert.Equal(t, "Fetch.continueRequest", sent[0].method)
	args := sent[0].args.(*fetch.ContinueRequestArgs)
	assert.Equal(t, fetch.RequestID("interception-job-1.0"), args.RequestID)
	assert.Equal(t, "POST", *args.Method)
	assert.True(t, r.IsInterceptResolutionHandled())

	err := r.Respond(context.Background(), ResponseSpec{})
	assert.ErrorIs(t, err, ErrAlreadyHandled)
	err = r.ContinueWithPriority(ContinueOverrides{}, 1)
	assert.ErrorIs(t, err, ErrAlreadyHandled)
	assert.Len(t, cmd.commands(), 1)
}

func TestImmediate_AbortMapsReason(t *testing.T) {
	r, cmd := newTestRequest(t, "https://example.com", true)

	require.NoError(t, r.Abort(context.Background(), "namenotresolved"))

	sent := cmd.commands()
	require.Len(t, sent, 1)
	args := sent[0].args.(*fetch.FailRequestArgs)
	assert.Equal(t, network.ErrorReason("NameNotResolved"), args.ErrorReason)
}

func TestImmediate_AbortDefaultsToFailed(t *testing.T) {
	r, cmd := newTestRequest(t, "https://example.com", true)

	require.NoError(t, r.Abort(context.Background(), ""))

	args := cmd.commands()[0].args.(*fetch.FailRequestArgs)
	assert.Equal(t, network.ErrorReason("Failed"), args.ErrorReason)
}

func TestDisabled_AllMutationsFail(t *testing.T) {
	r, cmd := newTestRequest(t, "https://example.com", false)
	ctx := context.Background()

	assert.ErrorIs(t, r.Continue(ctx, ContinueOverrides{}), ErrInterceptionNotEnabled)
	assert.ErrorIs(t, r.Respond(ctx, ResponseSpec{}), ErrInterceptionNotEnabled)
	assert.ErrorIs(t, r.Abort(ctx, "failed"), ErrInterceptionNotEnabled)
	assert.ErrorIs(t, r.ContinueWithPriority(ContinueOverrides{}, 0), ErrInterceptionNotEnabled)
	assert.ErrorIs(t, r.RespondWithPriority(ResponseSpec{}, 0), ErrInterceptionNotEnabled)
	assert.ErrorIs(t, r.AbortWithPriority("failed", 0), ErrInterceptionNotEnabled)

	r.FinalizeInterceptions(ctx)
	assert.Empty(t, cmd.commands())
	assert.Equal(t, StrategyDisabled, r.InterceptResolution().Action)
	assert.False(t, r.IsInterceptResolutionHandled())
}

func TestDataURL_IsNoop(t *testing.T) {
	r, cmd := newTestRequest(t, "data:text/plain,x", true)
	ctx := context.Background()

	assert.NoError(t, r.Continue(ctx, ContinueOverrides{}))
	assert.NoError(t, r.Respond(ctx, ResponseSpec{Status: 404}))
	assert.NoError(t, r.Abort(ctx, "failed"))
	assert.NoError(t, r.AbortWithPriority("failed", 3))

	r.FinalizeInterceptions(ctx)
	assert.Empty(t, cmd.commands())
	assert.False(t, r.IsInterceptResolutionHandled())
}

func TestUnknownErrorCode_LeavesStateUntouched(t *testing.T) {
	r, cmd := newTestRequest(t, "https://example.com", true)

	err := r.AbortWithPriority("bogus-code", 5)
	require.ErrorIs(t, err, ErrUnknownErrorCode)
	assert.Equal(t, Resolution{Action: StrategyNone}, r.InterceptResolution())

	err = r.Abort(context.Background(), "bogus-code")
	require.ErrorIs(t, err, ErrUnknownErrorCode)
	assert.False(t, r.IsInterceptResolutionHandled())

	require.NoError(t, r.Continue(context.Background(), ContinueOverrides{}))
	require.Len(t, cmd.commands(), 1)
	assert.Equal(t, "Fetch.continueRequest", cmd.commands()[0].method)
}

func TestCooperative_TieBreak(t *testing.T) {
	type call func(r *InterceptedRequest) error
	cont := func(p int) call {
		return func(r *InterceptedRequest) error { return r.ContinueWithPriority(ContinueOverrides{}, p) }
	}
	resp := func(p int) call {
		return func(r *InterceptedRequest) error { return r.RespondWithPriority(ResponseSpec{}, p) }
	}
	abort := func(p int) call {
		return func(r *InterceptedRequest) error { return r.AbortWithPriority("failed", p) }
	}

	tests := []struct {
		name     string
		calls    []call
		want     Strategy
		priority int
	}{
		{"first call wins unconditionally", []call{cont(0)}, StrategyContinue, 0},
		{"higher continue beats lower abort", []call{abort(1), cont(2)}, StrategyContinue, 2},
		{"higher abort beats lower respond", []call{resp(1), abort(2)}, StrategyAbort, 2},
		{"lower priority ignored", []call{resp(3), abort(2), cont(1)}, StrategyRespond, 3},
		{"respond beats equal continue", []call{cont(1), resp(1)}, StrategyRespond, 1},
		{"equal continue cannot supplant respond", []call{resp(1), cont(1)}, StrategyRespond, 1},
		{"abort beats equal continue", []call{cont(1), abort(1)}, StrategyAbort, 1},
		{"equal continue cannot supplant abort", []call{abort(1), cont(1)}, StrategyAbort, 1},
		{"abort wins tie against respond", []call{resp(1), abort(1)}, StrategyAbort, 1},
		{"respond cannot supplant equal abort", []call{abort(1), resp(1)}, StrategyAbort, 1},
		{"negative priorities order too", []call{cont(-5), resp(-10)}, StrategyContinue, -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRequest(t, "https://example.com", true)
			for _, c := range tt.calls {
				require.NoError(t, c(r))
			}
			res := r.InterceptResolution()
			assert.Equal(t, tt.want, res.Action)
			require.NotNil(t, res.Priority)
			assert.Equal(t, tt.priority, *res.Priority)
		})
	}
}

func TestCooperative_HigherPriorityWinsRegardlessOfOrder(t *testing.T) {
	orders := [][]int{{1, 2}, {2, 1}}
	for _, order := range orders {
		r, cmd := newTestRequest(t, "https://example.com", true)
		for _, p := range order {
			p := p
			r.EnqueueInterceptAction(func(context.Context) error {
				if p == 2 {
					return r.RespondWithPriority(ResponseSpec{Status: 404}, p)
				}
				return r.AbortWithPriority("failed", p)
			})
		}
		r.FinalizeInterceptions(context.Background())

		sent := cmd.commands()
		require.Len(t, sent, 1)
		assert.Equal(t, "Fetch.fulfillRequest", sent[0].method)
		assert.Equal(t, 404, sent[0].args.(*fetch.FulfillRequestArgs).ResponseCode)
	}
}

func TestCooperative_PayloadFollowsWinner(t *testing.T) {
	r, cmd := newTestRequest(t, "https://example.com", true)

	require.NoError(t, r.ContinueWithPriority(ContinueOverrides{URL: strPtr("https://a.test")}, 2))
	require.NoError(t, r.ContinueWithPriority(ContinueOverrides{URL: strPtr("https://b.test")}, 1))
	assert.Equal(t, "https://a.test", *r.ContinueRequestOverrides().URL)

	require.NoError(t, r.ContinueWithPriority(ContinueOverrides{URL: strPtr("https://c.test")}, 2))
	assert.Equal(t, "https://c.test", *r.ContinueRequestOverrides().URL)

	r.FinalizeInterceptions(context.Background())
	args := cmd.commands()[0].args.(*fetch.ContinueRequestArgs)
	assert.Equal(t, "https://c.test", *args.URL)
}

func TestFinalize_RespondThenAbortSamePriority(t *testing.T) {
	r, cmd := newTestRequest(t, "https://example.com", true)
	release := make(chan struct{})

	r.EnqueueInterceptAction(func(context.Context) error {
		return r.RespondWithPriority(ResponseSpec{Body: []byte("mock")}, 1)
	})
	r.EnqueueInterceptAction(func(context.Context) error {
		if err := r.AbortWithPriority("accessdenied", 1); err != nil {
			return err
		}
		<-release
		return nil
	})
	close(release)

	r.FinalizeInterceptions(context.Background())

	sent := cmd.commands()
	require.Len(t, sent, 1)
	assert.Equal(t, "Fetch.failRequest", sent[0].method)
	assert.Equal(t, network.ErrorReason("AccessDenied"), sent[0].args.(*fetch.FailRequestArgs).ErrorReason)
	assert.Equal(t, StrategyAlreadyHandled, r.InterceptResolution().Action)
	out := r.Outcome()
	assert.Equal(t, StrategyAbort, out.Strategy)
	require.NotNil(t, out.Priority)
	assert.Equal(t, 1, *out.Priority)
}

func TestFinalize_RunsActionsSequentiallyInOrder(t *testing.T) {
	r, _ := newTestRequest(t, "https://example.com", true)

	var mu sync.Mutex
	var log []int
	for i := 0; i < 5; i++ {
		i := i
		r.EnqueueInterceptAction(func(ctx context.Context) error {
			// 越早注册的处理函数等待越久，并发执行时顺序会颠倒
			done := make(chan struct{})
			go func() {
				time.Sleep(time.Duration(5-i) * 5 * time.Millisecond)
				close(done)
			}()
			<-done
			mu.Lock()
			log = append(log, i)
			mu.Unlock()
			return nil
		})
	}
	r.FinalizeInterceptions(context.Background())

	assert.Equal(t, []int{0, 1, 2, 3, 4}, log)
}

func TestFinalize_HandlerFailuresDoNotStopChain(t *testing.T) {
	r, cmd := newTestRequest(t, "https://example.com", true)

	r.EnqueueInterceptAction(func(context.Context) error { return errors.New("upstream fetch failed") })
	r.EnqueueInterceptAction(func(context.Context) error { panic("bad handler") })
	r.EnqueueInterceptAction(func(context.Context) error {
		return r.ContinueWithPriority(ContinueOverrides{}, 0)
	})
	r.FinalizeInterceptions(context.Background())

	sent := cmd.commands()
	require.Len(t, sent, 1)
	assert.Equal(t, "Fetch.continueRequest", sent[0].method)
	assert.Equal(t, 2, r.Outcome().HandlerErrors)
}

func TestFinalize_NoStrategyDispatchesNothing(t *testing.T) {
	r, cmd := newTestRequest(t, "https://example.com", true)
	r.EnqueueInterceptAction(func(context.Context) error { return nil })

	r.FinalizeInterceptions(context.Background())

	assert.Empty(t, cmd.commands())
	assert.False(t, r.IsInterceptResolutionHandled())
	assert.Equal(t, StrategyNone, r.InterceptResolution().Action)
}

func TestFinalize_ImmediateCallInsideHandlerWins(t *testing.T) {
	r, cmd := newTestRequest(t, "https://example.com", true)
	r.EnqueueInterceptAction(func(ctx context.Context) error {
		return r.Abort(ctx, "blockedbyclient")
	})

	r.FinalizeInterceptions(context.Background())
	r.FinalizeInterceptions(context.Background())

	require.Len(t, cmd.commands(), 1)
	assert.Equal(t, "Fetch.failRequest", cmd.commands()[0].method)
}

func TestFinalize_TransportErrorIsTolerated(t *testing.T) {
	r, cmd := newTestRequest(t, "https://example.com", true)
	cmd.err = errors.New("Invalid InterceptionId.")
	require.NoError(t, r.ContinueWithPriority(ContinueOverrides{}, 0))

	assert.NotPanics(t, func() { r.FinalizeInterceptions(context.Background()) })
	assert.True(t, r.IsInterceptResolutionHandled())
	assert.EqualError(t, r.Outcome().Err, "Invalid InterceptionId.")
}

func TestImmediate_InvalidHeaderIsSurfaced(t *testing.T) {
	r, cmd := newTestRequest(t, "https://example.com", true)
	cmd.err = errors.New("Invalid header: bad\nname")

	err := r.Continue(context.Background(), ContinueOverrides{Headers: map[string]*string{"bad\nname": strPtr("v")}})
	assert.ErrorIs(t, err, ErrInvalidHeader)

	r2, cmd2 := newTestRequest(t, "https://example.com", true)
	cmd2.err = errors.New("Target closed")
	assert.NoError(t, r2.Continue(context.Background(), ContinueOverrides{}))
}

func TestAtMostOneCommandUnderConcurrency(t *testing.T) {
	r, cmd := newTestRequest(t, "https://example.com", true)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 3 {
			case 0:
				_ = r.Continue(context.Background(), ContinueOverrides{})
			case 1:
				_ = r.Respond(context.Background(), ResponseSpec{})
			default:
				_ = r.Abort(context.Background(), "failed")
			}
		}(i)
	}
	wg.Wait()
	r.FinalizeInterceptions(context.Background())

	assert.Len(t, cmd.commands(), 1)
}

func TestRedirectChain_SharedAndCopyOnRead(t *testing.T) {
	cmd := &fakeCommander{}
	first := New(cmd, PausedRequest{InterceptionID: "a", URL: "http://a.test"}, true)
	second := New(cmd, PausedRequest{InterceptionID: "b", URL: "http://b.test"}, true, WithRedirectFrom(first))
	third := New(cmd, PausedRequest{InterceptionID: "c", URL: "http://c.test"}, true, WithRedirectFrom(second))

	chain := third.RedirectChain()
	require.Len(t, chain, 2)
	assert.Same(t, first, chain[0])
	assert.Same(t, second, chain[1])
	assert.Len(t, first.RedirectChain(), 2)

	chain[0] = nil
	assert.Same(t, first, third.RedirectChain()[0])
}

func TestPausedRequest_IsNavigation(t *testing.T) {
	assert.True(t, PausedRequest{RequestID: "L1", LoaderID: "L1", ResourceType: "Document"}.IsNavigation())
	assert.False(t, PausedRequest{RequestID: "R1", LoaderID: "L1", ResourceType: "Document"}.IsNavigation())
	assert.False(t, PausedRequest{RequestID: "L1", LoaderID: "L1", ResourceType: "Script"}.IsNavigation())
	assert.False(t, PausedRequest{ResourceType: "Document"}.IsNavigation())
}

func TestMetadataAccessors(t *testing.T) {
	pd := "a=1"
	r := New(&fakeCommander{}, PausedRequest{
		InterceptionID: "i1",
		URL:            "https://example.com",
		Method:         "POST",
		Headers:        map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		PostData:       &pd,
	}, true, WithTraceID("t1"))

	pd = "mutated"
	got, ok := r.PostData()
	assert.True(t, ok)
	assert.Equal(t, "a=1", got)
	assert.Equal(t, "application/x-www-form-urlencoded", r.Headers()["content-type"])
	assert.Equal(t, "t1", r.TraceID())

	h := r.Headers()
	h["x"] = "y"
	_, exists := r.Headers()["x"]
	assert.False(t, exists)
}

func TestFulfillWireFormat(t *testing.T) {
	r, cmd := newTestRequest(t, "https://example.com", true)
	require.NoError(t, r.Respond(context.Background(), ResponseSpec{Body: []byte("hi")}))

	b, err := json.Marshal(cmd.commands()[0].args)
	require.NoError(t, err)
	assert.Equal(t, "interception-job-1.0", gjson.GetBytes(b, "requestId").String())
	assert.Equal(t, int64(200), gjson.GetBytes(b, "responseCode").Int())
	assert.Equal(t, "OK", gjson.GetBytes(b, "responsePhrase").String())
	assert.Equal(t, "content-length", gjson.GetBytes(b, "responseHeaders.0.name").String())
	assert.Equal(t, "2", gjson.GetBytes(b, "responseHeaders.0.value").String())
	assert.Equal(t, "aGk=", gjson.GetBytes(b, "body").String())
}

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/comigor/triage-go/internal/config"
	"github.com/comigor/triage-go/internal/events"
	"github.com/comigor/triage-go/internal/fallback"
	"github.com/comigor/triage-go/internal/history"
	"github.com/comigor/triage-go/internal/intent"
	"github.com/comigor/triage-go/internal/metrics"
	"github.com/comigor/triage-go/internal/specialist"
)

// This mirrors specialist.Invoker
type mockInvoker struct {
	InvokeFunc func(ctx context.Context, service, method string, payload any, timeout time.Duration) (json.RawMessage, error)

	mu    sync.Mutex
	calls []invokeCall
}

type invokeCall struct {
	Service string
	Method  string
	Payload any
	Timeout time.Duration
}

func (m *mockInvoker) Invoke(ctx context.Context, service, method string, payload any, timeout time.Duration) (json.RawMessage, error) {
	m.mu.Lock()
	m.calls = append(m.calls, invokeCall{Service: service, Method: method, Payload: payload, Timeout: timeout})
	m.mu.Unlock()
	if m.InvokeFunc != nil {
		return m.InvokeFunc(ctx, service, method, payload, timeout)
	}
	return json.RawMessage(`{}`), nil
}

func (m *mockInvoker) Calls() []invokeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]invokeCall(nil), m.calls...)
}

// This mirrors events.Publisher
type mockBus struct {
	PublishFunc func(ctx context.Context, topic string, payload any) error

	mu        sync.Mutex
	published []events.Routed
}

func (m *mockBus) Publish(ctx context.Context, topic string, payload any) error {
	if r, ok := payload.(events.Routed); ok && topic == events.TopicRouted {
		m.mu.Lock()
		m.published = append(m.published, r)
		m.mu.Unlock()
	}
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, payload)
	}
	return nil
}

func (m *mockBus) Published() []events.Routed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]events.Routed(nil), m.published...)
}

func respondWith(body string) func(context.Context, string, string, any, time.Duration) (json.RawMessage, error) {
	return func(context.Context, string, string, any, time.Duration) (json.RawMessage, error) {
		return json.RawMessage(body), nil
	}
}

func failWith(kind specialist.Kind) func(context.Context, string, string, any, time.Duration) (json.RawMessage, error) {
	return func(_ context.Context, service, method string, _ any, _ time.Duration) (json.RawMessage, error) {
		ie := &specialist.InvocationError{Kind: kind, Service: service, Method: method}
		switch kind {
		case specialist.KindTimeout:
			ie.Err = context.DeadlineExceeded
		case specialist.KindRemote:
			ie.Status = 500
			ie.Body = "boom"
		}
		return nil, ie
	}
}

type fixture struct {
	d       *Dispatcher
	inv     *mockInvoker
	bus     *mockBus
	store   *history.MemoryStore
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, inv *mockInvoker, store history.Store) fixture {
	t.Helper()
	bus := &mockBus{}
	m := metrics.New(prometheus.NewRegistry())
	mem, _ := store.(*history.MemoryStore)
	d := New(Deps{Invoker: inv, Store: store, Bus: bus, Metrics: m}, config.Config{})
	return fixture{d: d, inv: inv, bus: bus, store: mem, metrics: m}
}

func TestHandle_ConceptSuccess(t *testing.T) {
	defer goleak.VerifyNone(t)

	inv := &mockInvoker{InvokeFunc: respondWith(`{"explanation":"X","topic":"Loops"}`)}
	f := newFixture(t, inv, history.NewMemoryStore())

	reply := f.d.Handle(context.Background(), 1, "what is a variable")
	f.d.Wait()

	require.Equal(t, Reply{Text: "X", Agent: AgentConcepts, Intent: intent.Concept}, reply)

	calls := inv.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, specialist.ConceptsService, calls[0].Service)
	require.Equal(t, specialist.MethodExplain, calls[0].Method)
	require.Equal(t, 30*time.Second, calls[0].Timeout)
	require.Equal(t, specialist.ExplainRequest{Question: "what is a variable", UserID: 1}, calls[0].Payload)

	records := f.store.All()
	require.Len(t, records, 2)
	require.Equal(t, history.RoleUser, records[0].Role)
	require.Equal(t, AgentTriage, records[0].Agent)
	require.Equal(t, "what is a variable", records[0].Message)
	require.Equal(t, history.RoleAssistant, records[1].Role)
	require.Equal(t, AgentConcepts, records[1].Agent)
	require.Equal(t, "X", records[1].Message)

	require.Equal(t, []events.Routed{{UserID: 1, Intent: "concept", Agent: AgentConcepts}}, f.bus.Published())
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Routed.WithLabelValues("concept", AgentConcepts)))
}

func TestHandle_EmptyExplanationUsesDefault(t *testing.T) {
	f := newFixture(t, &mockInvoker{InvokeFunc: respondWith(`{"explanation":""}`)}, history.NewMemoryStore())

	reply := f.d.Handle(context.Background(), 1, "explain lists")
	f.d.Wait()

	require.Equal(t, defaultExplanation, reply.Text)
	require.Equal(t, AgentConcepts, reply.Agent)
}

func TestHandle_SpecialistTimeoutFallsBack(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, &mockInvoker{InvokeFunc: failWith(specialist.KindTimeout)}, history.NewMemoryStore())
	text := "explain for loops in Python"

	reply := f.d.Handle(context.Background(), 7, text)
	f.d.Wait()

	require.Equal(t, fallback.Answer(intent.Concept, text), reply.Text)
	require.Equal(t, AgentFallback, reply.Agent)
	require.Equal(t, intent.Concept, reply.Intent)

	var user, assistant []history.ConversationRecord
	for _, r := range f.store.All() {
		switch r.Role {
		case history.RoleUser:
			user = append(user, r)
		case history.RoleAssistant:
			assistant = append(assistant, r)
		}
	}
	require.Len(t, user, 1)
	require.Len(t, assistant, 1)
	require.Equal(t, fallback.Marker, assistant[0].Agent)
	require.Equal(t, reply.Text, assistant[0].Message)

	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Fallbacks.WithLabelValues("concept", string(OutcomeUnavailable))))
	require.Equal(t, []events.Routed{{UserID: 7, Intent: "concept", Agent: fallback.Marker}}, f.bus.Published())
}

func TestHandle_UnreachableFallsBack(t *testing.T) {
	f := newFixture(t, &mockInvoker{InvokeFunc: failWith(specialist.KindUnreachable)}, history.NewMemoryStore())

	reply := f.d.Handle(context.Background(), 1, "what is a list")
	f.d.Wait()

	require.Equal(t, AgentFallback, reply.Agent)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Fallbacks.WithLabelValues("concept", string(OutcomeUnavailable))))
}

func TestHandle_RemoteErrorFallsBack(t *testing.T) {
	f := newFixture(t, &mockInvoker{InvokeFunc: failWith(specialist.KindRemote)}, history.NewMemoryStore())

	reply := f.d.Handle(context.Background(), 1, "def f():\n    return 1")
	f.d.Wait()

	require.Equal(t, intent.Code, reply.Intent)
	require.Equal(t, AgentFallback, reply.Agent)
	require.Equal(t, fallback.CodeInstruction, reply.Text)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Fallbacks.WithLabelValues("code", string(OutcomeError))))
}

func TestHandle_CodeIntent(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "stdout", body: `{"stdout":"4\n","stderr":"","exit_code":0}`, want: "Output:\n4\n"},
		{name: "stderr", body: `{"stdout":"","stderr":"NameError","exit_code":1}`, want: "Error:\nNameError"},
		{name: "both empty", body: `{"exit_code":0}`, want: "Error:\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &mockInvoker{InvokeFunc: respondWith(tt.body)}
			f := newFixture(t, inv, history.NewMemoryStore())

			code := "```python\nprint(2+2)\n```"
			reply := f.d.Handle(context.Background(), 2, code)
			f.d.Wait()

			require.Equal(t, Reply{Text: tt.want, Agent: AgentCodeRunner, Intent: intent.Code}, reply)

			calls := inv.Calls()
			require.Len(t, calls, 1)
			require.Equal(t, specialist.CodeRunnerService, calls[0].Service)
			require.Equal(t, specialist.MethodExecute, calls[0].Method)
			require.Equal(t, 30*time.Second, calls[0].Timeout)
			require.Equal(t, specialist.ExecuteRequest{Code: code, Language: "python", Timeout: 5}, calls[0].Payload)
		})
	}
}

func TestHandle_ConfiguredServiceNames(t *testing.T) {
	inv := &mockInvoker{InvokeFunc: respondWith(`{"explanation":"ok"}`)}
	cfg := config.Config{Specialist: config.SpecialistConfig{
		ConceptsService: "concepts-v2",
		ChatTimeout:     3 * time.Second,
	}}
	d := New(Deps{Invoker: inv, Store: history.NewMemoryStore(), Bus: &mockBus{}}, cfg)

	d.Handle(context.Background(), 1, "explain variables")
	d.Wait()

	calls := inv.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "concepts-v2", calls[0].Service)
	require.Equal(t, 3*time.Second, calls[0].Timeout)
}

func TestHandle_PublishFailureDoesNotChangeReply(t *testing.T) {
	defer goleak.VerifyNone(t)

	inv := &mockInvoker{InvokeFunc: respondWith(`{"explanation":"X"}`)}
	f := newFixture(t, inv, history.NewMemoryStore())
	f.bus.PublishFunc = func(context.Context, string, any) error {
		return errors.New("broker down")
	}

	reply := f.d.Handle(context.Background(), 1, "what is a function")
	f.d.Wait()

	require.Equal(t, Reply{Text: "X", Agent: AgentConcepts, Intent: intent.Concept}, reply)
	require.Len(t, f.store.All(), 2)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PublishFailures.WithLabelValues(events.TopicRouted)))
}

func TestHandle_SlowPublishDoesNotBlockReply(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	inv := &mockInvoker{InvokeFunc: respondWith(`{"explanation":"X"}`)}
	f := newFixture(t, inv, history.NewMemoryStore())
	f.bus.PublishFunc = func(context.Context, string, any) error {
		<-release
		return nil
	}

	done := make(chan Reply, 1)
	go func() { done <- f.d.Handle(context.Background(), 1, "what is a list") }()

	select {
	case reply := <-done:
		require.Equal(t, "X", reply.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("Handle waited for the publish")
	}
	close(release)
	f.d.Wait()
}

func TestHandle_StoreFailureStillReplies(t *testing.T) {
	inv := &mockInvoker{InvokeFunc: respondWith(`{"explanation":"X"}`)}
	f := newFixture(t, inv, history.Unavailable{Cause: errors.New("disk gone")})

	reply := f.d.Handle(context.Background(), 1, "what is a variable")
	f.d.Wait()

	require.Equal(t, "X", reply.Text)
	require.Len(t, inv.Calls(), 1)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PersistFailures.WithLabelValues("user")))
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PersistFailures.WithLabelValues("assistant")))
	require.Len(t, f.bus.Published(), 1)
}

func TestHandle_CallerCancellationDoesNotAbandonWork(t *testing.T) {
	inv := &mockInvoker{InvokeFunc: func(ctx context.Context, _, _ string, _ any, _ time.Duration) (json.RawMessage, error) {
		if ctx.Err() != nil {
			return nil, &specialist.InvocationError{Kind: specialist.KindTimeout, Err: ctx.Err()}
		}
		return json.RawMessage(`{"explanation":"still here"}`), nil
	}}
	f := newFixture(t, inv, history.NewMemoryStore())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reply := f.d.Handle(ctx, 1, "what is a loop")
	f.d.Wait()

	require.Equal(t, "still here", reply.Text)
	require.Len(t, f.store.All(), 2)
}

func TestHandle_ConcurrentRequestsAreIsolated(t *testing.T) {
	defer goleak.VerifyNone(t)

	inv := &mockInvoker{InvokeFunc: func(_ context.Context, _, _ string, payload any, _ time.Duration) (json.RawMessage, error) {
		req := payload.(specialist.ExplainRequest)
		body, err := json.Marshal(specialist.ExplainResponse{Explanation: fmt.Sprintf("answer for %d", req.UserID)})
		return body, err
	}}
	f := newFixture(t, inv, history.NewMemoryStore())

	const n = 20
	replies := make([]Reply, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			replies[i] = f.d.Handle(context.Background(), int64(i+1), "explain variables")
		}()
	}
	wg.Wait()
	f.d.Wait()

	for i, r := range replies {
		require.Equal(t, fmt.Sprintf("answer for %d", i+1), r.Text)
	}
	require.Len(t, f.store.All(), 2*n)
	require.Len(t, f.bus.Published(), n)
}

func TestNew_NilCollaboratorsAreUsable(t *testing.T) {
	d := New(Deps{Invoker: &mockInvoker{InvokeFunc: failWith(specialist.KindUnreachable)}}, config.Config{})

	reply := d.Handle(context.Background(), 1, "for i in range(3): print(i)")
	d.Wait()

	require.Equal(t, AgentFallback, reply.Agent)
	require.Equal(t, fallback.CodeInstruction, reply.Text)
}

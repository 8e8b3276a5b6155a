package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless" // FSM library

	"github.com/comigor/triage-go/internal/config"
	"github.com/comigor/triage-go/internal/events"
	"github.com/comigor/triage-go/internal/fallback"
	"github.com/comigor/triage-go/internal/history"
	"github.com/comigor/triage-go/internal/intent"
	"github.com/comigor/triage-go/internal/logger"
	"github.com/comigor/triage-go/internal/metrics"
	"github.com/comigor/triage-go/internal/specialist"
)

// FSM States
type FSMState string

const (
	StateReceived      FSMState = "Received"
	StateClassified    FSMState = "Classified"
	StatePersistedUser FSMState = "PersistedUser"
	StateRouted        FSMState = "Routed"
	StateCompleted     FSMState = "Completed" // Terminal: response ready
)

// FSM Triggers
type FSMTrigger string

const (
	TriggerClassify    FSMTrigger = "Classify"
	TriggerPersistUser FSMTrigger = "PersistUser"
	TriggerRoute       FSMTrigger = "Route"
	TriggerComplete    FSMTrigger = "Complete"
)

// Agent tags written to replies and conversation records.
const (
	AgentTriage     = "triage"
	AgentConcepts   = "concepts"
	AgentCodeRunner = "code-runner"
	AgentFallback   = fallback.Marker
)

// TargetNone is the routing target when no specialist serves an intent.
const TargetNone = "none"

const (
	defaultExplanation = "I can help with that concept."
	codeLanguage       = "python"
	sandboxSeconds     = 5
	logPreviewLen      = 50
)

// OutcomeKind summarises how the specialist call ended.
type OutcomeKind string

const (
	OutcomeOK          OutcomeKind = "ok"
	OutcomeUnavailable OutcomeKind = "specialist_unavailable"
	OutcomeError       OutcomeKind = "specialist_error"
)

// Message is one inbound chat turn. It is owned by a single Handle call.
type Message struct {
	ID         uuid.UUID
	UserID     int64
	Text       string
	ReceivedAt time.Time
}

// Outcome is the result of the routed specialist call, or of the fallback
// that replaced it.
type Outcome struct {
	Kind   OutcomeKind
	Answer string
	Agent  string
	Err    error
}

// Decision is the routing record for one message. It lives only for the
// duration of Handle.
type Decision struct {
	Message Message
	Intent  intent.Intent
	Target  string
	Outcome Outcome

	// Failures of best-effort effects, kept for logging and then dropped.
	UserPersistErr      error
	AssistantPersistErr error
}

// Reply is what the caller of Handle receives.
type Reply struct {
	Text   string        `json:"response"`
	Agent  string        `json:"agent"`
	Intent intent.Intent `json:"intent"`
}

// Deps are the collaborators shared by all requests. Each must be safe for
// concurrent use.
type Deps struct {
	Invoker specialist.Invoker
	Store   history.Store
	Bus     events.Publisher
	Metrics *metrics.Metrics
}

// Dispatcher routes chat messages to specialists. It holds no per-request
// state; every Handle call builds its own state machine.
type Dispatcher struct {
	invoker        specialist.Invoker
	store          history.Store
	bus            events.Publisher
	metrics        *metrics.Metrics
	routes         map[intent.Intent]string
	chatTimeout    time.Duration
	codeTimeout    time.Duration
	publishTimeout time.Duration
	now            func() time.Time

	publishing sync.WaitGroup
}

// New creates a new dispatcher.
func New(deps Deps, appCfg config.Config) *Dispatcher {
	sc := appCfg.Specialist
	concepts := sc.ConceptsService
	if concepts == "" {
		concepts = specialist.ConceptsService
	}
	codeRunner := sc.CodeRunnerService
	if codeRunner == "" {
		codeRunner = specialist.CodeRunnerService
	}
	bus := deps.Bus
	if bus == nil {
		bus = events.Log{}
	}
	store := deps.Store
	if store == nil {
		store = history.Unavailable{}
	}

	return &Dispatcher{
		invoker:        deps.Invoker,
		store:          store,
		bus:            bus,
		metrics:        deps.Metrics,
		routes:         map[intent.Intent]string{intent.Concept: concepts, intent.Code: codeRunner},
		chatTimeout:    orDefault(sc.ChatTimeout, 30*time.Second),
		codeTimeout:    orDefault(sc.CodeTimeout, 15*time.Second),
		publishTimeout: orDefault(appCfg.Events.PublishTimeout, 5*time.Second),
		now:            time.Now,
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Handle classifies text, routes it and records the turn. It never fails:
// specialist errors become fallback answers and persistence or publish errors
// are logged and dropped.
//
// The work is detached from ctx cancellation so a caller that disconnects
// does not abandon a specialist call or a write half way.
func (d *Dispatcher) Handle(ctx context.Context, userID int64, text string) Reply {
	ctx = context.WithoutCancel(ctx)

	msg := Message{ID: uuid.New(), UserID: userID, Text: text, ReceivedAt: d.now().UTC()}
	dec := &Decision{Message: msg, Target: TargetNone}
	log := logger.L.With("request_id", msg.ID.String(), "user_id", userID)

	fsm := stateless.NewStateMachine(StateReceived)
	fsm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		log.Debug("FSM transition", "from", t.Source, "to", t.Destination, "trigger", t.Trigger)
	})

	// State: Received
	// Transitions:
	//   - On Classify -> StateClassified
	fsm.Configure(StateReceived).
		Permit(TriggerClassify, StateClassified)

	// State: Classified
	// Action: classify the text. Cannot fail.
	fsm.Configure(StateClassified).
		OnEntry(func(ctx context.Context, _ ...any) error {
			dec.Intent = intent.Classify(msg.Text)
			log.Info("message classified", "intent", dec.Intent, "message", preview(msg.Text))
			return fsm.FireCtx(ctx, TriggerPersistUser)
		}).
		Permit(TriggerPersistUser, StatePersistedUser)

	// State: PersistedUser
	// Action: store the inbound message. Failure is logged and routing goes on.
	fsm.Configure(StatePersistedUser).
		OnEntry(func(ctx context.Context, _ ...any) error {
			dec.UserPersistErr = d.store.AppendConversation(ctx, history.ConversationRecord{
				UserID:    msg.UserID,
				Agent:     AgentTriage,
				Message:   msg.Text,
				Role:      history.RoleUser,
				CreatedAt: msg.ReceivedAt,
			})
			d.dropPersistErr(log, "user", dec.UserPersistErr)
			return fsm.FireCtx(ctx, TriggerRoute)
		}).
		Permit(TriggerRoute, StateRouted)

	// State: Routed
	// Action: call the specialist for the intent, falling back on any error.
	fsm.Configure(StateRouted).
		OnEntry(func(ctx context.Context, _ ...any) error {
			d.route(ctx, log, dec)
			return fsm.FireCtx(ctx, TriggerComplete)
		}).
		Permit(TriggerComplete, StateCompleted)

	// State: Completed
	// Action: store the reply and publish the routing event. This is a terminal state.
	fsm.Configure(StateCompleted).
		OnEntry(func(ctx context.Context, _ ...any) error {
			d.complete(ctx, log, dec)
			return nil
		})

	if err := fsm.FireCtx(ctx, TriggerClassify); err != nil {
		// Only a misconfigured machine gets here; the decision still holds a
		// usable answer or is completed below.
		log.Error("FSM fire error", "error", err)
	}
	if state, err := fsm.State(ctx); err != nil || state != StateCompleted {
		log.Error("FSM ended in an unexpected state", "state", state, "error", err)
		d.ensureAnswer(dec)
	}

	return Reply{Text: dec.Outcome.Answer, Agent: dec.Outcome.Agent, Intent: dec.Intent}
}

// route fills dec.Target and dec.Outcome.
func (d *Dispatcher) route(ctx context.Context, log *slog.Logger, dec *Decision) {
	target, ok := d.routes[dec.Intent]
	if !ok {
		dec.Outcome = d.fallbackOutcome(dec, fmt.Errorf("no specialist for intent %q", dec.Intent))
		return
	}
	dec.Target = target

	start := time.Now()
	var (
		answer string
		agent  string
		err    error
	)
	switch dec.Intent {
	case intent.Code:
		var resp specialist.ExecuteResponse
		resp, err = specialist.Execute(ctx, d.invoker, target, specialist.ExecuteRequest{
			Code:     dec.Message.Text,
			Language: codeLanguage,
			Timeout:  sandboxSeconds,
		}, d.chatTimeout)
		answer, agent = formatExecution(resp), AgentCodeRunner
	default:
		var resp specialist.ExplainResponse
		resp, err = specialist.Explain(ctx, d.invoker, target, specialist.ExplainRequest{
			Question: dec.Message.Text,
			UserID:   dec.Message.UserID,
		}, d.chatTimeout)
		answer, agent = resp.Explanation, AgentConcepts
		if answer == "" {
			answer = defaultExplanation
		}
	}
	d.metrics.ObserveSpecialist(target, outcomeLabel(err), time.Since(start))

	if err != nil {
		log.Error("specialist call failed", "service", target, "error", err)
		dec.Outcome = d.fallbackOutcome(dec, err)
		return
	}
	dec.Outcome = Outcome{Kind: OutcomeOK, Answer: answer, Agent: agent}
}

func (d *Dispatcher) fallbackOutcome(dec *Decision, err error) Outcome {
	kind := OutcomeError
	if specialist.Unavailable(err) || !isInvocationError(err) {
		kind = OutcomeUnavailable
	}
	d.metrics.ObserveFallback(string(dec.Intent), string(kind))
	return Outcome{
		Kind:   kind,
		Answer: fallback.Answer(dec.Intent, dec.Message.Text),
		Agent:  AgentFallback,
		Err:    err,
	}
}

// complete runs the two terminal effects. Neither depends on the other.
func (d *Dispatcher) complete(ctx context.Context, log *slog.Logger, dec *Decision) {
	if dec.Outcome.Answer != "" {
		dec.AssistantPersistErr = d.store.AppendConversation(ctx, history.ConversationRecord{
			UserID:    dec.Message.UserID,
			Agent:     dec.Outcome.Agent,
			Message:   dec.Outcome.Answer,
			Role:      history.RoleAssistant,
			CreatedAt: d.now().UTC(),
		})
		d.dropPersistErr(log, "assistant", dec.AssistantPersistErr)
	}

	d.metrics.ObserveRouted(string(dec.Intent), dec.Outcome.Agent)
	d.publish(ctx, log, events.TopicRouted, events.Routed{
		UserID: dec.Message.UserID,
		Intent: string(dec.Intent),
		Agent:  dec.Outcome.Agent,
	})

	log.Info("message routed",
		"intent", dec.Intent,
		"target", dec.Target,
		"agent", dec.Outcome.Agent,
		"outcome", dec.Outcome.Kind,
	)
}

// publish sends the event in the background; the reply does not wait for it.
func (d *Dispatcher) publish(ctx context.Context, log *slog.Logger, topic string, payload any) {
	d.publishing.Add(1)
	go func() {
		defer d.publishing.Done()
		pctx, cancel := context.WithTimeout(ctx, d.publishTimeout)
		defer cancel()
		if err := d.bus.Publish(pctx, topic, payload); err != nil {
			// Telemetry loss is acceptable; never surfaced to the caller.
			log.Warn("event publish failed", "topic", topic, "error", err)
			d.metrics.ObservePublishFailure(topic)
		}
	}()
}

// dropPersistErr logs a failed write. The turn continues without it.
func (d *Dispatcher) dropPersistErr(log *slog.Logger, record string, err error) {
	if err == nil {
		return
	}
	log.Error("failed to store message", "record", record, "error", err)
	d.metrics.ObservePersistFailure(record)
}

func (d *Dispatcher) ensureAnswer(dec *Decision) {
	if dec.Intent == "" {
		dec.Intent = intent.Classify(dec.Message.Text)
	}
	if dec.Outcome.Answer == "" {
		dec.Outcome = Outcome{
			Kind:   OutcomeUnavailable,
			Answer: fallback.Answer(dec.Intent, dec.Message.Text),
			Agent:  AgentFallback,
		}
	}
}

// Wait blocks until background publishes have finished.
func (d *Dispatcher) Wait() {
	d.publishing.Wait()
}

func formatExecution(resp specialist.ExecuteResponse) string {
	if resp.Stdout != "" {
		return "Output:\n" + resp.Stdout
	}
	return "Error:\n" + resp.Stderr
}

func outcomeLabel(err error) string {
	var ie *specialist.InvocationError
	if errors.As(err, &ie) {
		return string(ie.Kind)
	}
	if err != nil {
		return "error"
	}
	return string(OutcomeOK)
}

func isInvocationError(err error) bool {
	var ie *specialist.InvocationError
	return errors.As(err, &ie)
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= logPreviewLen {
		return s
	}
	return string(r[:logPreviewLen]) + "..."
}

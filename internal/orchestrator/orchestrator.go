// Package orchestrator merges two streaming agents, the tool outputs and the
// user inbox into one ordered event log under floor and trigger control.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/flitsinc/go-duet/internal/agents"
	"github.com/flitsinc/go-duet/internal/buffer"
	"github.com/flitsinc/go-duet/internal/event"
	"github.com/flitsinc/go-duet/internal/idgen"
	"github.com/flitsinc/go-duet/internal/policy"
	"github.com/flitsinc/go-duet/internal/prompt"
	"github.com/flitsinc/go-duet/internal/sink"
	"github.com/flitsinc/go-duet/internal/tools"
)

const instrumentationName = "github.com/flitsinc/go-duet/internal/orchestrator"

const (
	DefaultAgentA = "botA"
	DefaultAgentB = "botB"
)

var ErrAlreadyStarted = errors.New("orchestrator already started")

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config wires the orchestrator. Nil dependencies are replaced by defaults.
type Config struct {
	AgentA string
	AgentB string
	// Agents maps agent id to its implementation.
	Agents map[string]StreamingAgent
	Router ToolRouter
	Sink   EventSink
	Policy PolicyProvider
	Facts  Facts

	// Preamble renders the system block of a prompt for speaker.
	Preamble func(speaker, peer string) string
	// SilentAct marks agent output that does not count as activity.
	SilentAct string

	BufferMaxLen   int
	SummaryChars   int
	PromptMaxLines int
	// PromptMaxChars bounds rendered prompts; zero means unbounded.
	PromptMaxChars int
	TickInterval   time.Duration
	// Now drives the watermark clock.
	Now func() time.Time

	SessionID string
	Logger    *slog.Logger
	Tracer    trace.Tracer
	Meter     metric.Meter

	// OnEvent is called with every committed event, in seq order, while the
	// ingest lock is held. It must not call back into the orchestrator.
	OnEvent func(event.Event)
}

type Orchestrator struct {
	agentIDs  [2]string
	agents    map[string]StreamingAgent
	router    ToolRouter
	sink      EventSink
	policy    PolicyProvider
	facts     Facts
	preamble  func(speaker, peer string) string
	silentAct string
	maxLines  int
	maxChars  int
	sessionID string
	onEvent   func(event.Event)

	logger   *slog.Logger
	tracer   trace.Tracer
	ingested metric.Int64Counter

	ingestMu sync.Mutex
	seq      int64
	clock    *event.Watermark
	buf      *buffer.Buffer
	lastSeen map[string]int64

	state     atomic.Int32
	cancelRun context.CancelCauseFunc

	toolWG     sync.WaitGroup
	toolCancel context.CancelFunc
	inboxWG    sync.WaitGroup
	inboxStop  context.CancelFunc
}

func New(cfg Config) *Orchestrator {
	a := strings.TrimSpace(cfg.AgentA)
	if a == "" {
		a = DefaultAgentA
	}
	b := strings.TrimSpace(cfg.AgentB)
	if b == "" {
		b = DefaultAgentB
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = idgen.New()
	}

	o := &Orchestrator{
		agentIDs:  [2]string{a, b},
		agents:    map[string]StreamingAgent{},
		router:    cfg.Router,
		sink:      cfg.Sink,
		policy:    cfg.Policy,
		facts:     cfg.Facts,
		preamble:  cfg.Preamble,
		silentAct: cfg.SilentAct,
		maxLines:  cfg.PromptMaxLines,
		maxChars:  max(cfg.PromptMaxChars, 0),
		sessionID: sessionID,
		onEvent:   cfg.OnEvent,
		logger:    logger.With("component", "orchestrator", "session", sessionID),
		tracer:    cfg.Tracer,
		clock:     event.NewWatermark(cfg.TickInterval, event.WithNow(cfg.Now)),
		buf:       buffer.New(cfg.BufferMaxLen, cfg.SummaryChars),
		lastSeen:  map[string]int64{},
	}
	for id, agent := range cfg.Agents {
		if agent != nil {
			o.agents[id] = agent
		}
	}
	for _, id := range o.agentIDs {
		if _, ok := o.agents[id]; !ok {
			o.agents[id] = agents.NewStatic("", event.ActReport)
		}
	}
	if o.router == nil {
		o.router = tools.NewRouter(logger)
	}
	if o.sink == nil {
		o.sink = sink.NewMemory()
	}
	if o.policy == nil {
		o.policy = policy.NewStatic(policy.DefaultConfig(), o.agentIDs[:])
	}
	if o.silentAct == "" {
		if p, ok := o.policy.(interface{ SilentAct() string }); ok {
			o.silentAct = p.SilentAct()
		}
	}
	if o.silentAct == "" {
		o.silentAct = event.ActSilent
	}
	if o.facts == nil {
		o.facts = noFacts{}
	}
	if o.preamble == nil {
		o.preamble = prompt.DefaultPreamble
	}
	if o.maxLines <= 0 {
		o.maxLines = prompt.DefaultMaxLines
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(instrumentationName)
	}
	meter := cfg.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	counter, err := meter.Int64Counter("duet.events.ingested", metric.WithDescription("Events committed to the log"))
	if err != nil {
		o.logger.Warn("create ingest counter failed", "error", err)
	}
	o.ingested = counter
	return o
}

func (o *Orchestrator) SessionID() string {
	return o.sessionID
}

func (o *Orchestrator) Agents() []string {
	return o.agentIDs[:]
}

func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Snapshot is a point-in-time view for monitoring.
type Snapshot struct {
	State           string `json:"state"`
	SessionID       string `json:"sessionId"`
	LastSeq         int64  `json:"lastSeq"`
	WatermarkTimeMs int64  `json:"watermarkTimeMs"`
	Buffered        int    `json:"buffered"`
	UserActive      bool   `json:"userActive"`
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.ingestMu.Lock()
	snap := Snapshot{
		State:           o.State().String(),
		SessionID:       o.sessionID,
		LastSeq:         o.seq,
		WatermarkTimeMs: o.clock.Now(),
		Buffered:        o.buf.Len(),
	}
	o.ingestMu.Unlock()
	snap.UserActive = o.policy.Floor().IsUserActive()
	return snap
}

// Ingest commits one event. It is the only writer of seq, the buffer and the
// policies: the sink append is awaited under the ingest lock, and seq only
// advances once the append succeeded.
func (o *Orchestrator) Ingest(ctx context.Context, role, text, act, stream string, meta map[string]any) (event.Event, error) {
	o.ingestMu.Lock()
	defer o.ingestMu.Unlock()

	ev := event.Event{
		Seq:             o.seq + 1,
		WatermarkTimeMs: o.clock.Tick(),
		Role:            role,
		Stream:          stream,
		Act:             act,
		Text:            text,
		Meta:            event.CloneMeta(meta),
	}
	if err := o.sink.Append(ctx, ev); err != nil {
		return event.Event{}, fmt.Errorf("append event %d: %w", ev.Seq, err)
	}
	o.seq = ev.Seq
	o.buf.Append(ev)

	switch {
	case role == event.RoleUser && stream != event.StreamSystem:
		o.policy.Floor().MarkUserActive()
	case role != event.RoleUser && act != o.silentAct:
		for _, id := range o.agentIDs {
			o.policy.TriggerFor(id).Activity()
		}
	}

	if o.ingested != nil {
		o.ingested.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
	}
	if o.onEvent != nil {
		o.onEvent(ev)
	}
	return ev, nil
}

// Events returns the buffered events with Seq > afterSeq.
func (o *Orchestrator) Events(afterSeq int64) []event.Event {
	o.ingestMu.Lock()
	defer o.ingestMu.Unlock()
	return o.buf.WindowSince(afterSeq)
}

// BuildPrompt renders the context for speaker's next turn. Only events newer
// than the last prompt built for speaker are included.
func (o *Orchestrator) BuildPrompt(ctx context.Context, speaker string) string {
	facts := o.facts.Snapshot(ctx)

	o.ingestMu.Lock()
	window := o.buf.WindowSince(o.lastSeen[speaker])
	summary := o.buf.Summary()
	if n := len(window); n > 0 {
		o.lastSeen[speaker] = window[n-1].Seq
	}
	o.ingestMu.Unlock()

	b := prompt.NewBuilder()
	b.MaxChars = o.maxChars
	b.Add(prompt.Block{ID: "preamble", Priority: 100, Content: o.preamble(speaker, o.peerOf(speaker))})
	b.Add(prompt.Block{ID: "summary", Priority: 80, Heading: "Earlier conversation", Content: summary})
	b.Add(prompt.Block{ID: "facts", Priority: 60, Heading: "Shared facts", Content: facts})
	b.Add(prompt.Block{ID: "window", Priority: 40, Heading: "New since your last turn", Content: prompt.RenderWindow(window, o.maxLines)})
	return b.Build()
}

func (o *Orchestrator) peerOf(speaker string) string {
	switch speaker {
	case o.agentIDs[0]:
		return o.agentIDs[1]
	case o.agentIDs[1]:
		return o.agentIDs[0]
	default:
		return ""
	}
}

// Turn runs one gated turn for speaker. It is a no-op while the user holds
// the floor or the trigger is not ready; both cases count as a skip.
func (o *Orchestrator) Turn(ctx context.Context, speaker string) error {
	trig := o.policy.TriggerFor(speaker)
	if o.policy.Floor().IsUserActive() {
		trig.Decay()
		o.logger.Debug("turn skipped", "speaker", speaker, "reason", "user active")
		return nil
	}
	if !trig.ShouldEmit() {
		trig.Decay()
		attrs := []any{"speaker", speaker, "reason", "trigger"}
		if sk, ok := trig.(interface{ Skips() int }); ok {
			attrs = append(attrs, "skips", sk.Skips())
		}
		o.logger.Debug("turn skipped", attrs...)
		return nil
	}
	return o.turn(ctx, speaker, trig, false)
}

// ForceTurn runs a turn for speaker without consulting floor or trigger.
func (o *Orchestrator) ForceTurn(ctx context.Context, speaker string) error {
	return o.turn(ctx, speaker, o.policy.TriggerFor(speaker), true)
}

func (o *Orchestrator) turn(ctx context.Context, speaker string, trig policy.TriggerPolicy, forced bool) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.turn", trace.WithAttributes(
		attribute.String("duet.speaker", speaker),
		attribute.Bool("duet.forced", forced),
	))
	defer span.End()

	agent, ok := o.agents[speaker]
	if !ok {
		err := fmt.Errorf("unknown agent %q", speaker)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	promptText := o.BuildPrompt(ctx, speaker)
	budget := trig.MaxTokens()
	sliceMs := int(o.policy.Floor().Slice().Milliseconds())
	stream := event.AgentStream(speaker)

	tokens, chunks := 0, 0
	for chunk, err := range agent.Stream(ctx, promptText, budget, sliceMs) {
		if err != nil {
			span.RecordError(err)
			if ctxErr := ctx.Err(); ctxErr != nil {
				span.SetStatus(codes.Error, ctxErr.Error())
				return ctxErr
			}
			span.SetStatus(codes.Error, "stream aborted")
			o.logger.Warn("agent stream failed", "speaker", speaker, "chunks", chunks, "error", err)
			return nil
		}
		if strings.TrimSpace(chunk.Text) == "" {
			continue
		}
		act := chunk.Act
		if act == "" {
			act = event.ActReport
		}
		if _, err := o.Ingest(ctx, speaker, chunk.Text, act, stream, nil); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		chunks++
		tokens += EstimateTokens(chunk.Text)
		if budget > 0 && tokens >= budget {
			break
		}
	}
	trig.MarkEmitted()
	span.SetAttributes(attribute.Int("duet.chunks", chunks), attribute.Int("duet.tokens", tokens))
	return nil
}

// EstimateTokens approximates the token count of text as a quarter of its
// runes, never less than one.
func EstimateTokens(text string) int {
	n := (len([]rune(text)) + 3) / 4
	if n < 1 {
		return 1
	}
	return n
}

// Run drives one session: start marker, tool and inbox pumps, one forced turn
// per agent and, when duration > 0, the floor-controlled turn loop. Shutdown
// always runs and always ends with the stop marker. Run returns the first
// fatal error.
func (o *Orchestrator) Run(ctx context.Context, duration time.Duration) (err error) {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	o.cancelRun = cancel

	defer func() {
		o.state.Store(int32(StateDraining))
		cleanupCtx := context.WithoutCancel(ctx)
		o.stopTools()
		if stopErr := o.router.Stop(cleanupCtx); stopErr != nil {
			o.logger.Warn("tool router stop failed", "error", stopErr)
		}
		o.stopInbox()
		if err == nil && ctx.Err() == nil {
			if cause := context.Cause(runCtx); cause != nil {
				err = cause
			}
		}
		if _, stopErr := o.Ingest(cleanupCtx, event.RoleUser, "session stop", event.ActStop, event.StreamSystem, o.markerMeta()); stopErr != nil {
			o.logger.Error("stop marker failed", "error", stopErr)
			if err == nil {
				err = stopErr
			}
		}
		o.state.Store(int32(StateStopped))
		o.logger.Info("session stopped", "last_seq", o.Snapshot().LastSeq, "error", err)
	}()

	if _, err := o.Ingest(runCtx, event.RoleUser, "session start", event.ActStart, event.StreamSystem, o.markerMeta()); err != nil {
		return err
	}
	o.logger.Info("session started", "agents", o.agentIDs[:], "duration", duration)

	if err := o.startTools(runCtx); err != nil {
		return err
	}
	o.startInbox(runCtx)

	for _, id := range o.agentIDs {
		if err := o.ForceTurn(runCtx, id); err != nil {
			return o.fatal(runCtx, err)
		}
	}
	if duration <= 0 {
		return o.fatal(runCtx, nil)
	}

	floor := o.policy.Floor()
	deadline := time.NewTimer(duration)
	defer deadline.Stop()
	for {
		select {
		case <-runCtx.Done():
			return o.fatal(runCtx, nil)
		case <-deadline.C:
			return o.fatal(runCtx, nil)
		default:
		}
		// The user holds the floor for an extra slice on top of the
		// per-iteration one.
		if speaker := floor.NextSpeaker(); speaker == policy.SpeakerUser {
			if !pause(runCtx, deadline.C, floor.Slice()) {
				return o.fatal(runCtx, nil)
			}
		} else if err := o.Turn(runCtx, speaker); err != nil {
			return o.fatal(runCtx, err)
		}
		if !pause(runCtx, deadline.C, floor.Slice()) {
			return o.fatal(runCtx, nil)
		}
	}
}

// pause sleeps for d. It reports false when ctx ends or the deadline fires
// first.
func pause(ctx context.Context, deadline <-chan time.Time, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-deadline:
		return false
	case <-t.C:
		return true
	}
}

// fatal prefers the cause the run was cancelled with over err.
func (o *Orchestrator) fatal(runCtx context.Context, err error) error {
	if runCtx.Err() != nil {
		if cause := context.Cause(runCtx); cause != nil {
			return cause
		}
	}
	return err
}

func (o *Orchestrator) markerMeta() map[string]any {
	return map[string]any{event.MetaSession: o.sessionID}
}

func (o *Orchestrator) startTools(ctx context.Context) error {
	if err := o.router.Start(ctx); err != nil {
		return fmt.Errorf("start tools: %w", err)
	}
	toolCtx, cancel := context.WithCancel(ctx)
	o.toolCancel = cancel
	for _, tool := range o.router.Tools() {
		o.toolWG.Add(1)
		go func() {
			defer o.toolWG.Done()
			o.pumpTool(toolCtx, tool)
		}()
	}
	return nil
}

func (o *Orchestrator) stopTools() {
	if o.toolCancel != nil {
		o.toolCancel()
	}
	o.toolWG.Wait()
}

func (o *Orchestrator) pumpTool(ctx context.Context, tool Tool) {
	name := tool.Name()
	for item, err := range tool.Output(ctx) {
		if err != nil {
			if ctx.Err() == nil {
				o.logger.Warn("tool output failed", "tool", name, "error", err)
			}
			return
		}
		if strings.TrimSpace(item.Text) == "" {
			continue
		}
		act := item.Act
		if act == "" {
			act = event.ActToolOut
		}
		stream := item.Stream
		if stream == "" {
			stream = event.StreamTool
		}
		meta := event.CloneMeta(item.Meta)
		if meta == nil {
			meta = map[string]any{}
		}
		meta[event.MetaTool] = name
		if _, err := o.Ingest(ctx, event.RoleTool, item.Text, act, stream, meta); err != nil {
			if ctx.Err() == nil {
				o.fail(fmt.Errorf("tool %s: %w", name, err))
			}
			return
		}
	}
}

func (o *Orchestrator) startInbox(ctx context.Context) {
	inboxCtx, cancel := context.WithCancel(ctx)
	o.inboxStop = cancel
	o.inboxWG.Add(1)
	go func() {
		defer o.inboxWG.Done()
		o.pumpInbox(inboxCtx)
	}()
}

func (o *Orchestrator) stopInbox() {
	if o.inboxStop != nil {
		o.inboxStop()
	}
	o.inboxWG.Wait()
}

func (o *Orchestrator) pumpInbox(ctx context.Context) {
	for item, err := range o.sink.Tail(ctx) {
		if err != nil {
			if ctx.Err() == nil {
				o.logger.Warn("inbox tail failed", "error", err)
			}
			return
		}
		if strings.TrimSpace(item.Text) == "" {
			continue
		}
		if _, err := o.Ingest(ctx, event.RoleUser, item.Text, event.ActInput, event.StreamUI, item.Meta); err != nil {
			if ctx.Err() == nil {
				o.fail(fmt.Errorf("inbox: %w", err))
			}
			return
		}
	}
}

func (o *Orchestrator) fail(err error) {
	o.logger.Error("run failed", "error", err)
	if o.cancelRun != nil {
		o.cancelRun(err)
	}
}

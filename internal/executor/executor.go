// Package executor implements the Universal Executor (spec §4.F): the one
// lifecycle — trigger match, self-loop guard, handler invocation, bounded
// tool-request/response loop, response breadcrumb emission — shared by the
// Agent, Tool and Workflow consumer variants. Grounded on the teacher's
// parallel tool executor for its retry/timeout/panic-recovery shape
// (internal/agent/executor.go) and its typed tool-error taxonomy
// (internal/agent/errors.go), re-pointed at breaderr.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/haasonsaas/breadcrumb/internal/breaderr"
	"github.com/haasonsaas/breadcrumb/internal/metrics"
	"github.com/haasonsaas/breadcrumb/internal/selector"
	"github.com/haasonsaas/breadcrumb/pkg/models"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/trace"
)

// DefaultToolLoopDepth bounds how many tool.request.v1 round trips a single
// agent invocation may make before it is forced to respond (spec §4.F
// default: 4).
const DefaultToolLoopDepth = 4

// DefaultTimeout bounds a single handler invocation.
const DefaultTimeout = 30 * time.Second

// RecordStore is the subset of the Record Client an Executor needs: fetch
// the triggering breadcrumb in full (for deferred predicates) and emit its
// response.
type RecordStore interface {
	Get(ctx context.Context, id string) (*models.Breadcrumb, error)
	Create(ctx context.Context, req models.CreateBreadcrumbRequest) (*models.CreateBreadcrumbResult, error)
}

// Handler is the user-supplied logic bound to a consumer definition: given
// the full triggering breadcrumb, produce an output payload or an error.
// For the agent variant, Handler may itself create tool.request.v1
// breadcrumbs and call Bridge.Wait for their response (see ToolInvoker) —
// that loop runs inside Handler; Executor does not drive it.
type Handler func(ctx context.Context, trigger *models.Breadcrumb) (any, error)

// Config configures one Executor instance.
type Config struct {
	ConsumerID   string
	Kind         models.ConsumerKind
	Timeout      time.Duration
	Capabilities models.Capabilities
	// InputSchema, for a tool-kind consumer, is compiled once in New and
	// checked against the trigger breadcrumb's Context before the handler
	// runs (spec §4.F tool variant: reject malformed tool calls early).
	InputSchema json.RawMessage
}

// Executor runs one consumer's handler against matched trigger events:
// fetch-if-needed, self-loop guard, timeout + panic isolation, response
// breadcrumb emission.
type Executor struct {
	cfg          Config
	store        RecordStore
	handler      Handler
	metrics      *metrics.Metrics
	tracer       *metrics.Tracer
	logger       *slog.Logger
	inputSchema  *jsonschema.Schema
}

// New builds an Executor. logger/metrics/tracer may be nil. If
// cfg.InputSchema is set but fails to compile, New returns an error rather
// than silently running unvalidated — a broken schema is a configuration
// mistake the operator needs to see at bind time.
func New(cfg Config, store RecordStore, handler Handler, m *metrics.Metrics, tracer *metrics.Tracer, logger *slog.Logger) (*Executor, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	var compiled *jsonschema.Schema
	if len(cfg.InputSchema) > 0 {
		schema, err := jsonschema.CompileString(cfg.ConsumerID+"#input", string(cfg.InputSchema))
		if err != nil {
			return nil, fmt.Errorf("executor: compile input schema for %s: %w", cfg.ConsumerID, err)
		}
		compiled = schema
	}

	return &Executor{
		cfg:         cfg,
		store:       store,
		handler:     handler,
		metrics:     m,
		tracer:      tracer,
		logger:      logger.With("consumer_id", cfg.ConsumerID, "kind", cfg.Kind),
		inputSchema: compiled,
	}, nil
}

// HandleMatched processes one event that a Subscription Registry binding
// has already routed to this executor for selector sel: it re-checks a
// deferred predicate against the fully-fetched breadcrumb when
// event.Context was absent (spec §4.B "deferred predicate" rule), applies
// the self-loop guard, then runs the handler with timeout and panic
// isolation, finally emitting a response breadcrumb.
func (e *Executor) HandleMatched(ctx context.Context, event *models.Event, sel models.Selector) {
	if event.BreadcrumbID == "" {
		return
	}

	trigger, err := e.store.Get(ctx, event.BreadcrumbID)
	if err != nil {
		e.logger.Warn("fetch trigger failed", "breadcrumb_id", event.BreadcrumbID, "error", err)
		return
	}

	if selector.Deferred(event, sel) && !selector.MatchesBreadcrumb(trigger, sel) {
		return // predicate failed once full context was available
	}

	if e.selfLoop(trigger) {
		e.logger.Debug("self-loop guard skipped invocation", "breadcrumb_id", trigger.ID)
		return
	}

	if e.inputSchema != nil {
		if err := e.validateInput(trigger); err != nil {
			e.logger.Warn("input schema validation failed", "breadcrumb_id", trigger.ID, "error", err)
			e.emitResponse(ctx, trigger, models.StatusError, nil, err.Error(), 0)
			return
		}
	}

	e.run(ctx, trigger)
}

// validateInput checks trigger.Context against the consumer's compiled
// input schema, round-tripping through encoding/json since
// jsonschema.Validate expects the document shape produced by json.Unmarshal
// (map[string]any with float64 numbers), not Context as stored.
func (e *Executor) validateInput(trigger *models.Breadcrumb) error {
	raw, err := json.Marshal(trigger.Context)
	if err != nil {
		return breaderr.New(breaderr.KindValidation, "executor.validateInput", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return breaderr.New(breaderr.KindValidation, "executor.validateInput", err)
	}
	if err := e.inputSchema.Validate(doc); err != nil {
		return breaderr.New(breaderr.KindValidation, "executor.validateInput", err)
	}
	return nil
}

// selfLoop reports whether trigger was itself created by this consumer,
// preventing an executor from reacting to its own output (spec §4.F).
func (e *Executor) selfLoop(trigger *models.Breadcrumb) bool {
	return trigger.CreatedBy != "" && trigger.CreatedBy == e.cfg.ConsumerID
}

// run invokes the handler with a timeout and panic isolation, then emits a
// response breadcrumb recording success or failure (spec §4.F, §7).
func (e *Executor) run(ctx context.Context, trigger *models.Breadcrumb) {
	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var span trace.Span
	if e.tracer != nil {
		runCtx, span = e.tracer.TraceExecutor(runCtx, string(e.cfg.Kind), e.cfg.ConsumerID, trigger.ID)
	}

	output, err := e.invoke(runCtx, trigger)
	elapsed := time.Since(start)

	status := models.StatusSuccess
	errMsg := ""
	if err != nil {
		status = models.StatusError
		errMsg = err.Error()
	}
	if span != nil {
		if err != nil {
			e.tracer.RecordError(span, err)
		}
		span.End()
	}

	if e.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "error"
			be, _ := err.(*breaderr.Error)
			switch {
			case runCtx.Err() == context.DeadlineExceeded:
				outcome = "timeout"
			case be != nil && be.Kind == breaderr.KindFatal && be.Op == "executor.invoke":
				outcome = "panic"
			}
		}
		e.metrics.ExecutorInvocations.WithLabelValues(string(e.cfg.Kind), outcome).Inc()
		e.metrics.ExecutorDuration.WithLabelValues(string(e.cfg.Kind)).Observe(elapsed.Seconds())
	}

	e.emitResponse(ctx, trigger, status, output, errMsg, elapsed)
}

// invoke calls the handler with panic isolation, converting a panic into a
// breaderr.Error rather than crashing the dispatcher goroutine (spec §4.H:
// "panic isolation"), grounded on the teacher's metrics.TotalPanics pattern.
func (e *Executor) invoke(ctx context.Context, trigger *models.Breadcrumb) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("handler panicked", "panic", r, "stack", string(debug.Stack()))
			err = breaderr.New(breaderr.KindFatal, "executor.invoke", fmt.Errorf("panic: %v", r))
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		out, err = e.handler(ctx, trigger)
	}()

	select {
	case <-done:
		return out, err
	case <-ctx.Done():
		return nil, breaderr.New(breaderr.KindTimeout, "executor.invoke", ctx.Err())
	}
}

// emitResponse writes the response breadcrumb (agent.response.v1 /
// tool.response.v1 / workflow.result.v1 per the consumer kind) if the
// consumer's capabilities permit emission.
func (e *Executor) emitResponse(ctx context.Context, trigger *models.Breadcrumb, status models.ResponseStatus, output any, errMsg string, elapsed time.Duration) {
	if !e.cfg.Capabilities.CanEmit {
		return
	}

	schema := responseSchema(e.cfg.Kind)
	payload := models.ResponseContext{
		RequestID:       trigger.ID,
		Output:          guardOutput(output, DefaultMaxResponseBytes),
		Status:          status,
		Error:           errMsg,
		ExecutionTimeMS: elapsed.Milliseconds(),
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
	}

	ctxMap := map[string]any{
		"request_id":        payload.RequestID,
		"output":            payload.Output,
		"status":            payload.Status,
		"error":             payload.Error,
		"execution_time_ms": payload.ExecutionTimeMS,
		"timestamp":         payload.Timestamp,
	}

	tags := []string{"response:" + trigger.ID}
	if e.cfg.Capabilities.Workspace != "" {
		tags = append(tags, "workspace:"+e.cfg.Capabilities.Workspace)
	}

	_, err := e.store.Create(ctx, models.CreateBreadcrumbRequest{
		SchemaName: schema,
		Tags:       tags,
		Context:    ctxMap,
	})
	if err != nil {
		e.logger.Error("failed to emit response breadcrumb", "error", err)
	}
}

func responseSchema(kind models.ConsumerKind) string {
	switch kind {
	case models.ConsumerAgent:
		return models.SchemaAgentResponse
	case models.ConsumerTool:
		return models.SchemaToolResponse
	case models.ConsumerWorkflow:
		return models.SchemaWorkflowResult
	default:
		return models.SchemaAgentResponse
	}
}

// Package engine composes validation, command orchestration, lifecycle
// notifications and run history into the per-request webhook flow.
package engine

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hookworks/deploygate/internal/config"
	"github.com/hookworks/deploygate/internal/githook"
	"github.com/hookworks/deploygate/internal/history"
	"github.com/hookworks/deploygate/internal/hooks"
	"github.com/hookworks/deploygate/internal/runner"
	"github.com/hookworks/deploygate/internal/validate"
)

// MaxBodySize caps inbound webhook bodies. GitHub caps payloads at 25 MB;
// anything larger is not a push payload we want.
const MaxBodySize = 25 << 20

// Engine is the webhook handler: it validates an inbound delivery,
// acknowledges it, and drives the command run asynchronously. The
// acknowledgment is sent before any command executes so the hosting
// service's delivery timeout never depends on deployment duration.
type Engine struct {
	hook      *config.HookConfig
	validator *validate.Validator
	orch      *runner.Orchestrator
	listeners *hooks.Registry
	store     *history.Store
	logger    *slog.Logger

	// Precondition, when set, is a final gate evaluated after
	// acknowledgment and before any command runs. Returning false skips
	// the run without firing lifecycle notifications.
	Precondition func(*githook.PushPayload) bool

	runMu sync.Mutex
	wg    sync.WaitGroup
}

// New builds an Engine. The listener registry is required; store may be
// nil, in which case runs are not recorded. A nil spawner falls back to
// the shell.
func New(hook *config.HookConfig, spawner runner.Spawner, listeners *hooks.Registry, store *history.Store, logger *slog.Logger) (*Engine, error) {
	validator, err := validate.New(hook)
	if err != nil {
		return nil, err
	}
	return &Engine{
		hook:      hook,
		validator: validator,
		orch:      runner.NewOrchestrator(hook, spawner, logger),
		listeners: listeners,
		store:     store,
		logger:    logger,
	}, nil
}

// ServeHTTP handles one webhook delivery.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodySize))
	if err != nil {
		e.logger.Warn("failed to read request body", "error", err)
		http.Error(w, "missing body", http.StatusBadRequest)
		return
	}

	payload, err := githook.Parse(body)
	if err != nil {
		// Validation decides what an unparseable body means; an empty
		// payload falls through the relevance filters.
		e.logger.Warn("unparseable payload", "error", err)
		payload = nil
	}

	req := &validate.Request{
		Method:    r.Method,
		UserAgent: r.UserAgent(),
		Event:     r.Header.Get(githook.EventHeader),
		Signature: r.Header.Get(githook.SignatureHeader),
		Token:     r.URL.Query().Get("token"),
		Body:      body,
		Payload:   payload,
	}

	res := e.validator.Validate(req)
	if !res.Accepted {
		e.logRejection(r, res)
		w.WriteHeader(res.Status)
		if res.Reason != "" {
			_, _ = w.Write([]byte(res.Reason))
		}
		return
	}

	// A wildcard branch filter can accept a delivery whose payload never
	// parsed; downstream consumers always get a non-nil payload.
	if payload == nil {
		payload = &githook.PushPayload{}
	}

	runID := uuid.New().String()
	e.logger.Info("delivery accepted",
		"run_id", runID,
		"event", req.Event,
		"delivery", r.Header.Get(githook.DeliveryHeader),
		"ref", payload.Ref,
		"pusher", payload.Pusher.Name)

	e.recordBegin(r.Context(), runID, req.Event, payload)

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("running"))

	e.wg.Add(1)
	go e.run(runID, payload)
}

func (e *Engine) logRejection(r *http.Request, res validate.Result) {
	if res.Soft() {
		e.logger.Info("delivery ignored",
			"reason", res.Detail,
			"delivery", r.Header.Get(githook.DeliveryHeader))
		return
	}
	e.logger.Warn("delivery rejected",
		"status", res.Status,
		"reason", res.Detail,
		"remote", r.RemoteAddr)
}

// run drives one accepted delivery to completion. All steps are strictly
// sequential; two concurrent deliveries overlap unless serialize_runs is
// set, in which case later runs queue on the engine mutex.
func (e *Engine) run(runID string, payload *githook.PushPayload) {
	defer e.wg.Done()
	ctx := context.Background()

	if e.hook.SerializeRuns {
		e.runMu.Lock()
		defer e.runMu.Unlock()
	}

	if e.Precondition != nil && !e.Precondition(payload) {
		e.logger.Info("precondition declined run", "run_id", runID)
		e.recordFinish(ctx, runID, history.StatusSkipped, nil)
		return
	}

	e.listeners.EmitBefore(payload)

	start := time.Now()
	err := e.orch.RunAll(ctx)
	if err != nil {
		e.logger.Error("run failed", "run_id", runID, "error", err, "duration", time.Since(start))
		e.listeners.EmitError(err)
		e.listeners.EmitAfter(payload, err)
		e.recordFinish(ctx, runID, history.StatusFailed, err)
		return
	}

	e.logger.Info("run completed", "run_id", runID, "duration", time.Since(start))
	e.listeners.EmitAfter(payload, nil)
	e.recordFinish(ctx, runID, history.StatusCompleted, nil)
}

func (e *Engine) recordBegin(ctx context.Context, runID, event string, payload *githook.PushPayload) {
	if e.store == nil {
		return
	}
	branch, _ := payload.Branch()
	run := history.Run{
		ID:     runID,
		Event:  event,
		Ref:    payload.Ref,
		Branch: branch,
		Pusher: payload.Pusher.Name,
	}
	if err := e.store.Begin(ctx, run); err != nil {
		e.logger.Warn("failed to record run start", "run_id", runID, "error", err)
	}
}

func (e *Engine) recordFinish(ctx context.Context, runID, status string, runErr error) {
	if e.store == nil {
		return
	}
	if err := e.store.Finish(ctx, runID, status, runErr); err != nil {
		e.logger.Warn("failed to record run finish", "run_id", runID, "error", err)
	}
}

// Wait blocks until every in-flight run has finished. Used for graceful
// shutdown after the HTTP server stops accepting deliveries.
func (e *Engine) Wait() {
	e.wg.Wait()
}

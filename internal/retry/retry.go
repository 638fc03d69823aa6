package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"stratumai/internal/core"
)

// Phase identifies which stage of Invoke an attempt belongs to.
type Phase string

const (
	PhasePrimary          Phase = "primary"
	PhaseFallbackModel    Phase = "fallback_model"
	PhaseFallbackProvider Phase = "fallback_provider"
)

// Outcome is the final state of an Invoke call.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFallback  Outcome = "fallback_success"
	OutcomeTerminal  Outcome = "terminal_error"
	OutcomeExhausted Outcome = "retries_exhausted"
	OutcomeCanceled  Outcome = "canceled"
)

// Fallback lists the substitutes tried after the primary backend's retries
// are exhausted. Models are tried first, in order, on the same provider.
// Provider is used only when Models is empty.
type Fallback struct {
	Models   []string `json:"models,omitempty"`
	Provider string   `json:"provider,omitempty"`
}

// Step records one attempt.
type Step struct {
	Phase     Phase          `json:"phase"`
	Provider  string         `json:"provider"`
	Model     string         `json:"model"`
	ErrorKind core.ErrorType `json:"error_kind,omitempty"`
	Duration  time.Duration  `json:"duration"`
}

// Trace describes what Invoke did.
type Trace struct {
	Attempts int             `json:"attempts"`
	Outcome  Outcome         `json:"outcome"`
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
	Delays   []time.Duration `json:"delays,omitempty"`
	Steps    []Step          `json:"steps,omitempty"`
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// AttemptHook observes every finished attempt.
type AttemptHook func(ctx context.Context, step Step, err error)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSleep replaces the context-aware timer wait.
func WithSleep(fn SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// WithRand replaces the jitter source. fn must return values in [0,1).
func WithRand(fn func() float64) Option {
	return func(o *Orchestrator) { o.rand = fn }
}

// WithAttemptHook registers an observer for attempts.
func WithAttemptHook(fn AttemptHook) Option {
	return func(o *Orchestrator) { o.hook = fn }
}

// Orchestrator runs requests against an executor under a Policy.
// It keeps no per-call state and is safe for concurrent use.
type Orchestrator struct {
	policy Policy
	sleep  SleepFunc
	rand   func() float64
	hook   AttemptHook
	now    func() time.Time
}

// New creates an Orchestrator.
func New(policy Policy, opts ...Option) (*Orchestrator, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	o := &Orchestrator{
		policy: policy,
		sleep:  sleepContext,
		rand:   rand.Float64,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Policy returns the orchestrator's policy.
func (o *Orchestrator) Policy() Policy {
	return o.policy
}

// Invoke executes req, retrying retryable failures with backoff up to
// MaxRetries times, then tries fb once per substitute. A non-retryable
// failure is returned as is at any point. When everything fails the error is
// a *core.RetriesExhaustedError wrapping the last failure.
//
// Attempts run sequentially in the calling goroutine. req is never modified;
// fallbacks run on copies.
func (o *Orchestrator) Invoke(ctx context.Context, req *core.ChatRequest, exec core.Executor, fb Fallback) (*core.ChatResponse, Trace, error) {
	var (
		trace Trace
		last  error
	)

	for n := 0; ; n++ {
		resp, err := o.attempt(ctx, req, exec, PhasePrimary, &trace)
		if err == nil {
			trace.Outcome = OutcomeSuccess
			return resp, trace, nil
		}
		if !o.policy.retryable(err) {
			return nil, o.finishTerminal(ctx, trace), err
		}
		last = err
		if n >= o.policy.MaxRetries {
			break
		}

		delay := o.policy.Backoff(n, o.rand)
		trace.Delays = append(trace.Delays, delay)
		slog.DebugContext(ctx, "retrying after backoff",
			"request_id", core.GetRequestID(ctx),
			"provider", req.Provider,
			"model", req.Model,
			"attempt", trace.Attempts,
			"delay", delay,
			"error", err,
		)
		if err := o.sleep(ctx, delay); err != nil {
			trace.Outcome = OutcomeCanceled
			return nil, trace, err
		}
	}

	substitutes := o.substitutes(req, fb)
	for _, s := range substitutes {
		if err := ctx.Err(); err != nil {
			trace.Outcome = OutcomeCanceled
			return nil, trace, err
		}
		resp, err := o.attempt(ctx, s.req, exec, s.phase, &trace)
		if err == nil {
			trace.Outcome = OutcomeFallback
			slog.InfoContext(ctx, "fallback succeeded",
				"request_id", core.GetRequestID(ctx),
				"provider", s.req.Provider,
				"model", s.req.Model,
				"attempts", trace.Attempts,
			)
			return resp, trace, nil
		}
		if !o.policy.retryable(err) {
			return nil, o.finishTerminal(ctx, trace), err
		}
		last = err
	}

	trace.Outcome = OutcomeExhausted
	slog.WarnContext(ctx, "retries exhausted",
		"request_id", core.GetRequestID(ctx),
		"provider", req.Provider,
		"model", req.Model,
		"attempts", trace.Attempts,
		"fallbacks", len(substitutes),
		"error", last,
	)
	return nil, trace, &core.RetriesExhaustedError{Attempts: trace.Attempts, Last: last}
}

type substitute struct {
	phase Phase
	req   *core.ChatRequest
}

func (o *Orchestrator) substitutes(req *core.ChatRequest, fb Fallback) []substitute {
	if len(fb.Models) > 0 {
		out := make([]substitute, 0, len(fb.Models))
		for _, m := range fb.Models {
			out = append(out, substitute{phase: PhaseFallbackModel, req: req.WithModel(m)})
		}
		return out
	}
	if fb.Provider != "" {
		return []substitute{{phase: PhaseFallbackProvider, req: req.WithProvider(fb.Provider)}}
	}
	return nil
}

func (o *Orchestrator) attempt(ctx context.Context, req *core.ChatRequest, exec core.Executor, phase Phase, trace *Trace) (*core.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := o.now()
	resp, err := exec.Execute(ctx, req)
	if err == nil && resp == nil {
		err = core.NewProviderError(req.Provider, http.StatusBadGateway, "backend returned an empty response", nil)
	}
	step := Step{
		Phase:    phase,
		Provider: req.Provider,
		Model:    req.Model,
		Duration: o.now().Sub(start),
	}
	if err != nil {
		step.ErrorKind = core.KindOf(err)
	}

	trace.Attempts++
	trace.Provider = req.Provider
	trace.Model = req.Model
	trace.Steps = append(trace.Steps, step)
	if o.hook != nil {
		o.hook(ctx, step, err)
	}
	return resp, err
}

func (o *Orchestrator) finishTerminal(ctx context.Context, trace Trace) Trace {
	if ctx.Err() != nil {
		trace.Outcome = OutcomeCanceled
	} else {
		trace.Outcome = OutcomeTerminal
	}
	return trace
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

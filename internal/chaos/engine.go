// Package chaos runs consistency experiments against a live circulation service.
package chaos

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrSteadyStateInvalid aborts an experiment whose probes fail before any fault is injected.
var ErrSteadyStateInvalid = errors.New("steady state invalid")

// Experiment is a hypothesis about the system checked under injected load or faults.
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Probe
	Method      []Action
	Rollback    []Action
	// Duration is how long probes keep being sampled after Method ran.
	Duration time.Duration
}

// Probe measures one system property.
type Probe struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

func (t Threshold) holds(v float64) bool {
	switch t.Operator {
	case ">":
		return v > t.Value
	case "<":
		return v < t.Value
	case ">=":
		return v >= t.Value
	case "<=":
		return v <= t.Value
	case "==":
		return v == t.Value
	default:
		return false
	}
}

// Action injects a fault or load, or undoes it. A Method action returning an error means
// the system misbehaved.
type Action struct {
	Name    string
	Execute func(context.Context) error
}

type Violation struct {
	Probe     string    `json:"probe"`
	Expected  string    `json:"expected"`
	Actual    float64   `json:"actual"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ActionFailure struct {
	Action string `json:"action"`
	Error  string `json:"error"`
}

// Result records one experiment run.
type Result struct {
	Experiment       string          `json:"experiment"`
	StartTime        time.Time       `json:"start_time"`
	EndTime          time.Time       `json:"end_time"`
	SteadyStateValid bool            `json:"steady_state_valid"`
	HypothesisHeld   bool            `json:"hypothesis_held"`
	Violations       []Violation     `json:"violations,omitempty"`
	ActionFailures   []ActionFailure `json:"action_failures,omitempty"`
}

// Engine runs registered experiments one after another.
type Engine struct {
	tracer   trace.Tracer
	logger   *zap.Logger
	interval time.Duration

	mu          sync.Mutex
	experiments []Experiment
}

func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		tracer:   otel.Tracer("libracirc/chaos"),
		logger:   logger,
		interval: time.Second,
	}
}

func (e *Engine) Register(exp Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp)
}

func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

// Run checks the steady state, executes the method, samples probes for the experiment
// duration, rolls back and reports whether the hypothesis held.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)),
	)
	defer span.End()

	result := &Result{Experiment: exp.Name, StartTime: time.Now()}

	span.AddEvent("validating_steady_state")
	if violations := e.sample(ctx, exp.SteadyState); len(violations) > 0 {
		result.Violations = violations
		result.EndTime = time.Now()
		return result, ErrSteadyStateInvalid
	}
	result.SteadyStateValid = true

	span.AddEvent("injecting_chaos")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			span.RecordError(err)
			result.ActionFailures = append(result.ActionFailures, ActionFailure{Action: action.Name, Error: err.Error()})
		}
	}

	span.AddEvent("observing_system")
	result.Violations = append(result.Violations, e.observe(ctx, exp)...)

	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			span.RecordError(err)
			e.logger.Warn("rollback failed", zap.String("experiment", exp.Name), zap.String("action", action.Name), zap.Error(err))
		}
	}

	result.HypothesisHeld = len(result.Violations) == 0 && len(result.ActionFailures) == 0
	result.EndTime = time.Now()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	return result, nil
}

// RunAll runs every registered experiment and logs the outcome of each.
func (e *Engine) RunAll(ctx context.Context) []Result {
	var results []Result
	for _, exp := range e.Experiments() {
		e.logger.Info("starting experiment", zap.String("experiment", exp.Name), zap.String("hypothesis", exp.Hypothesis))

		result, err := e.Run(ctx, exp)
		if err != nil {
			e.logger.Error("experiment aborted", zap.String("experiment", exp.Name), zap.Error(err))
		}

		fields := []zap.Field{
			zap.String("experiment", exp.Name),
			zap.Bool("hypothesis_held", result.HypothesisHeld),
			zap.Duration("duration", result.EndTime.Sub(result.StartTime)),
			zap.Any("violations", result.Violations),
			zap.Any("action_failures", result.ActionFailures),
		}
		if result.HypothesisHeld {
			e.logger.Info("hypothesis held", fields...)
		} else {
			e.logger.Error("hypothesis violated", fields...)
		}

		results = append(results, *result)
		if ctx.Err() != nil {
			break
		}
	}
	return results
}

func (e *Engine) observe(ctx context.Context, exp Experiment) []Violation {
	if exp.Duration <= 0 {
		return e.sample(ctx, exp.SteadyState)
	}

	observeCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	var violations []Violation
	for {
		select {
		case <-observeCtx.Done():
			// One last look once the window closes.
			return append(violations, e.sample(ctx, exp.SteadyState)...)
		case <-ticker.C:
			violations = append(violations, e.sample(ctx, exp.SteadyState)...)
		}
	}
}

func (e *Engine) sample(ctx context.Context, probes []Probe) []Violation {
	var violations []Violation
	for _, p := range probes {
		value, err := p.Query(ctx)
		if err == nil && p.Threshold.holds(value) {
			continue
		}

		v := Violation{
			Probe:     p.Name,
			Expected:  p.Threshold.Operator + " " + strconv.FormatFloat(p.Threshold.Value, 'g', -1, 64),
			Actual:    value,
			Timestamp: time.Now(),
		}
		if err != nil {
			v.Error = err.Error()
		}
		violations = append(violations, v)
	}
	return violations
}

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/valuationflow/internal/backoff"
	"github.com/BaSui01/valuationflow/persistence"
	"github.com/BaSui01/valuationflow/types"
	"github.com/BaSui01/valuationflow/validation"
	"go.uber.org/zap"
)

// RetryPolicy configures the two independent retry paths of a stage.
type RetryPolicy struct {
	// MaxViolationAttempts caps attempts rejected by validation (content errors).
	MaxViolationAttempts int `json:"max_violation_attempts" yaml:"max_violation_attempts"`
	// MaxTransientAttempts caps attempts lost to transient worker failures.
	MaxTransientAttempts int `json:"max_transient_attempts" yaml:"max_transient_attempts"`
	// AttemptTimeout bounds one worker call unless the stage sets its own.
	AttemptTimeout time.Duration  `json:"attempt_timeout" yaml:"attempt_timeout"`
	Backoff        backoff.Policy `json:"-" yaml:"-"`
}

// DefaultRetryPolicy returns 5 content attempts, 5 transient attempts and
// exponential backoff starting at 1s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxViolationAttempts: 5,
		MaxTransientAttempts: 5,
		AttemptTimeout:       2 * time.Minute,
		Backoff:              backoff.DefaultPolicy(),
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxViolationAttempts <= 0 {
		p.MaxViolationAttempts = d.MaxViolationAttempts
	}
	if p.MaxTransientAttempts <= 0 {
		p.MaxTransientAttempts = d.MaxTransientAttempts
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = d.AttemptTimeout
	}
	return p
}

// StageError is the fatal outcome of a stage.
type StageError struct {
	Stage      string
	Ordinal    int
	Class      types.FailureClass
	Detail     string
	Violations []validation.Violation
	Attempts   Attempts
	Cause      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed (%s) after %d attempt(s): %s", e.Stage, e.Class, e.Attempts.Total, e.Detail)
}

func (e *StageError) Unwrap() error { return e.Cause }

// RetryOption configures a RetryController.
type RetryOption func(*RetryController)

// WithBackoffSleeper replaces the backoff wait, mainly for tests.
func WithBackoffSleeper(s backoff.Sleeper) RetryOption {
	return func(c *RetryController) {
		if s != nil {
			c.sleep = s
		}
	}
}

// WithRetryLogger sets the logger.
func WithRetryLogger(logger *zap.Logger) RetryOption {
	return func(c *RetryController) {
		if logger != nil {
			c.logger = logger.With(zap.String("component", "retry_controller"))
		}
	}
}

// WithAttemptObserver receives every failed attempt.
func WithAttemptObserver(fn func(ctx context.Context, ev Event)) RetryOption {
	return func(c *RetryController) { c.onFailure = fn }
}

// RetryController invokes a stage worker until its output validates or a
// retry budget is exhausted. Content errors are retried immediately with
// feedback; transient errors are retried with exponential backoff.
type RetryController struct {
	validator *validation.StageValidator
	policy    RetryPolicy
	sleep     backoff.Sleeper
	logger    *zap.Logger
	onFailure func(ctx context.Context, ev Event)
}

// NewRetryController creates a RetryController.
func NewRetryController(validator *validation.StageValidator, policy RetryPolicy, opts ...RetryOption) *RetryController {
	if validator == nil {
		validator = validation.NewStageValidator(nil, nil)
	}
	c := &RetryController{
		validator: validator,
		policy:    policy.normalized(),
		sleep:     backoff.Sleep,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the effective policy.
func (c *RetryController) Policy() RetryPolicy { return c.policy }

// Invoke runs the stage. Worker calls never observe cancellation of ctx; a
// cancelled ctx only interrupts a backoff wait between attempts.
func (c *RetryController) Invoke(ctx context.Context, def StageDefinition, view map[string]map[string]any, req types.Request) (*persistence.StageOutput, Attempts, error) {
	var (
		attempts      Attempts
		feedback      string
		lastErr       error
		violationCap  = def.MaxAttempts
		timeout       = def.Timeout
		workerContext = context.WithoutCancel(ctx)
	)
	if violationCap <= 0 {
		violationCap = c.policy.MaxViolationAttempts
	}
	if timeout <= 0 {
		timeout = c.policy.AttemptTimeout
	}
	log := c.logger.With(zap.String("stage", def.Name), zap.String("session_id", req.SessionID))

	for {
		attempts.Total++
		in := WorkerInput{
			Stage:        def.Name,
			Ordinal:      def.Ordinal,
			Attempt:      attempts.Total,
			Request:      req,
			View:         view,
			Feedback:     feedback,
			OutputSchema: def.Schema,
		}

		out, err := c.call(workerContext, timeout, def.Worker, in)
		if err != nil {
			if !isTimeout(err) && types.IsPermanent(err) {
				log.Warn("worker failed permanently", zap.Int("attempt", attempts.Total), zap.Error(err))
				c.report(ctx, def, req, attempts.Total, types.FailureWorker, err.Error(), nil)
				return nil, attempts, &StageError{
					Stage: def.Name, Ordinal: def.Ordinal, Class: types.FailureWorker,
					Detail: err.Error(), Attempts: attempts, Cause: err,
				}
			}

			attempts.Transient++
			lastErr = err
			c.report(ctx, def, req, attempts.Total, types.FailureTransient, err.Error(), nil)
			if attempts.Transient >= c.policy.MaxTransientAttempts {
				log.Warn("transient retries exhausted", zap.Int("attempts", attempts.Total), zap.Error(err))
				return nil, attempts, &StageError{
					Stage: def.Name, Ordinal: def.Ordinal, Class: types.FailureTransient,
					Detail: fmt.Sprintf("worker unavailable after %d transient failure(s): %v", attempts.Transient, err),
					Attempts: attempts, Cause: err,
				}
			}

			delay := c.policy.Backoff.Delay(attempts.Transient)
			log.Debug("transient failure, backing off",
				zap.Int("attempt", attempts.Total),
				zap.Duration("delay", delay),
				zap.Error(err))
			if werr := c.sleep(ctx, delay); werr != nil {
				return nil, attempts, &StageError{
					Stage: def.Name, Ordinal: def.Ordinal, Class: types.FailureCancelled,
					Detail:   fmt.Sprintf("cancelled while waiting to retry: %v", lastErr),
					Attempts: attempts, Cause: werr,
				}
			}
			continue
		}

		payload := normalizePayload(out)
		result := c.validator.Validate(def, payload, view)
		if result.Valid {
			if attempts.Total > 1 {
				log.Info("stage output accepted after retries", zap.Int("attempts", attempts.Total))
			}
			return &persistence.StageOutput{Payload: payload, Narrative: narrativeOf(out)}, attempts, nil
		}

		attempts.Violations++
		class := result.Class()
		c.report(ctx, def, req, attempts.Total, class, fmt.Sprintf("%d violation(s)", len(result.Violations)), result.Violations)
		if attempts.Violations >= violationCap {
			log.Warn("stage output rejected, attempts exhausted",
				zap.Int("attempts", attempts.Total),
				zap.Int("violations", len(result.Violations)))
			return nil, attempts, &StageError{
				Stage: def.Name, Ordinal: def.Ordinal, Class: class,
				Detail:     fmt.Sprintf("output rejected %d time(s); last attempt had %d violation(s)", attempts.Violations, len(result.Violations)),
				Violations: result.Violations,
				Attempts:   attempts,
				Cause:      result.Err(),
			}
		}
		feedback = result.Feedback(attempts.Total)
	}
}

func (c *RetryController) call(ctx context.Context, timeout time.Duration, w Worker, in WorkerInput) (out *WorkerOutput, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = types.NewPermanentError(fmt.Sprintf("worker panicked: %v", r), nil)
		}
	}()
	out, err = w.Invoke(attemptCtx, in)
	if err == nil && attemptCtx.Err() != nil {
		err = attemptCtx.Err()
	}
	return out, err
}

func (c *RetryController) report(ctx context.Context, def StageDefinition, req types.Request, attempt int, class types.FailureClass, detail string, violations []validation.Violation) {
	if c.onFailure == nil {
		return
	}
	c.onFailure(ctx, Event{
		Type:       EventAttemptFailed,
		SessionID:  req.SessionID,
		SubjectKey: req.SubjectKey,
		Scope:      req.Scope,
		Stage:      def.Name,
		Ordinal:    def.Ordinal,
		Attempt:    attempt,
		Class:      class,
		Detail:     detail,
		Violations: violations,
	})
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// normalizePayload gives the validator a private JSON-typed copy of the
// worker payload. Payloads that do not survive a JSON round trip become nil.
func normalizePayload(out *WorkerOutput) map[string]any {
	if out == nil || out.Payload == nil {
		return nil
	}
	raw, err := json.Marshal(out.Payload)
	if err != nil {
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	return payload
}

func narrativeOf(out *WorkerOutput) string {
	if out == nil {
		return ""
	}
	return out.Narrative
}

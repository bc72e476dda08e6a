package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	ports "github.com/ZanzyTHEbar/taskchat/taskchat/harness/ports"
	"github.com/sethvargo/go-retry"
)

// DecisionAdapter wraps a Decider with a per-call timeout, a single retry for
// transient unavailability and output normalization.
type DecisionAdapter struct {
	decider ports.Decider
	parser  *OutputParser
	timeout time.Duration
	backoff time.Duration
	tracer  ports.Tracer
}

// NewDecisionAdapter creates an adapter. A zero timeout disables the per-call deadline.
func NewDecisionAdapter(decider ports.Decider, timeout, backoff time.Duration, tracer ports.Tracer) *DecisionAdapter {
	if backoff <= 0 {
		backoff = time.Millisecond
	}
	return &DecisionAdapter{
		decider: decider,
		parser:  NewOutputParser(),
		timeout: timeout,
		backoff: backoff,
		tracer:  tracer,
	}
}

// Decide runs one decision step. Failures come back as *Error with one of the
// decision kinds.
func (a *DecisionAdapter) Decide(ctx context.Context, in ports.DecisionInput) (ports.Decision, error) {
	const op = "decide"

	var decision ports.Decision
	attempt := 0

	b := retry.WithMaxRetries(1, retry.NewConstant(a.backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		d, err := a.call(ctx, in, attempt)
		if err != nil {
			if errors.Is(err, ports.ErrDecisionUnavailable) {
				return retry.RetryableError(err)
			}
			return err
		}
		decision = d
		return nil
	})
	if err == nil {
		return decision, nil
	}

	switch {
	case errors.Is(err, ports.ErrDecisionMisconfigured):
		return ports.Decision{}, newError(KindDecisionMisconfigured, op, err)
	case errors.Is(err, ports.ErrDecisionMalformed):
		return ports.Decision{}, newError(KindDecisionMalformed, op, err)
	default:
		return ports.Decision{}, newError(KindDecisionUnavailable, op, err)
	}
}

func (a *DecisionAdapter) call(ctx context.Context, in ports.DecisionInput, attempt int) (ports.Decision, error) {
	ctx, finish := a.tracer.StartSpan(ctx, "decision_call", map[string]any{
		"attempt":  attempt,
		"messages": len(in.Messages),
		"steps":    len(in.Steps),
	})

	callCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	d, err := a.decider.Decide(callCtx, in)
	if err != nil {
		err = classifyDecisionError(err)
		finish(err)
		return ports.Decision{}, err
	}

	d, err = a.parser.Normalize(d)
	finish(err)
	return d, err
}

// classifyDecisionError maps an arbitrary decider failure onto the three decision
// sentinels. Unrecognized errors count as transient.
func classifyDecisionError(err error) error {
	switch {
	case errors.Is(err, ports.ErrDecisionUnavailable),
		errors.Is(err, ports.ErrDecisionMisconfigured),
		errors.Is(err, ports.ErrDecisionMalformed):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: timed out: %v", ports.ErrDecisionUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ports.ErrDecisionUnavailable, err)
	}
}

package validation

import (
	"PerpDesk/internal/observability"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Validator inspects an intent and returns the problems it finds. An error
// or panic means the validator could not decide; it is logged and
// contributes nothing.
type Validator struct {
	Name  string
	Check func(ctx context.Context, p *Params) ([]string, error)
}

// Pipeline runs a fixed validator set.
type Pipeline struct {
	validators []Validator
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// NewPipeline uses DefaultValidators when none are given. metrics may be nil.
func NewPipeline(logger zerolog.Logger, metrics *observability.Metrics, validators ...Validator) *Pipeline {
	if len(validators) == 0 {
		validators = DefaultValidators()
	}
	return &Pipeline{validators: validators, logger: logger, metrics: metrics}
}

type outcome struct {
	msgs   []string
	failed bool
}

// CheckIsEligibleToCreateOrder runs every validator concurrently and
// returns their messages in registration order. A validator that fails
// does not stop the others; an empty result means the intent may be sent.
// An increase without a size delta is checked at the size its amount and
// leverage option open.
func (pl *Pipeline) CheckIsEligibleToCreateOrder(ctx context.Context, p *Params) []string {
	start := time.Now()
	p = p.withIncreaseSize()
	results := make([]outcome, len(pl.validators))

	var wg conc.WaitGroup
	for i, v := range pl.validators {
		i, v := i, v
		wg.Go(func() {
			var catcher panics.Catcher
			var msgs []string
			var err error
			catcher.Try(func() { msgs, err = v.Check(ctx, p) })

			if r := catcher.Recovered(); r != nil {
				err = r.AsError()
			}
			if err != nil {
				pl.logger.Warn().Err(err).Str("validator", v.Name).Msg("validator failed, skipping")
				results[i] = outcome{failed: true}
				return
			}
			results[i] = outcome{msgs: msgs}
		})
	}
	wg.Wait()

	var out []string
	for i, r := range results {
		name := pl.validators[i].Name
		if r.failed {
			if pl.metrics != nil {
				pl.metrics.ValidatorFailures.WithLabelValues(name).Inc()
			}
			continue
		}
		if pl.metrics != nil && len(r.msgs) > 0 {
			pl.metrics.ValidationRejections.WithLabelValues(name).Add(float64(len(r.msgs)))
		}
		out = append(out, r.msgs...)
	}

	if pl.metrics != nil {
		pl.metrics.ValidationDuration.Observe(time.Since(start).Seconds())
	}
	pl.logger.Debug().
		Str("action", p.Action.String()).
		Str("order_type", p.OrderType.String()).
		Int("messages", len(out)).
		Dur("took", time.Since(start)).
		Msg("validated intent")
	return out
}

var defaultPipeline = NewPipeline(zerolog.Nop(), nil)

// CheckIsEligibleToCreateOrder runs the default validators without logging
// or metrics.
func CheckIsEligibleToCreateOrder(ctx context.Context, p *Params) []string {
	return defaultPipeline.CheckIsEligibleToCreateOrder(ctx, p)
}

func errMissing(what string) error {
	return fmt.Errorf("%s unavailable", what)
}

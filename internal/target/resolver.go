package target

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/idleprof/internal/retry"
)

var errNoMatch = errors.New("no matching candidate")

// Resolver polls a Source until a candidate matches.
type Resolver struct {
	source Source
	logger zerolog.Logger
}

// NewResolver creates a resolver over src.
func NewResolver(src Source, logger zerolog.Logger) *Resolver {
	return &Resolver{
		source: src,
		logger: logger.With().Str("component", "resolver").Str("source", src.Name()).Logger(),
	}
}

// Resolve polls at most maxAttempts times, retryDelay apart, for a candidate
// whose name contains pattern. The first poll happens immediately. When more
// than one candidate matches, the first in discovery order wins and the
// ambiguity is logged. Listing or inspect errors count as a failed attempt.
func (r *Resolver) Resolve(ctx context.Context, pattern string, maxAttempts int, retryDelay time.Duration) (Target, error) {
	var (
		target   Target
		last     []Candidate
		lastErr  error
		attempts int
	)

	cfg := retry.Config{
		MaxAttempts:    maxAttempts,
		InitialBackoff: retryDelay,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			r.logger.Debug().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("Target not ready, retrying")
		},
	}

	err := retry.Do(ctx, cfg, func() error {
		attempts++

		candidates, err := r.source.List(ctx)
		if err != nil {
			lastErr = fmt.Errorf("list %s: %w", r.source.Name(), err)
			return lastErr
		}
		last = candidates

		matches := Match(candidates, pattern)
		if len(matches) == 0 {
			lastErr = nil
			return errNoMatch
		}
		if len(matches) > 1 {
			names := make([]string, 0, len(matches))
			for _, m := range matches {
				names = append(names, m.Name)
			}
			r.logger.Warn().Strs("matches", names).Str("selected", matches[0].Name).Msg("Pattern matches more than one candidate, using the first")
		}

		chosen := matches[0]
		pid, err := r.source.PID(ctx, chosen)
		if err != nil {
			lastErr = fmt.Errorf("inspect %s: %w", chosen.Name, err)
			return lastErr
		}
		if pid <= 0 {
			lastErr = fmt.Errorf("%s has no running process", chosen.Name)
			return lastErr
		}

		target = Target{Name: chosen.Name, ID: chosen.ID, PID: pid, Source: r.source.Name()}
		return nil
	}, nil)

	if err == nil {
		r.logger.Info().Str("target", target.Name).Int("pid", target.PID).Int("attempts", attempts).Msg("Target resolved")
		return target, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Target{}, fmt.Errorf("target resolution interrupted: %w", ctxErr)
	}

	return Target{}, &NotFoundError{
		Pattern:    pattern,
		Source:     r.source.Name(),
		Attempts:   attempts,
		Candidates: last,
		LastErr:    lastErr,
	}
}

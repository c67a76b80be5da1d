package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

// ErrorClassifier decides whether a provider error is transient and worth
// retrying. Railway does not expose structured error codes, so the default
// falls back to substring matching on the message — a documented heuristic,
// replaceable once the API grows real codes.
type ErrorClassifier func(err error) bool

var transientSubstrings = []string{
	"rate limit",
	"too recently updated",
	"429",
	"problem processing your request",
	"400",
}

// DefaultClassifier matches the known-transient Railway cooldown messages.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range transientSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// retryCooldown wraps a single remote mutation in a bounded retry loop.
// Only classifier-approved errors are retried; anything else is rethrown
// immediately so real configuration errors are never masked as provider
// hiccups. Backoff is linear: min(attempt*step, max), bounded by a total
// elapsed-time ceiling.
func (o *Orchestrator) retryCooldown(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !o.classify(err) {
			return err
		}

		backoff := time.Duration(attempt) * o.cfg.CooldownBackoffStep
		if backoff > o.cfg.CooldownBackoffMax {
			backoff = o.cfg.CooldownBackoffMax
		}
		if time.Since(start)+backoff > o.cfg.CooldownMaxElapsed {
			return fmt.Errorf("%s: cooldown retries exhausted after %s: %w", op, time.Since(start).Round(time.Second), err)
		}

		log.Printf("Railway cooldown on %s (attempt %d), retrying in %s: %v", op, attempt, backoff, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

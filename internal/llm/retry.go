package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agenthands/tavern/internal/core/model"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

var errEmptyResponse = errors.New("empty response")

// Retrying retries a failed or empty generation once after an exponential
// backoff starting at wait. Requests the provider rejected outright are not
// retried.
// Errors that survive the retry wrap model.ErrAgentUnavailable.
type Retrying struct {
	inner  LLMClient
	wait   time.Duration
	name   string
	logger *zap.Logger
}

func WithRetry(name string, inner LLMClient, wait time.Duration, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{inner: inner, wait: wait, name: name, logger: logger}
}

func (r *Retrying) Generate(ctx context.Context, prompt string) (string, error) {
	operation := func() (string, error) {
		resp, err := r.inner.Generate(ctx, prompt)
		if err != nil {
			if ctx.Err() != nil || isRejected(err) {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		if strings.TrimSpace(resp) == "" {
			return "", errEmptyResponse
		}
		return resp, nil
	}
	notify := func(err error, next time.Duration) {
		r.logger.Warn("agent call failed, retrying",
			zap.String("agent", r.name),
			zap.Duration("wait", next),
			zap.Error(err))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.wait

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(2),
		backoff.WithNotify(notify))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", model.ErrAgentUnavailable, r.name, err)
	}
	return resp, nil
}

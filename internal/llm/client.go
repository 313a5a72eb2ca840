package llm

import (
	"context"
	"errors"
)

// LLMClient produces one completion for a fully rendered agent prompt.
type LLMClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// EmbedderClient backs semantic campaign lookups.
type EmbedderClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// RerankerClient orders campaign sections by relevance to a query.
type RerankerClient interface {
	Rank(ctx context.Context, query string, documents []string) ([]int, error)
}

// rejectedError marks a provider refusal that retrying cannot fix, such as
// a bad key or an unknown model.
type rejectedError struct {
	err error
}

func (e *rejectedError) Error() string { return e.err.Error() }

func (e *rejectedError) Unwrap() error { return e.err }

func rejected(err error) error {
	return &rejectedError{err: err}
}

func isRejected(err error) bool {
	var r *rejectedError
	return errors.As(err, &r)
}

// rejectedStatus reports HTTP statuses that mean the request itself is wrong.
func rejectedStatus(code int) bool {
	switch code {
	case 400, 401, 403, 404, 422:
		return true
	}
	return false
}

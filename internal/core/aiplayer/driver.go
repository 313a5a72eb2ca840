package aiplayer

import (
	"context"
	"errors"

	"github.com/agenthands/tavern/internal/core/dialogue"
	"github.com/agenthands/tavern/internal/core/model"
	"go.uber.org/zap"
)

// Agent proposes actions and answers clarifying questions.
type Agent interface {
	ProposeAction(ctx context.Context, scene dialogue.Scene) (string, error)
	Answer(ctx context.Context, actor model.Actor, action, question string) (string, error)
}

// Turn is the submission path for the actor being driven. The adventure
// binds it to the active actor and an origin.
type Turn interface {
	// Submit sends text as a new action or as the answer to the pending
	// question. A non-empty question means the DM wants more.
	Submit(ctx context.Context, text string) (question string, err error)
	// SubmitSafe resolves text without clarification.
	SubmitSafe(ctx context.Context, text string) error
	// Abandon cancels any open session of the actor.
	Abandon()
}

type Driver struct {
	agent      Agent
	safeAction string
	logger     *zap.Logger
}

func NewDriver(agent Agent, safeAction string, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{agent: agent, safeAction: safeAction, logger: logger}
}

// TakeTurn plays one turn for scene.Actor. When the agent fails, the session
// expires or a validator vetoes the action, the safe action is submitted
// instead, at most once.
func (d *Driver) TakeTurn(ctx context.Context, scene dialogue.Scene, turn Turn) error {
	log := d.logger.With(zap.String("actor", scene.Actor.ID))

	action, err := d.agent.ProposeAction(ctx, scene)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("player agent failed, using safe action", zap.Error(err))
		return d.fallback(ctx, turn, log)
	}

	question, err := turn.Submit(ctx, action)
	for err == nil && question != "" {
		answer, aerr := d.agent.Answer(ctx, scene.Actor, action, question)
		if aerr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("player agent failed to answer, using safe action", zap.Error(aerr))
			return d.fallback(ctx, turn, log)
		}
		log.Debug("answered dm", zap.String("question", question), zap.String("answer", answer))
		question, err = turn.Submit(ctx, answer)
	}
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !fallsBack(err) {
		return err
	}
	log.Info("ai turn did not resolve, using safe action", zap.Error(err))
	return d.fallback(ctx, turn, log)
}

func (d *Driver) fallback(ctx context.Context, turn Turn, log *zap.Logger) error {
	turn.Abandon()
	if err := turn.SubmitSafe(ctx, d.safeAction); err != nil {
		log.Warn("safe action failed", zap.Error(err))
		return err
	}
	return nil
}

// fallsBack reports errors the safe action can get past. Stale turns and
// storage failures cannot.
func fallsBack(err error) bool {
	if _, ok := model.IsDenied(err); ok {
		return true
	}
	return errors.Is(err, model.ErrAgentUnavailable) ||
		errors.Is(err, model.ErrSessionExpired) ||
		errors.Is(err, model.ErrExchangeLimitExceeded)
}

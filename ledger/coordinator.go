package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/xraph/genqueue/ext"
	"github.com/xraph/genqueue/job"
)

// charsPerToken is the fixed characters-per-token estimate.
const charsPerToken = 4

// Coordinator charges a job's estimated cost before generation and
// refunds it when the attempt does not produce a result.
type Coordinator struct {
	ledger         Ledger
	tokensPerBrick int64
	extensions     *ext.Registry
	logger         *slog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithTokensPerBrick sets how many estimated tokens one brick buys.
func WithTokensPerBrick(n int64) CoordinatorOption {
	return func(c *Coordinator) { c.tokensPerBrick = n }
}

// WithExtensions sets the registry notified of refunds.
func WithExtensions(r *ext.Registry) CoordinatorOption {
	return func(c *Coordinator) { c.extensions = r }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator creates a Coordinator over l.
func NewCoordinator(l Ledger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		ledger:         l,
		tokensPerBrick: 100,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tokensPerBrick <= 0 {
		c.tokensPerBrick = 1
	}
	if c.extensions == nil {
		c.extensions = ext.NewRegistry(c.logger)
	}
	return c
}

// Ledger returns the underlying ledger.
func (c *Coordinator) Ledger() Ledger { return c.ledger }

// EstimateTokens returns ceil(runes(prompt) / 4).
func EstimateTokens(prompt string) int64 {
	n := int64(utf8.RuneCountInString(prompt))
	return (n + charsPerToken - 1) / charsPerToken
}

// Cost returns the bricks charged for req, at least one.
func (c *Coordinator) Cost(req job.GenerationRequest) int64 {
	tokens := EstimateTokens(req.Prompt)
	bricks := (tokens + c.tokensPerBrick - 1) / c.tokensPerBrick
	if bricks < 1 {
		bricks = 1
	}
	return bricks
}

// Debit charges the job's cost to its user and returns the amount. The
// error wraps genqueue.ErrInsufficientBalance when the user cannot pay.
func (c *Coordinator) Debit(ctx context.Context, j *job.Job) (int64, error) {
	req, err := job.DecodeRequest(j.Payload)
	if err != nil {
		return 0, err
	}

	amount := c.Cost(req)
	if _, err := c.ledger.Debit(ctx, req.UserID, amount, j.ID.String(),
		fmt.Sprintf("generation job %s", j.ID)); err != nil {
		return 0, fmt.Errorf("genqueue/ledger: debit %d for job %s: %w", amount, j.ID, err)
	}

	c.logger.Debug("ledger debited",
		slog.String("job_id", j.ID.String()),
		slog.String("user_id", req.UserID),
		slog.Int64("amount", amount),
	)
	return amount, nil
}

// Refund credits amount back to the job's user. Failures are logged, not
// returned: a failed refund must not fail the job a second time.
func (c *Coordinator) Refund(ctx context.Context, j *job.Job, amount int64) {
	if amount <= 0 {
		return
	}

	req, err := job.DecodeRequest(j.Payload)
	if err != nil {
		c.logger.Error("refund skipped: undecodable payload",
			slog.String("job_id", j.ID.String()),
			slog.Int64("amount", amount),
			slog.String("error", err.Error()),
		)
		return
	}

	if _, err := c.ledger.Credit(ctx, req.UserID, amount, j.ID.String(),
		fmt.Sprintf("refund for job %s", j.ID)); err != nil {
		c.logger.Error("refund failed, needs reconciliation",
			slog.String("job_id", j.ID.String()),
			slog.String("user_id", req.UserID),
			slog.Int64("amount", amount),
			slog.String("error", err.Error()),
		)
		return
	}

	c.logger.Info("ledger refunded",
		slog.String("job_id", j.ID.String()),
		slog.String("user_id", req.UserID),
		slog.Int64("amount", amount),
	)
	c.extensions.EmitLedgerRefunded(ctx, j, amount)
}

// Package processor drives AI requests through their lifecycle: quota
// reservation, persistence, generation and the final status update.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ai-agency/agency/internal/apperrors"
	"github.com/ai-agency/agency/internal/database"
	"github.com/ai-agency/agency/internal/generator"
	"github.com/ai-agency/agency/internal/logger"
	"github.com/ai-agency/agency/internal/models"
	"github.com/ai-agency/agency/internal/subscription"
)

const (
	TimeoutMessage     = "generation timed out"
	InterruptedMessage = "processing interrupted"
	abortedMessage     = "request aborted before completion"
)

// Store is the persistence the processor needs.
type Store interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	ConsumeRequest(ctx context.Context, userID string) error
	CreateRequest(ctx context.Context, r *models.AIRequest) error
	UpdateRequest(ctx context.Context, r *models.AIRequest) error
	GetRequest(ctx context.Context, id string, includeArchived bool) (*models.AIRequest, error)
	SweepStuck(ctx context.Context, cutoff time.Time, message string) (int64, error)
}

// Actor is who is acting on a request.
type Actor struct {
	UserID string
	Role   models.Role
}

type Config struct {
	Timeout       time.Duration
	MaxConcurrent int64
}

type Processor struct {
	store   Store
	gen     generator.Generator
	sem     *semaphore.Weighted
	timeout time.Duration
	now     func() time.Time
}

func New(store Store, gen generator.Generator, cfg Config) *Processor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Processor{
		store:   store,
		gen:     gen,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		timeout: cfg.Timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (p *Processor) SetClock(now func() time.Time) {
	p.now = now
}

// Submit records a new request for userID and runs it to completion. The
// returned request reflects the final persisted state even when err is
// non-nil, unless the request could not be created at all.
func (p *Processor) Submit(ctx context.Context, userID string, typ models.RequestType, input any, meta models.Metadata) (*models.AIRequest, error) {
	req, err := models.NewAIRequest(userID, typ, input, meta, p.now())
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeValidation, err.Error())
	}

	if err := p.reserve(ctx, userID); err != nil {
		return nil, err
	}
	if err := p.store.CreateRequest(ctx, req); err != nil {
		return nil, apperrors.Internal(err)
	}

	return req, p.run(ctx, req)
}

// Retry puts a failed or cancelled request back to pending and runs it
// again. A retry costs one request from the quota.
func (p *Processor) Retry(ctx context.Context, actor Actor, id string) (*models.AIRequest, error) {
	req, err := p.Modifiable(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := req.Retry(p.now()); err != nil {
		return nil, transitionError(req, err)
	}

	if err := p.reserve(ctx, req.UserID); err != nil {
		return nil, err
	}
	if err := p.store.UpdateRequest(ctx, req); err != nil {
		return nil, apperrors.Internal(err)
	}

	return req, p.run(ctx, req)
}

// Cancel stops a request that has not started processing yet.
func (p *Processor) Cancel(ctx context.Context, actor Actor, id string) (*models.AIRequest, error) {
	req, err := p.Modifiable(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := req.Cancel(p.now()); err != nil {
		return nil, transitionError(req, err)
	}
	if err := p.store.UpdateRequest(ctx, req); err != nil {
		return nil, apperrors.Internal(err)
	}
	return req, nil
}

// Sweep fails every request that has been processing for longer than
// olderThan and returns how many were changed.
func (p *Processor) Sweep(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := p.store.SweepStuck(ctx, p.now().Add(-olderThan), InterruptedMessage)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.FromContext(ctx).Warn("failed stuck requests", "count", n, "older_than", olderThan)
	}
	return n, nil
}

// Viewable loads a request the actor may read. Existence is checked before
// ownership so callers see 404 for unknown or archived ids and 403 for
// someone else's request.
func (p *Processor) Viewable(ctx context.Context, actor Actor, id string) (*models.AIRequest, error) {
	req, err := p.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.CanView(actor.UserID, actor.Role) {
		return nil, apperrors.Forbidden("you do not have access to this request")
	}
	return req, nil
}

// Modifiable is Viewable for write access, which only the owner and
// admins have.
func (p *Processor) Modifiable(ctx context.Context, actor Actor, id string) (*models.AIRequest, error) {
	req, err := p.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.CanModify(actor.UserID, actor.Role) {
		return nil, apperrors.Forbidden("you do not have access to this request")
	}
	return req, nil
}

// Public loads a request that has been published.
func (p *Processor) Public(ctx context.Context, id string) (*models.AIRequest, error) {
	req, err := p.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.Shared.IsPublic {
		return nil, apperrors.NotFound("request")
	}
	return req, nil
}

func (p *Processor) load(ctx context.Context, id string) (*models.AIRequest, error) {
	req, err := p.store.GetRequest(ctx, id, false)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperrors.NotFound("request")
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return req, nil
}

func (p *Processor) reserve(ctx context.Context, userID string) error {
	err := p.store.ConsumeRequest(ctx, userID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, database.ErrNotFound):
		return apperrors.NotFound("user")
	case errors.Is(err, database.ErrQuotaExceeded):
		user, lerr := p.store.GetUserByID(ctx, userID)
		if lerr != nil {
			return apperrors.New(apperrors.CodeLimitExceeded, "monthly AI request limit reached")
		}
		return subscription.LimitExceeded(user.Subscription)
	default:
		return apperrors.Internal(err)
	}
}

// run moves a pending request through processing to a terminal state.
func (p *Processor) run(ctx context.Context, req *models.AIRequest) error {
	log := logger.FromContext(ctx).With("request_id", req.ID, "type", req.Type)
	// Final writes must land even if the client goes away.
	persistCtx := context.WithoutCancel(ctx)

	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.fail(persistCtx, req, abortedMessage)
		return apperrors.Wrap(err, apperrors.CodeInternal, abortedMessage)
	}
	release := func() { p.sem.Release(1) }
	defer func() {
		if release != nil {
			release()
		}
	}()

	if err := req.MarkStarted(p.now()); err != nil {
		return transitionError(req, err)
	}
	if err := p.store.UpdateRequest(persistCtx, req); err != nil {
		return apperrors.Internal(err)
	}

	genCtx, cancel := context.WithTimeout(ctx, p.timeout)
	g, abandoned := p.generate(genCtx, req)
	res, genErr := g.res, g.err
	timedOut := genCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
	cancel()
	if abandoned != nil {
		// The generator still holds its slot until it actually returns.
		release = nil
		go func() {
			<-abandoned
			p.sem.Release(1)
		}()
	}

	if genErr == nil && !timedOut {
		if err := req.MarkCompleted(res.Output, res.Usage, p.now()); err != nil {
			genErr = fmt.Errorf("failed to record output: %w", err)
		} else {
			if err := p.store.UpdateRequest(persistCtx, req); err != nil {
				return apperrors.Internal(err)
			}
			log.Info("ai request completed", "processing_ms", req.Processing.ProcessingTime)
			return nil
		}
	}

	var appErr *apperrors.AppError
	switch {
	case timedOut:
		p.fail(persistCtx, req, TimeoutMessage)
		appErr = apperrors.Wrap(genErr, apperrors.CodeTimeout, TimeoutMessage)
	case errors.Is(genErr, generator.ErrInvalidInput), errors.Is(genErr, generator.ErrUnsupported):
		p.fail(persistCtx, req, genErr.Error())
		appErr = apperrors.Wrap(genErr, apperrors.CodeBadRequest, genErr.Error())
	case ctx.Err() != nil:
		p.fail(persistCtx, req, abortedMessage)
		appErr = apperrors.Wrap(genErr, apperrors.CodeInternal, abortedMessage)
	default:
		p.fail(persistCtx, req, genErr.Error())
		appErr = apperrors.Wrap(genErr, apperrors.CodeInternal, "AI processing failed")
	}
	log.Warn("ai request failed", "error", genErr, "timed_out", timedOut)
	return appErr
}

type generated struct {
	res *generator.Result
	err error
}

// generate calls the generator and returns when it does or when ctx is
// done, whichever comes first. A generator that ignores ctx is abandoned;
// the returned channel is then non-nil and closes once it finally returns.
// The generator works on a copy of req so the caller may keep updating it.
func (p *Processor) generate(ctx context.Context, req *models.AIRequest) (generated, <-chan struct{}) {
	snapshot := *req
	done := make(chan generated, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		res, err := p.gen.Generate(ctx, &snapshot)
		done <- generated{res, err}
	}()

	select {
	case g := <-done:
		return g, nil
	case <-ctx.Done():
		select {
		case g := <-done:
			return g, nil
		default:
		}
		return generated{err: ctx.Err()}, finished
	}
}

func (p *Processor) fail(ctx context.Context, req *models.AIRequest, msg string) {
	if err := req.MarkFailed(msg, p.now()); err != nil {
		logger.FromContext(ctx).Error("could not mark request failed", "request_id", req.ID, "error", err)
		return
	}
	if err := p.store.UpdateRequest(ctx, req); err != nil {
		logger.FromContext(ctx).Error("could not persist failed request", "request_id", req.ID, "error", err)
	}
}

func transitionError(req *models.AIRequest, err error) error {
	if errors.Is(err, models.ErrInvalidTransition) {
		return apperrors.BadRequest(fmt.Sprintf("request cannot change state while %s", req.Status)).
			With("status", req.Status)
	}
	return apperrors.Internal(err)
}

package processor

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/ai-agency/agency/internal/apperrors"
	"github.com/ai-agency/agency/internal/database"
	"github.com/ai-agency/agency/internal/generator"
	"github.com/ai-agency/agency/internal/logger"
	"github.com/ai-agency/agency/internal/models"
)

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, req *models.AIRequest) (*generator.Result, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*generator.Result)
	return res, args.Error(1)
}

type ProcessorTestSuite struct {
	suite.Suite
	db  *database.DB
	gen *mockGenerator
	p   *Processor
	ctx context.Context
}

func (s *ProcessorTestSuite) SetupTest() {
	logger.Discard()
	s.db = database.NewTestDB(s.T())
	s.gen = new(mockGenerator)
	s.p = New(s.db, s.gen, Config{Timeout: time.Second, MaxConcurrent: 2})
	s.ctx = context.Background()
}

func TestProcessorTestSuite(t *testing.T) {
	suite.Run(t, new(ProcessorTestSuite))
}

func (s *ProcessorTestSuite) createUser(quota int) *models.User {
	u := models.NewUser("Layla", "layla-"+uuid.NewString()+"@example.com", "hash",
		models.Features{AIRequests: quota, FileUploads: 5}, time.Now().UTC())
	s.Require().NoError(s.db.CreateUser(s.ctx, u))
	return u
}

func (s *ProcessorTestSuite) used(userID string) int {
	u, err := s.db.GetUserByID(s.ctx, userID)
	s.Require().NoError(err)
	return u.Subscription.Features.UsedRequests
}

func chatInput() generator.ChatInput {
	return generator.ChatInput{Message: "hello"}
}

func (s *ProcessorTestSuite) TestSubmitCompletes() {
	u := s.createUser(5)
	s.gen.On("Generate", mock.Anything, mock.MatchedBy(func(r *models.AIRequest) bool {
		return r.Status == models.StatusProcessing && r.Processing.StartedAt != nil
	})).Return(&generator.Result{
		Output: map[string]string{"message": "hi there"},
		Usage:  models.Usage{TokensUsed: 12, ModelUsed: "template"},
	}, nil).Once()

	req, err := s.p.Submit(s.ctx, u.ID, models.TypeChat, chatInput(), models.Metadata{IPAddress: "127.0.0.1"})
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, req.Status)
	s.JSONEq(`{"message":"hi there"}`, string(req.Output))
	s.gen.AssertExpectations(s.T())

	stored, err := s.db.GetRequest(s.ctx, req.ID, false)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, stored.Status)
	s.JSONEq(`{"message":"hi there"}`, string(stored.Output))
	s.Equal(12, stored.Usage.TokensUsed)
	s.NotNil(stored.Processing.CompletedAt)
	s.Equal("127.0.0.1", stored.Metadata.IPAddress)
	s.Equal(1, s.used(u.ID))
}

func (s *ProcessorTestSuite) TestSubmitFailureKeepsQuotaReservation() {
	u := s.createUser(5)
	s.gen.On("Generate", mock.Anything, mock.Anything).Return(nil, errors.New("model unavailable")).Once()

	req, err := s.p.Submit(s.ctx, u.ID, models.TypeChat, chatInput(), models.Metadata{})
	s.Require().Error(err)
	s.True(errors.Is(err, apperrors.New(apperrors.CodeInternal, "")))
	s.Require().NotNil(req)
	s.Equal(models.StatusFailed, req.Status)

	stored, err := s.db.GetRequest(s.ctx, req.ID, false)
	s.Require().NoError(err)
	s.Equal(models.StatusFailed, stored.Status)
	s.Equal("model unavailable", stored.ErrorMessage)
	s.Equal(1, s.used(u.ID))
}

func (s *ProcessorTestSuite) TestSubmitTimeout() {
	u := s.createUser(5)
	s.p = New(s.db, generator.Func(func(ctx context.Context, _ *models.AIRequest) (*generator.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), Config{Timeout: 20 * time.Millisecond, MaxConcurrent: 1})

	req, err := s.p.Submit(s.ctx, u.ID, models.TypeChat, chatInput(), models.Metadata{})
	s.Require().Error(err)
	appErr, ok := apperrors.As(err)
	s.Require().True(ok)
	s.Equal(apperrors.CodeTimeout, appErr.Code)
	s.Equal(504, appErr.HTTPStatus())

	stored, err := s.db.GetRequest(s.ctx, req.ID, false)
	s.Require().NoError(err)
	s.Equal(models.StatusFailed, stored.Status)
	s.Equal(TimeoutMessage, stored.ErrorMessage)
}

func (s *ProcessorTestSuite) TestSubmitTimeoutWhenGeneratorIgnoresContext() {
	u := s.createUser(5)
	unblock := make(chan struct{})
	s.p = New(s.db, generator.Func(func(context.Context, *models.AIRequest) (*generator.Result, error) {
		<-unblock
		return &generator.Result{Output: "late"}, nil
	}), Config{Timeout: 20 * time.Millisecond, MaxConcurrent: 1})

	start := time.Now()
	req, err := s.p.Submit(s.ctx, u.ID, models.TypeChat, chatInput(), models.Metadata{})
	s.Less(time.Since(start), 2*time.Second)
	appErr, ok := apperrors.As(err)
	s.Require().True(ok, "%v", err)
	s.Equal(apperrors.CodeTimeout, appErr.Code)

	stored, err := s.db.GetRequest(s.ctx, req.ID, false)
	s.Require().NoError(err)
	s.Equal(models.StatusFailed, stored.Status)
	s.Equal(TimeoutMessage, stored.ErrorMessage)

	// The stuck generator keeps its slot until it returns.
	s.False(s.p.sem.TryAcquire(1))
	close(unblock)
	s.Eventually(func() bool {
		if s.p.sem.TryAcquire(1) {
			s.p.sem.Release(1)
			return true
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// A late result never overwrites the failed row.
	stored, err = s.db.GetRequest(s.ctx, req.ID, false)
	s.Require().NoError(err)
	s.Equal(models.StatusFailed, stored.Status)
}

func (s *ProcessorTestSuite) TestQuotaBoundary() {
	u := s.createUser(2)
	s.gen.On("Generate", mock.Anything, mock.Anything).Return(&generator.Result{Output: "ok"}, nil)

	for i := 0; i < 2; i++ {
		_, err := s.p.Submit(s.ctx, u.ID, models.TypeChat, chatInput(), models.Metadata{})
		s.Require().NoError(err)
	}

	_, err := s.p.Submit(s.ctx, u.ID, models.TypeChat, chatInput(), models.Metadata{})
	appErr, ok := apperrors.As(err)
	s.Require().True(ok)
	s.Equal(apperrors.CodeLimitExceeded, appErr.Code)
	s.Equal(models.Limits{Total: 2, Used: 2, Remaining: 0}, appErr.Fields["limits"])
	s.Equal(2, s.used(u.ID))

	list, total, err := s.db.ListRequests(s.ctx, database.RequestFilter{UserID: u.ID})
	s.Require().NoError(err)
	s.Equal(2, total)
	s.Len(list, 2)
}

func (s *ProcessorTestSuite) TestConcurrentSubmitsNeverExceedQuota() {
	u := s.createUser(3)
	s.p = New(s.db, generator.Func(func(context.Context, *models.AIRequest) (*generator.Result, error) {
		return &generator.Result{Output: "ok"}, nil
	}), Config{Timeout: time.Second, MaxConcurrent: 4})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.p.Submit(s.ctx, u.ID, models.TypeChat, chatInput(), models.Metadata{}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Equal(3, succeeded)
	s.Equal(3, s.used(u.ID))
}

func (s *ProcessorTestSuite) TestEmptyInputDoesNotConsumeQuota() {
	u := s.createUser(5)
	_, err := s.p.Submit(s.ctx, u.ID, models.TypeChat, map[string]any{}, models.Metadata{})
	s.Require().Error(err)
	s.True(errors.Is(err, apperrors.ErrValidation))
	s.Equal(0, s.used(u.ID))
}

func (s *ProcessorTestSuite) TestRetryAndCancel() {
	u := s.createUser(5)
	s.gen.On("Generate", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()
	s.gen.On("Generate", mock.Anything, mock.Anything).Return(&generator.Result{Output: "second time"}, nil).Once()

	req, err := s.p.Submit(s.ctx, u.ID, models.TypeChat, chatInput(), models.Metadata{})
	s.Require().Error(err)
	s.Equal(models.StatusFailed, req.Status)

	owner := Actor{UserID: u.ID, Role: models.RoleUser}

	_, err = s.p.Cancel(s.ctx, owner, req.ID)
	s.True(errors.Is(err, apperrors.New(apperrors.CodeBadRequest, "")))

	retried, err := s.p.Retry(s.ctx, owner, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, retried.Status)
	s.Equal(1, retried.Processing.RetryCount)
	s.NotNil(retried.Processing.LastRetryAt)
	s.Equal(2, s.used(u.ID))

	_, err = s.p.Retry(s.ctx, owner, req.ID)
	s.True(errors.Is(err, apperrors.New(apperrors.CodeBadRequest, "")))
	s.Equal(2, s.used(u.ID))
}

func (s *ProcessorTestSuite) TestCancelPending() {
	u := s.createUser(5)
	req, err := models.NewAIRequest(u.ID, models.TypeChat, chatInput(), models.Metadata{}, time.Now().UTC())
	s.Require().NoError(err)
	s.Require().NoError(s.db.CreateRequest(s.ctx, req))

	cancelled, err := s.p.Cancel(s.ctx, Actor{UserID: u.ID, Role: models.RoleUser}, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCancelled, cancelled.Status)

	stored, err := s.db.GetRequest(s.ctx, req.ID, false)
	s.Require().NoError(err)
	s.Equal(models.StatusCancelled, stored.Status)
}

func (s *ProcessorTestSuite) TestOwnershipChecks() {
	owner := s.createUser(5)
	other := s.createUser(5)
	s.gen.On("Generate", mock.Anything, mock.Anything).Return(&generator.Result{Output: "ok"}, nil)

	req, err := s.p.Submit(s.ctx, owner.ID, models.TypeChat, chatInput(), models.Metadata{})
	s.Require().NoError(err)

	_, err = s.p.Viewable(s.ctx, Actor{UserID: other.ID, Role: models.RoleUser}, "missing-id")
	s.True(errors.Is(err, apperrors.ErrNotFound))

	_, err = s.p.Viewable(s.ctx, Actor{UserID: other.ID, Role: models.RoleUser}, req.ID)
	s.True(errors.Is(err, apperrors.ErrForbidden))

	_, err = s.p.Viewable(s.ctx, Actor{UserID: "admin-1", Role: models.RoleAdmin}, req.ID)
	s.NoError(err)

	s.Require().NoError(req.ShareWith(other.ID, models.PermissionView, time.Now().UTC()))
	s.Require().NoError(s.db.UpdateRequest(s.ctx, req))

	_, err = s.p.Viewable(s.ctx, Actor{UserID: other.ID, Role: models.RoleUser}, req.ID)
	s.NoError(err)
	_, err = s.p.Modifiable(s.ctx, Actor{UserID: other.ID, Role: models.RoleUser}, req.ID)
	s.True(errors.Is(err, apperrors.ErrForbidden))

	_, err = s.p.Public(s.ctx, req.ID)
	s.True(errors.Is(err, apperrors.ErrNotFound))
	req.MakePublic(time.Now().UTC())
	s.Require().NoError(s.db.UpdateRequest(s.ctx, req))
	_, err = s.p.Public(s.ctx, req.ID)
	s.NoError(err)

	req.Archive(time.Now().UTC())
	s.Require().NoError(s.db.UpdateRequest(s.ctx, req))
	_, err = s.p.Viewable(s.ctx, Actor{UserID: owner.ID, Role: models.RoleUser}, req.ID)
	s.True(errors.Is(err, apperrors.ErrNotFound))
}

func (s *ProcessorTestSuite) TestSweep() {
	u := s.createUser(5)
	start := time.Now().UTC().Add(-time.Hour)
	req, err := models.NewAIRequest(u.ID, models.TypeChat, chatInput(), models.Metadata{}, start)
	s.Require().NoError(err)
	s.Require().NoError(req.MarkStarted(start))
	s.Require().NoError(s.db.CreateRequest(s.ctx, req))

	n, err := s.p.Sweep(s.ctx, 10*time.Minute)
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	stored, err := s.db.GetRequest(s.ctx, req.ID, false)
	s.Require().NoError(err)
	s.Equal(models.StatusFailed, stored.Status)
	s.Equal(InterruptedMessage, stored.ErrorMessage)

	n, err = s.p.Sweep(s.ctx, 10*time.Minute)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *ProcessorTestSuite) TestWithTemplateGenerators() {
	u := s.createUser(5)
	reg := generator.NewRegistry()
	generator.NewTemplates(rand.New(rand.NewSource(7)), 0).Register(reg)
	s.p = New(s.db, reg, Config{Timeout: time.Second, MaxConcurrent: 1})

	req, err := s.p.Submit(s.ctx, u.ID, models.TypeCodeGeneration, generator.CodeInput{
		Description: "sum two numbers",
		Language:    "python",
	}, models.Metadata{})
	s.Require().NoError(err)
	s.Contains(string(req.Output), "sum two numbers")

	req, err = s.p.Submit(s.ctx, u.ID, models.TypeCodeGeneration, generator.CodeInput{
		Description: "sum two numbers",
		Language:    "cobol",
	}, models.Metadata{})
	s.Require().Error(err)
	s.True(errors.Is(err, apperrors.New(apperrors.CodeBadRequest, "")))
	s.Equal(models.StatusFailed, req.Status)
}

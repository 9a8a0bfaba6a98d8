package biz

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRateLimitRepo is a mock implementation of RateLimitRepo for testing.
type MockRateLimitRepo struct {
	mock.Mock
}

func (m *MockRateLimitRepo) IncrementRPM(ctx context.Context, provider string) (int32, error) {
	args := m.Called(ctx, provider)
	return args.Get(0).(int32), args.Error(1)
}

func (m *MockRateLimitRepo) GetRPMCount(ctx context.Context, provider string) (int32, error) {
	args := m.Called(ctx, provider)
	return args.Get(0).(int32), args.Error(1)
}

func (m *MockRateLimitRepo) IncrementTPM(ctx context.Context, provider string, tokens int32) (int32, error) {
	args := m.Called(ctx, provider, tokens)
	return args.Get(0).(int32), args.Error(1)
}

func (m *MockRateLimitRepo) GetTPMCount(ctx context.Context, provider string) (int32, error) {
	args := m.Called(ctx, provider)
	return args.Get(0).(int32), args.Error(1)
}

// Helper function to create a test RateLimiterUseCase
func newTestRateLimiter(repo *MockRateLimitRepo) *RateLimiterUseCase {
	return NewRateLimiterUseCase(repo, log.NewStdLogger(os.Stdout))
}

func TestCheckRPM_Success(t *testing.T) {
	mockRepo := new(MockRateLimitRepo)
	uc := newTestRateLimiter(mockRepo)
	ctx := context.Background()

	mockRepo.On("IncrementRPM", ctx, "primary").Return(int32(50), nil)

	assert.NoError(t, uc.CheckRPM(ctx, "primary", 100))
	mockRepo.AssertExpectations(t)
}

func TestCheckRPM_LimitExceeded(t *testing.T) {
	mockRepo := new(MockRateLimitRepo)
	uc := newTestRateLimiter(mockRepo)
	ctx := context.Background()

	mockRepo.On("IncrementRPM", ctx, "primary").Return(int32(101), nil)

	err := uc.CheckRPM(ctx, "primary", 100)
	var limitErr *RateLimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, "RPM", limitErr.LimitType)
	assert.Contains(t, err.Error(), "current=101 limit=100")
	mockRepo.AssertExpectations(t)
}

func TestCheckRPM_RedisError(t *testing.T) {
	mockRepo := new(MockRateLimitRepo)
	uc := newTestRateLimiter(mockRepo)
	ctx := context.Background()

	mockRepo.On("IncrementRPM", ctx, "primary").Return(int32(0), errors.New("redis connection failed"))

	// Should NOT return error (graceful degradation)
	assert.NoError(t, uc.CheckRPM(ctx, "primary", 100))
	mockRepo.AssertExpectations(t)
}

func TestCheckRPM_NoLimit(t *testing.T) {
	mockRepo := new(MockRateLimitRepo)
	uc := newTestRateLimiter(mockRepo)

	assert.NoError(t, uc.CheckRPM(context.Background(), "primary", 0))
	mockRepo.AssertNotCalled(t, "IncrementRPM", mock.Anything, mock.Anything)
}

func TestCheckTPM_Success(t *testing.T) {
	mockRepo := new(MockRateLimitRepo)
	uc := newTestRateLimiter(mockRepo)
	ctx := context.Background()

	mockRepo.On("GetTPMCount", ctx, "primary").Return(int32(500), nil)
	mockRepo.On("IncrementTPM", ctx, "primary", int32(200)).Return(int32(700), nil)

	assert.NoError(t, uc.CheckTPM(ctx, "primary", 1000, 200))
	mockRepo.AssertExpectations(t)
}

func TestCheckTPM_WouldExceed(t *testing.T) {
	mockRepo := new(MockRateLimitRepo)
	uc := newTestRateLimiter(mockRepo)
	ctx := context.Background()

	mockRepo.On("GetTPMCount", ctx, "primary").Return(int32(900), nil)

	err := uc.CheckTPM(ctx, "primary", 1000, 200)
	var limitErr *RateLimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, "TPM", limitErr.LimitType)
	mockRepo.AssertNotCalled(t, "IncrementTPM", mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckTPM_RedisError(t *testing.T) {
	mockRepo := new(MockRateLimitRepo)
	uc := newTestRateLimiter(mockRepo)
	ctx := context.Background()

	mockRepo.On("GetTPMCount", ctx, "primary").Return(int32(0), errors.New("redis down"))

	assert.NoError(t, uc.CheckTPM(ctx, "primary", 1000, 200))
}

func TestAllow_ChecksBothLimits(t *testing.T) {
	mockRepo := new(MockRateLimitRepo)
	uc := newTestRateLimiter(mockRepo)
	ctx := context.Background()

	prompt := "12345678" // 2 tokens
	mockRepo.On("IncrementRPM", ctx, "primary").Return(int32(1), nil)
	mockRepo.On("GetTPMCount", ctx, "primary").Return(int32(0), nil)
	mockRepo.On("IncrementTPM", ctx, "primary", int32(102)).Return(int32(102), nil)

	estimated, err := uc.Allow(ctx, "primary", ProviderLimits{RPM: 10, TPM: 1000}, prompt, 100)
	require.NoError(t, err)
	assert.Equal(t, int32(102), estimated)
	mockRepo.AssertExpectations(t)
}

func TestAllow_NilUseCase(t *testing.T) {
	var uc *RateLimiterUseCase
	estimated, err := uc.Allow(context.Background(), "primary", ProviderLimits{RPM: 1}, "x", 1)
	assert.NoError(t, err)
	assert.Zero(t, estimated)
}

func TestUpdateTPM_AppliesCorrection(t *testing.T) {
	mockRepo := new(MockRateLimitRepo)
	uc := newTestRateLimiter(mockRepo)
	ctx := context.Background()

	mockRepo.On("IncrementTPM", ctx, "primary", int32(-40)).Return(int32(60), nil)

	uc.UpdateTPM(ctx, "primary", 60, 100)
	mockRepo.AssertExpectations(t)
}

func TestUpdateTPM_AccurateEstimate(t *testing.T) {
	mockRepo := new(MockRateLimitRepo)
	uc := newTestRateLimiter(mockRepo)

	uc.UpdateTPM(context.Background(), "primary", 100, 100)
	mockRepo.AssertNotCalled(t, "IncrementTPM", mock.Anything, mock.Anything, mock.Anything)
}

func TestEstimateTokens(t *testing.T) {
	uc := newTestRateLimiter(new(MockRateLimitRepo))

	assert.Equal(t, int32(1), uc.EstimateTokens("", 0))
	assert.Equal(t, int32(25), uc.EstimateTokens("1234567890123456789012345678901234567890", 15))
}

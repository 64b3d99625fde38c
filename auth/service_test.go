package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(NewMemoryStorage())
}

func createTestKey(t *testing.T, s *Service, perms []Permission, limit RateLimit) *ApiKeyInfo {
	t.Helper()
	info, err := s.CreateKey(context.Background(), "test-key", perms, limit, nil)
	require.NoError(t, err)
	return info
}

func TestVerifyHappyPath(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	info := createTestKey(t, s, []Permission{PermissionTranscribe}, DefaultRateLimit())

	got, err := s.Verify(ctx, "Bearer "+info.Key, PermissionTranscribe)
	require.NoError(t, err)
	assert.Equal(t, info.Key, got.Key)

	// the bare key without a scheme word also works
	_, err = s.Verify(ctx, info.Key, PermissionTranscribe)
	require.NoError(t, err)

	stats, err := s.Stats(ctx, info.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(2), stats.RequestsToday)
	assert.NotNil(t, stats.LastUsedAt)
}

func TestVerifyMissingKey(t *testing.T) {
	s := newTestService(t)
	for _, header := range []string{"", "   "} {
		_, err := s.Verify(context.Background(), header, PermissionTranscribe)
		assert.ErrorIs(t, err, ErrMissingApiKey)
	}
}

func TestVerifyUnknownKey(t *testing.T) {
	s := newTestService(t)
	_, err := s.Verify(context.Background(), "Bearer key-unknown", PermissionTranscribe)
	assert.ErrorIs(t, err, ErrInvalidApiKey)
}

func TestVerifyRevokedKey(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	info := createTestKey(t, s, []Permission{PermissionTranscribe}, DefaultRateLimit())

	_, err := s.Verify(ctx, info.Key, PermissionTranscribe)
	require.NoError(t, err)

	require.NoError(t, s.RevokeKey(ctx, info.Key))
	// revoking twice is a no-op
	require.NoError(t, s.RevokeKey(ctx, info.Key))

	_, err = s.Verify(ctx, info.Key, PermissionTranscribe)
	assert.ErrorIs(t, err, ErrKeySuspended)
}

func TestRevokeUnknownKey(t *testing.T) {
	s := newTestService(t)
	err := s.RevokeKey(context.Background(), "key-unknown")
	assert.ErrorIs(t, err, ErrInvalidApiKey)
}

func TestVerifyExpiredKey(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	// expires_in_days of zero yields an already-expired key
	days := 0
	info, err := s.CreateKey(ctx, "short-lived", []Permission{PermissionTranscribe}, DefaultRateLimit(), &days)
	require.NoError(t, err)

	_, err = s.Verify(ctx, info.Key, PermissionTranscribe)
	assert.ErrorIs(t, err, ErrKeyExpired)
}

func TestVerifyInsufficientPermissions(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	info := createTestKey(t, s, []Permission{PermissionTranscribe}, DefaultRateLimit())

	_, err := s.Verify(ctx, info.Key, PermissionAdmin)
	assert.ErrorIs(t, err, ErrInsufficientPermissions)

	// a refused request does not count toward usage
	stats, err := s.Stats(ctx, info.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalRequests)
}

func TestVerifyRateLimit(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	limit := RateLimit{RequestsPerMinute: 2, RequestsPerHour: 100, RequestsPerDay: 1000}
	info := createTestKey(t, s, []Permission{PermissionTranscribe}, limit)

	now := time.Now()
	_, err := s.verifyAt(ctx, info.Key, PermissionTranscribe, now)
	require.NoError(t, err)
	_, err = s.verifyAt(ctx, info.Key, PermissionTranscribe, now)
	require.NoError(t, err)

	_, err = s.verifyAt(ctx, info.Key, PermissionTranscribe, now)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	// the bucket refills at rpm/60 per second; 65 seconds buys back a token
	_, err = s.verifyAt(ctx, info.Key, PermissionTranscribe, now.Add(65*time.Second))
	require.NoError(t, err)
}

func TestErrorHTTPStatus(t *testing.T) {
	assert.Equal(t, 401, HTTPStatus(ErrMissingApiKey))
	assert.Equal(t, 401, HTTPStatus(ErrInvalidApiKey))
	assert.Equal(t, 401, HTTPStatus(ErrKeyExpired))
	assert.Equal(t, 403, HTTPStatus(ErrKeySuspended))
	assert.Equal(t, 403, HTTPStatus(ErrInsufficientPermissions))
	assert.Equal(t, 429, HTTPStatus(ErrRateLimitExceeded))
	assert.Equal(t, 500, HTTPStatus(context.DeadlineExceeded))
}

func TestStatsPruning(t *testing.T) {
	stats := NewApiKeyStats()
	now := time.Now()

	stats.Record(now.AddDate(0, 0, -40))
	stats.Record(now.AddDate(0, 0, -5))
	stats.Record(now.AddDate(0, 0, -5))
	stats.Record(now)

	assert.Equal(t, int64(4), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.RequestsToday)
	// the 40-day-old bucket is gone, the rest survive
	assert.Len(t, stats.DailyRequests, 2)
	assert.Equal(t, int64(2), stats.PeakDaily())
}

func TestUsageReport(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	days := 10
	info, err := s.CreateKey(ctx, "reported", []Permission{PermissionTranscribe}, DefaultRateLimit(), &days)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.Verify(ctx, info.Key, PermissionTranscribe)
		require.NoError(t, err)
	}

	report, err := s.UsageReport(ctx, info.Key)
	require.NoError(t, err)
	assert.Equal(t, info.Key, report.KeyInfo.Key)
	assert.Equal(t, int64(3), report.Stats.TotalRequests)
	assert.InDelta(t, 0.1, report.AverageDailyRequests, 0.001)
	assert.Equal(t, int64(3), report.PeakDailyRequests)
	assert.True(t, report.DaysUntilExpiry >= 9 && report.DaysUntilExpiry <= 10)
}

func TestUsageReportNoExpiry(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	info := createTestKey(t, s, []Permission{PermissionTranscribe}, DefaultRateLimit())

	report, err := s.UsageReport(ctx, info.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), report.DaysUntilExpiry)
}

func TestRevokeForgetsLimiterState(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	info := createTestKey(t, s, []Permission{PermissionTranscribe}, DefaultRateLimit())

	_, err := s.Verify(ctx, "Bearer "+info.Key, PermissionTranscribe)
	require.NoError(t, err)

	s.limiter.mu.Lock()
	_, held := s.limiter.limiters[info.Key]
	s.limiter.mu.Unlock()
	require.True(t, held)

	require.NoError(t, s.RevokeKey(ctx, info.Key))

	s.limiter.mu.Lock()
	_, held = s.limiter.limiters[info.Key]
	s.limiter.mu.Unlock()
	assert.False(t, held)
}

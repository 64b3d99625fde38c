package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voxlane/voxlane/observability"
)

// Service is the credential gate: it owns key storage, usage stats and the
// per-key rate limiter, and admits or refuses requests.
type Service struct {
	storage Storage
	limiter *KeyLimiter
	log     *logrus.Entry
}

func NewService(storage Storage) *Service {
	return &Service{
		storage: storage,
		limiter: NewKeyLimiter(),
		log:     logrus.WithField("component", "auth"),
	}
}

// Verify admits one request presented with the given Authorization header
// value. The header may carry a scheme word ("Bearer <key>"); the last
// whitespace-separated token is the key. On success the key's usage stats
// are updated and the key record is returned.
func (s *Service) Verify(ctx context.Context, header string, required Permission) (*ApiKeyInfo, error) {
	return s.verifyAt(ctx, header, required, time.Now())
}

func (s *Service) verifyAt(ctx context.Context, header string, required Permission, now time.Time) (*ApiKeyInfo, error) {
	fields := strings.Fields(header)
	if len(fields) == 0 {
		observability.AuthRequests.WithLabelValues("missing").Inc()
		return nil, ErrMissingApiKey
	}
	key := fields[len(fields)-1]

	info, err := s.storage.GetKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("look up api key: %w", err)
	}
	if info == nil {
		observability.AuthRequests.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidApiKey
	}

	if info.Status == KeySuspended {
		observability.AuthRequests.WithLabelValues("suspended").Inc()
		return nil, ErrKeySuspended
	}
	if info.Expired(now) {
		observability.AuthRequests.WithLabelValues("expired").Inc()
		return nil, ErrKeyExpired
	}

	if !info.HasPermission(required) {
		observability.AuthRequests.WithLabelValues("forbidden").Inc()
		return nil, ErrInsufficientPermissions
	}

	if !s.limiter.Allow(key, info.RateLimit.RequestsPerMinute, now) {
		observability.AuthRequests.WithLabelValues("rate_limited").Inc()
		return nil, ErrRateLimitExceeded
	}

	// stats are advisory; a write failure does not refuse the request
	if err := s.recordUsage(ctx, key, now); err != nil {
		s.log.WithError(err).WithField("key_name", info.Name).Warn("failed to update key stats")
	}

	observability.AuthRequests.WithLabelValues("ok").Inc()
	return info, nil
}

func (s *Service) recordUsage(ctx context.Context, key string, now time.Time) error {
	stats, err := s.storage.GetStats(ctx, key)
	if err != nil {
		return err
	}
	if stats == nil {
		stats = NewApiKeyStats()
	}
	stats.Record(now)
	return s.storage.SaveStats(ctx, key, stats)
}

// CreateKey mints a new Active key. A zero expiresInDays yields a key that
// is already expired; nil means no expiry.
func (s *Service) CreateKey(ctx context.Context, name string, permissions []Permission, limit RateLimit, expiresInDays *int) (*ApiKeyInfo, error) {
	now := time.Now()
	info := &ApiKeyInfo{
		Key:         NewKey(),
		Name:        name,
		CreatedAt:   now,
		Permissions: permissions,
		RateLimit:   limit,
		Status:      KeyActive,
	}
	if expiresInDays != nil {
		expires := now.AddDate(0, 0, *expiresInDays)
		info.ExpiresAt = &expires
	}

	if err := s.storage.SaveKey(ctx, info); err != nil {
		return nil, fmt.Errorf("save api key: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"key_name":    name,
		"permissions": permissions,
	}).Info("api key created")
	return info, nil
}

// RevokeKey suspends the key. Revoking an already-suspended key is a no-op.
func (s *Service) RevokeKey(ctx context.Context, key string) error {
	info, err := s.storage.GetKey(ctx, key)
	if err != nil {
		return fmt.Errorf("look up api key: %w", err)
	}
	if info == nil {
		return ErrInvalidApiKey
	}
	if info.Status == KeySuspended {
		return nil
	}
	info.Status = KeySuspended
	if err := s.storage.SaveKey(ctx, info); err != nil {
		return fmt.Errorf("save api key: %w", err)
	}
	// drop the limiter bucket along with the key
	s.limiter.Forget(key)
	s.log.WithField("key_name", info.Name).Info("api key revoked")
	return nil
}

// Stats returns the usage record for the key; a never-used key has empty
// stats rather than an error.
func (s *Service) Stats(ctx context.Context, key string) (*ApiKeyStats, error) {
	info, err := s.storage.GetKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("look up api key: %w", err)
	}
	if info == nil {
		return nil, ErrInvalidApiKey
	}
	stats, err := s.storage.GetStats(ctx, key)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		stats = NewApiKeyStats()
	}
	return stats, nil
}

// UsageReport aggregates the key record and its stats into the reporting
// view.
func (s *Service) UsageReport(ctx context.Context, key string) (*UsageReport, error) {
	info, err := s.storage.GetKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("look up api key: %w", err)
	}
	if info == nil {
		return nil, ErrInvalidApiKey
	}
	stats, err := s.storage.GetStats(ctx, key)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		stats = NewApiKeyStats()
	}
	return buildUsageReport(info, stats, time.Now()), nil
}

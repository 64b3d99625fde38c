package auth

import (
	"time"

	"github.com/google/uuid"
)

// Permission is a capability attached to an API key.
type Permission string

const (
	PermissionTranscribe         Permission = "Transcribe"
	PermissionSpeakerDiarization Permission = "SpeakerDiarization"
	PermissionEmotionRecognition Permission = "EmotionRecognition"
	PermissionAdmin              Permission = "Admin"
)

// KeyStatus is the administrative state of an API key.
type KeyStatus string

const (
	KeyActive    KeyStatus = "Active"
	KeySuspended KeyStatus = "Suspended"
	KeyExpired   KeyStatus = "Expired"
)

// RateLimit carries the three request-rate caps of a key. Only the
// per-minute cap is enforced by the token bucket; the hourly and daily caps
// are recorded for reporting.
type RateLimit struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	RequestsPerHour   int `json:"requests_per_hour"`
	RequestsPerDay    int `json:"requests_per_day"`
}

// DefaultRateLimit is applied when a create request omits the caps.
func DefaultRateLimit() RateLimit {
	return RateLimit{
		RequestsPerMinute: 60,
		RequestsPerHour:   1000,
		RequestsPerDay:    10000,
	}
}

// ApiKeyInfo is the stored record for one API key.
type ApiKeyInfo struct {
	Key         string       `json:"key"`
	Name        string       `json:"name"`
	CreatedAt   time.Time    `json:"created_at"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
	Permissions []Permission `json:"permissions"`
	RateLimit   RateLimit    `json:"rate_limit"`
	Status      KeyStatus    `json:"status"`
}

// HasPermission reports whether the key carries the permission.
func (k *ApiKeyInfo) HasPermission(p Permission) bool {
	for _, have := range k.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// Expired reports whether the key has passed its expiry at time now.
func (k *ApiKeyInfo) Expired(now time.Time) bool {
	if k.Status == KeyExpired {
		return true
	}
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// NewKey returns a fresh opaque API key string.
func NewKey() string {
	return "key-" + uuid.NewString()
}

package auth

import "time"

const statsDateFormat = "2006-01-02"

// statsWindowDays is the rolling retention of the per-day request buckets.
const statsWindowDays = 30

// ApiKeyStats is the usage record for one API key. DailyRequests is a
// rolling window keyed by date; entries older than 30 days are pruned on
// write.
type ApiKeyStats struct {
	TotalRequests int64            `json:"total_requests"`
	RequestsToday int64            `json:"requests_today"`
	LastUsedAt    *time.Time       `json:"last_used_at,omitempty"`
	DailyRequests map[string]int64 `json:"daily_requests"`
}

// NewApiKeyStats returns an empty stats record.
func NewApiKeyStats() *ApiKeyStats {
	return &ApiKeyStats{DailyRequests: make(map[string]int64)}
}

// Record counts one request at time now: total and today's bucket move,
// last-used is stamped, and stale daily buckets are pruned.
func (s *ApiKeyStats) Record(now time.Time) {
	if s.DailyRequests == nil {
		s.DailyRequests = make(map[string]int64)
	}
	today := now.UTC().Format(statsDateFormat)

	s.TotalRequests++
	s.LastUsedAt = &now
	s.DailyRequests[today]++
	s.RequestsToday = s.DailyRequests[today]

	cutoff := now.UTC().AddDate(0, 0, -statsWindowDays).Format(statsDateFormat)
	for date := range s.DailyRequests {
		if date < cutoff {
			delete(s.DailyRequests, date)
		}
	}
}

// PeakDaily returns the largest daily bucket in the window.
func (s *ApiKeyStats) PeakDaily() int64 {
	var peak int64
	for _, n := range s.DailyRequests {
		if n > peak {
			peak = n
		}
	}
	return peak
}

// UsageReport is the aggregate view returned by the usage-report endpoint.
type UsageReport struct {
	KeyInfo *ApiKeyInfo  `json:"key_info"`
	Stats   *ApiKeyStats `json:"stats"`
	// AverageDailyRequests is total requests divided by the window size.
	AverageDailyRequests float64 `json:"average_daily_requests"`
	PeakDailyRequests    int64   `json:"peak_daily_requests"`
	// DaysUntilExpiry is -1 for keys with no expiry.
	DaysUntilExpiry int64 `json:"days_until_expiry"`
}

func buildUsageReport(info *ApiKeyInfo, stats *ApiKeyStats, now time.Time) *UsageReport {
	report := &UsageReport{
		KeyInfo:              info,
		Stats:                stats,
		AverageDailyRequests: float64(stats.TotalRequests) / float64(statsWindowDays),
		PeakDailyRequests:    stats.PeakDaily(),
		DaysUntilExpiry:      -1,
	}
	if info.ExpiresAt != nil {
		report.DaysUntilExpiry = int64(info.ExpiresAt.Sub(now).Hours() / 24)
	}
	return report
}

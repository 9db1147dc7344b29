package dispatch

import "time"

// DefaultRetrySchedule is indexed by the attempt count at send time:
// the first retry comes 1 minute after the initial failure, the second
// 5 minutes later, the third 30 minutes after that.
var DefaultRetrySchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
}

// DefaultMaxAttempts bounds total sends per attempt row.
const DefaultMaxAttempts = 3

// NextRetryTime returns when a failed send should be retried, given the
// attempt count before the send. Returns nil once the budget is exhausted.
func NextRetryTime(attemptsBefore int, schedule []time.Duration, maxAttempts int, now time.Time) *time.Time {
	if attemptsBefore+1 >= maxAttempts || attemptsBefore < 0 || attemptsBefore >= len(schedule) {
		return nil
	}
	t := now.Add(schedule[attemptsBefore])
	return &t
}

// IsSuccess reports whether an HTTP status counts as delivered.
func IsSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

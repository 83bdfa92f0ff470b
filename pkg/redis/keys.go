package redis

import "fmt"

// PendingKey holds the pending transaction published under a short code.
func PendingKey(shortCode string) string {
	return fmt.Sprintf("points:pending:%s", shortCode)
}

// SettledKey remembers which reference a short code was settled as, so that
// retried settlements can be answered after the pending entry is gone.
func SettledKey(shortCode string) string {
	return fmt.Sprintf("points:pending:settled:%s", shortCode)
}

// LockKey namespaces a mutual-exclusion key.
func LockKey(name string) string {
	return fmt.Sprintf("points:lock:%s", name)
}

// RateLimitKey is the sliding-window bucket for a subject (customer or IP).
func RateLimitKey(scope, subject string) string {
	return fmt.Sprintf("points:rate_limit:%s:%s", scope, subject)
}

package store

import "strings"

// IsQuotaExceeded classifies a store error as the provider's space-quota
// rejection ("you are over your space quota"). Callers promote these to
// critical operator alerts; the retention scripts are the remedy.
func IsQuotaExceeded(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "space quota") || strings.Contains(msg, "quota exceeded")
}

package ratelimit

import "fmt"

// ValidationKey builds the limiter key for a user's credential validation calls.
func ValidationKey(userID uint64) string {
	if userID == 0 {
		return ""
	}
	return fmt.Sprintf("validate:u:%d", userID)
}

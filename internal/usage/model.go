package usage

import (
	"errors"
	"time"
)

// ErrLimitReached means the user has spent the prompt allowance of their plan
// for the current period.
var ErrLimitReached = errors.New("limit reached")

// Usage represents a user's prompt consumption for the current period.
type Usage struct {
	UserID   string    `json:"userId"`
	Plan     string    `json:"plan"`
	Limit    int       `json:"limit"`
	Used     int       `json:"used"`
	ResetsAt time.Time `json:"resetsAt"`
}

// Remaining returns the prompts left in the period.
func (u Usage) Remaining() int {
	if u.Used >= u.Limit {
		return 0
	}
	return u.Limit - u.Used
}

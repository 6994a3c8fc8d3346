package usage

import (
	"strings"
	"time"
)

// Period is the length of a usage window.
const Period = 30 * 24 * time.Hour

const defaultPlan = "free"

// planLimits maps plan names to prompts per period.
var planLimits = map[string]int{
	"free":       25,
	"pro":        500,
	"team":       2000,
	"enterprise": 10000,
}

// LimitFor returns the prompt allowance of plan, falling back to free.
func LimitFor(plan string) int {
	if limit, ok := planLimits[normalizePlan(plan)]; ok {
		return limit
	}
	return planLimits[defaultPlan]
}

func normalizePlan(plan string) string {
	plan = strings.ToLower(strings.TrimSpace(plan))
	if _, ok := planLimits[plan]; !ok {
		return defaultPlan
	}
	return plan
}

func defaultUsage(userID, plan string, now time.Time) Usage {
	plan = normalizePlan(plan)
	return Usage{
		UserID:   userID,
		Plan:     plan,
		Limit:    LimitFor(plan),
		ResetsAt: now.Add(Period),
	}
}

// roll resets an expired window and applies plan changes.
func roll(u Usage, plan string, now time.Time) Usage {
	plan = normalizePlan(plan)
	if u.Plan != plan {
		u.Plan = plan
		u.Limit = LimitFor(plan)
	}
	if !now.Before(u.ResetsAt) {
		u.Used = 0
		u.ResetsAt = now.Add(Period)
	}
	return u
}

package domain

import "time"

// Plan tiers funding deployments.
const (
	PlanFree     = "free"
	PlanPro      = "pro"
	PlanBusiness = "business"
)

// User owns projects and a subscription plan.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	Plan         string
	CreatedAt    time.Time
}

// PlanLimits captures the entitlement attached to a plan tier.
type PlanLimits struct {
	MonthlyCost       float64
	ConcurrentDeploys int
}

var planLimits = map[string]PlanLimits{
	PlanFree:     {MonthlyCost: 0, ConcurrentDeploys: 1},
	PlanPro:      {MonthlyCost: 5, ConcurrentDeploys: 5},
	PlanBusiness: {MonthlyCost: 20, ConcurrentDeploys: 20},
}

// LimitsForPlan resolves plan entitlement, defaulting unknown tiers to free.
func LimitsForPlan(plan string) PlanLimits {
	if limits, ok := planLimits[plan]; ok {
		return limits
	}
	return planLimits[PlanFree]
}

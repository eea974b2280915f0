package domain

import "time"

// UsageRecord is the billing row created when a deployment succeeds.
type UsageRecord struct {
	ID           string
	UserID       string
	ProjectID    string
	DeploymentID string
	MonthlyCost  float64
	BillingMonth string
	Active       bool
	CreatedAt    time.Time
}

// BillingMonthKey formats t as the year-month key usage rows are grouped by.
func BillingMonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

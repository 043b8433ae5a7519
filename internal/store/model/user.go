package model

import "time"

type PlanTier string

const (
	PlanFree       PlanTier = "FREE"
	PlanPro        PlanTier = "PRO"
	PlanEnterprise PlanTier = "ENTERPRISE"
)

// User carries the usage counters consulted by the quota guard. Identity and
// billing are owned by external collaborators; only the usage fields are
// mutated here.
type User struct {
	ID               string   `gorm:"primaryKey;"`
	Plan             PlanTier `gorm:"type:VARCHAR;size:20;not null;default:FREE"`
	TotalStorageUsed int64
	MonthlyUploads   int
	LastUploadReset  time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/Nxdus/clustra-project/internal/store"
	"github.com/Nxdus/clustra-project/internal/store/model"
	"github.com/Nxdus/clustra-project/pkg/metrics"
)

const unlimited = -1

// Limits is the per-plan ceiling. A value of -1 means no ceiling.
type Limits struct {
	StorageBytes   int64
	MonthlyUploads int
}

var planLimits = map[model.PlanTier]Limits{
	model.PlanFree:       {StorageBytes: 2 << 30, MonthlyUploads: 5},
	model.PlanPro:        {StorageBytes: 20 << 30, MonthlyUploads: unlimited},
	model.PlanEnterprise: {StorageBytes: unlimited, MonthlyUploads: unlimited},
}

// LimitsForPlan returns the ceilings for a plan tier. Unknown tiers fall back
// to FREE.
func LimitsForPlan(plan model.PlanTier) Limits {
	if limits, ok := planLimits[plan]; ok {
		return limits
	}
	return planLimits[model.PlanFree]
}

// Guard validates an account is within its plan ceilings before work starts
// and before the final commit.
type Guard struct {
	users store.User
	now   func() time.Time
}

func NewGuard(users store.User) *Guard {
	return &Guard{users: users, now: time.Now}
}

// CheckUploadAllowed fails when the monthly upload count is at the plan cap.
// The monthly window rolls over lazily: when the stored reset stamp is from a
// different month or year, the counter is zeroed first. On success the counter
// is incremented immediately, so two concurrent submissions by the same
// account cannot both pass at the cap.
func (g *Guard) CheckUploadAllowed(ctx context.Context, userID string) error {
	user, err := g.users.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading user usage: %w", err)
	}

	now := g.now()
	if user.LastUploadReset.Month() != now.Month() || user.LastUploadReset.Year() != now.Year() {
		if err := g.users.ResetMonthlyWindow(ctx, userID, now); err != nil {
			return fmt.Errorf("resetting monthly window: %w", err)
		}
		user.MonthlyUploads = 0
	}

	limits := LimitsForPlan(user.Plan)
	if limits.MonthlyUploads != unlimited && user.MonthlyUploads >= limits.MonthlyUploads {
		metrics.IncreaseQuotaRejectionsMetric("monthly_uploads")
		return NewErrQuotaExceeded(string(user.Plan), limits.MonthlyUploads)
	}

	if err := g.users.IncrementMonthlyUploads(ctx, userID); err != nil {
		return fmt.Errorf("reserving upload slot: %w", err)
	}
	return nil
}

// CheckStorageAllowed fails when currentUsed + addedBytes would exceed the
// plan's storage ceiling. Called after transcoding, once the output size is
// known, before the commit.
func (g *Guard) CheckStorageAllowed(ctx context.Context, userID string, addedBytes int64) error {
	user, err := g.users.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading user usage: %w", err)
	}

	limits := LimitsForPlan(user.Plan)
	if limits.StorageBytes != unlimited && user.TotalStorageUsed+addedBytes > limits.StorageBytes {
		metrics.IncreaseQuotaRejectionsMetric("storage")
		return NewErrStorageExceeded(string(user.Plan), limits.StorageBytes)
	}
	return nil
}

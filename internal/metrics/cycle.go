package metrics

import (
	"time"

	"github.com/sells-group/revops-cli/internal/history"
	"github.com/sells-group/revops-cli/internal/model"
)

// CloseTime is when a deal closed: the entry of its last won/lost interval, then the
// CRM's closed_at, then its last update.
func CloseTime(deal model.Deal, intervals []history.Interval) time.Time {
	for i := len(intervals) - 1; i >= 0; i-- {
		if intervals[i].Bucket.Terminal() {
			return intervals[i].EntryAt
		}
	}
	if deal.ClosedAt != nil && !deal.ClosedAt.IsZero() {
		return *deal.ClosedAt
	}
	return deal.UpdatedAt
}

// SalesCycleDays is the whole number of days from creation to close, never negative.
func SalesCycleDays(deal model.Deal, intervals []history.Interval) int {
	d := CloseTime(deal, intervals).Sub(deal.CreatedAt)
	if d <= 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

// FirstResponseHours is the time from creation to the deal's first stage change.
func FirstResponseHours(deal model.Deal, intervals []history.Interval) (float64, bool) {
	if len(intervals) == 0 {
		return 0, false
	}
	first := intervals[0]
	var at time.Time
	switch {
	case first.EntryAt.After(deal.CreatedAt):
		at = first.EntryAt
	case first.ExitAt != nil:
		at = *first.ExitAt
	default:
		return 0, false
	}
	d := at.Sub(deal.CreatedAt)
	if d < 0 {
		return 0, false
	}
	return d.Hours(), true
}

// currentBucket prefers the reconstructed open interval over the deal's stage id.
func currentBucket(deal model.Deal, intervals []history.Interval, bucketOf func(int64) model.Bucket) model.Bucket {
	if n := len(intervals); n > 0 {
		return intervals[n-1].Bucket
	}
	return bucketOf(deal.StageID)
}

func reachedProposal(current model.Bucket, intervals []history.Interval) bool {
	if current == model.BucketProposal || current == model.BucketNegotiation {
		return true
	}
	for _, iv := range intervals {
		if iv.Bucket == model.BucketProposal || iv.Bucket == model.BucketNegotiation {
			return true
		}
	}
	return false
}

package history

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/revops-cli/internal/model"
	"github.com/sells-group/revops-cli/internal/reference"
)

// Interval is one contiguous stay of a deal in a stage. ExitAt is nil for the
// deal's current (open) interval, whose duration runs to the run's asOf.
type Interval struct {
	DealID        int64        `json:"deal_id"`
	PipelineID    int64        `json:"pipeline_id"`
	OwnerID       int64        `json:"owner_id"`
	StageID       int64        `json:"stage_id"`
	StageName     string       `json:"stage_name"`
	Bucket        model.Bucket `json:"bucket"`
	EntryAt       time.Time    `json:"entry_at"`
	ExitAt        *time.Time   `json:"exit_at,omitempty"`
	DurationHours float64      `json:"duration_hours"`
	NextStageID   int64        `json:"next_stage_id,omitempty"`
	Class         Class        `json:"class"`
	LossReason    string       `json:"loss_reason,omitempty"`
}

// Open reports whether the interval is the deal's current stage.
func (iv Interval) Open() bool { return iv.ExitAt == nil }

// Status is the per-deal reconstruction outcome.
type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
)

// Result is the outcome of reconstructing one deal.
type Result struct {
	DealID    int64      `json:"deal_id"`
	Status    Status     `json:"status"`
	Reason    string     `json:"reason,omitempty"`
	Intervals []Interval `json:"intervals,omitempty"`
	Anomalies []string   `json:"anomalies,omitempty"`
}

// Option customises reconstruction.
type Option func(*options)

type options struct {
	pipelineID int64
}

// WithPipeline restricts reconstruction to deals of one pipeline; others are skipped.
func WithPipeline(id int64) Option {
	return func(o *options) { o.pipelineID = id }
}

// Reconstruct derives the stage intervals of one deal from its status-change events.
// asOf closes the measurement of the open interval and must be the same for every deal
// in a run.
func Reconstruct(deal model.Deal, events []model.StatusChange, ref *reference.Context, asOf time.Time, opts ...Option) Result {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	res := Result{DealID: deal.ID, Status: StatusOK}

	if o.pipelineID != 0 && deal.PipelineID != o.pipelineID {
		res.Status = StatusSkipped
		res.Reason = "outside pipeline"
		return res
	}
	if deal.CreatedAt.IsZero() {
		res.Status = StatusSkipped
		res.Reason = "missing creation time"
		return res
	}

	b := builder{deal: deal, ref: ref, asOf: asOf, res: &res}
	evs := b.clean(events)

	if len(evs) == 0 {
		iv := b.open(deal.StageID, deal.CreatedAt)
		iv.Class = ClassUnknown
		iv.LossReason = ""
		res.Intervals = []Interval{iv}
		b.logAnomalies()
		return res
	}

	first := evs[0]
	if first.FromStageID != 0 {
		if first.At.After(deal.CreatedAt) {
			res.Intervals = append(res.Intervals, b.closed(first.FromStageID, deal.CreatedAt, first.At, first.ToStageID))
		} else if first.At.Before(deal.CreatedAt) {
			b.anomaly(fmt.Sprintf("event %s precedes deal creation", first.ID))
		}
	}

	for i, ev := range evs {
		if i+1 < len(evs) {
			next := evs[i+1]
			res.Intervals = append(res.Intervals, b.closed(ev.ToStageID, ev.At, next.At, next.ToStageID))
			continue
		}
		res.Intervals = append(res.Intervals, b.open(ev.ToStageID, ev.At))
	}

	if last := evs[len(evs)-1]; deal.StageID != 0 && last.ToStageID != deal.StageID {
		b.anomaly(fmt.Sprintf("last event stage %d differs from current stage %d", last.ToStageID, deal.StageID))
	}

	b.logAnomalies()
	return res
}

type builder struct {
	deal model.Deal
	ref  *reference.Context
	asOf time.Time
	res  *Result
}

// clean keeps the deal's own events, drops undated ones, orders by (At, ID) and
// collapses duplicate (At, ToStage) pairs.
func (b *builder) clean(events []model.StatusChange) []model.StatusChange {
	out := make([]model.StatusChange, 0, len(events))
	for _, ev := range events {
		if ev.DealID != b.deal.ID {
			continue
		}
		if ev.At.IsZero() {
			b.anomaly(fmt.Sprintf("event %s has no timestamp", ev.ID))
			continue
		}
		if ev.ToStageID == 0 {
			b.anomaly(fmt.Sprintf("event %s has no target stage", ev.ID))
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].ID < out[j].ID
	})

	type key struct {
		at    int64
		stage int64
	}
	seen := make(map[key]bool, len(out))
	deduped := out[:0]
	for _, ev := range out {
		k := key{at: ev.At.UnixNano(), stage: ev.ToStageID}
		if seen[k] {
			continue
		}
		seen[k] = true
		deduped = append(deduped, ev)
	}
	return deduped
}

func (b *builder) base(stageID int64, entry time.Time) Interval {
	s := b.ref.Stage(stageID)
	return Interval{
		DealID:     b.deal.ID,
		PipelineID: b.deal.PipelineID,
		OwnerID:    b.deal.OwnerID,
		StageID:    stageID,
		StageName:  s.Name,
		Bucket:     s.Bucket,
		EntryAt:    entry,
	}
}

func (b *builder) closed(stageID int64, entry, exit time.Time, nextStageID int64) Interval {
	iv := b.base(stageID, entry)
	exitAt := exit
	iv.ExitAt = &exitAt
	iv.NextStageID = nextStageID
	iv.DurationHours = b.hours(entry, exit)
	iv.Class = Transition(iv.Bucket, b.ref.Bucket(nextStageID))
	b.attachLossReason(&iv)
	return iv
}

func (b *builder) open(stageID int64, entry time.Time) Interval {
	iv := b.base(stageID, entry)
	iv.DurationHours = b.hours(entry, b.asOf)
	switch iv.Bucket {
	case model.BucketWon:
		iv.Class = ClassWon
	case model.BucketLost:
		iv.Class = ClassLost
	default:
		iv.Class = ClassUnknown
	}
	b.attachLossReason(&iv)
	return iv
}

func (b *builder) attachLossReason(iv *Interval) {
	if iv.Class == ClassLost {
		iv.LossReason = b.ref.DealLossReason(b.deal)
	}
}

func (b *builder) hours(from, to time.Time) float64 {
	d := to.Sub(from)
	if d < 0 {
		b.anomaly(fmt.Sprintf("negative duration at %s clamped to zero", from.UTC().Format(time.RFC3339)))
		return 0
	}
	return d.Hours()
}

func (b *builder) anomaly(msg string) {
	b.res.Anomalies = append(b.res.Anomalies, msg)
}

func (b *builder) logAnomalies() {
	if len(b.res.Anomalies) == 0 {
		return
	}
	log := zap.L().With(zap.String("component", "history"))
	for _, a := range b.res.Anomalies {
		log.Warn("reconstruction anomaly", zap.Int64("deal_id", b.deal.ID), zap.String("detail", a))
	}
}

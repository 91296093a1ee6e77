package crm

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/revops-cli/internal/model"
)

// EntityStatus summarises how much of one entity type a run managed to fetch.
type EntityStatus string

const (
	EntityComplete EntityStatus = "complete"
	EntityPartial  EntityStatus = "partial"
	EntityFailed   EntityStatus = "failed"
)

// Entity type names, in extraction order.
const (
	EntityStages      = "stages"
	EntityLossReasons = "loss_reasons"
	EntityUsers       = "users"
	EntityDeals       = "deals"
	EntityEvents      = "events"
	EntityTasks       = "tasks"
)

// EntityReport records the outcome of extracting one entity type.
type EntityReport struct {
	Entity  string       `json:"entity"`
	Pages   int          `json:"pages"`
	Records int          `json:"records"`
	Status  EntityStatus `json:"status"`
	Error   string       `json:"error,omitempty"`
}

// Batch is everything one extraction pass produced.
type Batch struct {
	Window      Window               `json:"window"`
	EventWindow Window               `json:"event_window"`
	Deals       []model.Deal         `json:"deals"`
	Events      []model.StatusChange `json:"events"`
	Stages      []model.Stage        `json:"stages"`
	LossReasons []model.LossReason   `json:"loss_reasons"`
	Owners      []model.Owner        `json:"owners"`
	Activities  []model.Activity     `json:"activities"`
	Reports     []EntityReport       `json:"reports"`
}

// Complete reports whether every entity type was fully fetched.
func (b *Batch) Complete() bool {
	for _, r := range b.Reports {
		if r.Status != EntityComplete {
			return false
		}
	}
	return true
}

// Failed reports whether entity was attempted and nothing of it was fetched.
func (b *Batch) Failed(entity string) bool {
	for _, r := range b.Reports {
		if r.Entity == entity {
			return r.Status == EntityFailed
		}
	}
	return false
}

// Records returns the total number of records extracted across entity types.
func (b *Batch) Records() int {
	n := 0
	for _, r := range b.Reports {
		n += r.Records
	}
	return n
}

// Extractor runs one sequential extraction pass over every entity type.
type Extractor struct {
	client        *Client
	eventLookback time.Duration
	skipTasks     bool
}

// ExtractorOption customises an Extractor.
type ExtractorOption func(*Extractor)

// WithEventLookback sets how far before the window start events are fetched.
func WithEventLookback(d time.Duration) ExtractorOption {
	return func(e *Extractor) { e.eventLookback = d }
}

// WithoutTasks disables task extraction.
func WithoutTasks() ExtractorOption {
	return func(e *Extractor) { e.skipTasks = true }
}

// NewExtractor creates an Extractor; events default to a 30-day lookback.
func NewExtractor(client *Client, opts ...ExtractorOption) *Extractor {
	e := &Extractor{client: client, eventLookback: 30 * 24 * time.Hour}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract fetches reference lists, deals, events and tasks for w. A failing
// entity type is abandoned for this pass and reported as partial or failed;
// records fetched before the failure are kept. Only an invalid window or a
// cancelled context produce an error.
func (e *Extractor) Extract(ctx context.Context, w Window) (*Batch, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "crm.extract"))

	b := &Batch{
		Window:      w,
		EventWindow: Window{Start: w.Start.Add(-e.eventLookback), End: w.End},
	}

	var pages int
	var err error

	b.Stages, pages, err = e.client.ListStages(ctx)
	b.record(log, EntityStages, pages, len(b.Stages), err)

	b.LossReasons, pages, err = e.client.ListLossReasons(ctx)
	b.record(log, EntityLossReasons, pages, len(b.LossReasons), err)

	b.Owners, pages, err = e.client.ListUsers(ctx)
	b.record(log, EntityUsers, pages, len(b.Owners), err)

	b.Deals, pages, err = e.deals(ctx, w)
	b.record(log, EntityDeals, pages, len(b.Deals), err)

	var events []model.StatusChange
	events, pages, err = e.client.ListStatusChanges(ctx, b.EventWindow)
	b.Events = dedupeEvents(events)
	b.record(log, EntityEvents, pages, len(b.Events), err)

	if !e.skipTasks {
		b.Activities, pages, err = e.client.ListTasks(ctx, w)
		b.record(log, EntityTasks, pages, len(b.Activities), err)
	}

	if ctx.Err() != nil {
		return b, ctx.Err()
	}

	log.Info("extraction finished",
		zap.Int("deals", len(b.Deals)),
		zap.Int("events", len(b.Events)),
		zap.Int("stages", len(b.Stages)),
		zap.Bool("complete", b.Complete()),
	)
	return b, nil
}

// deals merges the created-in-window and updated-in-window listings. When a deal
// appears in both, the copy with the later UpdatedAt wins.
func (e *Extractor) deals(ctx context.Context, w Window) ([]model.Deal, int, error) {
	created, p1, err := e.client.ListLeads(ctx, w, "created_at")
	var updated []model.Deal
	var p2 int
	if err == nil {
		updated, p2, err = e.client.ListLeads(ctx, w, "updated_at")
	}

	byID := make(map[int64]model.Deal, len(created)+len(updated))
	for _, list := range [][]model.Deal{created, updated} {
		for _, d := range list {
			if prev, ok := byID[d.ID]; ok && prev.UpdatedAt.After(d.UpdatedAt) {
				continue
			}
			byID[d.ID] = d
		}
	}

	out := make([]model.Deal, 0, len(byID))
	for _, d := range byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, p1 + p2, err
}

func dedupeEvents(in []model.StatusChange) []model.StatusChange {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, ev := range in {
		if ev.ID != "" {
			if seen[ev.ID] {
				continue
			}
			seen[ev.ID] = true
		}
		out = append(out, ev)
	}
	return out
}

func (b *Batch) record(log *zap.Logger, entity string, pages, records int, err error) {
	r := EntityReport{Entity: entity, Pages: pages, Records: records, Status: EntityComplete}
	if err != nil {
		r.Error = err.Error()
		r.Status = EntityPartial
		if records == 0 {
			r.Status = EntityFailed
		}
		log.Warn("entity extraction abandoned for this run",
			zap.String("entity", entity),
			zap.Int("pages_kept", pages),
			zap.Int("records_kept", records),
			zap.Error(err),
		)
	}
	b.Reports = append(b.Reports, r)
}

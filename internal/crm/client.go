// Package crm extracts deals, stage-change events, reference lists and tasks
// from the CRM REST API (v4), one bounded page at a time.
package crm

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/revops-cli/internal/model"
)

// DefaultPageSize is the largest page the API serves.
const DefaultPageSize = 250

// Getter is the transport a Client pages through; *fetcher.Client implements it.
type Getter interface {
	GetJSON(ctx context.Context, path string, query url.Values, out any) (empty bool, err error)
}

// Window is a closed time range used for created/updated filters.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate reports an error for an empty or inverted window.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return eris.New("crm: window bounds must be set")
	}
	if w.End.Before(w.Start) {
		return eris.Errorf("crm: window end %s precedes start %s", w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return nil
}

// ClientOptions tunes paging.
type ClientOptions struct {
	PageSize  int
	PageDelay time.Duration // pause between consecutive pages
	Fields    FieldIDs
}

// Client lists CRM entities. It issues requests strictly one at a time.
type Client struct {
	get    Getter
	opts   ClientOptions
	sleepf func(ctx context.Context, d time.Duration) error
}

// NewClient wraps a transport.
func NewClient(get Getter, opts ClientOptions) *Client {
	if opts.PageSize <= 0 || opts.PageSize > DefaultPageSize {
		opts.PageSize = DefaultPageSize
	}
	if opts.PageDelay < 0 {
		opts.PageDelay = 0
	}
	return &Client{get: get, opts: opts, sleepf: sleep}
}

// ListLeads returns deals whose field ("created_at" or "updated_at") falls in w.
// On failure it returns the deals gathered so far together with the error.
func (c *Client) ListLeads(ctx context.Context, w Window, field string) ([]model.Deal, int, error) {
	q := windowQuery(field, w)
	q.Set("with", "contacts,loss_reason")

	var deals []model.Deal
	pages, err := listPages(ctx, c, "/api/v4/leads", "leads", q, func(batch []leadJSON) {
		for _, l := range batch {
			deals = append(deals, l.toDeal(c.opts.Fields))
		}
	})
	return deals, pages, eris.Wrapf(err, "crm: list leads by %s", field)
}

// ListStatusChanges returns stage-change events created in w.
func (c *Client) ListStatusChanges(ctx context.Context, w Window) ([]model.StatusChange, int, error) {
	q := windowQuery("created_at", w)
	q.Set("filter[type]", "lead_status_changed")
	q.Set("filter[entity]", "lead")

	var events []model.StatusChange
	pages, err := listPages(ctx, c, "/api/v4/events", "events", q, func(batch []eventJSON) {
		for _, e := range batch {
			if sc, ok := e.toStatusChange(); ok {
				events = append(events, sc)
			}
		}
	})
	return events, pages, eris.Wrap(err, "crm: list status changes")
}

// ListStages returns every stage of every pipeline.
func (c *Client) ListStages(ctx context.Context) ([]model.Stage, int, error) {
	var stages []model.Stage
	pages, err := listPages(ctx, c, "/api/v4/leads/pipelines", "pipelines", url.Values{}, func(batch []pipelineJSON) {
		for _, p := range batch {
			for _, s := range p.Embedded.Statuses {
				pid := s.PipelineID
				if pid == 0 {
					pid = p.ID
				}
				stages = append(stages, model.Stage{ID: s.ID, Name: s.Name, PipelineID: pid, Sort: s.Sort})
			}
		}
	})
	return stages, pages, eris.Wrap(err, "crm: list stages")
}

// ListLossReasons returns the loss-reason dictionary.
func (c *Client) ListLossReasons(ctx context.Context) ([]model.LossReason, int, error) {
	var reasons []model.LossReason
	pages, err := listPages(ctx, c, "/api/v4/leads/loss_reasons", "loss_reasons", url.Values{}, func(batch []lossReasonJSON) {
		for _, r := range batch {
			reasons = append(reasons, model.LossReason{ID: r.ID, Name: r.Name})
		}
	})
	return reasons, pages, eris.Wrap(err, "crm: list loss reasons")
}

// ListUsers returns the owner directory.
func (c *Client) ListUsers(ctx context.Context) ([]model.Owner, int, error) {
	var owners []model.Owner
	pages, err := listPages(ctx, c, "/api/v4/users", "users", url.Values{}, func(batch []userJSON) {
		for _, u := range batch {
			owners = append(owners, model.Owner{ID: u.ID, Name: u.Name, Email: u.Email})
		}
	})
	return owners, pages, eris.Wrap(err, "crm: list users")
}

// ListTasks returns tasks updated in w.
func (c *Client) ListTasks(ctx context.Context, w Window) ([]model.Activity, int, error) {
	var acts []model.Activity
	pages, err := listPages(ctx, c, "/api/v4/tasks", "tasks", windowQuery("updated_at", w), func(batch []taskJSON) {
		for _, t := range batch {
			acts = append(acts, t.toActivity())
		}
	})
	return acts, pages, eris.Wrap(err, "crm: list tasks")
}

// listPages walks page=1.. until an empty page, a 204, or a page shorter than
// the limit. Each decoded page is handed to visit before the next request, so a
// failure mid-walk keeps everything already visited.
func listPages[T any](ctx context.Context, c *Client, path, key string, base url.Values, visit func([]T)) (int, error) {
	pages := 0
	for n := 1; ; n++ {
		q := url.Values{}
		for k, v := range base {
			q[k] = v
		}
		q.Set("page", strconv.Itoa(n))
		q.Set("limit", strconv.Itoa(c.opts.PageSize))

		var p page[T]
		empty, err := c.get.GetJSON(ctx, path, q, &p)
		if err != nil {
			return pages, eris.Wrapf(err, "page %d", n)
		}
		items := p.Embedded[key]
		if empty || len(items) == 0 {
			return pages, nil
		}

		pages++
		visit(items)
		if len(items) < c.opts.PageSize {
			return pages, nil
		}
		if err := c.sleepf(ctx, c.opts.PageDelay); err != nil {
			return pages, eris.Wrap(err, "inter-page delay")
		}
	}
}

func windowQuery(field string, w Window) url.Values {
	q := url.Values{}
	q.Set("filter["+field+"][from]", strconv.FormatInt(w.Start.Unix(), 10))
	q.Set("filter["+field+"][to]", strconv.FormatInt(w.End.Unix(), 10))
	return q
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

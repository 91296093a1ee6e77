// Package pipeline runs one sequential batch: extract, reconstruct, aggregate,
// forecast, persist, and record the outcome in the run ledger.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/revops-cli/internal/crm"
	"github.com/sells-group/revops-cli/internal/forecast"
	"github.com/sells-group/revops-cli/internal/history"
	"github.com/sells-group/revops-cli/internal/metrics"
	"github.com/sells-group/revops-cli/internal/model"
	"github.com/sells-group/revops-cli/internal/reference"
	"github.com/sells-group/revops-cli/internal/store"
)

// DefaultDays is the window length when Options sets neither Days nor From.
const DefaultDays = 7

// Names of the persisted writes a run can withhold.
const (
	WriteIntervals       = "intervals"
	WritePeriodMetrics   = "period_metrics"
	WriteLossBreakdown   = "loss_breakdown"
	WriteActivityMetrics = "activity_metrics"
)

// Extractor produces one batch of CRM data; *crm.Extractor implements it.
type Extractor interface {
	Extract(ctx context.Context, w crm.Window) (*crm.Batch, error)
}

// Notifier is told about runs that did not fully succeed.
type Notifier interface {
	Notify(ctx context.Context, s store.Summary) error
}

// Options selects the window of one run.
type Options struct {
	Days       int       // window length ending on the asOf day
	From       time.Time // explicit window start; overrides Days
	To         time.Time // explicit window end; defaults to asOf
	Trigger    string    // recorded in the ledger, e.g. "cli" or "schedule"
	NoForecast bool
}

// Runner wires the stages of a run together.
type Runner struct {
	extract    Extractor
	store      store.Store
	engine     *forecast.Engine
	heuristics *reference.Heuristics
	pipelineID int64
	notifier   Notifier
	now        func() time.Time
	newID      func() string
}

// Option customises a Runner.
type Option func(*Runner)

// WithPipeline restricts reconstruction to one CRM pipeline.
func WithPipeline(id int64) Option {
	return func(r *Runner) { r.pipelineID = id }
}

// WithHeuristics replaces the built-in classification heuristics.
func WithHeuristics(h *reference.Heuristics) Option {
	return func(r *Runner) { r.heuristics = h }
}

// WithNotifier reports partial and failed runs to n.
func WithNotifier(n Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

// WithClock overrides the clock that fixes asOf.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New creates a Runner.
func New(ex Extractor, st store.Store, engine *forecast.Engine, opts ...Option) *Runner {
	r := &Runner{
		extract: ex,
		store:   st,
		engine:  engine,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes one batch. asOf is captured once and used by every stage.
// Persistence errors abort the run with status failure and are returned;
// extraction gaps only downgrade the status to partial.
func (r *Runner) Run(ctx context.Context, opts Options) (*store.Summary, error) {
	asOf := r.now().UTC()
	window := resolveWindow(asOf, opts)
	trigger := opts.Trigger
	if trigger == "" {
		trigger = "manual"
	}

	sum := &store.Summary{
		RunID:     r.newID(),
		Trigger:   trigger,
		Status:    model.RunStatusRunning,
		StartedAt: asOf,
		AsOf:      asOf,
		Window:    window,
	}
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("run_id", sum.RunID))
	log.Info("pipeline: starting run",
		zap.Time("as_of", asOf),
		zap.Time("from", window.From),
		zap.Time("to", window.To),
	)

	if err := r.store.StartRun(ctx, store.RunEntry{
		ID: sum.RunID, Trigger: trigger, StartedAt: asOf, AsOf: asOf, Window: window,
	}); err != nil {
		return nil, eris.Wrap(err, "pipeline: start run")
	}

	stage := func(name string, fn func() error) error {
		start := time.Now()
		err := fn()
		fields := []zap.Field{zap.String("stage", name), zap.Int64("duration_ms", time.Since(start).Milliseconds())}
		if err != nil {
			log.Error("pipeline: stage failed", append(fields, zap.Error(err))...)
			return err
		}
		log.Info("pipeline: stage complete", fields...)
		return nil
	}

	err := r.run(ctx, log, asOf, window, opts, sum, stage)
	switch {
	case err != nil:
		sum.Status = model.RunStatusFailure
		sum.Error = err.Error()
	case !entitiesComplete(sum.Entities):
		sum.Status = model.RunStatusPartial
	default:
		sum.Status = model.RunStatusSuccess
	}
	finished := time.Now().UTC()
	sum.FinishedAt = &finished

	// The ledger entry must close even when ctx was cancelled mid-run.
	finishCtx := context.WithoutCancel(ctx)
	if ferr := r.store.FinishRun(finishCtx, *sum); ferr != nil {
		log.Error("pipeline: finish run", zap.Error(ferr))
		if err == nil {
			err = eris.Wrap(ferr, "pipeline: finish run")
			sum.Status = model.RunStatusFailure
			sum.Error = err.Error()
		}
	}

	log.Info("pipeline: run finished", summaryFields(sum)...)

	if sum.Status != model.RunStatusSuccess && r.notifier != nil {
		if nerr := r.notifier.Notify(finishCtx, *sum); nerr != nil {
			log.Warn("pipeline: notify", zap.Error(nerr))
		}
	}
	return sum, err
}

func (r *Runner) run(ctx context.Context, log *zap.Logger, asOf time.Time, window model.DayRange, opts Options, sum *store.Summary, stage func(string, func() error) error) error {
	var batch *crm.Batch
	if err := stage("extract", func() error {
		var err error
		batch, err = r.extract.Extract(ctx, extractWindow(window, asOf))
		if batch != nil {
			sum.Entities = batch.Reports
			sum.Extracted = batch.Records()
		}
		return err
	}); err != nil {
		return eris.Wrap(err, "pipeline: extract")
	}

	ref := reference.NewContext(batch.Stages, batch.LossReasons, batch.Owners, r.heuristics)

	// A failed entity leaves its dependants without input; their stored rows are
	// kept rather than replaced with empty or misclassified ones.
	dealsFailed := batch.Failed(crm.EntityDeals)
	stagesFailed := batch.Failed(crm.EntityStages)
	holdIntervals := dealsFailed || stagesFailed || batch.Failed(crm.EntityEvents)
	holdDeals := dealsFailed || stagesFailed
	holdActivities := batch.Failed(crm.EntityTasks)
	withhold := func(what string) {
		sum.Withheld = append(sum.Withheld, what)
		log.Warn("pipeline: write withheld after failed extraction", zap.String("write", what))
	}

	var hopts []history.Option
	if r.pipelineID != 0 {
		hopts = append(hopts, history.WithPipeline(r.pipelineID))
	}
	var rep *history.BatchReport
	if err := stage("reconstruct", func() error {
		rep = history.ReconstructBatch(batch.Deals, history.GroupEvents(batch.Events), ref, asOf, hopts...)
		sum.Deals = rep.Processed
		sum.Reconstructed = rep.Succeeded
		sum.Skipped = rep.Skipped
		sum.SkipReasons = rep.SkipReasons
		sum.Anomalies = rep.Anomalies
		if err := history.Verify(rep.Intervals); err != nil {
			log.Warn("pipeline: reconstructed intervals failed verification", zap.Error(err))
		}

		if holdIntervals {
			withhold(WriteIntervals)
			return nil
		}
		n, err := r.store.ReplaceIntervals(ctx, rep.DealIDs, rep.Intervals)
		sum.IntervalsWritten = n
		return err
	}); err != nil {
		return eris.Wrap(err, "pipeline: persist intervals")
	}

	if err := stage("aggregate", func() error {
		out := metrics.Aggregate(metrics.Input{
			Deals:      reconstructed(batch.Deals, rep),
			Intervals:  rep.ByDeal,
			Activities: batch.Activities,
			Ref:        ref,
			Range:      window,
		})
		var err error
		if holdDeals {
			withhold(WritePeriodMetrics)
			withhold(WriteLossBreakdown)
		} else {
			if sum.PeriodRows, err = r.store.ReplacePeriodMetrics(ctx, window, out.Periods); err != nil {
				return err
			}
			if sum.LossRows, err = r.store.ReplaceLossBreakdown(ctx, window, out.Losses); err != nil {
				return err
			}
		}
		if holdActivities {
			withhold(WriteActivityMetrics)
		} else if sum.ActivityRows, err = r.store.ReplaceActivityMetrics(ctx, window, out.Activities); err != nil {
			return err
		}
		if labels := ref.LossReasons(); len(labels) > 0 {
			if _, err := r.store.RelabelLossReasons(ctx, labels); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return eris.Wrap(err, "pipeline: persist metrics")
	}

	if opts.NoForecast {
		return nil
	}
	if err := stage("forecast", func() error {
		rec, gap, err := Forecast(ctx, r.store, r.engine, asOf)
		if err != nil {
			return err
		}
		sum.ForecastPeriod = rec.Period
		sum.Risk = gap.Risk
		return nil
	}); err != nil {
		return eris.Wrap(err, "pipeline: forecast")
	}
	return nil
}

// Forecast recomputes and stores the forecast and gap analysis of asOf's month
// from the persisted daily metrics.
func Forecast(ctx context.Context, st store.Store, engine *forecast.Engine, asOf time.Time) (forecast.Record, forecast.Gap, error) {
	state := forecast.NewMonthState(asOf, asOf)

	actuals, err := st.MonthActuals(ctx, state.MonthStart, asOf)
	if err != nil {
		return forecast.Record{}, forecast.Gap{}, err
	}
	past, err := st.MonthlyRevenue(ctx, state.MonthStart, engine.Config().TrendMonths)
	if err != nil {
		return forecast.Record{}, forecast.Gap{}, err
	}
	prior, err := st.GetForecast(ctx, forecast.PreviousPeriod(state.MonthStart))
	if err != nil {
		return forecast.Record{}, forecast.Gap{}, err
	}

	rec, gap := engine.Run(state, actuals, past, prior)
	if err := st.UpsertForecast(ctx, rec); err != nil {
		return rec, gap, err
	}
	if err := st.UpsertGap(ctx, gap); err != nil {
		return rec, gap, err
	}
	return rec, gap, nil
}

// resolveWindow turns Options into the day range the run aggregates.
func resolveWindow(asOf time.Time, opts Options) model.DayRange {
	if !opts.From.IsZero() {
		to := opts.To
		if to.IsZero() || to.After(asOf) {
			to = asOf
		}
		return model.NewDayRange(opts.From, to)
	}
	days := opts.Days
	if days <= 0 {
		days = DefaultDays
	}
	return model.LastDays(asOf, days)
}

// extractWindow covers the whole day range but never reaches past asOf.
func extractWindow(r model.DayRange, asOf time.Time) crm.Window {
	end := r.End().Add(-time.Second)
	if end.After(asOf) {
		end = asOf
	}
	return crm.Window{Start: r.From, End: end}
}

func reconstructed(deals []model.Deal, rep *history.BatchReport) []model.Deal {
	out := make([]model.Deal, 0, len(rep.ByDeal))
	for _, d := range deals {
		if _, ok := rep.ByDeal[d.ID]; ok {
			out = append(out, d)
		}
	}
	return out
}

func entitiesComplete(reports []crm.EntityReport) bool {
	for _, r := range reports {
		if r.Status != crm.EntityComplete {
			return false
		}
	}
	return true
}

func summaryFields(s *store.Summary) []zap.Field {
	fields := []zap.Field{
		zap.String("status", string(s.Status)),
		zap.Int("extracted", s.Extracted),
		zap.Int("deals", s.Deals),
		zap.Int("reconstructed", s.Reconstructed),
		zap.Int("skipped", s.Skipped),
		zap.Int("anomalies", s.Anomalies),
		zap.Int64("intervals", s.IntervalsWritten),
		zap.Int64("period_rows", s.PeriodRows),
		zap.Int64("loss_rows", s.LossRows),
		zap.Int64("activity_rows", s.ActivityRows),
		zap.Duration("duration", s.Duration()),
	}
	if len(s.Withheld) > 0 {
		fields = append(fields, zap.Strings("withheld", s.Withheld))
	}
	if s.ForecastPeriod != "" {
		fields = append(fields, zap.String("forecast_period", s.ForecastPeriod), zap.String("risk", string(s.Risk)))
	}
	for _, e := range s.Entities {
		if e.Status != crm.EntityComplete {
			fields = append(fields, zap.String("entity_"+e.Entity, string(e.Status)))
		}
	}
	if s.Error != "" {
		fields = append(fields, zap.String("error", s.Error))
	}
	return fields
}

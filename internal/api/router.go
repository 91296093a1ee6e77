// Package api serves the persisted metrics, forecasts and run ledger over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/revops-cli/internal/forecast"
	"github.com/sells-group/revops-cli/internal/metrics"
	"github.com/sells-group/revops-cli/internal/model"
	"github.com/sells-group/revops-cli/internal/store"
)

const (
	defaultDays  = 7
	maxDays      = 366
	defaultLimit = 20
	maxLimit     = 500
)

// Reader is the read side of store.Store.
type Reader interface {
	ListPeriodMetrics(ctx context.Context, r model.DayRange, dim metrics.Dimension) ([]metrics.PeriodMetric, error)
	ListLossBreakdown(ctx context.Context, r model.DayRange) ([]metrics.LossBreakdown, error)
	ListActivityMetrics(ctx context.Context, r model.DayRange) ([]metrics.ActivityMetric, error)
	GetForecast(ctx context.Context, period string) (*forecast.Record, error)
	GetGap(ctx context.Context, period string) (*forecast.Gap, error)
	ListRuns(ctx context.Context, limit int) ([]store.Summary, error)
}

// Options configures the router.
type Options struct {
	CORSOrigins []string
	Gatherer    prometheus.Gatherer // served on /metrics when set
	Now         func() time.Time
}

// ForecastResponse pairs a month's forecast with its gap analysis.
type ForecastResponse struct {
	Forecast *forecast.Record `json:"forecast"`
	Gap      *forecast.Gap    `json:"gap"`
}

type handler struct {
	st  Reader
	now func() time.Time
	log *zap.Logger
}

// NewRouter builds the chi router.
func NewRouter(st Reader, opts Options) http.Handler {
	h := &handler{st: st, now: opts.Now, log: zap.L().With(zap.String("component", "api"))}
	if h.now == nil {
		h.now = time.Now
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/metrics", h.periodMetrics)
		r.Get("/losses", h.losses)
		r.Get("/activities", h.activities)
		r.Get("/forecast/{period}", h.forecast)
		r.Get("/runs", h.runs)
	})
	return r
}

func (h *handler) periodMetrics(w http.ResponseWriter, r *http.Request) {
	rng, ok := h.dayRange(w, r)
	if !ok {
		return
	}
	dim := metrics.DimensionAll
	if q := r.URL.Query().Get("dimension"); q != "" {
		if dim, ok = metrics.ParseDimension(q); !ok {
			writeError(w, http.StatusBadRequest, "dimension must be all, owner or channel")
			return
		}
	}
	rows, err := h.st.ListPeriodMetrics(r.Context(), rng, dim)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rows))
}

func (h *handler) losses(w http.ResponseWriter, r *http.Request) {
	rng, ok := h.dayRange(w, r)
	if !ok {
		return
	}
	rows, err := h.st.ListLossBreakdown(r.Context(), rng)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rows))
}

func (h *handler) activities(w http.ResponseWriter, r *http.Request) {
	rng, ok := h.dayRange(w, r)
	if !ok {
		return
	}
	rows, err := h.st.ListActivityMetrics(r.Context(), rng)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rows))
}

func (h *handler) forecast(w http.ResponseWriter, r *http.Request) {
	period := chi.URLParam(r, "period")
	if _, err := forecast.ParsePeriod(period); err != nil {
		writeError(w, http.StatusBadRequest, "period must be YYYY-MM")
		return
	}
	rec, err := h.st.GetForecast(r.Context(), period)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	gap, err := h.st.GetGap(r.Context(), period)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if rec == nil && gap == nil {
		writeError(w, http.StatusNotFound, "no forecast for "+period)
		return
	}
	writeJSON(w, http.StatusOK, ForecastResponse{Forecast: rec, Gap: gap})
}

func (h *handler) runs(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit", defaultLimit, maxLimit)
	if !ok {
		return
	}
	runs, err := h.st.ListRuns(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(runs))
}

// dayRange reads ?days=N and returns the N days ending today.
func (h *handler) dayRange(w http.ResponseWriter, r *http.Request) (model.DayRange, bool) {
	days, ok := intParam(w, r, "days", defaultDays, maxDays)
	if !ok {
		return model.DayRange{}, false
	}
	return model.LastDays(h.now().UTC(), days), true
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.log.Error("api: request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func intParam(w http.ResponseWriter, r *http.Request, name string, def, max int) (int, bool) {
	q := r.URL.Query().Get(name)
	if q == "" {
		return def, true
	}
	n, err := strconv.Atoi(q)
	if err != nil || n < 1 || n > max {
		writeError(w, http.StatusBadRequest, name+" must be between 1 and "+strconv.Itoa(max))
		return 0, false
	}
	return n, true
}

func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

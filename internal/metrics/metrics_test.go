package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/revops-cli/internal/history"
	"github.com/sells-group/revops-cli/internal/model"
	"github.com/sells-group/revops-cli/internal/reference"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func at(day, hour int) time.Time {
	return time.Date(2025, 3, day, hour, 0, 0, 0, time.UTC)
}

func fixture(t *testing.T) Input {
	t.Helper()
	ref := reference.NewContext(
		[]model.Stage{
			{ID: 10, Name: "Incoming leads", PipelineID: 1},
			{ID: 11, Name: "Qualificação", PipelineID: 1},
			{ID: 12, Name: "Proposta enviada", PipelineID: 1},
		},
		[]model.LossReason{{ID: 5, Name: "Price"}},
		[]model.Owner{{ID: 7, Name: "Ana"}, {ID: 8, Name: "Bruno"}},
		nil,
	)
	deals := []model.Deal{
		{ID: 1, PipelineID: 1, StageID: 142, OwnerID: 7, Value: 1000, CreatedAt: at(1, 10), UpdatedAt: at(4, 10),
			Attribution: model.Attribution{GCLID: "g"}},
		{ID: 2, PipelineID: 1, StageID: 143, OwnerID: 8, Value: 500, LossReasonID: 5, CreatedAt: at(1, 12), UpdatedAt: at(1, 18),
			Attribution: model.Attribution{UTMSource: "facebook"}},
		{ID: 3, PipelineID: 1, StageID: 11, OwnerID: 7, Value: 200, CreatedAt: at(1, 8), UpdatedAt: at(1, 8)},
		{ID: 4, PipelineID: 1, StageID: 10, OwnerID: 7, Value: 50, CreatedAt: time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC)},
	}
	events := []model.StatusChange{
		{ID: "1a", DealID: 1, At: at(2, 10), FromStageID: 10, ToStageID: 12},
		{ID: "1b", DealID: 1, At: at(4, 10), FromStageID: 12, ToStageID: 142},
		{ID: "2a", DealID: 2, At: at(1, 18), FromStageID: 10, ToStageID: 143},
	}
	rep := history.ReconstructBatch(deals, history.GroupEvents(events), ref, at(5, 0))
	require.NoError(t, history.Verify(rep.Intervals))

	return Input{
		Deals:     deals,
		Intervals: rep.ByDeal,
		Ref:       ref,
		Range:     model.NewDayRange(at(1, 0), at(3, 0)),
		Activities: []model.Activity{
			{ID: 1, OwnerID: 7, TypeID: 2, Completed: true, CreatedAt: at(1, 9)},
			{ID: 2, OwnerID: 7, TypeID: 1, Text: "Enviar proposta", CreatedAt: at(1, 11)},
			{ID: 3, OwnerID: 8, TypeID: 99, Text: "Mandar mensagem no WhatsApp", Completed: true, CreatedAt: at(2, 9)},
			{ID: 4, OwnerID: 8, TypeID: 2, CreatedAt: at(9, 9)},
		},
	}
}

func find(rows []PeriodMetric, day time.Time, dim Dimension, key string) *PeriodMetric {
	for i := range rows {
		if rows[i].Date.Equal(day) && rows[i].Dimension == dim && rows[i].DimensionKey == key {
			return &rows[i]
		}
	}
	return nil
}

func TestAggregate_AllDimension(t *testing.T) {
	out := Aggregate(fixture(t))

	assert.Equal(t, 1, out.OutOfRange)
	require.Len(t, out.Periods, 8)

	m := find(out.Periods, at(1, 0), DimensionAll, "all")
	require.NotNil(t, m)
	assert.Equal(t, 3, m.TotalDeals)
	assert.Equal(t, 1, m.Won)
	assert.Equal(t, 1, m.Lost)
	assert.Equal(t, 1, m.Open)
	assert.Equal(t, 1, m.QualifiedCount)
	assert.Equal(t, 50.0, m.WinRate)
	assert.Equal(t, 33.33, m.ConversionRate)
	assert.Equal(t, 100.0, m.ProposalWinRate)
	assert.Equal(t, 1000.0, m.Revenue)
	assert.Equal(t, 200.0, m.PipelineValue)
	assert.Equal(t, 566.67, m.AvgDealValue)
	assert.Equal(t, 1000.0, m.AvgWonValue)
	assert.Equal(t, 1.5, m.AvgCycleDays)
	assert.Equal(t, 15.0, m.AvgResponseHours)
	assert.Equal(t, 85.0, m.Spend)
	assert.Equal(t, 28.33, m.CostPerLead)
	assert.Equal(t, 10.76, m.CostEfficiency)

	for _, d := range []int{2, 3} {
		empty := find(out.Periods, at(d, 0), DimensionAll, "all")
		require.NotNil(t, empty, "day %d", d)
		assert.Zero(t, empty.TotalDeals)
		assert.Zero(t, empty.WinRate)
		assert.Zero(t, empty.CostEfficiency)
	}
}

func TestAggregate_Breakdowns(t *testing.T) {
	out := Aggregate(fixture(t))

	ana := find(out.Periods, at(1, 0), DimensionOwner, "7")
	require.NotNil(t, ana)
	assert.Equal(t, "Ana", ana.DimensionLabel)
	assert.Equal(t, 2, ana.TotalDeals)
	assert.Equal(t, 100.0, ana.WinRate)

	bruno := find(out.Periods, at(1, 0), DimensionOwner, "8")
	require.NotNil(t, bruno)
	assert.Equal(t, 0.0, bruno.WinRate)
	assert.Equal(t, 1, bruno.Lost)

	for _, ch := range []string{"Google Ads", "Meta Ads", reference.Unclassified} {
		assert.NotNil(t, find(out.Periods, at(1, 0), DimensionChannel, ch), ch)
	}
	meta := find(out.Periods, at(1, 0), DimensionChannel, "Meta Ads")
	assert.Equal(t, 35.0, meta.Spend)
	assert.Equal(t, -1.0, meta.CostEfficiency)

	assert.Equal(t, "Google Ads", out.Channels[1])
}

func TestAggregate_Invariants(t *testing.T) {
	out := Aggregate(fixture(t))
	for _, m := range out.Periods {
		sum := m.LeadCount + m.QualifiedCount + m.MeetingCount + m.ProposalCount +
			m.NegotiationCount + m.OtherCount + m.Won + m.Lost
		assert.Equal(t, m.TotalDeals, sum)
		assert.Equal(t, m.TotalDeals-m.Won-m.Lost, m.Open)
		for _, r := range []float64{m.WinRate, m.ConversionRate, m.ProposalWinRate} {
			assert.GreaterOrEqual(t, r, 0.0)
			assert.LessOrEqual(t, r, 100.0)
		}
	}
}

func TestAggregate_Deterministic(t *testing.T) {
	in := fixture(t)
	assert.Equal(t, Aggregate(in).Periods, Aggregate(in).Periods)
}

func TestLossAnalysis(t *testing.T) {
	out := Aggregate(fixture(t))

	require.Len(t, out.Losses, 1)
	l := out.Losses[0]
	assert.Equal(t, at(1, 0), l.Date)
	assert.Equal(t, "Price", l.Reason)
	assert.Equal(t, 1, l.Count)
	assert.Equal(t, 500.0, l.ValueLost)
	assert.Equal(t, 0.0, l.AvgCycleDays)
	assert.Equal(t, "Incoming leads", l.TopPriorStage)
}

func TestActivityRollup(t *testing.T) {
	out := Aggregate(fixture(t))

	require.Len(t, out.Activities, 2)
	ana := out.Activities[0]
	assert.Equal(t, int64(7), ana.OwnerID)
	assert.Equal(t, "Ana", ana.OwnerName)
	assert.Equal(t, 2, ana.Total)
	assert.Equal(t, 1, ana.Completed)
	assert.Equal(t, 1, ana.Calls)
	assert.Equal(t, 1, ana.Emails)
	assert.Equal(t, 50.0, ana.CompletionRate())

	bruno := out.Activities[1]
	assert.Equal(t, at(2, 0), bruno.Date)
	assert.Equal(t, 1, bruno.WhatsApp)
}

func TestCategorize(t *testing.T) {
	assert.Equal(t, CategoryMeeting, Categorize(3, ""))
	assert.Equal(t, CategoryContact, Categorize(1, ""))
	assert.Equal(t, CategoryOther, Categorize(99, ""))
	assert.Equal(t, CategoryFollowUp, Categorize(5, "Retorno ao cliente"))
	assert.Equal(t, CategoryMeeting, Categorize(2, "Reunião de alinhamento"))
	assert.Equal(t, CategoryProposal, Categorize(0, "Revisar orçamento"))
}

func TestSalesCycleDays(t *testing.T) {
	deal := model.Deal{CreatedAt: at(1, 0), UpdatedAt: at(4, 12)}
	assert.Equal(t, 3, SalesCycleDays(deal, nil))

	closed := at(2, 23)
	deal.ClosedAt = &closed
	assert.Equal(t, 1, SalesCycleDays(deal, nil))

	ivs := []history.Interval{
		{Bucket: model.BucketLead, EntryAt: at(1, 0)},
		{Bucket: model.BucketWon, EntryAt: at(6, 0)},
	}
	assert.Equal(t, 5, SalesCycleDays(deal, ivs))

	deal = model.Deal{CreatedAt: at(5, 0), UpdatedAt: at(4, 0)}
	assert.Equal(t, 0, SalesCycleDays(deal, nil))
}

func TestFirstResponseHours(t *testing.T) {
	deal := model.Deal{CreatedAt: at(1, 0)}
	_, ok := FirstResponseHours(deal, nil)
	assert.False(t, ok)

	h, ok := FirstResponseHours(deal, []history.Interval{{EntryAt: at(1, 6)}})
	assert.True(t, ok)
	assert.Equal(t, 6.0, h)

	_, ok = FirstResponseHours(deal, []history.Interval{{EntryAt: at(1, 0)}})
	assert.False(t, ok)
}

func TestSafeHelpers(t *testing.T) {
	assert.Equal(t, 0.0, SafeRate(1, 0))
	assert.Equal(t, 0.0, SafeRate(0, 0))
	assert.Equal(t, 66.67, SafeRate(2, 3))
	assert.Equal(t, 100.0, SafeRate(5, 3))
	assert.Equal(t, 0.0, SafeDiv(1, 0))
	assert.Equal(t, 2.5, SafeDiv(5, 2))
}

func TestParseDimension(t *testing.T) {
	d, ok := ParseDimension("owner")
	assert.True(t, ok)
	assert.Equal(t, DimensionOwner, d)
	_, ok = ParseDimension("region")
	assert.False(t, ok)
}

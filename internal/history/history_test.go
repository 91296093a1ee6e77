package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/revops-cli/internal/model"
	"github.com/sells-group/revops-cli/internal/reference"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var day1 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time { return day1.AddDate(0, 0, n-1) }

func testRef() *reference.Context {
	return reference.NewContext(
		[]model.Stage{
			{ID: 10, Name: "Incoming leads", PipelineID: 1},
			{ID: 11, Name: "Qualificação", PipelineID: 1},
			{ID: 12, Name: "Proposta enviada", PipelineID: 1},
		},
		[]model.LossReason{{ID: 5, Name: "Price"}},
		nil, nil,
	)
}

func testDeal() model.Deal {
	return model.Deal{ID: 1, PipelineID: 1, StageID: 10, OwnerID: 7, CreatedAt: day1, UpdatedAt: day1}
}

func TestTransition(t *testing.T) {
	tests := []struct {
		from, to model.Bucket
		want     Class
	}{
		{model.BucketLead, model.BucketQualified, ClassAdvance},
		{model.BucketLead, model.BucketNegotiation, ClassAdvance},
		{model.BucketProposal, model.BucketQualified, ClassRegression},
		{model.BucketMeeting, model.BucketMeeting, ClassSameStage},
		{model.BucketLead, model.BucketWon, ClassWon},
		{model.BucketNegotiation, model.BucketLost, ClassLost},
		{model.BucketWon, model.BucketLost, ClassLost},
		{model.BucketLost, model.BucketQualified, ClassLateral},
		{model.BucketWon, model.BucketLead, ClassLateral},
		{model.BucketOther, model.BucketLead, ClassLateral},
		{model.BucketLead, model.BucketOther, ClassLateral},
		{model.BucketOther, model.BucketOther, ClassSameStage},
		{"", model.BucketLead, ClassUnknown},
		{model.BucketLead, "", ClassUnknown},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, Transition(tt.from, tt.to))
		})
	}
}

func TestReconstruct_NoEvents(t *testing.T) {
	res := Reconstruct(testDeal(), nil, testRef(), day(10))

	require.Equal(t, StatusOK, res.Status)
	require.Len(t, res.Intervals, 1)
	iv := res.Intervals[0]
	assert.True(t, iv.Open())
	assert.Equal(t, day1, iv.EntryAt)
	assert.Equal(t, 216.0, iv.DurationHours)
	assert.Equal(t, ClassUnknown, iv.Class)
	assert.Equal(t, model.BucketLead, iv.Bucket)
	assert.Equal(t, int64(7), iv.OwnerID)
}

func TestReconstruct_AdvanceThenWon(t *testing.T) {
	events := []model.StatusChange{
		{ID: "b", DealID: 1, At: day(5), FromStageID: 11, ToStageID: 142},
		{ID: "a", DealID: 1, At: day(3), FromStageID: 10, ToStageID: 11},
	}
	res := Reconstruct(testDeal(), events, testRef(), day(10))

	require.Len(t, res.Intervals, 3)
	assert.Equal(t, int64(10), res.Intervals[0].StageID)
	assert.Equal(t, ClassAdvance, res.Intervals[0].Class)
	assert.Equal(t, 48.0, res.Intervals[0].DurationHours)
	assert.Equal(t, int64(11), res.Intervals[0].NextStageID)

	assert.Equal(t, int64(11), res.Intervals[1].StageID)
	assert.Equal(t, ClassWon, res.Intervals[1].Class)
	assert.Equal(t, 48.0, res.Intervals[1].DurationHours)

	last := res.Intervals[2]
	assert.True(t, last.Open())
	assert.Equal(t, model.BucketWon, last.Bucket)
	assert.Equal(t, ClassWon, last.Class)
	assert.Equal(t, 120.0, last.DurationHours)
	assert.Empty(t, last.LossReason)

	require.NoError(t, Verify(res.Intervals))
}

func TestReconstruct_LostCarriesReason(t *testing.T) {
	deal := testDeal()
	deal.LossReasonID = 5
	events := []model.StatusChange{
		{ID: "a", DealID: 1, At: day(2), FromStageID: 10, ToStageID: 12},
		{ID: "b", DealID: 1, At: day(4), FromStageID: 12, ToStageID: 143},
	}
	res := Reconstruct(deal, events, testRef(), day(10))

	require.Len(t, res.Intervals, 3)
	assert.Equal(t, ClassAdvance, res.Intervals[0].Class)
	assert.Empty(t, res.Intervals[0].LossReason)
	assert.Equal(t, ClassLost, res.Intervals[1].Class)
	assert.Equal(t, "Price", res.Intervals[1].LossReason)
	assert.Equal(t, ClassLost, res.Intervals[2].Class)
	assert.Equal(t, "Price", res.Intervals[2].LossReason)
}

func TestReconstruct_UnknownLossReasonPlaceholder(t *testing.T) {
	deal := testDeal()
	deal.LossReasonID = 99
	events := []model.StatusChange{{ID: "a", DealID: 1, At: day(2), FromStageID: 10, ToStageID: 143}}
	res := Reconstruct(deal, events, testRef(), day(3))

	require.Len(t, res.Intervals, 2)
	assert.Equal(t, "Loss reason #99", res.Intervals[1].LossReason)
}

func TestReconstruct_Regression(t *testing.T) {
	events := []model.StatusChange{
		{ID: "a", DealID: 1, At: day(2), ToStageID: 12},
		{ID: "b", DealID: 1, At: day(3), ToStageID: 11},
	}
	res := Reconstruct(testDeal(), events, testRef(), day(4))

	// No prior stage on the first event, so no initial interval.
	require.Len(t, res.Intervals, 2)
	assert.Equal(t, day(2), res.Intervals[0].EntryAt)
	assert.Equal(t, ClassRegression, res.Intervals[0].Class)
	assert.Equal(t, ClassUnknown, res.Intervals[1].Class)
}

func TestReconstruct_DropsAndCollapses(t *testing.T) {
	events := []model.StatusChange{
		{ID: "a", DealID: 1, At: day(2), FromStageID: 10, ToStageID: 11},
		{ID: "a2", DealID: 1, At: day(2), FromStageID: 10, ToStageID: 11},
		{ID: "z", DealID: 1, ToStageID: 12},
		{ID: "other", DealID: 2, At: day(3), ToStageID: 12},
	}
	res := Reconstruct(testDeal(), events, testRef(), day(3))

	require.Len(t, res.Intervals, 2)
	assert.Len(t, res.Anomalies, 2) // undated event, current stage mismatch
	require.NoError(t, Verify(res.Intervals))
}

func TestReconstruct_UnresolvedStage(t *testing.T) {
	events := []model.StatusChange{{ID: "a", DealID: 1, At: day(2), FromStageID: 999, ToStageID: 10}}
	res := Reconstruct(testDeal(), events, testRef(), day(3))

	require.Len(t, res.Intervals, 2)
	assert.Equal(t, reference.UnknownName, res.Intervals[0].StageName)
	assert.Equal(t, model.BucketOther, res.Intervals[0].Bucket)
	assert.Equal(t, ClassLateral, res.Intervals[0].Class)
}

func TestReconstruct_NegativeDurationClamped(t *testing.T) {
	events := []model.StatusChange{{ID: "a", DealID: 1, At: day(5), FromStageID: 10, ToStageID: 11}}
	deal := testDeal()
	deal.StageID = 11
	res := Reconstruct(deal, events, testRef(), day(4))

	require.Len(t, res.Intervals, 2)
	assert.Equal(t, 0.0, res.Intervals[1].DurationHours)
	assert.Len(t, res.Anomalies, 1)
	require.NoError(t, Verify(res.Intervals))
}

func TestReconstruct_Skips(t *testing.T) {
	deal := testDeal()
	deal.PipelineID = 2
	res := Reconstruct(deal, nil, testRef(), day(3), WithPipeline(1))
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, "outside pipeline", res.Reason)
	assert.Empty(t, res.Intervals)

	deal = testDeal()
	deal.CreatedAt = time.Time{}
	res = Reconstruct(deal, nil, testRef(), day(3))
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, "missing creation time", res.Reason)
}

func TestReconstructBatch(t *testing.T) {
	d1 := testDeal()
	d2 := testDeal()
	d2.ID = 2
	d2.StageID = 142
	d3 := testDeal()
	d3.ID = 3
	d3.PipelineID = 9

	events := []model.StatusChange{
		{ID: "e1", DealID: 2, At: day(2), FromStageID: 10, ToStageID: 142},
	}
	run := func() *BatchReport {
		return ReconstructBatch([]model.Deal{d3, d2, d1}, GroupEvents(events), testRef(), day(5), WithPipeline(1))
	}
	rep := run()

	assert.Equal(t, 3, rep.Processed)
	assert.Equal(t, 2, rep.Succeeded)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, map[string]int{"outside pipeline": 1}, rep.SkipReasons)
	assert.Equal(t, []int64{1, 2}, rep.DealIDs)
	assert.Len(t, rep.Intervals, 3)
	assert.Len(t, rep.ByDeal[2], 2)
	require.NoError(t, Verify(rep.Intervals))

	assert.Equal(t, rep.Intervals, run().Intervals)
}

func TestVerify_Violations(t *testing.T) {
	exit := day(2)
	gap := []Interval{
		{DealID: 1, EntryAt: day(1), ExitAt: &exit},
		{DealID: 1, EntryAt: day(3)},
	}
	err := Verify(gap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exits at")

	noOpen := []Interval{{DealID: 1, EntryAt: day(1), ExitAt: &exit}}
	err = Verify(noOpen)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no open interval")

	twoOpen := []Interval{{DealID: 1, EntryAt: day(1)}, {DealID: 1, EntryAt: day(2)}}
	err = Verify(twoOpen)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open but not last")

	negative := []Interval{{DealID: 1, EntryAt: day(1), DurationHours: -1}}
	require.Error(t, Verify(negative))

	require.NoError(t, Verify(nil))
}

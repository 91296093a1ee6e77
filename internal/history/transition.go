// Package history rebuilds each deal's path through pipeline stages as a sequence of
// contiguous, non-overlapping stage intervals.
package history

import "github.com/sells-group/revops-cli/internal/model"

// Class labels how a deal left a stage interval.
type Class string

const (
	ClassAdvance    Class = "advance"
	ClassRegression Class = "regression"
	ClassLateral    Class = "lateral"
	ClassSameStage  Class = "same_stage"
	ClassWon        Class = "won"
	ClassLost       Class = "lost"
	ClassUnknown    Class = "unknown"
)

// progression orders the non-terminal buckets along the funnel.
var progression = map[model.Bucket]int{
	model.BucketLead:        1,
	model.BucketQualified:   2,
	model.BucketMeeting:     3,
	model.BucketProposal:    4,
	model.BucketNegotiation: 5,
}

// Transition classifies a move between two buckets. It is a pure, total function.
func Transition(from, to model.Bucket) Class {
	if from == "" || to == "" {
		return ClassUnknown
	}
	switch {
	case to == model.BucketWon:
		return ClassWon
	case to == model.BucketLost:
		return ClassLost
	case from == to:
		return ClassSameStage
	case from.Terminal():
		// reopened deals never compare ordinally
		return ClassLateral
	}

	fi, fok := progression[from]
	ti, tok := progression[to]
	if !fok || !tok {
		return ClassLateral
	}
	if ti > fi {
		return ClassAdvance
	}
	return ClassRegression
}

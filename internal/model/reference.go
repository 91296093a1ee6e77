package model

// Bucket is the semantic class of a pipeline stage.
type Bucket string

const (
	BucketLead        Bucket = "lead"
	BucketQualified   Bucket = "qualified"
	BucketMeeting     Bucket = "meeting"
	BucketProposal    Bucket = "proposal"
	BucketNegotiation Bucket = "negotiation"
	BucketWon         Bucket = "won"
	BucketLost        Bucket = "lost"
	BucketOther       Bucket = "other"
)

// Buckets lists every bucket in pipeline order, terminal buckets last.
var Buckets = []Bucket{
	BucketLead, BucketQualified, BucketMeeting, BucketProposal,
	BucketNegotiation, BucketWon, BucketLost, BucketOther,
}

// Terminal reports whether the bucket closes a deal.
func (b Bucket) Terminal() bool {
	return b == BucketWon || b == BucketLost
}

// Valid reports whether b is one of the known buckets.
func (b Bucket) Valid() bool {
	for _, k := range Buckets {
		if b == k {
			return true
		}
	}
	return false
}

// Stage is a pipeline stage definition as returned by the CRM.
type Stage struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	PipelineID int64  `json:"pipeline_id"`
	Sort       int    `json:"sort"`
}

// LossReason is an entry of the CRM loss-reason dictionary.
type LossReason struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Owner is a CRM user responsible for deals.
type Owner struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

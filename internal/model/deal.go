// Package model holds the CRM domain types shared by extraction, reconstruction and aggregation.
package model

import "time"

// Deal is a sales opportunity as extracted from the CRM.
type Deal struct {
	ID             int64       `json:"id"`
	Name           string      `json:"name"`
	PipelineID     int64       `json:"pipeline_id"`
	StageID        int64       `json:"stage_id"`
	OwnerID        int64       `json:"owner_id"`
	Value          float64     `json:"value"`
	LossReasonID   int64       `json:"loss_reason_id,omitempty"`
	LossReasonName string      `json:"loss_reason_name,omitempty"` // embedded in the deal payload when available
	ContactCount   int         `json:"contact_count"`
	Attribution    Attribution `json:"attribution"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	ClosedAt       *time.Time  `json:"closed_at,omitempty"`
}

// Attribution carries the marketing attribution fields captured on a deal.
type Attribution struct {
	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`
	Referrer    string `json:"referrer,omitempty"`
	Origin      string `json:"origin,omitempty"` // free-text "lead source" field
	GCLID       string `json:"gclid,omitempty"`
	FBCLID      string `json:"fbclid,omitempty"`
}

// StatusChange is a single pipeline-stage transition of a deal.
type StatusChange struct {
	ID          string    `json:"id"`
	DealID      int64     `json:"deal_id"`
	At          time.Time `json:"at"`
	FromStageID int64     `json:"from_stage_id,omitempty"` // 0 when the CRM did not report a prior stage
	ToStageID   int64     `json:"to_stage_id"`
}

// Activity is a task assigned to an owner, optionally bound to a deal.
type Activity struct {
	ID          int64     `json:"id"`
	OwnerID     int64     `json:"owner_id"`
	DealID      int64     `json:"deal_id,omitempty"`
	TypeID      int       `json:"type_id"`
	Text        string    `json:"text"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	CompleteDue time.Time `json:"complete_due"`
}

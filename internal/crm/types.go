package crm

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/sells-group/revops-cli/internal/model"
)

// page is the envelope every list endpoint returns; the collection sits under
// _embedded keyed by entity name.
type page[T any] struct {
	Embedded map[string][]T `json:"_embedded"`
}

type leadJSON struct {
	ID                int64             `json:"id"`
	Name              string            `json:"name"`
	Price             float64           `json:"price"`
	ResponsibleUserID int64             `json:"responsible_user_id"`
	StatusID          int64             `json:"status_id"`
	PipelineID        int64             `json:"pipeline_id"`
	LossReasonID      *int64            `json:"loss_reason_id"`
	CreatedAt         int64             `json:"created_at"`
	UpdatedAt         int64             `json:"updated_at"`
	ClosedAt          *int64            `json:"closed_at"`
	CustomFields      []customFieldJSON `json:"custom_fields_values"`
	Embedded          struct {
		Contacts   []struct{ ID int64 } `json:"contacts"`
		LossReason []lossReasonJSON     `json:"loss_reason"`
	} `json:"_embedded"`
}

type customFieldJSON struct {
	FieldID   int64  `json:"field_id"`
	FieldName string `json:"field_name"`
	Values    []struct {
		Value any `json:"value"`
	} `json:"values"`
}

type statusRefJSON struct {
	LeadStatus *struct {
		ID         int64 `json:"id"`
		PipelineID int64 `json:"pipeline_id"`
	} `json:"lead_status"`
}

// statusRefs accepts both the list form and the bare-object form the events
// endpoint uses for value_before/value_after.
type statusRefs []statusRefJSON

func (s *statusRefs) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = nil
		return nil
	}
	if b[0] == '{' {
		var one statusRefJSON
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*s = statusRefs{one}
		return nil
	}
	var many []statusRefJSON
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

type eventJSON struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	EntityID    int64           `json:"entity_id"`
	EntityType  string          `json:"entity_type"`
	CreatedAt   int64           `json:"created_at"`
	ValueAfter  statusRefs `json:"value_after"`
	ValueBefore statusRefs `json:"value_before"`
}

type pipelineJSON struct {
	ID       int64 `json:"id"`
	Embedded struct {
		Statuses []statusJSON `json:"statuses"`
	} `json:"_embedded"`
}

type statusJSON struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Sort       int    `json:"sort"`
	PipelineID int64  `json:"pipeline_id"`
}

type lossReasonJSON struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type userJSON struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type taskJSON struct {
	ID                int64  `json:"id"`
	ResponsibleUserID int64  `json:"responsible_user_id"`
	EntityID          int64  `json:"entity_id"`
	EntityType        string `json:"entity_type"`
	TaskTypeID        int    `json:"task_type_id"`
	Text              string `json:"text"`
	IsCompleted       bool   `json:"is_completed"`
	CompleteTill      int64  `json:"complete_till"`
	CreatedAt         int64  `json:"created_at"`
}

// FieldIDs maps attribution attributes to CRM custom-field ids.
type FieldIDs struct {
	UTMSource   int64 `yaml:"utm_source" mapstructure:"utm_source"`
	UTMMedium   int64 `yaml:"utm_medium" mapstructure:"utm_medium"`
	UTMCampaign int64 `yaml:"utm_campaign" mapstructure:"utm_campaign"`
	UTMContent  int64 `yaml:"utm_content" mapstructure:"utm_content"`
	UTMTerm     int64 `yaml:"utm_term" mapstructure:"utm_term"`
	Referrer    int64 `yaml:"referrer" mapstructure:"referrer"`
	Origin      int64 `yaml:"origin" mapstructure:"origin"`
	GCLID       int64 `yaml:"gclid" mapstructure:"gclid"`
	FBCLID      int64 `yaml:"fbclid" mapstructure:"fbclid"`
}

func unix(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func (l leadJSON) toDeal(ids FieldIDs) model.Deal {
	d := model.Deal{
		ID:           l.ID,
		Name:         l.Name,
		PipelineID:   l.PipelineID,
		StageID:      l.StatusID,
		OwnerID:      l.ResponsibleUserID,
		Value:        l.Price,
		ContactCount: len(l.Embedded.Contacts),
		CreatedAt:    unix(l.CreatedAt),
		UpdatedAt:    unix(l.UpdatedAt),
	}
	if l.LossReasonID != nil {
		d.LossReasonID = *l.LossReasonID
	}
	if len(l.Embedded.LossReason) > 0 {
		lr := l.Embedded.LossReason[0]
		if d.LossReasonID == 0 {
			d.LossReasonID = lr.ID
		}
		d.LossReasonName = lr.Name
	}
	if l.ClosedAt != nil && *l.ClosedAt > 0 {
		t := unix(*l.ClosedAt)
		d.ClosedAt = &t
	}

	fields := make(map[int64]string, len(l.CustomFields))
	for _, f := range l.CustomFields {
		if len(f.Values) > 0 {
			fields[f.FieldID] = stringify(f.Values[0].Value)
		}
	}
	d.Attribution = model.Attribution{
		UTMSource:   fields[ids.UTMSource],
		UTMMedium:   fields[ids.UTMMedium],
		UTMCampaign: fields[ids.UTMCampaign],
		UTMContent:  fields[ids.UTMContent],
		UTMTerm:     fields[ids.UTMTerm],
		Referrer:    fields[ids.Referrer],
		Origin:      fields[ids.Origin],
		GCLID:       fields[ids.GCLID],
		FBCLID:      fields[ids.FBCLID],
	}
	return d
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case map[string]any:
		// enum values arrive as {"id":..,"value":..}
		if s, ok := x["value"].(string); ok {
			return s
		}
	}
	return ""
}

func (e eventJSON) toStatusChange() (model.StatusChange, bool) {
	to := firstStatus(e.ValueAfter)
	if to == 0 {
		return model.StatusChange{}, false
	}
	return model.StatusChange{
		ID:          e.ID,
		DealID:      e.EntityID,
		At:          unix(e.CreatedAt),
		FromStageID: firstStatus(e.ValueBefore),
		ToStageID:   to,
	}, true
}

func firstStatus(refs statusRefs) int64 {
	for _, r := range refs {
		if r.LeadStatus != nil && r.LeadStatus.ID != 0 {
			return r.LeadStatus.ID
		}
	}
	return 0
}

func (t taskJSON) toActivity() model.Activity {
	a := model.Activity{
		ID:          t.ID,
		OwnerID:     t.ResponsibleUserID,
		TypeID:      t.TaskTypeID,
		Text:        t.Text,
		Completed:   t.IsCompleted,
		CreatedAt:   unix(t.CreatedAt),
		CompleteDue: unix(t.CompleteTill),
	}
	if t.EntityType == "leads" || t.EntityType == "lead" {
		a.DealID = t.EntityID
	}
	return a
}

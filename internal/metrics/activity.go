package metrics

import (
	"sort"
	"strings"
	"time"

	"github.com/sells-group/revops-cli/internal/model"
	"github.com/sells-group/revops-cli/internal/reference"
)

// Category classifies an owner activity.
type Category string

const (
	CategoryCall     Category = "call"
	CategoryMeeting  Category = "meeting"
	CategoryEmail    Category = "email"
	CategoryWhatsApp Category = "whatsapp"
	CategoryFollowUp Category = "follow_up"
	CategoryProposal Category = "proposal"
	CategoryContact  Category = "contact"
	CategoryOther    Category = "other"
)

// CRM task type ids.
var taskTypes = map[int]Category{
	1: CategoryContact,
	2: CategoryCall,
	3: CategoryMeeting,
	4: CategoryEmail,
	5: CategoryFollowUp,
}

// Text keywords refine the task type, checked in order.
var textRules = []struct {
	cat      Category
	keywords []string
}{
	{CategoryCall, []string{"ligar", "call", "telefone", "contato telefonico"}},
	{CategoryMeeting, []string{"reuniao", "meeting", "apresentacao", "demo"}},
	{CategoryEmail, []string{"email", "e-mail", "enviar"}},
	{CategoryWhatsApp, []string{"whatsapp", "wpp", "zap", "mensagem"}},
	{CategoryFollowUp, []string{"follow", "retorno", "acompanhar"}},
	{CategoryProposal, []string{"proposta", "orcamento", "contrato"}},
}

// Categorize maps a task to its category: text keywords first, then the task type.
func Categorize(typeID int, text string) Category {
	folded := reference.Fold(text)
	for _, r := range textRules {
		for _, kw := range r.keywords {
			if strings.Contains(folded, kw) {
				return r.cat
			}
		}
	}
	if c, ok := taskTypes[typeID]; ok {
		return c
	}
	return CategoryOther
}

// ActivityMetric counts one owner's activities created on one day.
type ActivityMetric struct {
	Date      time.Time `json:"date"`
	OwnerID   int64     `json:"owner_id"`
	OwnerName string    `json:"owner_name"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Calls     int       `json:"calls"`
	Meetings  int       `json:"meetings"`
	Emails    int       `json:"emails"`
	WhatsApp  int       `json:"whatsapp"`
	FollowUps int       `json:"follow_ups"`
	Proposals int       `json:"proposals"`
	Contacts  int       `json:"contacts"`
	Other     int       `json:"other"`
}

// CompletionRate is the percentage of activities completed.
func (m ActivityMetric) CompletionRate() float64 {
	return SafeRate(m.Completed, m.Total)
}

func (m *ActivityMetric) add(c Category) {
	switch c {
	case CategoryCall:
		m.Calls++
	case CategoryMeeting:
		m.Meetings++
	case CategoryEmail:
		m.Emails++
	case CategoryWhatsApp:
		m.WhatsApp++
	case CategoryFollowUp:
		m.FollowUps++
	case CategoryProposal:
		m.Proposals++
	case CategoryContact:
		m.Contacts++
	default:
		m.Other++
	}
}

// ActivityRollup counts activities per (creation day, owner) inside the range.
func ActivityRollup(activities []model.Activity, ref *reference.Context, r model.DayRange) []ActivityMetric {
	type key struct {
		day   time.Time
		owner int64
	}
	groups := map[key]*ActivityMetric{}
	for _, a := range activities {
		if a.CreatedAt.IsZero() || !r.Contains(a.CreatedAt) {
			continue
		}
		k := key{day: model.Day(a.CreatedAt), owner: a.OwnerID}
		m, ok := groups[k]
		if !ok {
			m = &ActivityMetric{Date: k.day, OwnerID: a.OwnerID, OwnerName: ref.Owner(a.OwnerID).Name}
			groups[k] = m
		}
		m.Total++
		if a.Completed {
			m.Completed++
		}
		m.add(Categorize(a.TypeID, a.Text))
	}

	out := make([]ActivityMetric, 0, len(groups))
	for _, m := range groups {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].OwnerID < out[j].OwnerID
	})
	return out
}

// Package reference resolves CRM ids to stages, buckets, loss reasons, owners and
// acquisition channels.
package reference

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/revops-cli/internal/model"
)

const (
	// UnknownName labels stages and owners missing from the reference dictionaries.
	UnknownName = "Unknown"

	unspecifiedLossReason = "Unspecified"
	lossReasonPrefix      = "Loss reason #"
)

// StageRef is a resolved (or unresolved) stage.
type StageRef struct {
	ID         int64        `json:"id"`
	Name       string       `json:"name"`
	PipelineID int64        `json:"pipeline_id"`
	Bucket     model.Bucket `json:"bucket"`
	Resolved   bool         `json:"resolved"`
}

// Unresolved is returned for stage ids absent from the dictionary.
var Unresolved = StageRef{Name: UnknownName, Bucket: model.BucketOther}

// Context is the read-only reference snapshot for one run.
type Context struct {
	h           *Heuristics
	stages      map[int64]StageRef
	lossReasons map[int64]string
	owners      map[int64]model.Owner
}

// NewContext indexes the reference dictionaries. A nil h uses the built-in heuristics.
func NewContext(stages []model.Stage, lossReasons []model.LossReason, owners []model.Owner, h *Heuristics) *Context {
	if h == nil {
		h = defaultHeuristics
	}
	c := &Context{
		h:           h,
		stages:      make(map[int64]StageRef, len(stages)),
		lossReasons: make(map[int64]string, len(lossReasons)),
		owners:      make(map[int64]model.Owner, len(owners)),
	}
	for _, s := range stages {
		c.stages[s.ID] = StageRef{
			ID:         s.ID,
			Name:       s.Name,
			PipelineID: s.PipelineID,
			Bucket:     h.StageBucket(s.ID, s.Name),
			Resolved:   true,
		}
	}
	for _, r := range lossReasons {
		if strings.TrimSpace(r.Name) != "" {
			c.lossReasons[r.ID] = r.Name
		}
	}
	for _, o := range owners {
		c.owners[o.ID] = o
	}
	return c
}

// Heuristics returns the heuristics the context classifies with.
func (c *Context) Heuristics() *Heuristics { return c.h }

// Stage resolves a stage id. Ids missing from the dictionary but carrying a bucket
// override (the CRM's system won/lost statuses) still resolve.
func (c *Context) Stage(id int64) StageRef {
	if s, ok := c.stages[id]; ok {
		return s
	}
	if b, ok := c.h.StageOverrides[id]; ok {
		return StageRef{ID: id, Name: cases.Title(language.Und).String(string(b)), Bucket: b, Resolved: true}
	}
	ref := Unresolved
	ref.ID = id
	return ref
}

// Bucket is shorthand for Stage(id).Bucket.
func (c *Context) Bucket(id int64) model.Bucket {
	return c.Stage(id).Bucket
}

// LossReason returns the dictionary label for id or a stable placeholder.
func (c *Context) LossReason(id int64) string {
	if id == 0 {
		return unspecifiedLossReason
	}
	if name, ok := c.lossReasons[id]; ok {
		return name
	}
	return LossReasonPlaceholder(id)
}

// DealLossReason prefers the dictionary, then the name embedded in the deal payload.
func (c *Context) DealLossReason(d model.Deal) string {
	if _, ok := c.lossReasons[d.LossReasonID]; !ok && d.LossReasonID != 0 && strings.TrimSpace(d.LossReasonName) != "" {
		return d.LossReasonName
	}
	return c.LossReason(d.LossReasonID)
}

// LossReasons returns a copy of the loss-reason dictionary.
func (c *Context) LossReasons() map[int64]string {
	out := make(map[int64]string, len(c.lossReasons))
	for k, v := range c.lossReasons {
		out[k] = v
	}
	return out
}

// Owner resolves an owner id, falling back to the Unknown sentinel.
func (c *Context) Owner(id int64) model.Owner {
	if o, ok := c.owners[id]; ok {
		return o
	}
	return model.Owner{ID: id, Name: UnknownName}
}

// Source classifies the acquisition channel of a deal.
func (c *Context) Source(a model.Attribution) string {
	return ClassifySource(a, c.h)
}

// LossReasonPlaceholder is the label stored for loss reasons not yet in the dictionary.
func LossReasonPlaceholder(id int64) string {
	return fmt.Sprintf("%s%d", lossReasonPrefix, id)
}

// IsPlaceholderLossReason reports whether label is a placeholder and returns its id.
func IsPlaceholderLossReason(label string) (int64, bool) {
	rest, ok := strings.CutPrefix(label, lossReasonPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

package reference

import (
	"strings"

	"github.com/sells-group/revops-cli/internal/model"
)

// ClassifyStage maps a stage display name to its bucket using the built-in heuristics.
// It is total: names that match nothing land in the other bucket.
func ClassifyStage(name string) model.Bucket {
	return defaultHeuristics.ClassifyStage(name)
}

// ClassifyStage maps a stage display name to its bucket: exact alias first, then the
// ordered keyword rules, then other.
func (h *Heuristics) ClassifyStage(name string) model.Bucket {
	key := fold(name)
	if key == "" {
		return model.BucketOther
	}
	if b, ok := h.StageAliases[key]; ok {
		return b
	}
	for _, r := range h.StageRules {
		for _, kw := range r.Keywords {
			if strings.Contains(key, kw) {
				return r.Bucket
			}
		}
	}
	return model.BucketOther
}

// StageBucket classifies a stage, honouring explicit per-id overrides before the name.
func (h *Heuristics) StageBucket(id int64, name string) model.Bucket {
	if b, ok := h.StageOverrides[id]; ok {
		return b
	}
	return h.ClassifyStage(name)
}

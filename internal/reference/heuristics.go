package reference

import (
	_ "embed"
	"os"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/revops-cli/internal/model"
)

//go:embed default_heuristics.yaml
var defaultHeuristicsYAML []byte

// KeywordRule maps any stage name containing one of Keywords to Bucket.
type KeywordRule struct {
	Bucket   model.Bucket `yaml:"bucket"`
	Keywords []string     `yaml:"keywords"`
}

// Heuristics holds the tunable classification tables for stages and lead sources.
type Heuristics struct {
	StageAliases   map[string]model.Bucket `yaml:"stage_aliases"`
	StageRules     []KeywordRule           `yaml:"stage_rules"`
	StageOverrides map[int64]model.Bucket  `yaml:"stage_overrides"`
	SourceAliases  map[string]string       `yaml:"source_aliases"`
	SourceCosts    map[string]float64      `yaml:"source_costs"`
}

var defaultHeuristics = mustParseHeuristics(defaultHeuristicsYAML)

// DefaultHeuristics returns the built-in heuristics. The returned value is shared and must not be mutated.
func DefaultHeuristics() *Heuristics {
	return defaultHeuristics
}

// LoadHeuristics returns the built-in heuristics merged with the YAML file at path.
// Map entries in the file add to or replace the defaults; a non-empty stage_rules list replaces them.
// An empty path yields the defaults.
func LoadHeuristics(path string) (*Heuristics, error) {
	base, err := parseHeuristics(defaultHeuristicsYAML)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "reference: read heuristics %s", path)
	}
	override, err := parseHeuristics(data)
	if err != nil {
		return nil, eris.Wrapf(err, "reference: heuristics %s", path)
	}
	base.merge(override)
	return base, nil
}

func mustParseHeuristics(data []byte) *Heuristics {
	h, err := parseHeuristics(data)
	if err != nil {
		panic(err)
	}
	return h
}

func parseHeuristics(data []byte) (*Heuristics, error) {
	var h Heuristics
	if err := yaml.Unmarshal(data, &h); err != nil {
		return nil, eris.Wrap(err, "reference: parse heuristics")
	}
	if err := h.normalize(); err != nil {
		return nil, err
	}
	return &h, nil
}

// normalize folds every lookup key and validates bucket names.
func (h *Heuristics) normalize() error {
	aliases := make(map[string]model.Bucket, len(h.StageAliases))
	for k, b := range h.StageAliases {
		if !b.Valid() {
			return eris.Errorf("reference: stage alias %q has unknown bucket %q", k, b)
		}
		aliases[fold(k)] = b
	}
	h.StageAliases = aliases

	for i, r := range h.StageRules {
		if !r.Bucket.Valid() {
			return eris.Errorf("reference: stage rule %d has unknown bucket %q", i, r.Bucket)
		}
		kws := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			if f := fold(kw); f != "" {
				kws = append(kws, f)
			}
		}
		h.StageRules[i].Keywords = kws
	}

	if h.StageOverrides == nil {
		h.StageOverrides = map[int64]model.Bucket{}
	}
	for id, b := range h.StageOverrides {
		if !b.Valid() {
			return eris.Errorf("reference: stage override %d has unknown bucket %q", id, b)
		}
	}

	sources := make(map[string]string, len(h.SourceAliases))
	for k, v := range h.SourceAliases {
		sources[fold(k)] = v
	}
	h.SourceAliases = sources

	if h.SourceCosts == nil {
		h.SourceCosts = map[string]float64{}
	}
	for k, v := range h.SourceCosts {
		if v < 0 {
			return eris.Errorf("reference: negative cost for source %q", k)
		}
	}
	return nil
}

func (h *Heuristics) merge(o *Heuristics) {
	for k, v := range o.StageAliases {
		h.StageAliases[k] = v
	}
	if len(o.StageRules) > 0 {
		h.StageRules = o.StageRules
	}
	for k, v := range o.StageOverrides {
		h.StageOverrides[k] = v
	}
	for k, v := range o.SourceAliases {
		h.SourceAliases[k] = v
	}
	for k, v := range o.SourceCosts {
		h.SourceCosts[k] = v
	}
}

// CostPerLead returns the estimated acquisition cost of one lead from source, 0 when unknown.
func (h *Heuristics) CostPerLead(source string) float64 {
	return h.SourceCosts[source]
}

// Fold lower-cases s, strips diacritics and collapses whitespace. It is the
// normalisation every heuristic lookup uses.
func Fold(s string) string {
	return fold(s)
}

func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

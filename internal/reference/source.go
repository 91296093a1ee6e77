package reference

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/revops-cli/internal/model"
)

// Unclassified labels deals without any usable attribution.
const Unclassified = "Unclassified"

// ClassifySource determines the acquisition channel of a deal. Click ids win, then the
// free-text origin field, then utm_source, utm_medium and finally the referrer.
func ClassifySource(a model.Attribution, h *Heuristics) string {
	if h == nil {
		h = defaultHeuristics
	}
	if strings.TrimSpace(a.GCLID) != "" {
		return "Google Ads"
	}
	if strings.TrimSpace(a.FBCLID) != "" {
		return "Meta Ads"
	}

	if s := h.StandardizeSource(a.Origin); s != Unclassified {
		return s
	}

	src := fold(a.UTMSource)
	medium := fold(a.UTMMedium)
	switch {
	case src != "":
		return classifyUTMSource(src, medium, a.UTMSource, h)
	case medium != "":
		return classifyUTMMedium(medium, a.UTMMedium, h)
	case strings.TrimSpace(a.Referrer) != "":
		return h.StandardizeSource(a.Referrer)
	}
	return Unclassified
}

func classifyUTMSource(src, medium, raw string, h *Heuristics) string {
	switch {
	case strings.Contains(src, "google"):
		if containsAny(medium, "cpc", "paid", "ads") {
			return "Google Ads"
		}
		return "Google Organic"
	case containsAny(src, "facebook", "fb", "meta"):
		return "Meta Ads"
	case strings.Contains(src, "instagram"):
		return "Instagram"
	case containsAny(src, "site", "website"):
		return "Website"
	case containsAny(src, "lp", "landing"):
		return "Landing Page"
	}
	return h.StandardizeSource(raw)
}

func classifyUTMMedium(medium, raw string, h *Heuristics) string {
	switch {
	case containsAny(medium, "cpc", "paid", "ppc"):
		return "Paid Media"
	case strings.Contains(medium, "organic"):
		return "Organic"
	case strings.Contains(medium, "social"):
		return "Social"
	case containsAny(medium, "email", "newsletter"):
		return "Email Marketing"
	case strings.Contains(medium, "referral"):
		return "Referral"
	}
	return h.StandardizeSource(raw)
}

// StandardizeSource collapses spelling variants of a free-text source onto one label.
// Unknown values are title-cased; blank values are Unclassified.
func (h *Heuristics) StandardizeSource(raw string) string {
	key := fold(raw)
	if key == "" {
		return Unclassified
	}
	if label, ok := h.SourceAliases[key]; ok {
		return label
	}
	return cases.Title(language.Und).String(strings.Join(strings.Fields(raw), " "))
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

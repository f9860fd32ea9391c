package validation

import (
	"strings"

	"aquascene/scribe/internal/content"
)

const (
	contradictionPenalty = 0.25
	unsupportedPenalty   = 0.15
	keywordShare         = 0.4
)

// scoreAccuracy checks the draft against the domain knowledge base and the
// request's required keywords. Contradicted claims are penalized hardest,
// unsupported claims less so; required-keyword coverage makes up the rest.
func scoreAccuracy(text string, req content.Request, kb KnowledgeBase) float64 {
	lower := strings.ToLower(text)

	claims := 1.0
	for _, c := range kb.Contradictions {
		if containsAll(lower, c.Terms) {
			claims -= contradictionPenalty
		}
	}
	for _, f := range kb.Facts {
		if !strings.Contains(lower, strings.ToLower(f.Term)) {
			continue
		}
		if !containsAny(lower, f.Support) {
			claims -= unsupportedPenalty
		}
	}
	claims = clamp01(claims)

	if len(req.Constraints.RequiredKeywords) == 0 {
		return claims
	}

	found := 0
	for _, kw := range req.Constraints.RequiredKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			found++
		}
	}
	coverage := float64(found) / float64(len(req.Constraints.RequiredKeywords))

	return clamp01(keywordShare*coverage + (1-keywordShare)*claims)
}

func containsAll(haystack string, terms []string) bool {
	if len(terms) == 0 {
		return false
	}
	for _, term := range terms {
		if !strings.Contains(haystack, strings.ToLower(term)) {
			return false
		}
	}
	return true
}

func containsAny(haystack string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(haystack, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

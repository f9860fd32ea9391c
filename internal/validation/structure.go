package validation

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"

	"aquascene/scribe/internal/content"
)

// scoreStructure checks the per-content-type template rules: length bounds,
// markdown section count, and required markers. The score is the fraction of
// applicable checks that pass.
func scoreStructure(text string, req content.Request, rules StructureRules) float64 {
	// Request-level constraints override the type defaults.
	minLen := rules.MinLength
	if req.Constraints.MinLength > 0 {
		minLen = req.Constraints.MinLength
	}
	maxLen := rules.MaxLength
	if req.Constraints.MaxLength > 0 {
		maxLen = req.Constraints.MaxLength
	}

	checks := 0
	passed := 0

	length := len(strings.TrimSpace(text))
	if minLen > 0 {
		checks++
		if length >= minLen {
			passed++
		}
	}
	if maxLen > 0 {
		checks++
		if length <= maxLen {
			passed++
		}
	}
	if rules.MinSections > 0 {
		checks++
		if countSections(text) >= rules.MinSections {
			passed++
		}
	}
	for _, marker := range rules.RequiredMarkers {
		checks++
		if strings.Contains(text, marker) {
			passed++
		}
	}

	if checks == 0 {
		return 1
	}
	return float64(passed) / float64(checks)
}

// countSections parses the draft as markdown and counts headings.
func countSections(src string) int {
	doc := goldmark.New().Parser().Parse(gmtext.NewReader([]byte(src)))

	count := 0
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			if _, ok := n.(*ast.Heading); ok {
				count++
			}
		}
		return ast.WalkContinue, nil
	})
	return count
}

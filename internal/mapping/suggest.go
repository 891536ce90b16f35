package mapping

import (
	"sort"
	"strings"

	"github.com/worksync/worksync/internal/types"
)

// Suggestion is a proposed field mapping produced by name heuristics.
// Suggestions are advisory only; operators confirm them before anything is
// persisted, so this code stays outside the transactional core.
type Suggestion struct {
	SourceField string
	TargetField string
	// Confidence is a coarse score: 1.0 exact match, 0.8 normalized
	// match, 0.5 substring match.
	Confidence float64
}

// SuggestFieldMappings proposes pairings between source and target field
// names. Exact (case-insensitive) matches win, then matches after stripping
// separators, then substring containment. Each target field is used at most
// once.
func SuggestFieldMappings(sourceFields, targetFields []string) []Suggestion {
	taken := make(map[string]bool, len(targetFields))
	var suggestions []Suggestion

	match := func(score float64, matches func(src, tgt string) bool) {
		for _, src := range sourceFields {
			for _, tgt := range targetFields {
				if taken[tgt] || alreadySuggested(suggestions, src) {
					continue
				}
				if matches(src, tgt) {
					suggestions = append(suggestions, Suggestion{
						SourceField: src,
						TargetField: tgt,
						Confidence:  score,
					})
					taken[tgt] = true
				}
			}
		}
	}

	match(1.0, func(src, tgt string) bool {
		return strings.EqualFold(src, tgt)
	})
	match(0.8, func(src, tgt string) bool {
		return normalizeFieldName(src) == normalizeFieldName(tgt)
	})
	match(0.5, func(src, tgt string) bool {
		a, b := normalizeFieldName(src), normalizeFieldName(tgt)
		if len(a) < 3 || len(b) < 3 {
			return false
		}
		return strings.Contains(a, b) || strings.Contains(b, a)
	})

	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].Confidence != suggestions[j].Confidence {
			return suggestions[i].Confidence > suggestions[j].Confidence
		}
		return suggestions[i].SourceField < suggestions[j].SourceField
	})
	return suggestions
}

// SuggestStatusMappings proposes status pairings with the same heuristics,
// returned as ready-to-edit StatusMapping values.
func SuggestStatusMappings(sourceStatuses, targetStatuses []string) []*types.StatusMapping {
	var out []*types.StatusMapping
	for _, s := range SuggestFieldMappings(sourceStatuses, targetStatuses) {
		out = append(out, &types.StatusMapping{
			SourceStatus: s.SourceField,
			TargetStatus: s.TargetField,
		})
	}
	return out
}

func alreadySuggested(suggestions []Suggestion, src string) bool {
	for _, s := range suggestions {
		if s.SourceField == src {
			return true
		}
	}
	return false
}

// normalizeFieldName lowercases and strips everything that is not a letter
// or digit, so "Assigned To", "AssignedTo", and "assigned_to" all compare
// equal. Dotted reference names keep only the final segment
// ("System.Title" -> "title").
func normalizeFieldName(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

package metadata

import (
	"math"
	"sort"

	"github.com/nucleus/sprint-worklog/internal/connector/jira"
)

// SortTransitions orders transitions by where their target status sits on
// the board. Targets not on the board go last; ties sort by name.
func SortTransitions(transitions []*jira.Transition, order []StatusRef) []*jira.Transition {
	index := make(map[string]int, len(order)*2)
	for i, ref := range order {
		if ref.ID != "" {
			if _, ok := index["id:"+ref.ID]; !ok {
				index["id:"+ref.ID] = i
			}
		}
		if ref.Name != "" {
			if _, ok := index["name:"+ref.Name]; !ok {
				index["name:"+ref.Name] = i
			}
		}
	}

	position := func(t *jira.Transition) int {
		if t.To != nil && t.To.ID != "" {
			if i, ok := index["id:"+t.To.ID]; ok {
				return i
			}
		}
		if i, ok := index["name:"+t.TargetName()]; ok {
			return i
		}
		return math.MaxInt
	}

	sorted := append([]*jira.Transition(nil), transitions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := position(sorted[i]), position(sorted[j])
		if pi != pj {
			return pi < pj
		}
		return sorted[i].TargetName() < sorted[j].TargetName()
	})
	return sorted
}

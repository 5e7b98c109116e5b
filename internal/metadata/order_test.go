package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nucleus/sprint-worklog/internal/connector/jira"
)

func transition(id, toID, toName string) *jira.Transition {
	return &jira.Transition{ID: id, Name: "go " + toName, To: &jira.Status{ID: toID, Name: toName}}
}

func TestSortTransitionsByBoardOrder(t *testing.T) {
	order := []StatusRef{{ID: "1", Name: "To Do"}, {ID: "3", Name: "In Progress"}, {Name: "Review"}, {ID: "5", Name: "Done"}}
	input := []*jira.Transition{
		transition("t-done", "5", "Done"),
		transition("t-zeta", "", "Zeta"),
		transition("t-review", "99", "Review"),
		transition("t-alpha", "", "Alpha"),
		transition("t-todo", "1", "To Do"),
		transition("t-prog", "3", "In Progress"),
	}

	sorted := SortTransitions(input, order)

	ids := make([]string, len(sorted))
	for i, tr := range sorted {
		ids[i] = tr.ID
	}
	assert.Equal(t, []string{"t-todo", "t-prog", "t-review", "t-done", "t-alpha", "t-zeta"}, ids)
	assert.Equal(t, "t-done", input[0].ID, "input slice must not be reordered")
}

func TestSortTransitionsWithoutOrder(t *testing.T) {
	sorted := SortTransitions([]*jira.Transition{
		transition("b", "", "Beta"),
		transition("a", "", "Alpha"),
	}, nil)
	assert.Equal(t, "a", sorted[0].ID)
}

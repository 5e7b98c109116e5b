package sprint

import "github.com/nucleus/sprint-worklog/internal/metadata"

// DayBucket maps issue key → date key → seconds logged by the user.
type DayBucket map[string]map[string]int

// Grid is the result of a sprint load.
type Grid struct {
	Token       LoadToken
	User        string
	Sprint      *Sprint
	Dates       []string
	Issues      []*Issue
	StatusOrder []metadata.StatusRef
	Days        DayBucket

	// Failed holds the issues whose worklogs could not be fetched.
	Failed map[string]error
}

// Totals summarizes a grid.
type Totals struct {
	PerDay   map[string]int
	PerIssue map[string]int
	Seconds  int
	Points   float64
}

// Totals sums seconds per day, per issue and overall, plus the story
// points of issues that have them.
func (g *Grid) Totals() Totals {
	t := Totals{PerDay: map[string]int{}, PerIssue: map[string]int{}}
	for _, date := range g.Dates {
		t.PerDay[date] = 0
	}
	for _, issue := range g.Issues {
		if issue.Points != nil {
			t.Points += *issue.Points
		}
		for date, seconds := range g.Days[issue.Key] {
			t.PerDay[date] += seconds
			t.PerIssue[issue.Key] += seconds
			t.Seconds += seconds
		}
	}
	return t
}

// Set records seconds for an issue and day, as after a reconciliation.
func (g *Grid) Set(issueKey, date string, seconds int) {
	if g.Days == nil {
		g.Days = DayBucket{}
	}
	days := g.Days[issueKey]
	if days == nil {
		days = map[string]int{}
		g.Days[issueKey] = days
	}
	if seconds == 0 {
		delete(days, date)
		return
	}
	days[date] = seconds
}

// Issue finds an issue by key.
func (g *Grid) Issue(key string) *Issue {
	for _, issue := range g.Issues {
		if issue.Key == key {
			return issue
		}
	}
	return nil
}

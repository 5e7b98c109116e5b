// Package sprint collects the active sprint, the user's issues in it and the
// user's own logged time per issue and day.
package sprint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	jirahttp "github.com/nucleus/sprint-worklog/internal/connector/http"
	"github.com/nucleus/sprint-worklog/internal/connector/jira"
	"github.com/nucleus/sprint-worklog/internal/metadata"
	"github.com/nucleus/sprint-worklog/internal/timeutil"
)

// ErrNoActiveSprint is returned when the board has no active sprint.
var ErrNoActiveSprint = fmt.Errorf("no active sprint found on this board: %w", jira.ErrNotFound)

// issueFields are always requested; the story-points field is appended
// when the tenant has one.
var issueFields = []string{"key", "summary", "status", "labels", "issuetype", "parent"}

// API is the read surface of the Jira client used for aggregation.
type API interface {
	ActiveSprints(ctx context.Context, boardID int) ([]*jira.Sprint, error)
	SearchIssues(jql string, fields []string) *jirahttp.PageIterator[*jira.Issue]
	Worklogs(issueKey string) *jirahttp.PageIterator[*jira.Worklog]
}

// Metadata is the cached metadata the aggregator depends on.
type Metadata interface {
	UserContext(ctx context.Context) (*metadata.UserContext, error)
	StoryPointsFieldID(ctx context.Context) (string, error)
	BoardStatusOrder(ctx context.Context, boardID int) ([]metadata.StatusRef, error)
}

// Sprint is the active sprint with its bounds resolved to date keys in the
// user's timezone.
type Sprint struct {
	ID       int
	Name     string
	Start    time.Time
	End      time.Time
	StartKey string
	EndKey   string
}

// Dates lists every date key of the sprint.
func (s *Sprint) Dates() []string {
	dates, err := timeutil.DateRange(s.StartKey, s.EndKey)
	if err != nil {
		return nil
	}
	return dates
}

// Issue is a sprint issue as shown in the grid.
type Issue struct {
	Key         string
	Summary     string
	Status      string
	StatusColor string
	Labels      []string
	Points      *float64
	Subtask     bool
	ParentKey   string
}

// Aggregator reads sprint data for the authenticated user.
type Aggregator struct {
	api  API
	meta Metadata
	log  zerolog.Logger
	now  func() time.Time
}

// NewAggregator creates an aggregator.
func NewAggregator(api API, meta Metadata, log zerolog.Logger) *Aggregator {
	return &Aggregator{api: api, meta: meta, log: log, now: time.Now}
}

// ActiveSprint returns the first active sprint of the board. A sprint
// without an end date ends at its completion date, or now.
func (a *Aggregator) ActiveSprint(ctx context.Context, boardID int) (*Sprint, error) {
	user, err := a.meta.UserContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	sprints, err := a.api.ActiveSprints(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("could not get sprint; make sure you have Jira Software permissions and the board id is correct: %w", err)
	}
	if len(sprints) == 0 || sprints[0] == nil {
		return nil, ErrNoActiveSprint
	}
	raw := sprints[0]

	end := a.now()
	for _, candidate := range []string{raw.EndDate, raw.CompleteDate} {
		if candidate == "" {
			continue
		}
		if t, err := timeutil.ParseJiraTime(candidate); err == nil {
			end = t
			break
		}
	}
	start := end
	if raw.StartDate != "" {
		if t, err := timeutil.ParseJiraTime(raw.StartDate); err == nil {
			start = t
		}
	}

	return &Sprint{
		ID:       raw.ID,
		Name:     raw.Name,
		Start:    start,
		End:      end,
		StartKey: timeutil.DateKey(start, user.Location),
		EndKey:   timeutil.DateKey(end, user.Location),
	}, nil
}

// SprintJQL selects the user's issues in a sprint.
func SprintJQL(sprintID int) string {
	return fmt.Sprintf("assignee = currentUser() AND sprint = %d ORDER BY key", sprintID)
}

// SprintIssues returns the user's issues in the sprint, ordered by key.
func (a *Aggregator) SprintIssues(ctx context.Context, sprint *Sprint) ([]*Issue, error) {
	fieldID, err := a.meta.StoryPointsFieldID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve story points field: %w", err)
	}

	fields := append([]string(nil), issueFields...)
	if fieldID != "" {
		fields = append(fields, fieldID)
	}

	raw, err := jirahttp.CollectAll(ctx, a.api.SearchIssues(SprintJQL(sprint.ID), fields))
	if err != nil {
		return nil, fmt.Errorf("search sprint %d issues: %w", sprint.ID, err)
	}

	issues := make([]*Issue, 0, len(raw))
	for _, r := range raw {
		if r == nil {
			continue
		}
		issues = append(issues, toIssue(r, fieldID))
	}
	a.log.Debug().Int("sprint", sprint.ID).Int("issues", len(issues)).Msg("sprint issues fetched")
	return issues, nil
}

func toIssue(r *jira.Issue, pointsField string) *Issue {
	issue := &Issue{
		Key:         r.Key,
		Summary:     r.Fields.Summary,
		StatusColor: r.Fields.Status.Color(),
		Labels:      r.Fields.Labels,
	}
	if issue.Labels == nil {
		issue.Labels = []string{}
	}
	if r.Fields.Status != nil {
		issue.Status = r.Fields.Status.Name
	}
	if r.Fields.IssueType != nil {
		issue.Subtask = r.Fields.IssueType.Subtask
	}
	if r.Fields.Parent != nil {
		issue.ParentKey = r.Fields.Parent.Key
		issue.Subtask = true
	}
	if pointsField != "" {
		issue.Points = ParsePoints(r.Fields.Extra[pointsField])
	}
	return issue
}

// ParsePoints reads a story-points value that may be a number or a numeric
// string. Null, empty, unparsable and non-finite values are absent.
func ParsePoints(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}

	var f float64
	switch value := v.(type) {
	case float64:
		f = value
	case string:
		s := strings.TrimSpace(value)
		if s == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// IssueWorklogs sums the user's own logged seconds on issueKey per date key
// within [startKey, endKey].
func (a *Aggregator) IssueWorklogs(ctx context.Context, issueKey, startKey, endKey string) (map[string]int, error) {
	if issueKey == "" || startKey == "" || endKey == "" {
		return nil, fmt.Errorf("invalid worklog request: %w", jira.ErrInvalidInput)
	}
	user, err := a.meta.UserContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	worklogs, err := jirahttp.CollectAll(ctx, a.api.Worklogs(issueKey))
	if err != nil {
		return nil, fmt.Errorf("fetch worklogs %s: %w", issueKey, err)
	}
	return bucket(worklogs, user, startKey, endKey), nil
}

func bucket(worklogs []*jira.Worklog, user *metadata.UserContext, startKey, endKey string) map[string]int {
	days := map[string]int{}
	for _, wl := range worklogs {
		if wl == nil || wl.AuthorID() != user.AccountID {
			continue
		}
		started, err := timeutil.ParseJiraTime(wl.Started)
		if err != nil {
			continue
		}
		key := timeutil.DateKey(started, user.Location)
		if !timeutil.InRange(key, startKey, endKey) {
			continue
		}
		days[key] += wl.TimeSpentSeconds
	}
	return days
}

// IsNoActiveSprint reports whether err means the board has no active sprint.
func IsNoActiveSprint(err error) bool {
	return errors.Is(err, ErrNoActiveSprint)
}

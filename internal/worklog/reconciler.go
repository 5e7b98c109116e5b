// Package worklog turns "hours logged on day D for issue I" into the smallest
// set of worklog creates, updates and deletes that makes Jira agree.
package worklog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	jirahttp "github.com/nucleus/sprint-worklog/internal/connector/http"
	"github.com/nucleus/sprint-worklog/internal/connector/jira"
	"github.com/nucleus/sprint-worklog/internal/metadata"
	"github.com/nucleus/sprint-worklog/internal/timeutil"
)

var (
	// ErrConflict is returned when the remote entries could not absorb a
	// reduction, or an entry vanished while it was being edited.
	ErrConflict = errors.New("worklog conflict")

	// ErrInvalidInput is returned for unusable hours or date keys.
	ErrInvalidInput = jira.ErrInvalidInput
)

// API is the worklog surface of the Jira client.
type API interface {
	AllWorklogs(ctx context.Context, issueKey string) ([]*jira.Worklog, error)
	AddWorklog(ctx context.Context, issueKey, started string, seconds int) (*jira.Worklog, error)
	UpdateWorklog(ctx context.Context, issueKey, worklogID, started string, seconds int) error
	DeleteWorklog(ctx context.Context, issueKey, worklogID string) error
}

// UserSource resolves the authenticated user.
type UserSource interface {
	UserContext(ctx context.Context) (*metadata.UserContext, error)
}

// Result reports what a reconciliation did. Seconds is the day's total for
// the user after the call.
type Result struct {
	Updated bool
	Seconds int
}

// Reconciler applies target hours to a single issue and day.
type Reconciler struct {
	api   API
	users UserSource
	log   zerolog.Logger
	locks *keyedMutex
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the mutation logger.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Reconciler) { r.log = log }
}

// WithoutSerialization lets calls for the same issue and day interleave.
func WithoutSerialization() Option {
	return func(r *Reconciler) { r.locks = nil }
}

// NewReconciler creates a reconciler. Calls for the same issue and day are
// serialized within the process unless WithoutSerialization is given.
func NewReconciler(api API, users UserSource, opts ...Option) *Reconciler {
	r := &Reconciler{
		api:   api,
		users: users,
		log:   zerolog.Nop(),
		locks: newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// entry is one of the user's worklogs on the target day.
type entry struct {
	id      string
	started string
	at      time.Time
	seconds int
}

// SetTargetHours makes the user's logged time on issueKey for dateKey equal
// to hours, rounded to the second. Increases add a single entry at noon of
// that day; decreases trim the newest entries first. Mutations already
// applied are not rolled back when a later one fails.
func (r *Reconciler) SetTargetHours(ctx context.Context, issueKey, dateKey string, hours float64) (Result, error) {
	if math.IsNaN(hours) || math.IsInf(hours, 0) || hours < 0 {
		return Result{}, fmt.Errorf("hours %v: %w", hours, ErrInvalidInput)
	}
	if issueKey == "" {
		return Result{}, fmt.Errorf("empty issue key: %w", ErrInvalidInput)
	}
	if _, err := timeutil.ParseDateKey(dateKey); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if r.locks != nil {
		unlock := r.locks.Lock(issueKey + "@" + dateKey)
		defer unlock()
	}

	user, err := r.users.UserContext(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("resolve user: %w", err)
	}

	all, err := r.api.AllWorklogs(ctx, issueKey)
	if err != nil {
		return Result{}, err
	}
	entries, current := ownEntriesOn(all, user, dateKey)

	target := int(math.Round(hours * 3600))
	log := r.log.With().Str("issue", issueKey).Str("date", dateKey).Int("current", current).Int("target", target).Logger()

	switch {
	case target == current:
		return Result{Updated: false, Seconds: current}, nil

	case target > current:
		noon, err := timeutil.NoonOn(dateKey, user.Location)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		delta := target - current
		created, err := r.api.AddWorklog(ctx, issueKey, timeutil.FormatJiraTime(noon), delta)
		if err != nil {
			return Result{}, err
		}
		log.Info().Str("worklog", created.ID).Int("seconds", delta).Msg("worklog created")
		return Result{Updated: true, Seconds: target}, nil

	default:
		if err := r.reduce(ctx, log, issueKey, entries, current-target); err != nil {
			return Result{}, err
		}
		return Result{Updated: true, Seconds: target}, nil
	}
}

// reduce removes remaining seconds from entries, newest first: whole entries
// are deleted while they fit, and the last one touched is shrunk.
func (r *Reconciler) reduce(ctx context.Context, log zerolog.Logger, issueKey string, entries []entry, remaining int) error {
	for _, e := range entries {
		if remaining <= 0 {
			break
		}
		if e.seconds <= remaining {
			if err := r.api.DeleteWorklog(ctx, issueKey, e.id); err != nil {
				return vanished(e.id, err)
			}
			remaining -= e.seconds
			log.Info().Str("worklog", e.id).Int("seconds", e.seconds).Msg("worklog deleted")
			continue
		}
		shrunk := e.seconds - remaining
		if err := r.api.UpdateWorklog(ctx, issueKey, e.id, e.started, shrunk); err != nil {
			return vanished(e.id, err)
		}
		log.Info().Str("worklog", e.id).Int("from", e.seconds).Int("to", shrunk).Msg("worklog shrunk")
		remaining = 0
	}
	if remaining > 0 {
		return fmt.Errorf("%d seconds could not be removed from %s: %w", remaining, issueKey, ErrConflict)
	}
	return nil
}

// vanished marks a 404 on an entry fetched moments ago as a conflict.
func vanished(id string, err error) error {
	var httpErr *jirahttp.HTTPError
	if errors.As(err, &httpErr) && httpErr.IsNotFound() {
		return fmt.Errorf("%w: worklog %s: %w", ErrConflict, id, err)
	}
	return err
}

// ownEntriesOn keeps the user's entries whose start falls on dateKey in the
// user's zone, newest first, and sums them.
func ownEntriesOn(all []*jira.Worklog, user *metadata.UserContext, dateKey string) ([]entry, int) {
	var entries []entry
	total := 0
	for _, wl := range all {
		if wl == nil || wl.AuthorID() != user.AccountID {
			continue
		}
		at, err := timeutil.ParseJiraTime(wl.Started)
		if err != nil {
			continue
		}
		if timeutil.DateKey(at, user.Location) != dateKey {
			continue
		}
		entries = append(entries, entry{id: wl.ID, started: wl.Started, at: at, seconds: wl.TimeSpentSeconds})
		total += wl.TimeSpentSeconds
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].at.After(entries[j].at) })
	return entries, total
}

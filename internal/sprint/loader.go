package sprint

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nucleus/sprint-worklog/internal/metadata"
)

// ErrSuperseded is returned by a load that a newer load replaced.
var ErrSuperseded = errors.New("sprint load superseded")

// LoadToken identifies one Load call. Only the newest token is current.
type LoadToken uint64

// Prefetcher warms per-issue data alongside the worklog stage.
type Prefetcher interface {
	Reset()
	Prefetch(ctx context.Context, keys []string)
}

// Sink receives load progress. Calls happen on the loading goroutine, in
// issue order, and only while the load is current.
type Sink interface {
	SprintLoaded(token LoadToken, grid *Grid)
	IssueLoaded(token LoadToken, issueKey string, days map[string]int)
	IssueFailed(token LoadToken, issueKey string, err error)
}

// NopSink ignores progress.
type NopSink struct{}

func (NopSink) SprintLoaded(LoadToken, *Grid) {}

func (NopSink) IssueLoaded(LoadToken, string, map[string]int) {}

func (NopSink) IssueFailed(LoadToken, string, error) {}

// Loader runs staged sprint loads. Starting a load cancels the previous one
// and anything the previous one still produces is discarded.
type Loader struct {
	agg      *Aggregator
	meta     Metadata
	prefetch Prefetcher
	log      zerolog.Logger

	mu         sync.Mutex
	generation LoadToken
	cancel     context.CancelFunc
}

// NewLoader creates a loader. prefetch may be nil.
func NewLoader(agg *Aggregator, meta Metadata, prefetch Prefetcher, log zerolog.Logger) *Loader {
	return &Loader{agg: agg, meta: meta, prefetch: prefetch, log: log}
}

func (l *Loader) begin(ctx context.Context) (context.Context, LoadToken, context.CancelFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
	l.generation++
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	return ctx, l.generation, cancel
}

// Current reports whether token belongs to the newest load.
func (l *Loader) Current(token LoadToken) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return token == l.generation
}

// Load fetches the active sprint of boardID and the user's time on each of
// its issues. Stage one (user, sprint, field, board order, issues) fails
// the load on any error. Stage two fetches worklogs one issue at a time;
// a failing issue is reported to the sink and skipped. Transitions are
// prefetched concurrently with stage two.
func (l *Loader) Load(ctx context.Context, boardID int, sink Sink) (*Grid, error) {
	if sink == nil {
		sink = NopSink{}
	}
	ctx, token, cancel := l.begin(ctx)
	defer cancel()

	log := l.log.With().Str("load_id", uuid.NewString()).Uint64("token", uint64(token)).Int("board", boardID).Logger()
	log.Debug().Msg("sprint load started")

	if l.prefetch != nil {
		l.prefetch.Reset()
	}

	grid, err := l.stageOne(ctx, boardID)
	if err != nil {
		if !l.Current(token) {
			return nil, ErrSuperseded
		}
		return nil, err
	}
	if !l.Current(token) {
		return nil, ErrSuperseded
	}
	grid.Token = token
	sink.SprintLoaded(token, grid)

	keys := make([]string, len(grid.Issues))
	for i, issue := range grid.Issues {
		keys[i] = issue.Key
	}
	prefetched := make(chan struct{})
	go func() {
		defer close(prefetched)
		if l.prefetch != nil {
			l.prefetch.Prefetch(ctx, keys)
		}
	}()
	defer func() { <-prefetched }()

	for _, key := range keys {
		days, err := l.agg.IssueWorklogs(ctx, key, grid.Sprint.StartKey, grid.Sprint.EndKey)
		if !l.Current(token) {
			return nil, ErrSuperseded
		}
		if err != nil {
			log.Warn().Err(err).Str("issue", key).Msg("issue worklogs failed")
			grid.Failed[key] = err
			sink.IssueFailed(token, key, err)
			continue
		}
		grid.Days[key] = days
		sink.IssueLoaded(token, key, days)
	}

	log.Info().
		Str("sprint", grid.Sprint.Name).
		Int("issues", len(grid.Issues)).
		Int("failed", len(grid.Failed)).
		Msg("sprint loaded")
	return grid, nil
}

func (l *Loader) stageOne(ctx context.Context, boardID int) (*Grid, error) {
	user, err := l.meta.UserContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	sprint, err := l.agg.ActiveSprint(ctx, boardID)
	if err != nil {
		return nil, err
	}
	order, err := l.meta.BoardStatusOrder(ctx, boardID)
	if err != nil {
		return nil, err
	}
	issues, err := l.agg.SprintIssues(ctx, sprint)
	if err != nil {
		return nil, err
	}
	if order == nil {
		order = []metadata.StatusRef{}
	}
	return &Grid{
		User:        user.DisplayName,
		Sprint:      sprint,
		Dates:       sprint.Dates(),
		Issues:      issues,
		StatusOrder: order,
		Days:        DayBucket{},
		Failed:      map[string]error{},
	}, nil
}

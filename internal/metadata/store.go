// Package metadata caches slow-changing Jira metadata for a session: the
// authenticated user, the story-points field id and board column order.
package metadata

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	jirahttp "github.com/nucleus/sprint-worklog/internal/connector/http"
	"github.com/nucleus/sprint-worklog/internal/connector/jira"
	"github.com/nucleus/sprint-worklog/internal/timeutil"
)

const (
	DefaultUserTTL  = 5 * time.Minute
	DefaultFieldTTL = 10 * time.Minute
	DefaultBoardTTL = 10 * time.Minute

	maxBoards = 64
)

// API is the slice of the Jira client the store reads from.
type API interface {
	Myself(ctx context.Context) (*jira.User, error)
	Fields(ctx context.Context) ([]*jira.Field, error)
	BoardConfiguration(ctx context.Context, boardID int) (*jira.BoardConfiguration, error)
}

// UserContext identifies the authenticated user and the zone their days
// are counted in.
type UserContext struct {
	AccountID   string
	DisplayName string
	TimeZone    string
	Location    *time.Location
}

// StatusRef is one status in board column order. ID may be empty.
type StatusRef struct {
	ID   string
	Name string
}

// Store is a session-scoped TTL cache. Concurrent refreshes of the same
// entry share one remote call.
type Store struct {
	api API
	log zerolog.Logger

	users  *expirable.LRU[string, *UserContext]
	fields *expirable.LRU[string, string]
	boards *expirable.LRU[int, []StatusRef]
	group  singleflight.Group
}

type options struct {
	userTTL, fieldTTL, boardTTL time.Duration
	log                         zerolog.Logger
}

// Option configures a Store.
type Option func(*options)

// WithTTLs overrides the cache lifetimes. Zero keeps the default.
func WithTTLs(user, field, board time.Duration) Option {
	return func(o *options) {
		if user > 0 {
			o.userTTL = user
		}
		if field > 0 {
			o.fieldTTL = field
		}
		if board > 0 {
			o.boardTTL = board
		}
	}
}

// WithLogger sets the logger used for refresh and degradation events.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

// NewStore creates an empty store.
func NewStore(api API, opts ...Option) *Store {
	o := options{
		userTTL:  DefaultUserTTL,
		fieldTTL: DefaultFieldTTL,
		boardTTL: DefaultBoardTTL,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store{
		api:    api,
		log:    o.log,
		users:  expirable.NewLRU[string, *UserContext](1, nil, o.userTTL),
		fields: expirable.NewLRU[string, string](1, nil, o.fieldTTL),
		boards: expirable.NewLRU[int, []StatusRef](maxBoards, nil, o.boardTTL),
	}
}

// UserContext returns the authenticated user. A user without a profile
// timezone is counted in the local zone.
func (s *Store) UserContext(ctx context.Context) (*UserContext, error) {
	if user, ok := s.users.Get("me"); ok {
		return user, nil
	}
	v, err := s.shared(ctx, "user", func(ctx context.Context) (any, error) {
		if user, ok := s.users.Get("me"); ok {
			return user, nil
		}
		me, err := s.api.Myself(ctx)
		if err != nil {
			return nil, err
		}
		user := &UserContext{
			AccountID:   me.AccountID,
			DisplayName: me.DisplayName,
			TimeZone:    me.TimeZone,
			Location:    timeutil.LoadLocation(me.TimeZone),
		}
		if user.TimeZone == "" {
			user.TimeZone = time.Local.String()
		}
		s.users.Add("me", user)
		s.log.Debug().Str("account_id", user.AccountID).Str("tz", user.TimeZone).Msg("user context refreshed")
		return user, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*UserContext), nil
}

// shared runs fetch once for all concurrent callers of key, on a context
// detached from any one caller's cancellation. Each caller still returns
// when its own ctx ends.
func (s *Store) shared(ctx context.Context, key string, fetch func(context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		return fetch(detached)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

// storyPointMatchers are tried in order; the first one matching any field
// wins.
var storyPointMatchers = []func(name string) bool{
	func(n string) bool { return n == "story point estimate" },
	func(n string) bool { return n == "story points" },
	func(n string) bool { return strings.Contains(n, "story point estimate") },
	func(n string) bool { return strings.Contains(n, "story points") },
	func(n string) bool { return strings.Contains(n, "story point") },
}

// MatchStoryPointsField picks the story-points field from a catalog, or ""
// when none looks like one.
func MatchStoryPointsField(fields []*jira.Field) string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.ToLower(f.Name)
	}
	for _, match := range storyPointMatchers {
		for i, name := range names {
			if match(name) {
				return fields[i].ID
			}
		}
	}
	return ""
}

// StoryPointsFieldID returns the tenant's story-points field id. An absent
// field is cached as "" like any other answer.
func (s *Store) StoryPointsFieldID(ctx context.Context) (string, error) {
	if id, ok := s.fields.Get("story-points"); ok {
		return id, nil
	}
	v, err := s.shared(ctx, "story-points", func(ctx context.Context) (any, error) {
		if id, ok := s.fields.Get("story-points"); ok {
			return id, nil
		}
		fields, err := s.api.Fields(ctx)
		if err != nil {
			return nil, err
		}
		id := MatchStoryPointsField(fields)
		s.fields.Add("story-points", id)
		s.log.Debug().Str("field_id", id).Msg("story points field refreshed")
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// BoardStatusOrder returns the board's statuses in column order. When the
// token lacks Jira Software scope the order degrades to empty; that result
// is not cached so a later call retries.
func (s *Store) BoardStatusOrder(ctx context.Context, boardID int) ([]StatusRef, error) {
	if order, ok := s.boards.Get(boardID); ok {
		return order, nil
	}
	v, err := s.shared(ctx, "board:"+strconv.Itoa(boardID), func(ctx context.Context) (any, error) {
		if order, ok := s.boards.Get(boardID); ok {
			return order, nil
		}
		cfg, err := s.api.BoardConfiguration(ctx, boardID)
		if err != nil {
			if jirahttp.IsScopeMismatch(err) {
				s.log.Warn().Err(err).Int("board_id", boardID).Msg("permission degraded: board status order unavailable")
				return []StatusRef{}, nil
			}
			return nil, err
		}
		order := flattenColumns(cfg)
		s.boards.Add(boardID, order)
		s.log.Debug().Int("board_id", boardID).Int("statuses", len(order)).Msg("board status order refreshed")
		return order, nil
	})
	if err != nil {
		return nil, fmt.Errorf("board %d status order: %w", boardID, err)
	}
	return v.([]StatusRef), nil
}

func flattenColumns(cfg *jira.BoardConfiguration) []StatusRef {
	order := []StatusRef{}
	seen := map[string]bool{}
	for _, column := range cfg.ColumnConfig.Columns {
		for _, status := range column.Statuses {
			if status == nil || (status.ID == "" && status.Name == "") {
				continue
			}
			key := "id:" + status.ID
			if status.ID == "" {
				key = "name:" + status.Name
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			order = append(order, StatusRef{ID: status.ID, Name: status.Name})
		}
	}
	return order
}

// Invalidate drops every cached entry.
func (s *Store) Invalidate() {
	s.users.Purge()
	s.fields.Purge()
	s.boards.Purge()
}

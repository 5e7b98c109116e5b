package metadata

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleus/sprint-worklog/internal/connector/jira"
	"github.com/nucleus/sprint-worklog/internal/jiratest"
)

type countingAPI struct {
	myself, fields, boards atomic.Int32

	user    *jira.User
	catalog []*jira.Field
	board   *jira.BoardConfiguration
	err     error
	gate    chan struct{}
}

func (a *countingAPI) Myself(ctx context.Context) (*jira.User, error) {
	a.myself.Add(1)
	if a.gate != nil {
		select {
		case <-a.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return a.user, a.err
}

func (a *countingAPI) Fields(ctx context.Context) ([]*jira.Field, error) {
	a.fields.Add(1)
	return a.catalog, a.err
}

func (a *countingAPI) BoardConfiguration(ctx context.Context, boardID int) (*jira.BoardConfiguration, error) {
	a.boards.Add(1)
	return a.board, a.err
}

func fieldsNamed(names ...string) []*jira.Field {
	out := make([]*jira.Field, len(names))
	for i, n := range names {
		out[i] = &jira.Field{ID: "f" + string(rune('0'+i)), Name: n}
	}
	return out
}

func TestMatchStoryPointsFieldPrecedence(t *testing.T) {
	tests := []struct {
		name   string
		fields []*jira.Field
		want   string
	}{
		{"exact estimate beats exact points", fieldsNamed("Story Points", "Story point estimate"), "f1"},
		{"exact points beats substring estimate", fieldsNamed("Legacy story point estimate", "story points"), "f1"},
		{"substring estimate beats substring points", fieldsNamed("Team story points", "Old Story Point Estimate (v1)"), "f1"},
		{"substring points beats substring point", fieldsNamed("story point size", "All story points"), "f1"},
		{"substring point", fieldsNamed("Summary", "Story point size"), "f1"},
		{"first field wins within a matcher", fieldsNamed("Story Points", "story points"), "f0"},
		{"none", fieldsNamed("Summary", "Sprint"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchStoryPointsField(tt.fields))
		})
	}
}

func TestUserContextCachedWithinTTL(t *testing.T) {
	api := &countingAPI{user: &jira.User{AccountID: "a1", DisplayName: "A", TimeZone: "Asia/Tokyo"}}
	store := NewStore(api)

	for i := 0; i < 3; i++ {
		user, err := store.UserContext(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "a1", user.AccountID)
		assert.Equal(t, "Asia/Tokyo", user.Location.String())
	}
	assert.Equal(t, int32(1), api.myself.Load())
}

func TestUserContextTimezoneFallback(t *testing.T) {
	api := &countingAPI{user: &jira.User{AccountID: "a1"}}
	user, err := NewStore(api).UserContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Local, user.Location)
	assert.Equal(t, time.Local.String(), user.TimeZone)
}

func TestEntriesExpireAfterTTL(t *testing.T) {
	api := &countingAPI{
		user:    &jira.User{AccountID: "a1"},
		catalog: fieldsNamed("Story Points"),
		board:   &jira.BoardConfiguration{},
	}
	ttl := 20 * time.Millisecond
	store := NewStore(api, WithTTLs(ttl, ttl, ttl))
	ctx := context.Background()

	_, err := store.UserContext(ctx)
	require.NoError(t, err)
	_, err = store.StoryPointsFieldID(ctx)
	require.NoError(t, err)
	_, err = store.BoardStatusOrder(ctx, 1)
	require.NoError(t, err)

	time.Sleep(3 * ttl)

	_, err = store.UserContext(ctx)
	require.NoError(t, err)
	_, err = store.StoryPointsFieldID(ctx)
	require.NoError(t, err)
	_, err = store.BoardStatusOrder(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, int32(2), api.myself.Load())
	assert.Equal(t, int32(2), api.fields.Load())
	assert.Equal(t, int32(2), api.boards.Load())
}

func TestConcurrentRefreshSharesOneCall(t *testing.T) {
	api := &countingAPI{user: &jira.User{AccountID: "a1"}, gate: make(chan struct{})}
	store := NewStore(api)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user, err := store.UserContext(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "a1", user.AccountID)
		}()
	}

	require.Eventually(t, func() bool { return api.myself.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(api.gate)
	wg.Wait()

	assert.Equal(t, int32(1), api.myself.Load())
}

func TestCancelledCallerDoesNotFailSharedRefresh(t *testing.T) {
	api := &countingAPI{user: &jira.User{AccountID: "a1"}, gate: make(chan struct{})}
	store := NewStore(api)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := store.UserContext(ctx)
		first <- err
	}()
	require.Eventually(t, func() bool { return api.myself.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan *UserContext, 1)
	go func() {
		user, err := store.UserContext(context.Background())
		assert.NoError(t, err)
		second <- user
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(api.gate)
	user := <-second
	require.NotNil(t, user)
	assert.Equal(t, "a1", user.AccountID)
	assert.Equal(t, int32(1), api.myself.Load())
}

func TestAbsentStoryPointsFieldIsCached(t *testing.T) {
	api := &countingAPI{catalog: fieldsNamed("Summary")}
	store := NewStore(api)

	for i := 0; i < 2; i++ {
		id, err := store.StoryPointsFieldID(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "", id)
	}
	assert.Equal(t, int32(1), api.fields.Load())
}

func TestErrorsAreNotCached(t *testing.T) {
	api := &countingAPI{err: errors.New("network down")}
	store := NewStore(api)

	_, err := store.UserContext(context.Background())
	require.Error(t, err)
	_, err = store.UserContext(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(2), api.myself.Load())
}

func TestBoardStatusOrderFromStub(t *testing.T) {
	stub := jiratest.NewStubServer()
	stub.AddBoard(3, []jira.BoardColumn{
		{Name: "To Do", Statuses: []*jira.ColumnStatus{{ID: "1", Name: "To Do"}, {ID: "2", Name: "Backlog"}}},
		{Name: "Doing", Statuses: []*jira.ColumnStatus{{ID: "3", Name: "In Progress"}, {ID: "1"}}},
		{Name: "Done", Statuses: []*jira.ColumnStatus{{Name: "Done"}, {Name: "Done"}}},
	})
	store := NewStore(stub.Client(t))

	order, err := store.BoardStatusOrder(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []StatusRef{
		{ID: "1", Name: "To Do"},
		{ID: "2", Name: "Backlog"},
		{ID: "3", Name: "In Progress"},
		{Name: "Done"},
	}, order)
}

func TestBoardStatusOrderDegradesOnScopeMismatch(t *testing.T) {
	stub := jiratest.NewStubServer()
	stub.AddBoard(3, nil)
	stub.DenyBoardScope(3)
	store := NewStore(stub.Client(t))

	for i := 0; i < 2; i++ {
		order, err := store.BoardStatusOrder(context.Background(), 3)
		require.NoError(t, err)
		assert.Empty(t, order)
	}
	assert.Equal(t, 2, stub.CountCalls("GET /rest/agile/1.0/board/3/configuration"))
}

func TestBoardStatusOrderPropagatesOtherErrors(t *testing.T) {
	stub := jiratest.NewStubServer()
	store := NewStore(stub.Client(t))

	_, err := store.BoardStatusOrder(context.Background(), 42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestInvalidate(t *testing.T) {
	api := &countingAPI{user: &jira.User{AccountID: "a1"}}
	store := NewStore(api)
	ctx := context.Background()

	_, err := store.UserContext(ctx)
	require.NoError(t, err)
	store.Invalidate()
	_, err = store.UserContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), api.myself.Load())
}

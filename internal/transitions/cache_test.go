package transitions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleus/sprint-worklog/internal/connector/jira"
	"github.com/nucleus/sprint-worklog/internal/jiratest"
)

type fakeAPI struct {
	mu       sync.Mutex
	calls    map[string]int
	active   int
	peak     int
	delay    time.Duration
	failKeys map[string]bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{calls: map[string]int{}, failKeys: map[string]bool{}}
}

func (f *fakeAPI) Transitions(ctx context.Context, issueKey string) ([]*jira.Transition, error) {
	f.mu.Lock()
	f.calls[issueKey]++
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	fail := f.failKeys[issueKey]
	f.mu.Unlock()

	var ctxErr error
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		ctxErr = ctx.Err()
	}

	f.mu.Lock()
	f.active--
	f.mu.Unlock()
	if ctxErr != nil {
		return nil, ctxErr
	}
	if fail {
		return nil, errors.New("boom")
	}
	return []*jira.Transition{{ID: "1", Name: "Start " + issueKey}}, nil
}

func (f *fakeAPI) DoTransition(ctx context.Context, issueKey, transitionID string) error {
	return nil
}

func (f *fakeAPI) IssueStatus(ctx context.Context, issueKey string) (*jira.Status, error) {
	return &jira.Status{Name: "In Progress"}, nil
}

func (f *fakeAPI) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func keys(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("ENG-%d", i+1)
	}
	return out
}

func TestGetMemoizes(t *testing.T) {
	api := newFakeAPI()
	cache := NewCache(api)

	for i := 0; i < 3; i++ {
		got, err := cache.Get(context.Background(), "ENG-1")
		require.NoError(t, err)
		require.Len(t, got, 1)
	}
	assert.Equal(t, 1, api.count("ENG-1"))
}

func TestConcurrentGetSharesOneRequest(t *testing.T) {
	api := newFakeAPI()
	api.delay = 20 * time.Millisecond
	cache := NewCache(api)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Get(context.Background(), "ENG-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, api.count("ENG-1"))
}

func TestCancelledCallerDoesNotFailJoinedGet(t *testing.T) {
	api := newFakeAPI()
	api.delay = 150 * time.Millisecond
	cache := NewCache(api)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := cache.Get(ctx, "ENG-1")
		first <- err
	}()
	require.Eventually(t, func() bool { return api.count("ENG-1") == 1 }, time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() {
		got, err := cache.Get(context.Background(), "ENG-1")
		if err == nil {
			assert.Equal(t, "Start ENG-1", got[0].Name)
		}
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)
	require.NoError(t, <-second)
	assert.Equal(t, 1, api.count("ENG-1"))
	assert.True(t, cache.Cached("ENG-1"))
}

func TestPrefetchIsBoundedAndWarmsEveryKey(t *testing.T) {
	api := newFakeAPI()
	api.delay = 5 * time.Millisecond
	cache := NewCache(api)

	cache.Prefetch(context.Background(), keys(12))

	assert.LessOrEqual(t, api.peak, DefaultWorkers)
	assert.Greater(t, api.peak, 0)
	for _, key := range keys(12) {
		assert.True(t, cache.Cached(key), key)
		assert.Equal(t, 1, api.count(key), key)
	}
}

func TestPrefetchSkipsCachedAndIgnoresFailures(t *testing.T) {
	api := newFakeAPI()
	api.failKeys["ENG-2"] = true
	cache := NewCache(api)

	_, err := cache.Get(context.Background(), "ENG-1")
	require.NoError(t, err)

	cache.Prefetch(context.Background(), []string{"ENG-1", "ENG-2", "", "ENG-3"})

	assert.Equal(t, 1, api.count("ENG-1"))
	assert.Equal(t, 1, api.count("ENG-2"))
	assert.False(t, cache.Cached("ENG-2"))
	assert.True(t, cache.Cached("ENG-3"))

	_, err = cache.Get(context.Background(), "ENG-2")
	assert.Error(t, err)
}

func TestResetClearsMemo(t *testing.T) {
	api := newFakeAPI()
	cache := NewCache(api)

	_, err := cache.Get(context.Background(), "ENG-1")
	require.NoError(t, err)
	cache.Reset()
	assert.False(t, cache.Cached("ENG-1"))

	_, err = cache.Get(context.Background(), "ENG-1")
	require.NoError(t, err)
	assert.Equal(t, 2, api.count("ENG-1"))
}

func TestApplyAgainstStub(t *testing.T) {
	stub := jiratest.NewStubServer()
	stub.AddIssue(jiratest.StubIssue{Key: "ENG-1", Status: "To Do", StatusColor: "blue-gray"})
	stub.SetTransitions("ENG-1", &jira.Transition{
		ID: "21", Name: "Start",
		To: &jira.Status{ID: "3", Name: "In Progress", StatusCategory: &jira.StatusCategory{ColorName: "yellow"}},
	})
	cache := NewCache(stub.Client(t))
	ctx := context.Background()

	_, err := cache.Get(ctx, "ENG-1")
	require.NoError(t, err)

	applied, err := cache.Apply(ctx, "ENG-1", "21")
	require.NoError(t, err)
	assert.Equal(t, &Applied{Status: "In Progress", StatusColor: "yellow"}, applied)
	assert.False(t, cache.Cached("ENG-1"))
	assert.Equal(t, 1, stub.CountCalls("POST /rest/api/3/issue/ENG-1/transitions"))

	_, err = cache.Apply(ctx, "ENG-1", "999")
	assert.Error(t, err)

	_, err = cache.Apply(ctx, "ENG-1", "")
	assert.ErrorIs(t, err, jira.ErrInvalidInput)
}

// Package jiratest hosts an in-memory Jira Cloud for tests. It serves the
// subset of the REST surface the worklog engine uses and keeps worklogs,
// statuses and issue edits in memory so tests can assert on remote state.
package jiratest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nucleus/sprint-worklog/internal/connector/jira"
)

// StubServer hosts an in-memory Jira API for tests (no network listeners).
type StubServer struct {
	mu sync.Mutex

	Me     jira.User
	Fields []jira.Field

	boards      map[int]*stubBoard
	issues      []*StubIssue
	worklogs    map[string][]*jira.Worklog
	transitions map[string][]*jira.Transition
	failures    map[string]stubFailure
	nextID      int
	calls       []string
	inflight    int
	maxInflight int

	// PageCap caps maxResults on paged listings, like Jira does.
	PageCap int

	// OnWorklogMutation runs before a worklog PUT/DELETE is applied.
	OnWorklogMutation func(method, issueKey, worklogID string)

	// Hold, when set, runs while a request is counted as in flight.
	Hold func(path string)

	handler   http.Handler
	transport http.RoundTripper
	baseURL   string
}

// StubIssue is an issue as the stub stores it.
type StubIssue struct {
	Key         string
	Summary     string
	Status      string
	StatusID    string
	StatusColor string
	Labels      []string
	Points      any
	Subtask     bool
	ParentKey   string
	SprintID    int
	Assignee    string

	// Updated collects fields written through PUT /issue/{key}.
	Updated map[string]any
}

type stubBoard struct {
	config  jira.BoardConfiguration
	sprints []*jira.Sprint
	// scopeMismatch makes the configuration endpoint answer like a token
	// without Jira Software scopes.
	scopeMismatch bool
}

type stubFailure struct {
	status int
	body   string
}

// StoryPointsFieldID is the custom field the default catalog resolves to.
const StoryPointsFieldID = "customfield_10016"

// NewStubServer constructs a deterministic stub without binding to a port.
func NewStubServer() *StubServer {
	s := &StubServer{
		Me: jira.User{
			AccountID:   "acc-me",
			DisplayName: "Dana Developer",
			TimeZone:    "Europe/Berlin",
			Active:      true,
		},
		Fields: []jira.Field{
			{ID: "summary", Name: "Summary"},
			{ID: "customfield_10020", Name: "Sprint", Custom: true},
			{ID: StoryPointsFieldID, Name: "Story point estimate", Custom: true},
		},
		boards:      map[int]*stubBoard{},
		worklogs:    map[string][]*jira.Worklog{},
		transitions: map[string][]*jira.Transition{},
		failures:    map[string]stubFailure{},
		nextID:      10000,
		PageCap:     100,
		baseURL:     "http://stub.jira.local",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	s.handler = mux
	s.transport = &stubRoundTripper{handler: mux}
	return s
}

// URL returns the stub base URL (no network listener is used).
func (s *StubServer) URL() string {
	return s.baseURL
}

// Transport returns a RoundTripper that serves requests in-process.
func (s *StubServer) Transport() http.RoundTripper {
	return s.transport
}

// NewServer starts a real listener for tests that need one.
func (s *StubServer) NewServer() *httptest.Server {
	return httptest.NewServer(s.handler)
}

// =============================================================================
// SEEDING
// =============================================================================

// AddBoard registers a board with its columns and sprints.
func (s *StubServer) AddBoard(id int, columns []jira.BoardColumn, sprints ...*jira.Sprint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boards[id] = &stubBoard{
		config:  jira.BoardConfiguration{ID: id, Name: fmt.Sprintf("Board %d", id), ColumnConfig: jira.ColumnConfig{Columns: columns}},
		sprints: sprints,
	}
}

// DenyBoardScope makes the board configuration endpoint fail with a
// scope-mismatch 401.
func (s *StubServer) DenyBoardScope(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.boards[id]; ok {
		b.scopeMismatch = true
	}
}

// AddIssue adds an issue. Assignee defaults to the current user.
func (s *StubServer) AddIssue(issue StubIssue) *StubIssue {
	s.mu.Lock()
	defer s.mu.Unlock()
	if issue.Assignee == "" {
		issue.Assignee = s.Me.AccountID
	}
	if issue.Updated == nil {
		issue.Updated = map[string]any{}
	}
	stored := issue
	s.issues = append(s.issues, &stored)
	return &stored
}

// AddWorklog seeds a worklog and returns its id.
func (s *StubServer) AddWorklog(issueKey, authorID, started string, seconds int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addWorklogLocked(issueKey, authorID, started, seconds)
}

func (s *StubServer) addWorklogLocked(issueKey, authorID, started string, seconds int) string {
	s.nextID++
	id := strconv.Itoa(s.nextID)
	s.worklogs[issueKey] = append(s.worklogs[issueKey], &jira.Worklog{
		ID:               id,
		Author:           &jira.User{AccountID: authorID},
		Started:          started,
		TimeSpentSeconds: seconds,
	})
	return id
}

// SetTransitions sets the transitions offered for an issue.
func (s *StubServer) SetTransitions(issueKey string, transitions ...*jira.Transition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions[issueKey] = transitions
}

// FailPath makes every request whose path equals path fail with status.
func (s *StubServer) FailPath(path string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = stubFailure{status: status, body: body}
}

// =============================================================================
// INSPECTION
// =============================================================================

// Worklogs returns a copy of the stored worklogs of an issue.
func (s *StubServer) Worklogs(issueKey string) []jira.Worklog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]jira.Worklog, 0, len(s.worklogs[issueKey]))
	for _, w := range s.worklogs[issueKey] {
		out = append(out, *w)
	}
	return out
}

// Issue returns the stored issue.
func (s *StubServer) Issue(key string) *StubIssue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findIssueLocked(key)
}

// Calls returns "METHOD path" for every request served so far.
func (s *StubServer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// CountCalls counts served requests starting with prefix ("GET /rest/...").
func (s *StubServer) CountCalls(prefix string) int {
	n := 0
	for _, c := range s.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// MaxInflight returns the highest number of concurrently served requests.
func (s *StubServer) MaxInflight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInflight
}

// =============================================================================
// ROUTING
// =============================================================================

var (
	boardPath      = regexp.MustCompile(`^/rest/agile/1\.0/board/(\d+)/(configuration|sprint)$`)
	worklogPath    = regexp.MustCompile(`^/rest/api/3/issue/([^/]+)/worklog(?:/([^/]+))?$`)
	transitionPath = regexp.MustCompile(`^/rest/api/3/issue/([^/]+)/transitions$`)
	issuePath      = regexp.MustCompile(`^/rest/api/3/issue/([^/]+)$`)
	sprintClause   = regexp.MustCompile(`sprint\s*=\s*(\d+)`)
)

func (s *StubServer) handle(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	s.mu.Lock()
	s.calls = append(s.calls, r.Method+" "+path)
	s.inflight++
	if s.inflight > s.maxInflight {
		s.maxInflight = s.inflight
	}
	failure, failing := s.failures[path]
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
	}()

	if s.Hold != nil {
		s.Hold(path)
	}

	if !strings.HasPrefix(r.Header.Get("Authorization"), "Basic ") {
		writeError(w, http.StatusUnauthorized, "Client must be authenticated to access this resource.")
		return
	}
	if failing {
		writeError(w, failure.status, failure.body)
		return
	}

	switch {
	case path == "/rest/api/3/myself":
		s.mu.Lock()
		me := s.Me
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, me)
	case path == "/rest/api/3/field":
		s.mu.Lock()
		fields := s.Fields
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, fields)
	case path == "/rest/api/3/search/jql":
		s.handleSearch(w, r)
	case path == "/rest/api/3/issue" && r.Method == http.MethodPost:
		s.handleCreateIssue(w, r)
	case boardPath.MatchString(path):
		m := boardPath.FindStringSubmatch(path)
		id, _ := strconv.Atoi(m[1])
		s.handleBoard(w, r, id, m[2])
	case worklogPath.MatchString(path):
		m := worklogPath.FindStringSubmatch(path)
		s.handleWorklog(w, r, m[1], m[2])
	case transitionPath.MatchString(path):
		m := transitionPath.FindStringSubmatch(path)
		s.handleTransitions(w, r, m[1])
	case issuePath.MatchString(path):
		m := issuePath.FindStringSubmatch(path)
		s.handleIssue(w, r, m[1])
	default:
		writeError(w, http.StatusNotFound, "no route for "+path)
	}
}

func (s *StubServer) handleBoard(w http.ResponseWriter, r *http.Request, id int, what string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	board, ok := s.boards[id]
	if !ok {
		writeError(w, http.StatusNotFound, "Board does not exist or you do not have permission to see it.")
		return
	}

	switch what {
	case "configuration":
		if board.scopeMismatch {
			writeError(w, http.StatusUnauthorized, `{"code":401,"message":"Unauthorized; scope does not match"}`)
			return
		}
		writeJSON(w, http.StatusOK, board.config)
	case "sprint":
		state := r.URL.Query().Get("state")
		values := make([]*jira.Sprint, 0, len(board.sprints))
		for _, sp := range board.sprints {
			if state == "" || sp.State == state {
				values = append(values, sp)
			}
		}
		writeJSON(w, http.StatusOK, jira.SprintsResponse{MaxResults: 50, IsLast: true, Values: values})
	}
}

func (s *StubServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	jql := q.Get("jql")
	startAt, maxResults := s.pageParams(q)

	s.mu.Lock()
	defer s.mu.Unlock()

	sprintID := -1
	if m := sprintClause.FindStringSubmatch(jql); m != nil {
		sprintID, _ = strconv.Atoi(m[1])
	}
	mine := strings.Contains(jql, "currentUser()")

	matched := make([]*StubIssue, 0, len(s.issues))
	for _, issue := range s.issues {
		if sprintID >= 0 && issue.SprintID != sprintID {
			continue
		}
		if mine && issue.Assignee != s.Me.AccountID {
			continue
		}
		matched = append(matched, issue)
	}
	sort.SliceStable(matched, func(i, j int) bool { return issueLess(matched[i].Key, matched[j].Key) })

	page := make([]map[string]any, 0, maxResults)
	for i := startAt; i < len(matched) && i < startAt+maxResults; i++ {
		page = append(page, renderIssue(matched[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"startAt":    startAt,
		"maxResults": maxResults,
		"total":      len(matched),
		"issues":     page,
	})
}

func (s *StubServer) handleWorklog(w http.ResponseWriter, r *http.Request, issueKey, worklogID string) {
	if worklogID == "" {
		switch r.Method {
		case http.MethodGet:
			startAt, maxResults := s.pageParams(r.URL.Query())
			s.mu.Lock()
			all := s.worklogs[issueKey]
			page := make([]*jira.Worklog, 0, maxResults)
			for i := startAt; i < len(all) && i < startAt+maxResults; i++ {
				wl := *all[i]
				page = append(page, &wl)
			}
			total := len(all)
			s.mu.Unlock()
			writeJSON(w, http.StatusOK, map[string]any{
				"startAt":    startAt,
				"maxResults": maxResults,
				"total":      total,
				"worklogs":   page,
			})
		case http.MethodPost:
			var body struct {
				Started          string `json:"started"`
				TimeSpentSeconds int    `json:"timeSpentSeconds"`
			}
			if err := decodeBody(r, &body); err != nil || body.TimeSpentSeconds <= 0 || body.Started == "" {
				writeError(w, http.StatusBadRequest, "Worklog must not be null.")
				return
			}
			s.mu.Lock()
			me := s.Me.AccountID
			id := s.addWorklogLocked(issueKey, me, body.Started, body.TimeSpentSeconds)
			s.mu.Unlock()
			writeJSON(w, http.StatusCreated, jira.Worklog{
				ID: id, Author: &jira.User{AccountID: me},
				Started: body.Started, TimeSpentSeconds: body.TimeSpentSeconds,
			})
		default:
			writeError(w, http.StatusMethodNotAllowed, r.Method)
		}
		return
	}

	if s.OnWorklogMutation != nil {
		s.OnWorklogMutation(r.Method, issueKey, worklogID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.worklogs[issueKey]
	idx := -1
	for i, wl := range list {
		if wl.ID == worklogID {
			idx = i
			break
		}
	}
	if idx < 0 {
		writeError(w, http.StatusNotFound, "Cannot find worklog with id: "+worklogID)
		return
	}

	switch r.Method {
	case http.MethodPut:
		var body struct {
			Started          string `json:"started"`
			TimeSpentSeconds int    `json:"timeSpentSeconds"`
		}
		if err := decodeBody(r, &body); err != nil || body.TimeSpentSeconds <= 0 {
			writeError(w, http.StatusBadRequest, "Time spent must be positive.")
			return
		}
		list[idx].TimeSpentSeconds = body.TimeSpentSeconds
		if body.Started != "" {
			list[idx].Started = body.Started
		}
		writeJSON(w, http.StatusOK, list[idx])
	case http.MethodDelete:
		s.worklogs[issueKey] = append(list[:idx:idx], list[idx+1:]...)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, r.Method)
	}
}

func (s *StubServer) handleTransitions(w http.ResponseWriter, r *http.Request, issueKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	issue := s.findIssueLocked(issueKey)
	if issue == nil {
		writeError(w, http.StatusNotFound, "Issue does not exist or you do not have permission to see it.")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, jira.TransitionsResponse{Transitions: s.transitions[issueKey]})
	case http.MethodPost:
		var body struct {
			Transition struct {
				ID string `json:"id"`
			} `json:"transition"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		for _, t := range s.transitions[issueKey] {
			if t.ID == body.Transition.ID {
				if t.To != nil {
					issue.Status = t.To.Name
					issue.StatusID = t.To.ID
					issue.StatusColor = t.To.Color()
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		writeError(w, http.StatusBadRequest, "Transition id '"+body.Transition.ID+"' is not valid for this issue.")
	default:
		writeError(w, http.StatusMethodNotAllowed, r.Method)
	}
}

func (s *StubServer) handleIssue(w http.ResponseWriter, r *http.Request, issueKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	issue := s.findIssueLocked(issueKey)
	if issue == nil {
		writeError(w, http.StatusNotFound, "Issue does not exist or you do not have permission to see it.")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, renderIssue(issue))
	case http.MethodPut:
		var body struct {
			Fields map[string]any `json:"fields"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		for k, v := range body.Fields {
			issue.Updated[k] = v
			switch k {
			case "summary":
				issue.Summary, _ = v.(string)
			case StoryPointsFieldID:
				issue.Points = v
			}
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, r.Method)
	}
}

func (s *StubServer) handleCreateIssue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Fields struct {
			Summary string `json:"summary"`
			Parent  struct {
				Key string `json:"key"`
			} `json:"parent"`
			Project struct {
				Key string `json:"key"`
			} `json:"project"`
		} `json:"fields"`
	}
	if err := decodeBody(r, &body); err != nil || body.Fields.Summary == "" {
		writeError(w, http.StatusBadRequest, `{"errors":{"summary":"You must specify a summary of the issue."}}`)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent := s.findIssueLocked(body.Fields.Parent.Key)
	sprintID := 0
	if parent != nil {
		sprintID = parent.SprintID
	}
	s.nextID++
	key := fmt.Sprintf("%s-%d", body.Fields.Project.Key, s.nextID)
	s.issues = append(s.issues, &StubIssue{
		Key: key, Summary: body.Fields.Summary, Status: "To Do", StatusColor: "blue-gray",
		Subtask: true, ParentKey: body.Fields.Parent.Key, SprintID: sprintID,
		Assignee: s.Me.AccountID, Updated: map[string]any{},
	})
	writeJSON(w, http.StatusCreated, jira.CreatedIssue{ID: strconv.Itoa(s.nextID), Key: key, Self: s.baseURL + "/rest/api/3/issue/" + key})
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *StubServer) findIssueLocked(key string) *StubIssue {
	for _, issue := range s.issues {
		if issue.Key == key {
			return issue
		}
	}
	return nil
}

func (s *StubServer) pageParams(q map[string][]string) (int, int) {
	get := func(k string) string {
		if v := q[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	startAt, _ := strconv.Atoi(get("startAt"))
	maxResults, err := strconv.Atoi(get("maxResults"))
	if err != nil || maxResults <= 0 {
		maxResults = 50
	}
	if s.PageCap > 0 && maxResults > s.PageCap {
		maxResults = s.PageCap
	}
	return startAt, maxResults
}

func renderIssue(issue *StubIssue) map[string]any {
	color := issue.StatusColor
	if color == "" {
		color = jira.DefaultStatusColor
	}
	fields := map[string]any{
		"summary": issue.Summary,
		"status": map[string]any{
			"id":             issue.StatusID,
			"name":           issue.Status,
			"statusCategory": map[string]any{"colorName": color},
		},
		"issuetype": map[string]any{"name": map[bool]string{true: "Sub-task", false: "Task"}[issue.Subtask], "subtask": issue.Subtask},
		"labels":    issue.Labels,
	}
	if issue.ParentKey != "" {
		fields["parent"] = map[string]any{"key": issue.ParentKey}
	}
	fields[StoryPointsFieldID] = issue.Points
	return map[string]any{"id": issue.Key, "key": issue.Key, "fields": fields}
}

// issueLess orders keys like Jira's ORDER BY key: project, then number.
func issueLess(a, b string) bool {
	pa, na := splitKey(a)
	pb, nb := splitKey(b)
	if pa != pb {
		return pa < pb
	}
	return na < nb
}

func splitKey(key string) (string, int) {
	i := strings.LastIndex(key, "-")
	if i < 0 {
		return key, 0
	}
	n, _ := strconv.Atoi(key[i+1:])
	return key[:i], n
}

func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

type stubRoundTripper struct {
	handler http.Handler
}

func (rt *stubRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rr := httptest.NewRecorder()
	rt.handler.ServeHTTP(rr, req)
	res := rr.Result()
	res.Request = req
	return res, nil
}

// Client returns a Jira client wired to the stub transport.
func (s *StubServer) Client(t testing.TB) *jira.Jira {
	t.Helper()
	client, err := jira.New(&jira.Config{
		BaseURL:   s.baseURL,
		Email:     "dana@example.com",
		APIToken:  "token",
		RateLimit: 1000,
	}, zerolog.Nop(), jira.WithTransport(s.transport))
	if err != nil {
		t.Fatalf("jira client: %v", err)
	}
	return client
}

package jira

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	jirahttp "github.com/nucleus/sprint-worklog/internal/connector/http"
)

// =============================================================================
// JIRA CLIENT
// =============================================================================

// Jira is the Jira Cloud REST client. It is immutable for the session;
// logging out means dropping it and building a new one.
type Jira struct {
	Client *jirahttp.Client
	config *Config
}

// Option customizes the underlying HTTP client.
type Option func(*jirahttp.ClientConfig)

// WithTransport injects a custom round tripper (tests, proxies).
func WithTransport(rt http.RoundTripper) Option {
	return func(c *jirahttp.ClientConfig) { c.Transport = rt }
}

// New creates a new Jira client with the given configuration.
func New(config *Config, log zerolog.Logger, opts ...Option) (*Jira, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	httpConfig := jirahttp.DefaultClientConfig()
	httpConfig.BaseURL = config.BaseURL
	httpConfig.Auth = jirahttp.BasicAuth{
		Email:    config.Email,
		APIToken: config.APIToken,
	}
	httpConfig.Logger = log
	if config.Timeout > 0 {
		httpConfig.Timeout = config.Timeout
	}
	if config.RateLimit > 0 {
		httpConfig.RateLimit = config.RateLimit
	}
	httpConfig.MaxRetries = config.MaxRetries
	for _, opt := range opts {
		opt(httpConfig)
	}

	return &Jira{
		Client: jirahttp.NewClient(httpConfig),
		config: config,
	}, nil
}

// SiteURL returns the normalized site URL.
func (j *Jira) SiteURL() string {
	return j.config.BaseURL
}

// FetchSize returns the configured page size.
func (j *Jira) FetchSize() int {
	return j.config.FetchSize
}

// =============================================================================
// IDENTITY & METADATA
// =============================================================================

// Myself returns the authenticated user.
func (j *Jira) Myself(ctx context.Context) (*User, error) {
	var user User
	if err := j.Client.GetJSON(ctx, "/rest/api/3/myself", nil, &user); err != nil {
		return nil, fmt.Errorf("fetch current user: %w", err)
	}
	return &user, nil
}

// Fields returns the full field catalog.
func (j *Jira) Fields(ctx context.Context) ([]*Field, error) {
	var fields []*Field
	if err := j.Client.GetJSON(ctx, "/rest/api/3/field", nil, &fields); err != nil {
		return nil, fmt.Errorf("fetch fields: %w", err)
	}
	return fields, nil
}

// =============================================================================
// AGILE
// =============================================================================

// BoardConfiguration returns the column layout of a board.
func (j *Jira) BoardConfiguration(ctx context.Context, boardID int) (*BoardConfiguration, error) {
	var cfg BoardConfiguration
	path := fmt.Sprintf("/rest/agile/1.0/board/%d/configuration", boardID)
	if err := j.Client.GetJSON(ctx, path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("fetch board %d configuration: %w", boardID, err)
	}
	return &cfg, nil
}

// ActiveSprints returns the active sprints of a board.
func (j *Jira) ActiveSprints(ctx context.Context, boardID int) ([]*Sprint, error) {
	var resp SprintsResponse
	path := fmt.Sprintf("/rest/agile/1.0/board/%d/sprint", boardID)
	if err := j.Client.GetJSON(ctx, path, url.Values{"state": {"active"}}, &resp); err != nil {
		return nil, fmt.Errorf("fetch active sprints for board %d: %w", boardID, err)
	}
	return resp.Values, nil
}

// =============================================================================
// SEARCH
// =============================================================================

// SearchIssues returns a lazy iterator over a JQL search.
func (j *Jira) SearchIssues(jql string, fields []string) *jirahttp.PageIterator[*Issue] {
	query := url.Values{}
	query.Set("jql", jql)
	if len(fields) > 0 {
		query.Set("fields", strings.Join(fields, ","))
	}
	paginator := jirahttp.NewOffsetPaginator("/rest/api/3/search/jql", query, j.config.FetchSize)
	return jirahttp.NewPageIterator(j.Client, paginator, jirahttp.DecodeEnvelope[*Issue]("issues"))
}

// =============================================================================
// WORKLOGS
// =============================================================================

func worklogPath(issueKey string) string {
	return "/rest/api/3/issue/" + url.PathEscape(issueKey) + "/worklog"
}

// Worklogs returns a lazy iterator over an issue's worklogs.
func (j *Jira) Worklogs(issueKey string) *jirahttp.PageIterator[*Worklog] {
	paginator := jirahttp.NewOffsetPaginator(worklogPath(issueKey), nil, j.config.FetchSize)
	return jirahttp.NewPageIterator(j.Client, paginator, jirahttp.DecodeEnvelope[*Worklog]("worklogs"))
}

// AllWorklogs fetches every worklog of an issue.
func (j *Jira) AllWorklogs(ctx context.Context, issueKey string) ([]*Worklog, error) {
	worklogs, err := jirahttp.CollectAll(ctx, j.Worklogs(issueKey))
	if err != nil {
		return nil, fmt.Errorf("fetch worklogs %s: %w", issueKey, err)
	}
	return worklogs, nil
}

var quietQuery = url.Values{"notifyUsers": {"false"}}

// AddWorklog creates a worklog entry.
func (j *Jira) AddWorklog(ctx context.Context, issueKey, started string, seconds int) (*Worklog, error) {
	payload := map[string]any{
		"timeSpentSeconds": seconds,
		"started":          started,
	}
	resp, err := j.Client.Post(ctx, worklogPath(issueKey), quietQuery, payload)
	if err != nil {
		return nil, fmt.Errorf("add worklog %s: %w", issueKey, err)
	}
	var created Worklog
	if err := resp.JSON(&created); err != nil {
		return nil, fmt.Errorf("parse created worklog: %w", err)
	}
	return &created, nil
}

// UpdateWorklog changes the duration of an existing worklog, keeping its start.
func (j *Jira) UpdateWorklog(ctx context.Context, issueKey, worklogID, started string, seconds int) error {
	payload := map[string]any{
		"timeSpentSeconds": seconds,
		"started":          started,
	}
	path := worklogPath(issueKey) + "/" + url.PathEscape(worklogID)
	if _, err := j.Client.Put(ctx, path, quietQuery, payload); err != nil {
		return fmt.Errorf("update worklog %s/%s: %w", issueKey, worklogID, err)
	}
	return nil
}

// DeleteWorklog removes a worklog.
func (j *Jira) DeleteWorklog(ctx context.Context, issueKey, worklogID string) error {
	path := worklogPath(issueKey) + "/" + url.PathEscape(worklogID)
	if _, err := j.Client.Delete(ctx, path, quietQuery); err != nil {
		return fmt.Errorf("delete worklog %s/%s: %w", issueKey, worklogID, err)
	}
	return nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func issuePath(issueKey string) string {
	return "/rest/api/3/issue/" + url.PathEscape(issueKey)
}

// Transitions returns the transitions currently allowed for an issue.
func (j *Jira) Transitions(ctx context.Context, issueKey string) ([]*Transition, error) {
	var resp TransitionsResponse
	if err := j.Client.GetJSON(ctx, issuePath(issueKey)+"/transitions", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch transitions %s: %w", issueKey, err)
	}
	return resp.Transitions, nil
}

// DoTransition applies a workflow transition.
func (j *Jira) DoTransition(ctx context.Context, issueKey, transitionID string) error {
	payload := map[string]any{
		"transition": map[string]any{
			"id": transitionID,
		},
	}
	if _, err := j.Client.Post(ctx, issuePath(issueKey)+"/transitions", nil, payload); err != nil {
		return fmt.Errorf("transition %s: %w", issueKey, err)
	}
	return nil
}

// IssueStatus reads back the current status of an issue.
func (j *Jira) IssueStatus(ctx context.Context, issueKey string) (*Status, error) {
	var issue Issue
	if err := j.Client.GetJSON(ctx, issuePath(issueKey), url.Values{"fields": {"status"}}, &issue); err != nil {
		return nil, fmt.Errorf("fetch status %s: %w", issueKey, err)
	}
	return issue.Fields.Status, nil
}

// =============================================================================
// ISSUE EDITS
// =============================================================================

// UpdateFields sets issue fields.
func (j *Jira) UpdateFields(ctx context.Context, issueKey string, fields map[string]any) error {
	if len(fields) == 0 {
		return fmt.Errorf("update %s: no fields: %w", issueKey, ErrInvalidInput)
	}
	if _, err := j.Client.Put(ctx, issuePath(issueKey), nil, map[string]any{"fields": fields}); err != nil {
		return fmt.Errorf("update issue %s: %w", issueKey, err)
	}
	return nil
}

// CreateIssue creates an issue from raw fields.
func (j *Jira) CreateIssue(ctx context.Context, fields map[string]any) (*CreatedIssue, error) {
	resp, err := j.Client.Post(ctx, "/rest/api/3/issue", nil, map[string]any{"fields": fields})
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	var created CreatedIssue
	if err := resp.JSON(&created); err != nil {
		return nil, fmt.Errorf("parse created issue: %w", err)
	}
	return &created, nil
}

// ProjectKey returns the project part of an issue key ("ENG-12" → "ENG").
func ProjectKey(issueKey string) string {
	if i := strings.LastIndex(issueKey, "-"); i > 0 {
		if _, err := strconv.Atoi(issueKey[i+1:]); err == nil {
			return issueKey[:i]
		}
	}
	return ""
}

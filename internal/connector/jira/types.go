package jira

import (
	"encoding/json"
	"strings"
	"time"
)

// Config holds Jira connection configuration.
type Config struct {
	// BaseURL is the Jira site URL (e.g., https://yoursite.atlassian.net)
	BaseURL string `json:"baseUrl"`

	// Email is the user's email for authentication
	Email string `json:"email"`

	// APIToken is the Atlassian API token
	APIToken string `json:"apiToken"`

	// FetchSize is the number of records per API request
	FetchSize int `json:"fetchSize,omitempty"`

	// Timeout per request; zero uses the client default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// RateLimit in requests per second; zero uses the client default.
	RateLimit float64 `json:"rateLimit,omitempty"`

	// MaxRetries for 429/5xx; zero disables retries.
	MaxRetries int `json:"maxRetries,omitempty"`
}

// DefaultFetchSize is the default number of records per request.
const DefaultFetchSize = 100

// MaxFetchSize is the Jira API hard limit.
const MaxFetchSize = 100

// NormalizeSiteURL trims whitespace and a trailing slash.
func NormalizeSiteURL(siteURL string) string {
	return strings.TrimSuffix(strings.TrimSpace(siteURL), "/")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	c.BaseURL = NormalizeSiteURL(c.BaseURL)
	if c.BaseURL == "" {
		return &ValidationError{Field: "baseUrl", Message: "required"}
	}
	if c.Email == "" {
		return &ValidationError{Field: "email", Message: "required"}
	}
	if c.APIToken == "" {
		return &ValidationError{Field: "apiToken", Message: "required"}
	}
	lower := strings.ToLower(c.BaseURL)
	if !strings.HasPrefix(lower, "https://") && !strings.HasPrefix(lower, "http://") {
		return &ValidationError{Field: "baseUrl", Message: "must start with https://"}
	}
	if c.FetchSize <= 0 {
		c.FetchSize = DefaultFetchSize
	}
	// Jira API has hard limit of 100
	if c.FetchSize > MaxFetchSize {
		c.FetchSize = MaxFetchSize
	}
	return nil
}

// =============================================================================
// JIRA API RESPONSE TYPES
// =============================================================================

// User represents a Jira user.
type User struct {
	AccountID    string `json:"accountId"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress,omitempty"`
	Active       bool   `json:"active"`
	TimeZone     string `json:"timeZone,omitempty"`
}

// Field is one entry of the field catalog.
type Field struct {
	ID     string `json:"id"`
	Key    string `json:"key,omitempty"`
	Name   string `json:"name"`
	Custom bool   `json:"custom"`
}

// BoardConfiguration is the agile board layout.
type BoardConfiguration struct {
	ID           int          `json:"id"`
	Name         string       `json:"name"`
	ColumnConfig ColumnConfig `json:"columnConfig"`
}

// ColumnConfig lists board columns left to right.
type ColumnConfig struct {
	Columns []BoardColumn `json:"columns"`
}

// BoardColumn is one board column and the statuses mapped into it.
type BoardColumn struct {
	Name     string         `json:"name"`
	Statuses []*ColumnStatus `json:"statuses"`
}

// ColumnStatus references a status from a board column.
type ColumnStatus struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Sprint represents an agile sprint. Dates are ISO-8601 instants.
type Sprint struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	State        string `json:"state"`
	StartDate    string `json:"startDate,omitempty"`
	EndDate      string `json:"endDate,omitempty"`
	CompleteDate string `json:"completeDate,omitempty"`
}

// Issue represents a Jira issue.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Self   string      `json:"self,omitempty"`
	Fields IssueFields `json:"fields"`
}

// IssueFields contains issue field values. Fields not modelled here,
// including tenant-specific custom fields, are kept in Extra.
type IssueFields struct {
	Summary   string     `json:"summary"`
	Status    *Status    `json:"status,omitempty"`
	IssueType *IssueType `json:"issuetype,omitempty"`
	Parent    *Parent    `json:"parent,omitempty"`
	Labels    []string   `json:"labels,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the known fields and keeps the rest in Extra.
func (f *IssueFields) UnmarshalJSON(data []byte) error {
	type known IssueFields
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, name := range []string{"summary", "status", "issuetype", "parent", "labels"} {
		delete(raw, name)
	}
	*f = IssueFields(k)
	f.Extra = raw
	return nil
}

// Status represents an issue status.
type Status struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	StatusCategory *StatusCategory `json:"statusCategory,omitempty"`
}

// DefaultStatusColor is used when Jira omits the status category colour.
const DefaultStatusColor = "medium-gray"

// Color returns the status category colour name.
func (s *Status) Color() string {
	if s == nil || s.StatusCategory == nil || s.StatusCategory.ColorName == "" {
		return DefaultStatusColor
	}
	return s.StatusCategory.ColorName
}

// StatusCategory represents a status category.
type StatusCategory struct {
	ID        int    `json:"id"`
	Key       string `json:"key"`
	Name      string `json:"name"`
	ColorName string `json:"colorName,omitempty"`
}

// IssueType represents an issue type.
type IssueType struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subtask bool   `json:"subtask"`
}

// Parent references the parent of a subtask.
type Parent struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// Worklog represents time tracking entry.
type Worklog struct {
	ID               string `json:"id"`
	Author           *User  `json:"author,omitempty"`
	Started          string `json:"started,omitempty"`
	TimeSpentSeconds int    `json:"timeSpentSeconds"`
	Self             string `json:"self,omitempty"`
}

// AuthorID returns the author's account id, or "" when unknown.
func (w *Worklog) AuthorID() string {
	if w.Author == nil {
		return ""
	}
	return w.Author.AccountID
}

// Transition is an allowed workflow transition.
type Transition struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	To   *Status `json:"to,omitempty"`
}

// TargetName returns the destination status name, falling back to the
// transition name.
func (t *Transition) TargetName() string {
	if t.To != nil && t.To.Name != "" {
		return t.To.Name
	}
	return t.Name
}

// CreatedIssue is the response of an issue create.
type CreatedIssue struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self"`
}

// =============================================================================
// LIST RESPONSES
// =============================================================================

// SprintsResponse represents the board sprint listing.
type SprintsResponse struct {
	StartAt    int       `json:"startAt"`
	MaxResults int       `json:"maxResults"`
	IsLast     bool      `json:"isLast"`
	Values     []*Sprint `json:"values"`
}

// TransitionsResponse represents the transitions listing.
type TransitionsResponse struct {
	Transitions []*Transition `json:"transitions"`
}

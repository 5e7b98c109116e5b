// Package jira is the typed Jira Cloud REST surface used by the sprint
// worklog engine: identity, field catalog, board configuration, sprints,
// issue search, worklogs, transitions and issue edits.
//
// Paths:
//   - /rest/api/3/...      core platform API
//   - /rest/agile/1.0/...  Jira Software API (boards, sprints)
package jira

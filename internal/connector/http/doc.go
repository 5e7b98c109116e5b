// Package http is the request layer for the Jira REST surface.
// It owns authentication, rate limiting, error classification and
// offset pagination; it knows nothing about sprints or worklogs.
//
// Structure:
//
//	client.go     - rate-limited JSON client, opt-in retries
//	auth.go       - Jira Cloud basic auth (email + API token)
//	errors.go     - HTTPError and scope-mismatch classification
//	paginator.go  - offset paginator, page iterator, CollectAll
package http

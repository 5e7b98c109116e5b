package http

import (
	"encoding/base64"
	"net/http"
)

// Authenticator signs outgoing requests.
type Authenticator interface {
	Authorize(req *http.Request)
}

// BasicAuth is Jira Cloud API-token authentication: the account email and
// token sent as HTTP Basic credentials.
type BasicAuth struct {
	Email    string
	APIToken string
}

// Authorize sets the Authorization header. Incomplete credentials leave the
// request unsigned so Jira answers 401 instead of guessing.
func (a BasicAuth) Authorize(req *http.Request) {
	if !a.Complete() {
		return
	}
	token := base64.StdEncoding.EncodeToString([]byte(a.Email + ":" + a.APIToken))
	req.Header.Set("Authorization", "Basic "+token)
}

// Complete reports whether both halves of the credential are present.
func (a BasicAuth) Complete() bool {
	return a.Email != "" && a.APIToken != ""
}

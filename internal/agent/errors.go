package agent

import "errors"

var (
	ErrNotAuthenticated = errors.New("agent: endpoint did not authenticate the access token")
	ErrNoAnswer         = errors.New("agent: transcript holds no assistant answer")
)

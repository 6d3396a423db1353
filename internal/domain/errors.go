package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidURLFormat  = errors.New("invalid github pull request url")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrGitHubAPI         = errors.New("github api error")
	ErrSubmissionExists  = errors.New("active submission already exists for project")
	ErrAssignmentExists  = errors.New("reviewer already holds an active assignment for submission")
	ErrWrongRepository   = errors.New("pull request does not target the project repository")
	ErrPRNotOpen         = errors.New("pull request is not open")
	ErrInvalidScore      = errors.New("overall score must be between 0 and 100")
	ErrNoReviewer        = errors.New("no reviewer available")
	ErrMergeNotConfirmed = errors.New("github does not report the pull request as merged")
)

// TransitionError describes a rejected state change. Nothing is mutated when it is returned.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s %s: cannot move from %s to %s: %s", e.Entity, e.ID, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("%s %s: cannot move from %s to %s", e.Entity, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// GitHubAPIError wraps a failed call to the GitHub REST API.
// StatusCode is zero when no response was received.
type GitHubAPIError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *GitHubAPIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("github %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("github %s: %d %s", e.Op, e.StatusCode, e.Message)
}

func (e *GitHubAPIError) Unwrap() error {
	return e.Err
}

func (e *GitHubAPIError) Is(target error) bool {
	return target == ErrGitHubAPI
}

// Temporary reports whether a retry may succeed: network failures and 5xx only.
func (e *GitHubAPIError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode >= http.StatusInternalServerError
}

package domain

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPRStatus_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to PRStatus
		want     bool
	}{
		{PRStatusOpen, PRStatusMerged, true},
		{PRStatusOpen, PRStatusClosed, true},
		{PRStatusClosed, PRStatusOpen, true},
		{PRStatusClosed, PRStatusMerged, false},
		{PRStatusMerged, PRStatusOpen, false},
		{PRStatusMerged, PRStatusClosed, false},
		{PRStatusOpen, PRStatusOpen, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
	assert.True(t, PRStatusMerged.IsTerminal())
	assert.False(t, PRStatusClosed.IsTerminal())
}

func TestAssignmentStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, AssignmentStatusAssigned.CanTransitionTo(AssignmentStatusAccepted))
	assert.True(t, AssignmentStatusAssigned.CanTransitionTo(AssignmentStatusDeclined))
	assert.True(t, AssignmentStatusAccepted.CanTransitionTo(AssignmentStatusCompleted))

	assert.False(t, AssignmentStatusAssigned.CanTransitionTo(AssignmentStatusCompleted))
	assert.False(t, AssignmentStatusAccepted.CanTransitionTo(AssignmentStatusDeclined))
	assert.False(t, AssignmentStatusDeclined.CanTransitionTo(AssignmentStatusAccepted))
	assert.False(t, AssignmentStatusCompleted.CanTransitionTo(AssignmentStatusAssigned))
}

func TestReviewAssignment_IsOverdue(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	a := ReviewAssignment{Status: AssignmentStatusAssigned, DueDate: now.Add(-time.Minute)}
	assert.True(t, a.IsOverdue(now))

	a.Status = AssignmentStatusAccepted
	assert.False(t, a.IsOverdue(now))
}

func TestTransitionError_Is(t *testing.T) {
	err := &TransitionError{Entity: "assignment", ID: "a1", From: "ACCEPTED", To: "DECLINED"}
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Contains(t, err.Error(), "ACCEPTED")
}

func TestGitHubAPIError_Temporary(t *testing.T) {
	assert.True(t, (&GitHubAPIError{StatusCode: 0}).Temporary())
	assert.True(t, (&GitHubAPIError{StatusCode: http.StatusBadGateway}).Temporary())
	assert.False(t, (&GitHubAPIError{StatusCode: http.StatusNotFound}).Temporary())
	assert.False(t, (&GitHubAPIError{StatusCode: http.StatusTooManyRequests}).Temporary())

	assert.True(t, errors.Is(&GitHubAPIError{Op: "get"}, ErrGitHubAPI))
}

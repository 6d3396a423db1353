package httpserver

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vibedtocracked/contribution-review/internal/achievement"
	"github.com/vibedtocracked/contribution-review/internal/auth"
	"github.com/vibedtocracked/contribution-review/internal/domain"
	"github.com/vibedtocracked/contribution-review/internal/review"
	"github.com/vibedtocracked/contribution-review/internal/webhook"
	"go.uber.org/zap"
)

const webhookSecret = "hook-secret"

type submissionsMock struct{ mock.Mock }

func (m *submissionsMock) Submit(ctx context.Context, userID, projectID, prURL string) (domain.Submission, error) {
	args := m.Called(ctx, userID, projectID, prURL)
	return args.Get(0).(domain.Submission), args.Error(1)
}

func (m *submissionsMock) Get(ctx context.Context, id string) (domain.Submission, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Submission), args.Error(1)
}

type assignmentsMock struct{ mock.Mock }

func (m *assignmentsMock) ListForReviewer(ctx context.Context, reviewerID string, statuses []domain.AssignmentStatus) ([]domain.ReviewAssignment, error) {
	args := m.Called(ctx, reviewerID, statuses)
	return args.Get(0).([]domain.ReviewAssignment), args.Error(1)
}

func (m *assignmentsMock) Accept(ctx context.Context, assignmentID, callerID string) (domain.ReviewAssignment, error) {
	args := m.Called(ctx, assignmentID, callerID)
	return args.Get(0).(domain.ReviewAssignment), args.Error(1)
}

func (m *assignmentsMock) Decline(ctx context.Context, assignmentID, callerID string) (review.DeclineResult, error) {
	args := m.Called(ctx, assignmentID, callerID)
	return args.Get(0).(review.DeclineResult), args.Error(1)
}

func (m *assignmentsMock) Complete(ctx context.Context, assignmentID, callerID string, score int, feedback string) (review.CompleteResult, error) {
	args := m.Called(ctx, assignmentID, callerID, score, feedback)
	return args.Get(0).(review.CompleteResult), args.Error(1)
}

type achievementsMock struct{ mock.Mock }

func (m *achievementsMock) Catalog() *achievement.Catalog {
	return achievement.DefaultCatalog()
}

func (m *achievementsMock) ListUnlocked(ctx context.Context, userID string) ([]domain.UserAchievement, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]domain.UserAchievement), args.Error(1)
}

func (m *achievementsMock) GetAchievementProgress(ctx context.Context, userID string) (achievement.Progress, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(achievement.Progress), args.Error(1)
}

type notificationsMock struct{ mock.Mock }

func (m *notificationsMock) ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	args := m.Called(ctx, userID, limit)
	return args.Get(0).([]domain.Notification), args.Error(1)
}

type webhooksMock struct{ mock.Mock }

func (m *webhooksMock) Dispatch(ctx context.Context, event, deliveryID string, payload []byte) (webhook.Result, error) {
	args := m.Called(ctx, event, deliveryID, payload)
	return args.Get(0).(webhook.Result), args.Error(1)
}

type testServer struct {
	handler       http.Handler
	submissions   *submissionsMock
	assignments   *assignmentsMock
	achievements  *achievementsMock
	notifications *notificationsMock
	webhooks      *webhooksMock
	authn         *auth.Authenticator
	token         string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	authn := auth.NewAuthenticator("jwt-secret", "")
	token, err := authn.IssueToken("u1", "USER", time.Hour)
	require.NoError(t, err)

	ts := &testServer{
		submissions:   &submissionsMock{},
		assignments:   &assignmentsMock{},
		achievements:  &achievementsMock{},
		notifications: &notificationsMock{},
		webhooks:      &webhooksMock{},
		authn:         authn,
		token:         token,
	}
	ts.handler = newRouter(zap.NewNop(), Deps{
		Submissions:   ts.submissions,
		Assignments:   ts.assignments,
		Achievements:  ts.achievements,
		Notifications: ts.notifications,
		Webhooks:      ts.webhooks,
		Tokens:        authn,
		WebhookSecret: webhookSecret,
	})
	return ts
}

func (ts *testServer) do(method, path string, body []byte, authorized bool) *httptest.ResponseRecorder {
	token := ""
	if authorized {
		token = ts.token
	}
	return ts.doWithToken(method, path, body, token)
}

func (ts *testServer) doWithToken(method, path string, body []byte, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) tokenFor(t *testing.T, userID string, role domain.Role) string {
	t.Helper()
	token, err := ts.authn.IssueToken(userID, string(role), time.Hour)
	require.NoError(t, err)
	return token
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rec)
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "error object expected")
	return errObj["code"].(string)
}

func sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/health", nil, false)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestAPI_RequiresBearerToken(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/assignments", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/assignments", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))
}

func TestWebhook_SignatureVerification(t *testing.T) {
	ts := newTestServer(t)
	payload := []byte(`{"action":"closed"}`)

	ts.webhooks.On("Dispatch", mock.Anything, "pull_request", "d-1", payload).
		Return(webhook.Result{Outcome: webhook.OutcomeProcessed, Event: "pull_request", Action: "closed"}, nil).Once()

	send := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-GitHub-Event", "pull_request")
		req.Header.Set("X-GitHub-Delivery", "d-1")
		if signature != "" {
			req.Header.Set("X-Hub-Signature-256", signature)
		}
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := send("")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = send("sha256=" + hex.EncodeToString([]byte("definitely-not-the-right-mac-val")))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = send(sign(payload))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "processed", decodeBody(t, rec)["outcome"])

	ts.webhooks.AssertExpectations(t)
}

func TestWebhook_DispatchFailureIs500(t *testing.T) {
	ts := newTestServer(t)
	payload := []byte(`{}`)
	ts.webhooks.On("Dispatch", mock.Anything, "check_run", "", payload).
		Return(webhook.Result{}, assert.AnError).Once()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "check_run")
	req.Header.Set("X-Hub-Signature-256", sign(payload))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSubmissionCreate(t *testing.T) {
	ts := newTestServer(t)
	url := "https://github.com/acme/widgets/pull/7"
	ts.submissions.On("Submit", mock.Anything, "u1", "p1", url).
		Return(domain.Submission{ID: "s1", UserID: "u1", ProjectID: "p1", GitHubPRURL: url, PRNumber: 7, PRStatus: domain.PRStatusOpen}, nil).Once()

	rec := ts.do(http.MethodPost, "/api/submissions", []byte(`{"project_id":"p1","github_pr_url":"`+url+`"}`), true)

	require.Equal(t, http.StatusCreated, rec.Code)
	sub := decodeBody(t, rec)["submission"].(map[string]any)
	assert.Equal(t, "s1", sub["id"])
	assert.Equal(t, "OPEN", sub["pr_status"])
	ts.submissions.AssertExpectations(t)
}

func TestSubmissionCreate_Validation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/submissions", []byte(`{"project_id":"p1"}`), true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/api/submissions", []byte(`{"project_id":"p1","github_pr_url":"x","extra":1}`), true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"transition", &domain.TransitionError{Entity: "review assignment", ID: "a1", From: "COMPLETED", To: "ACCEPTED"}, http.StatusConflict, "INVALID_TRANSITION"},
		{"not found", domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"url", domain.ErrInvalidURLFormat, http.StatusBadRequest, "INVALID_URL"},
		{"score", domain.ErrInvalidScore, http.StatusBadRequest, "INVALID_SCORE"},
		{"repository", domain.ErrWrongRepository, http.StatusUnprocessableEntity, "WRONG_REPOSITORY"},
		{"submission exists", domain.ErrSubmissionExists, http.StatusConflict, "SUBMISSION_EXISTS"},
		{"assignment exists", domain.ErrAssignmentExists, http.StatusConflict, "ASSIGNMENT_EXISTS"},
		{"pr not open", domain.ErrPRNotOpen, http.StatusConflict, "PR_NOT_OPEN"},
		{"github", &domain.GitHubAPIError{Op: "get pull request", StatusCode: 502}, http.StatusBadGateway, "GITHUB_API_ERROR"},
		{"github 404", &domain.GitHubAPIError{Op: "get pull request", StatusCode: 404}, http.StatusNotFound, "PR_NOT_FOUND"},
		{"other", assert.AnError, http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := mapServiceError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestSubmissionGet_Visibility(t *testing.T) {
	sub := domain.Submission{ID: "s1", UserID: "u1", PRTitle: "Add parser", PRStatus: domain.PRStatusOpen}

	t.Run("author", func(t *testing.T) {
		ts := newTestServer(t)
		ts.submissions.On("Get", mock.Anything, "s1").Return(sub, nil).Once()

		rec := ts.do(http.MethodGet, "/api/submissions/s1", nil, true)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "s1", decodeBody(t, rec)["submission"].(map[string]any)["id"])
		ts.assignments.AssertNotCalled(t, "ListForReviewer", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("assigned reviewer", func(t *testing.T) {
		ts := newTestServer(t)
		ts.submissions.On("Get", mock.Anything, "s1").Return(sub, nil).Once()
		ts.assignments.On("ListForReviewer", mock.Anything, "r1", mock.Anything).
			Return([]domain.ReviewAssignment{{ID: "a1", SubmissionID: "s1", ReviewerID: "r1"}}, nil).Once()

		rec := ts.doWithToken(http.MethodGet, "/api/submissions/s1", nil, ts.tokenFor(t, "r1", domain.RoleUser))

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("admin", func(t *testing.T) {
		ts := newTestServer(t)
		ts.submissions.On("Get", mock.Anything, "s1").Return(sub, nil).Once()

		rec := ts.doWithToken(http.MethodGet, "/api/submissions/s1", nil, ts.tokenFor(t, "boss", domain.RoleAdmin))

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("stranger", func(t *testing.T) {
		ts := newTestServer(t)
		ts.submissions.On("Get", mock.Anything, "s1").Return(sub, nil).Once()
		ts.assignments.On("ListForReviewer", mock.Anything, "u2", mock.Anything).
			Return([]domain.ReviewAssignment{{ID: "a9", SubmissionID: "other", ReviewerID: "u2"}}, nil).Once()

		rec := ts.doWithToken(http.MethodGet, "/api/submissions/s1", nil, ts.tokenFor(t, "u2", domain.RoleUser))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "NOT_FOUND", errorCode(t, rec))
	})
}

func TestAssignmentAccept_Conflict(t *testing.T) {
	ts := newTestServer(t)
	ts.assignments.On("Accept", mock.Anything, "a1", "u1").
		Return(domain.ReviewAssignment{}, &domain.TransitionError{Entity: "review assignment", ID: "a1", From: "DECLINED", To: "ACCEPTED"}).Once()

	rec := ts.do(http.MethodPost, "/api/assignments/a1/accept", nil, true)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_TRANSITION", errorCode(t, rec))
}

func TestAssignmentDecline_ReturnsReplacement(t *testing.T) {
	ts := newTestServer(t)
	due := time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC)
	ts.assignments.On("Decline", mock.Anything, "a1", "u1").Return(review.DeclineResult{
		Declined:    domain.ReviewAssignment{ID: "a1", ReviewerID: "u1", Status: domain.AssignmentStatusDeclined, DueDate: due},
		Replacement: &domain.ReviewAssignment{ID: "a2", ReviewerID: "u9", Status: domain.AssignmentStatusAssigned, Type: domain.AssignmentTypePeer, DueDate: due},
	}, nil).Once()

	rec := ts.do(http.MethodPost, "/api/assignments/a1/decline", nil, true)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "DECLINED", body["assignment"].(map[string]any)["status"])
	assert.Equal(t, "u9", body["replaced_by"].(map[string]any)["reviewer_id"])
}

func TestAssignmentComplete(t *testing.T) {
	ts := newTestServer(t)
	score := 100
	def, _ := achievement.DefaultCatalog().Get(achievement.FirstReview)
	ts.assignments.On("Complete", mock.Anything, "a1", "u1", 100, "great").Return(review.CompleteResult{
		Assignment: domain.ReviewAssignment{ID: "a1", Status: domain.AssignmentStatusCompleted},
		Review:     domain.Review{ID: "r1", AssignmentID: "a1", OverallScore: &score, Status: domain.ReviewStatusCompleted},
		Unlocked:   []achievement.UnlockResult{{Unlocked: true, Achievement: def}},
	}, nil).Once()

	rec := ts.do(http.MethodPost, "/api/assignments/a1/complete", []byte(`{"score":100,"feedback":"great"}`), true)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 100, body["review"].(map[string]any)["overall_score"])
	badges := body["badges_unlocked"].([]any)
	require.Len(t, badges, 1)
	assert.Equal(t, "FIRST_REVIEW", badges[0].(map[string]any)["id"])

	rec = ts.do(http.MethodPost, "/api/assignments/a1/complete", []byte(`{"feedback":"no score"}`), true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssignmentList_StatusFilter(t *testing.T) {
	ts := newTestServer(t)
	ts.assignments.On("ListForReviewer", mock.Anything, "u1", []domain.AssignmentStatus{domain.AssignmentStatusAssigned, domain.AssignmentStatusAccepted}).
		Return([]domain.ReviewAssignment{{ID: "a1"}}, nil).Once()

	rec := ts.do(http.MethodGet, "/api/assignments?status=assigned,ACCEPTED", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["assignments"], 1)

	rec = ts.do(http.MethodGet, "/api/assignments?status=LOST", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	ts.assignments.AssertExpectations(t)
}

func TestAchievementList_MarksUnlocked(t *testing.T) {
	ts := newTestServer(t)
	ts.achievements.On("ListUnlocked", mock.Anything, "u1").Return([]domain.UserAchievement{
		{UserID: "u1", AchievementID: "FIRST_PR", UnlockedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	}, nil).Once()

	rec := ts.do(http.MethodGet, "/api/achievements", nil, true)

	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeBody(t, rec)["achievements"].([]any)
	assert.Len(t, items, len(achievement.DefaultCatalog().All()))

	unlocked := 0
	for _, raw := range items {
		item := raw.(map[string]any)
		if item["unlocked"] == true {
			unlocked++
			assert.Equal(t, "FIRST_PR", item["id"])
			assert.Equal(t, "2026-01-01T00:00:00Z", item["unlocked_at"])
		}
	}
	assert.Equal(t, 1, unlocked)
}

func TestNotificationList_Limit(t *testing.T) {
	ts := newTestServer(t)
	ts.notifications.On("ListNotifications", mock.Anything, "u1", 50).Return([]domain.Notification{
		{ID: "n1", Type: domain.NotificationPRMerged, Title: "Pull request merged", Data: map[string]any{"xpEarned": 150}},
	}, nil).Once()
	ts.notifications.On("ListNotifications", mock.Anything, "u1", 200).Return([]domain.Notification{}, nil).Once()

	rec := ts.do(http.MethodGet, "/api/notifications", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeBody(t, rec)["notifications"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "PR_MERGED", items[0].(map[string]any)["type"])

	rec = ts.do(http.MethodGet, "/api/notifications?limit=1000", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/api/notifications?limit=-1", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.notifications.AssertExpectations(t)
}

func TestAchievementProgress(t *testing.T) {
	ts := newTestServer(t)
	firstPR, ok := achievement.DefaultCatalog().Get(achievement.FirstPR)
	require.True(t, ok)

	ts.achievements.On("GetAchievementProgress", mock.Anything, "u1").Return(achievement.Progress{
		Submissions: achievement.MetricProgress{
			Current:    1,
			Milestones: []achievement.Milestone{{Achievement: firstPR, Reached: true, Unlocked: true}},
		},
		Unlocked: 1,
		Total:    10,
	}, nil).Once()

	rec := ts.do(http.MethodGet, "/api/achievements/progress", nil, true)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 1, body["unlocked"])
	assert.EqualValues(t, 10, body["total"])

	subs := body["submissions"].(map[string]any)
	assert.EqualValues(t, 1, subs["current"])
	milestones := subs["milestones"].([]any)
	require.Len(t, milestones, 1)
	assert.Equal(t, "FIRST_PR", milestones[0].(map[string]any)["id"])
	assert.Equal(t, true, milestones[0].(map[string]any)["reached"])

	assert.Empty(t, body["streak"].(map[string]any)["milestones"])
}

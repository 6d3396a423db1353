package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/vibedtocracked/contribution-review/internal/achievement"
	"github.com/vibedtocracked/contribution-review/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

type handler struct {
	submissions   Submissions
	assignments   Assignments
	achievements  Achievements
	notifications Notifications
	logger        *zap.Logger
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *handler) handleSubmissionCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID   string `json:"project_id"`
		GitHubPRURL string `json:"github_pr_url"`
	}
	if err := decodeJSON(r.Context(), r.Body, &req); err != nil {
		writeValidationError(w, err)
		return
	}
	if req.ProjectID == "" || req.GitHubPRURL == "" {
		writeValidationError(w, errors.New("project_id and github_pr_url are required"))
		return
	}

	sub, err := h.submissions.Submit(r.Context(), userIDFrom(r.Context()), req.ProjectID, strings.TrimSpace(req.GitHubPRURL))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"submission": mapSubmission(sub),
	})
}

func (h *handler) handleSubmissionGet(w http.ResponseWriter, r *http.Request) {
	sub, err := h.submissions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	allowed, err := h.canReadSubmission(r.Context(), sub)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if !allowed {
		h.writeServiceError(w, domain.ErrNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"submission": mapSubmission(sub),
	})
}

// canReadSubmission lets the author, admins and anyone ever assigned to review it see a submission.
func (h *handler) canReadSubmission(ctx context.Context, sub domain.Submission) (bool, error) {
	caller := userIDFrom(ctx)
	if sub.UserID == caller || roleFrom(ctx) == domain.RoleAdmin {
		return true, nil
	}

	assigned, err := h.assignments.ListForReviewer(ctx, caller, nil)
	if err != nil {
		return false, err
	}
	for _, a := range assigned {
		if a.SubmissionID == sub.ID {
			return true, nil
		}
	}
	return false, nil
}

func (h *handler) handleAssignmentList(w http.ResponseWriter, r *http.Request) {
	var statuses []domain.AssignmentStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st := domain.AssignmentStatus(strings.ToUpper(strings.TrimSpace(part)))
			if !st.IsValid() {
				writeValidationError(w, errors.New("unknown status "+part))
				return
			}
			statuses = append(statuses, st)
		}
	}

	userID := userIDFrom(r.Context())
	list, err := h.assignments.ListForReviewer(r.Context(), userID, statuses)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(list))
	for _, a := range list {
		items = append(items, mapAssignment(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reviewer_id": userID,
		"assignments": items,
	})
}

func (h *handler) handleAssignmentAccept(w http.ResponseWriter, r *http.Request) {
	a, err := h.assignments.Accept(r.Context(), chi.URLParam(r, "id"), userIDFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"assignment": mapAssignment(a),
	})
}

func (h *handler) handleAssignmentDecline(w http.ResponseWriter, r *http.Request) {
	res, err := h.assignments.Decline(r.Context(), chi.URLParam(r, "id"), userIDFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := map[string]any{
		"assignment":  mapAssignment(res.Declined),
		"replaced_by": nil,
	}
	if res.Replacement != nil {
		resp["replaced_by"] = mapAssignment(*res.Replacement)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleAssignmentComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Score    *int   `json:"score"`
		Feedback string `json:"feedback"`
	}
	if err := decodeJSON(r.Context(), r.Body, &req); err != nil {
		writeValidationError(w, err)
		return
	}
	if req.Score == nil {
		writeValidationError(w, errors.New("score is required"))
		return
	}

	res, err := h.assignments.Complete(r.Context(), chi.URLParam(r, "id"), userIDFrom(r.Context()), *req.Score, req.Feedback)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	badges := make([]map[string]any, 0, len(res.Unlocked))
	for _, u := range res.Unlocked {
		badges = append(badges, mapDefinition(u.Achievement))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"assignment":      mapAssignment(res.Assignment),
		"review":          mapReview(res.Review),
		"badges_unlocked": badges,
	})
}

func (h *handler) handleAchievementList(w http.ResponseWriter, r *http.Request) {
	unlocked, err := h.achievements.ListUnlocked(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	unlockedAt := make(map[string]time.Time, len(unlocked))
	for _, ua := range unlocked {
		unlockedAt[ua.AchievementID] = ua.UnlockedAt
	}

	defs := h.achievements.Catalog().All()
	items := make([]map[string]any, 0, len(defs))
	for _, d := range defs {
		item := mapDefinition(d)
		at, ok := unlockedAt[string(d.ID)]
		item["unlocked"] = ok
		if ok {
			item["unlocked_at"] = formatTime(at)
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"achievements": items,
	})
}

func (h *handler) handleAchievementProgress(w http.ResponseWriter, r *http.Request) {
	p, err := h.achievements.GetAchievementProgress(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"submissions": mapMetricProgress(p.Submissions),
		"reviews":     mapMetricProgress(p.Reviews),
		"quality":     mapMetricProgress(p.Quality),
		"streak":      mapMetricProgress(p.Streak),
		"unlocked":    p.Unlocked,
		"total":       p.Total,
	})
}

func (h *handler) handleNotificationList(w http.ResponseWriter, r *http.Request) {
	limit := defaultNotificationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeValidationError(w, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, maxNotificationLimit)
	}

	list, err := h.notifications.ListNotifications(r.Context(), userIDFrom(r.Context()), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(list))
	for _, n := range list {
		items = append(items, map[string]any{
			"id":         n.ID,
			"type":       string(n.Type),
			"title":      n.Title,
			"message":    n.Message,
			"data":       n.Data,
			"created_at": formatTime(n.CreatedAt),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": items,
	})
}

func (h *handler) writeServiceError(w http.ResponseWriter, err error) {
	status, code := mapServiceError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("service error", zap.Error(err))
	}
	writeError(w, status, code, err.Error())
}

func mapServiceError(err error) (int, string) {
	var ghErr *domain.GitHubAPIError
	switch {
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrInvalidURLFormat):
		return http.StatusBadRequest, "INVALID_URL"
	case errors.Is(err, domain.ErrInvalidScore):
		return http.StatusBadRequest, "INVALID_SCORE"
	case errors.Is(err, domain.ErrWrongRepository):
		return http.StatusUnprocessableEntity, "WRONG_REPOSITORY"
	case errors.Is(err, domain.ErrSubmissionExists):
		return http.StatusConflict, "SUBMISSION_EXISTS"
	case errors.Is(err, domain.ErrAssignmentExists):
		return http.StatusConflict, "ASSIGNMENT_EXISTS"
	case errors.Is(err, domain.ErrPRNotOpen):
		return http.StatusConflict, "PR_NOT_OPEN"
	case errors.As(err, &ghErr):
		if ghErr.StatusCode == http.StatusNotFound {
			return http.StatusNotFound, "PR_NOT_FOUND"
		}
		return http.StatusBadGateway, "GITHUB_API_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func mapSubmission(s domain.Submission) map[string]any {
	resp := map[string]any{
		"id":             s.ID,
		"user_id":        s.UserID,
		"project_id":     s.ProjectID,
		"github_pr_url":  s.GitHubPRURL,
		"pr_number":      s.PRNumber,
		"pr_title":       s.PRTitle,
		"pr_description": s.PRDescription,
		"pr_status":      string(s.PRStatus),
		"ci_passed":      s.CIPassed,
		"tests_passed":   s.TestsPassed,
		"lint_passed":    s.LintPassed,
	}
	if !s.CreatedAt.IsZero() {
		resp["created_at"] = formatTime(s.CreatedAt)
	}
	if s.MergedAt != nil {
		resp["merged_at"] = formatTime(*s.MergedAt)
	}
	if s.CompletedAt != nil {
		resp["completed_at"] = formatTime(*s.CompletedAt)
	}
	return resp
}

func mapAssignment(a domain.ReviewAssignment) map[string]any {
	resp := map[string]any{
		"id":            a.ID,
		"submission_id": a.SubmissionID,
		"reviewer_id":   a.ReviewerID,
		"type":          string(a.Type),
		"status":        string(a.Status),
		"priority":      a.Priority,
		"due_date":      formatTime(a.DueDate),
	}
	if a.RespondedAt != nil {
		resp["responded_at"] = formatTime(*a.RespondedAt)
	}
	return resp
}

func mapReview(rv domain.Review) map[string]any {
	resp := map[string]any{
		"id":            rv.ID,
		"assignment_id": rv.AssignmentID,
		"submission_id": rv.SubmissionID,
		"reviewer_id":   rv.ReviewerID,
		"status":        string(rv.Status),
		"feedback":      rv.Feedback,
	}
	if rv.OverallScore != nil {
		resp["overall_score"] = *rv.OverallScore
	}
	if rv.SubmittedAt != nil {
		resp["submitted_at"] = formatTime(*rv.SubmittedAt)
	}
	return resp
}

func mapDefinition(d achievement.Definition) map[string]any {
	return map[string]any{
		"id":          string(d.ID),
		"name":        d.Name,
		"description": d.Description,
		"icon":        d.Icon,
		"threshold":   d.Threshold,
	}
}

func mapMetricProgress(mp achievement.MetricProgress) map[string]any {
	milestones := make([]map[string]any, 0, len(mp.Milestones))
	for _, m := range mp.Milestones {
		item := mapDefinition(m.Achievement)
		item["reached"] = m.Reached
		item["unlocked"] = m.Unlocked
		milestones = append(milestones, item)
	}
	return map[string]any{
		"current":    mp.Current,
		"milestones": milestones,
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func decodeJSON(ctx context.Context, body io.ReadCloser, dst any) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra JSON input")
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

func writeValidationError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
}

package httpserver

import (
	"context"

	"github.com/vibedtocracked/contribution-review/internal/achievement"
	"github.com/vibedtocracked/contribution-review/internal/auth"
	"github.com/vibedtocracked/contribution-review/internal/domain"
	"github.com/vibedtocracked/contribution-review/internal/review"
	"github.com/vibedtocracked/contribution-review/internal/webhook"
)

type Submissions interface {
	Submit(ctx context.Context, userID, projectID, prURL string) (domain.Submission, error)
	Get(ctx context.Context, id string) (domain.Submission, error)
}

type Assignments interface {
	ListForReviewer(ctx context.Context, reviewerID string, statuses []domain.AssignmentStatus) ([]domain.ReviewAssignment, error)
	Accept(ctx context.Context, assignmentID, callerID string) (domain.ReviewAssignment, error)
	Decline(ctx context.Context, assignmentID, callerID string) (review.DeclineResult, error)
	Complete(ctx context.Context, assignmentID, callerID string, score int, feedback string) (review.CompleteResult, error)
}

type Achievements interface {
	Catalog() *achievement.Catalog
	ListUnlocked(ctx context.Context, userID string) ([]domain.UserAchievement, error)
	GetAchievementProgress(ctx context.Context, userID string) (achievement.Progress, error)
}

type Notifications interface {
	ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error)
}

type Webhooks interface {
	Dispatch(ctx context.Context, event, deliveryID string, payload []byte) (webhook.Result, error)
}

type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// Deps bundles everything the router serves.
type Deps struct {
	Submissions   Submissions
	Assignments   Assignments
	Achievements  Achievements
	Notifications Notifications
	Webhooks      Webhooks
	Tokens        TokenValidator
	WebhookSecret string
}

package repository

import (
	"context"
	"fmt"

	"github.com/vibedtocracked/contribution-review/internal/domain"
)

func (r *Repository) CreateReview(ctx context.Context, rv domain.Review) (domain.Review, error) {
	rv.ID = newID(rv.ID)
	if _, err := r.db(ctx).Exec(ctx, `
		INSERT INTO reviews (id, assignment_id, submission_id, reviewer_id, status, overall_score, feedback, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rv.ID, rv.AssignmentID, rv.SubmissionID, rv.ReviewerID, string(rv.Status), rv.OverallScore, rv.Feedback, rv.SubmittedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.Review{}, fmt.Errorf("review for assignment %s: %w", rv.AssignmentID, domain.ErrAssignmentExists)
		}
		return domain.Review{}, fmt.Errorf("insert review: %w", err)
	}
	return rv, nil
}

func (r *Repository) CountCompletedReviews(ctx context.Context, userID string) (int, error) {
	var n int
	if err := r.db(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM reviews WHERE reviewer_id = $1 AND status = 'COMPLETED'
	`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count completed reviews: %w", err)
	}
	return n, nil
}

// CountPerfectScores counts completed reviews scoring 100 on the user's submissions.
func (r *Repository) CountPerfectScores(ctx context.Context, userID string) (int, error) {
	var n int
	if err := r.db(ctx).QueryRow(ctx, `
		SELECT COUNT(*)
		FROM reviews rv
		JOIN submissions s ON s.id = rv.submission_id
		WHERE s.user_id = $1 AND rv.status = 'COMPLETED' AND rv.overall_score = $2
	`, userID, domain.MaxReviewScore).Scan(&n); err != nil {
		return 0, fmt.Errorf("count perfect scores: %w", err)
	}
	return n, nil
}

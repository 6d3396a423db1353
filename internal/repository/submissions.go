package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/vibedtocracked/contribution-review/internal/domain"
)

const submissionColumns = `
	id, user_id, project_id, github_pr_url, pr_number, pr_title, pr_description, pr_status,
	ci_passed, tests_passed, lint_passed, merged_at, completed_at, created_at, updated_at`

func scanSubmission(row pgx.Row) (domain.Submission, error) {
	var s domain.Submission
	var status string
	err := row.Scan(
		&s.ID, &s.UserID, &s.ProjectID, &s.GitHubPRURL, &s.PRNumber, &s.PRTitle, &s.PRDescription, &status,
		&s.CIPassed, &s.TestsPassed, &s.LintPassed, &s.MergedAt, &s.CompletedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return domain.Submission{}, err
	}
	s.PRStatus = domain.PRStatus(status)
	return s, nil
}

func (r *Repository) CreateSubmission(ctx context.Context, s domain.Submission) (domain.Submission, error) {
	if s.PRStatus == "" {
		s.PRStatus = domain.PRStatusOpen
	}

	created, err := scanSubmission(r.db(ctx).QueryRow(ctx, `
		INSERT INTO submissions (id, user_id, project_id, github_pr_url, pr_number, pr_title, pr_description, pr_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+submissionColumns,
		newID(s.ID), s.UserID, s.ProjectID, s.GitHubPRURL, s.PRNumber, s.PRTitle, s.PRDescription, string(s.PRStatus),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Submission{}, domain.ErrSubmissionExists
		}
		return domain.Submission{}, fmt.Errorf("insert submission: %w", err)
	}
	return created, nil
}

func (r *Repository) GetSubmission(ctx context.Context, id string) (domain.Submission, error) {
	s, err := scanSubmission(r.db(ctx).QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Submission{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Submission{}, fmt.Errorf("select submission: %w", err)
	}
	return s, nil
}

func (r *Repository) GetSubmissionByPRURL(ctx context.Context, prURL string) (domain.Submission, error) {
	s, err := scanSubmission(r.db(ctx).QueryRow(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE lower(github_pr_url) = lower($1)
	`, prURL))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Submission{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Submission{}, fmt.Errorf("select submission by url: %w", err)
	}
	return s, nil
}

// TransitionSubmission is a compare-and-swap on pr_status. merged_at is set
// only when moving to MERGED.
func (r *Repository) TransitionSubmission(ctx context.Context, id string, from, to domain.PRStatus, at time.Time) (domain.Submission, error) {
	s, err := scanSubmission(r.db(ctx).QueryRow(ctx, `
		UPDATE submissions
		SET pr_status = $3,
		    merged_at = CASE WHEN $3 = 'MERGED' THEN COALESCE(merged_at, $4) ELSE merged_at END,
		    updated_at = NOW()
		WHERE id = $1 AND pr_status = $2
		RETURNING `+submissionColumns,
		id, string(from), string(to), at,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Submission{}, domain.ErrNotFound
	}
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Submission{}, domain.ErrSubmissionExists
		}
		return domain.Submission{}, fmt.Errorf("update submission status: %w", err)
	}
	return s, nil
}

func (r *Repository) UpdateSubmissionCI(ctx context.Context, id string, ci domain.CIFlags) error {
	tag, err := r.db(ctx).Exec(ctx, `
		UPDATE submissions
		SET ci_passed = $2,
		    tests_passed = $3,
		    lint_passed = $4,
		    updated_at = NOW()
		WHERE id = $1
	`, id, ci.CIPassed, ci.TestsPassed, ci.LintPassed)
	if err != nil {
		return fmt.Errorf("update submission ci: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) UpdateSubmissionDetails(ctx context.Context, id, title, description string) error {
	tag, err := r.db(ctx).Exec(ctx, `
		UPDATE submissions
		SET pr_title = $2,
		    pr_description = $3,
		    updated_at = NOW()
		WHERE id = $1
	`, id, title, description)
	if err != nil {
		return fmt.Errorf("update submission details: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) CountPriorMergedSubmissions(ctx context.Context, userID, excludeSubmissionID string) (int, error) {
	var n int
	if err := r.db(ctx).QueryRow(ctx, `
		SELECT COUNT(*)
		FROM submissions
		WHERE user_id = $1 AND pr_status = 'MERGED' AND id <> $2
	`, userID, excludeSubmissionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count prior merged submissions: %w", err)
	}
	return n, nil
}

func (r *Repository) CountMergedSubmissions(ctx context.Context, userID string) (int, error) {
	var n int
	if err := r.db(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM submissions WHERE user_id = $1 AND pr_status = 'MERGED'
	`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count merged submissions: %w", err)
	}
	return n, nil
}

// MarkSubmissionCompleted stamps completed_at once the submission is merged
// and has at least one completed review with nothing left open.
func (r *Repository) MarkSubmissionCompleted(ctx context.Context, submissionID string, at time.Time) (bool, error) {
	tag, err := r.db(ctx).Exec(ctx, `
		UPDATE submissions s
		SET completed_at = $2,
		    updated_at = NOW()
		WHERE s.id = $1
		  AND s.pr_status = 'MERGED'
		  AND s.completed_at IS NULL
		  AND EXISTS (
		      SELECT 1 FROM review_assignments ra
		      WHERE ra.submission_id = s.id AND ra.status = 'COMPLETED'
		  )
		  AND NOT EXISTS (
		      SELECT 1 FROM review_assignments ra
		      WHERE ra.submission_id = s.id AND ra.status IN ('ASSIGNED', 'ACCEPTED')
		  )
	`, submissionID, at)
	if err != nil {
		return false, fmt.Errorf("mark submission completed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListContributionDays returns the distinct UTC days with a merged submission
// or a submitted review, newest first.
func (r *Repository) ListContributionDays(ctx context.Context, userID string) ([]time.Time, error) {
	rows, err := r.db(ctx).Query(ctx, `
		SELECT day FROM (
			SELECT date_trunc('day', merged_at AT TIME ZONE 'UTC') AS day
			FROM submissions
			WHERE user_id = $1 AND merged_at IS NOT NULL
			UNION
			SELECT date_trunc('day', submitted_at AT TIME ZONE 'UTC') AS day
			FROM reviews
			WHERE reviewer_id = $1 AND submitted_at IS NOT NULL
		) d
		ORDER BY day DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("select contribution days: %w", err)
	}
	defer rows.Close()

	var days []time.Time
	for rows.Next() {
		var day time.Time
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("scan contribution day: %w", err)
		}
		days = append(days, time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contribution days: %w", err)
	}
	return days, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/vibedtocracked/contribution-review/internal/domain"
)

const assignmentColumns = `id, submission_id, reviewer_id, type, status, priority, due_date, responded_at, created_at`

func scanAssignment(row pgx.Row) (domain.ReviewAssignment, error) {
	var a domain.ReviewAssignment
	var typ, status string
	if err := row.Scan(&a.ID, &a.SubmissionID, &a.ReviewerID, &typ, &status, &a.Priority, &a.DueDate, &a.RespondedAt, &a.CreatedAt); err != nil {
		return domain.ReviewAssignment{}, err
	}
	a.Type = domain.AssignmentType(typ)
	a.Status = domain.AssignmentStatus(status)
	return a, nil
}

func collectAssignments(rows pgx.Rows) ([]domain.ReviewAssignment, error) {
	defer rows.Close()

	var list []domain.ReviewAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return list, nil
}

func (r *Repository) CreateAssignment(ctx context.Context, a domain.ReviewAssignment) (domain.ReviewAssignment, error) {
	if a.Status == "" {
		a.Status = domain.AssignmentStatusAssigned
	}
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	created, err := scanAssignment(r.db(ctx).QueryRow(ctx, `
		INSERT INTO review_assignments (id, submission_id, reviewer_id, type, status, priority, due_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+assignmentColumns,
		newID(a.ID), a.SubmissionID, a.ReviewerID, string(a.Type), string(a.Status), a.Priority, a.DueDate, createdAt,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ReviewAssignment{}, domain.ErrAssignmentExists
		}
		return domain.ReviewAssignment{}, fmt.Errorf("insert assignment: %w", err)
	}
	return created, nil
}

func (r *Repository) GetAssignment(ctx context.Context, id string) (domain.ReviewAssignment, error) {
	a, err := scanAssignment(r.db(ctx).QueryRow(ctx, `SELECT `+assignmentColumns+` FROM review_assignments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ReviewAssignment{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ReviewAssignment{}, fmt.Errorf("select assignment: %w", err)
	}
	return a, nil
}

// TransitionAssignment only matches the row while it still has the expected
// reviewer and status, so concurrent responses cannot both win.
func (r *Repository) TransitionAssignment(ctx context.Context, id, reviewerID string, from, to domain.AssignmentStatus, at time.Time) (domain.ReviewAssignment, error) {
	a, err := scanAssignment(r.db(ctx).QueryRow(ctx, `
		UPDATE review_assignments
		SET status = $4,
		    responded_at = $5
		WHERE id = $1 AND reviewer_id = $2 AND status = $3
		RETURNING `+assignmentColumns,
		id, reviewerID, string(from), string(to), at,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ReviewAssignment{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ReviewAssignment{}, fmt.Errorf("update assignment status: %w", err)
	}
	return a, nil
}

func (r *Repository) ListAssignmentsBySubmission(ctx context.Context, submissionID string) ([]domain.ReviewAssignment, error) {
	rows, err := r.db(ctx).Query(ctx, `
		SELECT `+assignmentColumns+`
		FROM review_assignments
		WHERE submission_id = $1
		ORDER BY created_at
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("select submission assignments: %w", err)
	}
	return collectAssignments(rows)
}

// ListAssignmentsByReviewer returns every assignment of the reviewer when statuses is empty.
func (r *Repository) ListAssignmentsByReviewer(ctx context.Context, reviewerID string, statuses []domain.AssignmentStatus) ([]domain.ReviewAssignment, error) {
	filter := make([]string, 0, len(statuses))
	for _, st := range statuses {
		filter = append(filter, string(st))
	}

	rows, err := r.db(ctx).Query(ctx, `
		SELECT `+assignmentColumns+`
		FROM review_assignments
		WHERE reviewer_id = $1
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))
		ORDER BY priority DESC, due_date
	`, reviewerID, filter)
	if err != nil {
		return nil, fmt.Errorf("select reviewer assignments: %w", err)
	}
	return collectAssignments(rows)
}

func (r *Repository) ListOverdueAssignments(ctx context.Context, now time.Time) ([]domain.ReviewAssignment, error) {
	rows, err := r.db(ctx).Query(ctx, `
		SELECT `+assignmentColumns+`
		FROM review_assignments
		WHERE status = 'ASSIGNED' AND due_date < $1
		ORDER BY due_date
	`, now)
	if err != nil {
		return nil, fmt.Errorf("select overdue assignments: %w", err)
	}
	return collectAssignments(rows)
}

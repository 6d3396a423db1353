package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/vibedtocracked/contribution-review/internal/domain"
)

const userColumns = `id, name, COALESCE(github_login, ''), role, is_active, xp, level`

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	var role string
	if err := row.Scan(&u.ID, &u.Name, &u.GitHubLogin, &role, &u.IsActive, &u.XP, &u.Level); err != nil {
		return domain.User{}, err
	}
	u.Role = domain.Role(role)
	return u, nil
}

func (r *Repository) GetUser(ctx context.Context, id string) (domain.User, error) {
	u, err := scanUser(r.db(ctx).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

// ListPeerCandidates returns active non-admin users in random order.
func (r *Repository) ListPeerCandidates(ctx context.Context, exclude []string, limit int) ([]domain.User, error) {
	rows, err := r.db(ctx).Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE is_active = TRUE
		  AND role = 'USER'
		  AND id <> ALL($1::text[])
		ORDER BY random()
		LIMIT $2
	`, nonNil(exclude), limit)
	if err != nil {
		return nil, fmt.Errorf("select peer candidates: %w", err)
	}
	return collectUsers(rows)
}

// ListAdminCandidates orders active admins by their open review load.
func (r *Repository) ListAdminCandidates(ctx context.Context, exclude []string) ([]domain.User, error) {
	rows, err := r.db(ctx).Query(ctx, `
		SELECT u.id, u.name, COALESCE(u.github_login, ''), u.role, u.is_active, u.xp, u.level
		FROM users u
		LEFT JOIN review_assignments ra
		       ON ra.reviewer_id = u.id AND ra.status IN ('ASSIGNED', 'ACCEPTED')
		WHERE u.is_active = TRUE
		  AND u.role = 'ADMIN'
		  AND u.id <> ALL($1::text[])
		GROUP BY u.id
		ORDER BY COUNT(ra.id), u.id
	`, nonNil(exclude))
	if err != nil {
		return nil, fmt.Errorf("select admin candidates: %w", err)
	}
	return collectUsers(rows)
}

func collectUsers(rows pgx.Rows) ([]domain.User, error) {
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (r *Repository) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	err := r.db(ctx).QueryRow(ctx, `
		SELECT id, title, repo_owner, repo_name, xp_reward
		FROM projects
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Title, &p.RepoOwner, &p.RepoName, &p.XPReward)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Project{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Project{}, fmt.Errorf("select project: %w", err)
	}
	return p, nil
}

// GrantXP records the grant once per submission and bumps the user's total.
func (r *Repository) GrantXP(ctx context.Context, grant domain.XPGrant) (int, int, bool, error) {
	db := r.db(ctx)

	tag, err := db.Exec(ctx, `
		INSERT INTO xp_grants (submission_id, user_id, amount, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (submission_id) DO NOTHING
	`, grant.SubmissionID, grant.UserID, grant.Amount, grant.GrantedAt)
	if err != nil {
		return 0, 0, false, fmt.Errorf("insert xp grant: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var total int
		err := db.QueryRow(ctx, `SELECT xp FROM users WHERE id = $1`, grant.UserID).Scan(&total)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, false, domain.ErrNotFound
		}
		if err != nil {
			return 0, 0, false, fmt.Errorf("select user xp: %w", err)
		}
		return total, total, false, nil
	}

	var before, after int
	err = db.QueryRow(ctx, `
		UPDATE users
		SET xp = xp + $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING xp - $2, xp
	`, grant.UserID, grant.Amount).Scan(&before, &after)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, false, domain.ErrNotFound
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("add user xp: %w", err)
	}

	return before, after, true, nil
}

func (r *Repository) SetUserLevel(ctx context.Context, userID string, level int) error {
	tag, err := r.db(ctx).Exec(ctx, `
		UPDATE users
		SET level = $2,
		    updated_at = NOW()
		WHERE id = $1
	`, userID, level)
	if err != nil {
		return fmt.Errorf("update user level: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

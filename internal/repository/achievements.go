package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/vibedtocracked/contribution-review/internal/domain"
)

func (r *Repository) HasAchievement(ctx context.Context, userID, achievementID string) (bool, error) {
	var exists bool
	if err := r.db(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM user_achievements WHERE user_id = $1 AND achievement_id = $2)
	`, userID, achievementID).Scan(&exists); err != nil {
		return false, fmt.Errorf("select achievement: %w", err)
	}
	return exists, nil
}

// InsertAchievement reports false when the pair was already present.
func (r *Repository) InsertAchievement(ctx context.Context, ua domain.UserAchievement) (bool, error) {
	unlockedAt := ua.UnlockedAt
	if unlockedAt.IsZero() {
		unlockedAt = time.Now()
	}

	tag, err := r.db(ctx).Exec(ctx, `
		INSERT INTO user_achievements (user_id, achievement_id, unlocked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, achievement_id) DO NOTHING
	`, ua.UserID, ua.AchievementID, unlockedAt)
	if err != nil {
		return false, fmt.Errorf("insert achievement: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) ListAchievements(ctx context.Context, userID string) ([]domain.UserAchievement, error) {
	rows, err := r.db(ctx).Query(ctx, `
		SELECT user_id, achievement_id, unlocked_at
		FROM user_achievements
		WHERE user_id = $1
		ORDER BY unlocked_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("select achievements: %w", err)
	}
	defer rows.Close()

	var list []domain.UserAchievement
	for rows.Next() {
		var ua domain.UserAchievement
		if err := rows.Scan(&ua.UserID, &ua.AchievementID, &ua.UnlockedAt); err != nil {
			return nil, fmt.Errorf("scan achievement: %w", err)
		}
		list = append(list, ua)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate achievements: %w", err)
	}
	return list, nil
}

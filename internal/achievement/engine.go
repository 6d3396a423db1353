package achievement

import (
	"context"
	"fmt"
	"time"

	"github.com/vibedtocracked/contribution-review/internal/domain"
	"go.uber.org/zap"
)

type Store interface {
	HasAchievement(ctx context.Context, userID, achievementID string) (bool, error)
	// InsertAchievement returns false when the (user, achievement) pair already exists.
	InsertAchievement(ctx context.Context, ua domain.UserAchievement) (bool, error)
	ListAchievements(ctx context.Context, userID string) ([]domain.UserAchievement, error)
	CountMergedSubmissions(ctx context.Context, userID string) (int, error)
	CountCompletedReviews(ctx context.Context, userID string) (int, error)
	CountPerfectScores(ctx context.Context, userID string) (int, error)
	ListContributionDays(ctx context.Context, userID string) ([]time.Time, error)
	CreateNotification(ctx context.Context, n domain.Notification) error
}

type TxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type UnlockResult struct {
	Unlocked        bool
	AlreadyUnlocked bool
	Achievement     Definition
}

type Engine struct {
	catalog *Catalog
	store   Store
	tx      TxManager
	logger  *zap.Logger
	now     func() time.Time
}

func NewEngine(catalog *Catalog, store Store, tx TxManager, logger *zap.Logger) *Engine {
	return &Engine{
		catalog: catalog,
		store:   store,
		tx:      tx,
		logger:  logger,
		now:     time.Now,
	}
}

func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

func (e *Engine) HasAchievement(ctx context.Context, userID string, id ID) (bool, error) {
	return e.store.HasAchievement(ctx, userID, string(id))
}

func (e *Engine) ListUnlocked(ctx context.Context, userID string) ([]domain.UserAchievement, error) {
	return e.store.ListAchievements(ctx, userID)
}

// UnlockAchievement grants id to the user at most once. The store's unique
// (user, achievement) key settles concurrent unlocks.
func (e *Engine) UnlockAchievement(ctx context.Context, userID string, id ID) (UnlockResult, error) {
	def, ok := e.catalog.Get(id)
	if !ok {
		return UnlockResult{}, fmt.Errorf("achievement %s: %w", id, domain.ErrNotFound)
	}

	has, err := e.store.HasAchievement(ctx, userID, string(id))
	if err != nil {
		return UnlockResult{}, err
	}
	if has {
		return UnlockResult{AlreadyUnlocked: true, Achievement: def}, nil
	}

	var inserted bool
	err = e.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := e.now()
		inserted, err = e.store.InsertAchievement(ctx, domain.UserAchievement{
			UserID:        userID,
			AchievementID: string(id),
			UnlockedAt:    now,
		})
		if err != nil || !inserted {
			return err
		}

		return e.store.CreateNotification(ctx, domain.Notification{
			UserID:  userID,
			Type:    domain.NotificationAchievementUnlocked,
			Title:   "Achievement unlocked: " + def.Name,
			Message: def.Description,
			Data: map[string]any{
				"achievementId": string(def.ID),
				"name":          def.Name,
				"icon":          def.Icon,
			},
			CreatedAt: now,
		})
	})
	if err != nil {
		return UnlockResult{}, err
	}
	if !inserted {
		return UnlockResult{AlreadyUnlocked: true, Achievement: def}, nil
	}

	e.logger.Info("achievement unlocked",
		zap.String("user_id", userID),
		zap.String("achievement", string(id)),
	)

	return UnlockResult{Unlocked: true, Achievement: def}, nil
}

// CheckPRAchievements unlocks merged-PR milestones whose threshold equals the
// current merged count. Counts that skip past a threshold do not unlock it.
func (e *Engine) CheckPRAchievements(ctx context.Context, userID string) ([]UnlockResult, error) {
	count, err := e.store.CountMergedSubmissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.unlockAtCount(ctx, userID, MetricMergedPRs, count)
}

func (e *Engine) CheckReviewAchievements(ctx context.Context, userID string) ([]UnlockResult, error) {
	count, err := e.store.CountCompletedReviews(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.unlockAtCount(ctx, userID, MetricCompletedReviews, count)
}

func (e *Engine) CheckPerfectScoreAchievement(ctx context.Context, userID string, score int) (UnlockResult, error) {
	if score != domain.MaxReviewScore {
		return UnlockResult{}, nil
	}
	return e.UnlockAchievement(ctx, userID, PerfectScore)
}

// CheckStreakAchievements unlocks streak milestones equal to the current run
// of consecutive contribution days.
func (e *Engine) CheckStreakAchievements(ctx context.Context, userID string) ([]UnlockResult, error) {
	days, err := e.store.ListContributionDays(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.unlockAtCount(ctx, userID, MetricStreakDays, currentStreak(days, e.now()))
}

func (e *Engine) unlockAtCount(ctx context.Context, userID string, metric Metric, count int) ([]UnlockResult, error) {
	var unlocked []UnlockResult
	for _, def := range e.catalog.ByMetric(metric) {
		if count != def.Threshold {
			continue
		}
		res, err := e.UnlockAchievement(ctx, userID, def.ID)
		if err != nil {
			return unlocked, err
		}
		if res.Unlocked {
			unlocked = append(unlocked, res)
		}
	}
	return unlocked, nil
}

// currentStreak counts consecutive UTC days ending today or yesterday.
func currentStreak(days []time.Time, now time.Time) int {
	seen := make(map[time.Time]struct{}, len(days))
	for _, d := range days {
		seen[truncateDay(d)] = struct{}{}
	}

	day := truncateDay(now)
	if _, ok := seen[day]; !ok {
		day = day.AddDate(0, 0, -1)
	}

	streak := 0
	for {
		if _, ok := seen[day]; !ok {
			return streak
		}
		streak++
		day = day.AddDate(0, 0, -1)
	}
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

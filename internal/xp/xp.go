package xp

import (
	"context"
	"math"
	"time"

	"github.com/vibedtocracked/contribution-review/internal/domain"
	"go.uber.org/zap"
)

// FirstPRBonus is added to the project reward for a user's first merged submission.
const FirstPRBonus = 100

type Store interface {
	// GrantXP inserts the grant unless one exists for the submission and, when it
	// inserted, adds the amount to the user's total. It returns totals before and after.
	GrantXP(ctx context.Context, grant domain.XPGrant) (before, after int, granted bool, err error)
	SetUserLevel(ctx context.Context, userID string, level int) error
}

type TxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// LevelFunc maps a total XP amount to a level.
type LevelFunc func(totalXP int) int

// DefaultLevel starts at level 1 and grows with the square root of XP/100.
func DefaultLevel(totalXP int) int {
	if totalXP <= 0 {
		return 1
	}
	return 1 + int(math.Sqrt(float64(totalXP)/100))
}

type Award struct {
	XPAwarded      int
	LevelUp        bool
	NewLevel       int
	AlreadyGranted bool
}

func Compute(baseReward int, isFirstPR bool) int {
	if isFirstPR {
		return baseReward + FirstPRBonus
	}
	return baseReward
}

type Service struct {
	store  Store
	tx     TxManager
	level  LevelFunc
	logger *zap.Logger
	now    func() time.Time
}

func NewService(store Store, tx TxManager, level LevelFunc, logger *zap.Logger) *Service {
	if level == nil {
		level = DefaultLevel
	}
	return &Service{
		store:  store,
		tx:     tx,
		level:  level,
		logger: logger,
		now:    time.Now,
	}
}

// AwardPRMergeXP grants merge XP once per submission. A replay reports
// AlreadyGranted and changes nothing.
func (s *Service) AwardPRMergeXP(ctx context.Context, userID string, baseReward int, submissionID string, isFirstPR bool) (Award, error) {
	amount := Compute(baseReward, isFirstPR)

	var award Award
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		before, after, granted, err := s.store.GrantXP(ctx, domain.XPGrant{
			SubmissionID: submissionID,
			UserID:       userID,
			Amount:       amount,
			GrantedAt:    s.now(),
		})
		if err != nil {
			return err
		}
		if !granted {
			award = Award{AlreadyGranted: true, NewLevel: s.level(after)}
			return nil
		}

		oldLevel, newLevel := s.level(before), s.level(after)
		award = Award{
			XPAwarded: amount,
			LevelUp:   newLevel > oldLevel,
			NewLevel:  newLevel,
		}
		if award.LevelUp {
			return s.store.SetUserLevel(ctx, userID, newLevel)
		}
		return nil
	})
	if err != nil {
		return Award{}, err
	}

	if award.AlreadyGranted {
		s.logger.Info("merge xp already granted",
			zap.String("user_id", userID),
			zap.String("submission_id", submissionID),
		)
	}

	return award, nil
}

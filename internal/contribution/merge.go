package contribution

import (
	"context"
	"errors"
	"fmt"

	"github.com/vibedtocracked/contribution-review/internal/achievement"
	"github.com/vibedtocracked/contribution-review/internal/domain"
	"go.uber.org/zap"
)

// handleMerge marks the submission merged and hands out rewards. The XP grant
// is keyed on the submission, so a replayed merge stops after the grant.
func (s *Service) handleMerge(ctx context.Context, sub domain.Submission) error {
	if sub.PRStatus != domain.PRStatusMerged {
		merged, err := s.markMerged(ctx, sub)
		if err != nil {
			return err
		}
		sub = merged
	}

	project, err := s.store.GetProject(ctx, sub.ProjectID)
	if err != nil {
		return err
	}

	prior, err := s.store.CountPriorMergedSubmissions(ctx, sub.UserID, sub.ID)
	if err != nil {
		return err
	}
	isFirstPR := prior == 0

	award, err := s.xp.AwardPRMergeXP(ctx, sub.UserID, project.XPReward, sub.ID, isFirstPR)
	if err != nil {
		return err
	}
	if award.AlreadyGranted {
		return nil
	}

	unlocked := s.checkMergeAchievements(ctx, sub.UserID)

	data := map[string]any{
		"submissionId":   sub.ID,
		"projectId":      project.ID,
		"xpEarned":       award.XPAwarded,
		"isFirstPR":      isFirstPR,
		"levelUp":        award.LevelUp,
		"newLevel":       award.NewLevel,
		"badgesUnlocked": badgeIDs(unlocked),
	}
	if len(unlocked) > 0 {
		first := unlocked[0].Achievement
		data["badgeUnlocked"] = map[string]any{
			"id":   string(first.ID),
			"name": first.Name,
			"icon": first.Icon,
		}
	}

	s.notify(ctx, domain.Notification{
		UserID:  sub.UserID,
		Type:    domain.NotificationPRMerged,
		Title:   "Pull request merged",
		Message: fmt.Sprintf("%q was merged. You earned %d XP.", sub.PRTitle, award.XPAwarded),
		Data:    data,
	})

	s.comment(ctx, sub, fmt.Sprintf("Merged! %d XP awarded for **%s**.", award.XPAwarded, project.Title))

	if _, err := s.store.MarkSubmissionCompleted(ctx, sub.ID, s.now()); err != nil {
		s.logger.Warn("mark submission completed", zap.String("submission_id", sub.ID), zap.Error(err))
	}

	s.logger.Info("submission merged",
		zap.String("submission_id", sub.ID),
		zap.Int("xp", award.XPAwarded),
		zap.Bool("first_pr", isFirstPR),
		zap.Int("badges", len(unlocked)),
	)

	return nil
}

// markMerged confirms the merge on GitHub and moves the submission to MERGED.
// An unconfirmed merge fails so the webhook delivery is retried.
func (s *Service) markMerged(ctx context.Context, sub domain.Submission) (domain.Submission, error) {
	info, err := s.verifier.VerifyPR(ctx, sub.GitHubPRURL)
	if err != nil {
		return domain.Submission{}, err
	}
	if !info.Merged {
		s.logger.Warn("merge event for a pull request github reports unmerged", zap.String("submission_id", sub.ID))
		return domain.Submission{}, fmt.Errorf("submission %s: %w", sub.ID, domain.ErrMergeNotConfirmed)
	}
	if !sub.PRStatus.CanTransitionTo(domain.PRStatusMerged) {
		return domain.Submission{}, &domain.TransitionError{
			Entity: "submission",
			ID:     sub.ID,
			From:   string(sub.PRStatus),
			To:     string(domain.PRStatusMerged),
		}
	}

	mergedAt := s.now()
	if info.MergedAt != nil {
		mergedAt = *info.MergedAt
	}

	merged, err := s.store.TransitionSubmission(ctx, sub.ID, sub.PRStatus, domain.PRStatusMerged, mergedAt)
	if errors.Is(err, domain.ErrNotFound) {
		current, getErr := s.store.GetSubmission(ctx, sub.ID)
		if getErr != nil {
			return domain.Submission{}, getErr
		}
		if current.PRStatus == domain.PRStatusMerged {
			return current, nil
		}
		return domain.Submission{}, &domain.TransitionError{
			Entity: "submission",
			ID:     sub.ID,
			From:   string(current.PRStatus),
			To:     string(domain.PRStatusMerged),
			Reason: "submission changed concurrently",
		}
	}
	if err != nil {
		return domain.Submission{}, err
	}

	return merged, nil
}

func (s *Service) checkMergeAchievements(ctx context.Context, userID string) []achievement.UnlockResult {
	var unlocked []achievement.UnlockResult

	prUnlocks, err := s.achievements.CheckPRAchievements(ctx, userID)
	if err != nil {
		s.logger.Warn("pr achievements check failed", zap.String("user_id", userID), zap.Error(err))
	}
	unlocked = append(unlocked, prUnlocks...)

	streakUnlocks, err := s.achievements.CheckStreakAchievements(ctx, userID)
	if err != nil {
		s.logger.Warn("streak achievements check failed", zap.String("user_id", userID), zap.Error(err))
	}
	unlocked = append(unlocked, streakUnlocks...)

	return unlocked
}

func badgeIDs(results []achievement.UnlockResult) []string {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, string(r.Achievement.ID))
	}
	return ids
}

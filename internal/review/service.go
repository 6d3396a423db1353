package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vibedtocracked/contribution-review/internal/achievement"
	"github.com/vibedtocracked/contribution-review/internal/domain"
	"go.uber.org/zap"
)

type Store interface {
	CreateAssignment(ctx context.Context, a domain.ReviewAssignment) (domain.ReviewAssignment, error)
	GetAssignment(ctx context.Context, id string) (domain.ReviewAssignment, error)
	// TransitionAssignment moves the assignment only if it is still owned by
	// reviewerID and in state from. It returns domain.ErrNotFound otherwise.
	TransitionAssignment(ctx context.Context, id, reviewerID string, from, to domain.AssignmentStatus, at time.Time) (domain.ReviewAssignment, error)
	ListAssignmentsBySubmission(ctx context.Context, submissionID string) ([]domain.ReviewAssignment, error)
	ListAssignmentsByReviewer(ctx context.Context, reviewerID string, statuses []domain.AssignmentStatus) ([]domain.ReviewAssignment, error)
	ListOverdueAssignments(ctx context.Context, now time.Time) ([]domain.ReviewAssignment, error)
	ListPeerCandidates(ctx context.Context, exclude []string, limit int) ([]domain.User, error)
	ListAdminCandidates(ctx context.Context, exclude []string) ([]domain.User, error)
	GetSubmission(ctx context.Context, id string) (domain.Submission, error)
	CreateReview(ctx context.Context, r domain.Review) (domain.Review, error)
	MarkSubmissionCompleted(ctx context.Context, submissionID string, at time.Time) (bool, error)
	CreateNotification(ctx context.Context, n domain.Notification) error
}

type TxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type AchievementChecker interface {
	CheckReviewAchievements(ctx context.Context, userID string) ([]achievement.UnlockResult, error)
	CheckPerfectScoreAchievement(ctx context.Context, userID string, score int) (achievement.UnlockResult, error)
	CheckStreakAchievements(ctx context.Context, userID string) ([]achievement.UnlockResult, error)
}

type Policy struct {
	PeerDueIn          time.Duration
	AdminDueIn         time.Duration
	PeerPriority       int
	AdminPriority      int
	PeersPerSubmission int
	MaxPeerAttempts    int
	PeerWindow         time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		PeerDueIn:          7 * 24 * time.Hour,
		AdminDueIn:         3 * 24 * time.Hour,
		PeerPriority:       3,
		AdminPriority:      8,
		PeersPerSubmission: 2,
		MaxPeerAttempts:    3,
		PeerWindow:         14 * 24 * time.Hour,
	}
}

func (p Policy) dueIn(t domain.AssignmentType) time.Duration {
	if t == domain.AssignmentTypeAdmin {
		return p.AdminDueIn
	}
	return p.PeerDueIn
}

func (p Policy) priority(t domain.AssignmentType) int {
	if t == domain.AssignmentTypeAdmin {
		return clampPriority(p.AdminPriority)
	}
	return clampPriority(p.PeerPriority)
}

func clampPriority(p int) int {
	return min(max(p, 1), 10)
}

type DeclineResult struct {
	Declined    domain.ReviewAssignment
	Replacement *domain.ReviewAssignment
}

type CompleteResult struct {
	Assignment domain.ReviewAssignment
	Review     domain.Review
	Unlocked   []achievement.UnlockResult
}

// Service owns the review assignment lifecycle:
// ASSIGNED -> ACCEPTED | DECLINED, ACCEPTED -> COMPLETED.
type Service struct {
	store        Store
	tx           TxManager
	achievements AchievementChecker
	policy       Policy
	logger       *zap.Logger
	now          func() time.Time
}

func NewService(store Store, tx TxManager, achievements AchievementChecker, policy Policy, logger *zap.Logger) *Service {
	return &Service{
		store:        store,
		tx:           tx,
		achievements: achievements,
		policy:       policy,
		logger:       logger,
		now:          time.Now,
	}
}

// AssignInitial assigns peer reviewers to a fresh submission, falling back to
// one admin when no peer is available.
func (s *Service) AssignInitial(ctx context.Context, sub domain.Submission) ([]domain.ReviewAssignment, error) {
	var created []domain.ReviewAssignment
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		created = created[:0]
		peers, err := s.store.ListPeerCandidates(ctx, []string{sub.UserID}, s.policy.PeersPerSubmission)
		if err != nil {
			return err
		}

		if len(peers) == 0 {
			a, err := s.assignAdmin(ctx, sub, []string{sub.UserID})
			if err != nil {
				return err
			}
			created = append(created, a)
			return nil
		}

		for _, peer := range peers {
			a, err := s.create(ctx, sub, peer.ID, domain.AssignmentTypePeer)
			if err != nil {
				return err
			}
			created = append(created, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// Create opens an ASSIGNED assignment with the due date and priority of its type.
func (s *Service) Create(ctx context.Context, submissionID, reviewerID string, typ domain.AssignmentType) (domain.ReviewAssignment, error) {
	if !typ.IsValid() {
		return domain.ReviewAssignment{}, fmt.Errorf("unknown assignment type %q", typ)
	}
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return domain.ReviewAssignment{}, err
	}
	return s.create(ctx, sub, reviewerID, typ)
}

func (s *Service) create(ctx context.Context, sub domain.Submission, reviewerID string, typ domain.AssignmentType) (domain.ReviewAssignment, error) {
	now := s.now()
	a, err := s.store.CreateAssignment(ctx, domain.ReviewAssignment{
		SubmissionID: sub.ID,
		ReviewerID:   reviewerID,
		Type:         typ,
		Status:       domain.AssignmentStatusAssigned,
		Priority:     s.policy.priority(typ),
		DueDate:      now.Add(s.policy.dueIn(typ)),
		CreatedAt:    now,
	})
	if err != nil {
		return domain.ReviewAssignment{}, err
	}

	if err := s.store.CreateNotification(ctx, domain.Notification{
		UserID:  reviewerID,
		Type:    domain.NotificationReviewAssigned,
		Title:   "New review assignment",
		Message: fmt.Sprintf("You have been asked to review %q", sub.PRTitle),
		Data: map[string]any{
			"assignmentId": a.ID,
			"submissionId": sub.ID,
			"type":         string(typ),
			"dueDate":      a.DueDate.UTC().Format(time.RFC3339),
		},
		CreatedAt: now,
	}); err != nil {
		return domain.ReviewAssignment{}, err
	}

	s.logger.Info("review assigned",
		zap.String("assignment_id", a.ID),
		zap.String("submission_id", sub.ID),
		zap.String("reviewer_id", reviewerID),
		zap.String("type", string(typ)),
	)

	return a, nil
}

func (s *Service) Accept(ctx context.Context, assignmentID, callerID string) (domain.ReviewAssignment, error) {
	a, err := s.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return domain.ReviewAssignment{}, err
	}
	return s.transition(ctx, a, callerID, domain.AssignmentStatusAccepted)
}

// Decline releases the assignment and asks for a replacement reviewer.
// A failed replacement is logged and does not undo the decline.
func (s *Service) Decline(ctx context.Context, assignmentID, callerID string) (DeclineResult, error) {
	a, err := s.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return DeclineResult{}, err
	}
	declined, err := s.transition(ctx, a, callerID, domain.AssignmentStatusDeclined)
	if err != nil {
		return DeclineResult{}, err
	}

	res := DeclineResult{Declined: declined}
	replacement, err := s.replace(ctx, declined)
	if err != nil {
		s.logger.Error("replacement reviewer not assigned",
			zap.String("assignment_id", declined.ID),
			zap.String("submission_id", declined.SubmissionID),
			zap.Error(err),
		)
		return res, nil
	}
	res.Replacement = replacement

	return res, nil
}

func (s *Service) Complete(ctx context.Context, assignmentID, callerID string, score int, feedback string) (CompleteResult, error) {
	if score < domain.MinReviewScore || score > domain.MaxReviewScore {
		return CompleteResult{}, domain.ErrInvalidScore
	}

	a, err := s.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return CompleteResult{}, err
	}
	if err := checkTransition(a, callerID, domain.AssignmentStatusCompleted); err != nil {
		return CompleteResult{}, err
	}

	var res CompleteResult
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := s.now()
		updated, err := s.compareAndSwap(ctx, a, domain.AssignmentStatusCompleted, now)
		if err != nil {
			return err
		}

		rv, err := s.store.CreateReview(ctx, domain.Review{
			AssignmentID: updated.ID,
			SubmissionID: updated.SubmissionID,
			ReviewerID:   updated.ReviewerID,
			Status:       domain.ReviewStatusCompleted,
			OverallScore: &score,
			Feedback:     feedback,
			SubmittedAt:  &now,
		})
		if err != nil {
			return err
		}

		res.Assignment = updated
		res.Review = rv
		return nil
	})
	if err != nil {
		return CompleteResult{}, err
	}

	res.Unlocked = s.afterReview(ctx, res.Assignment, score)

	return res, nil
}

func (s *Service) afterReview(ctx context.Context, a domain.ReviewAssignment, score int) []achievement.UnlockResult {
	var unlocked []achievement.UnlockResult

	reviewerUnlocks, err := s.achievements.CheckReviewAchievements(ctx, a.ReviewerID)
	if err != nil {
		s.logger.Warn("review achievements check failed", zap.String("user_id", a.ReviewerID), zap.Error(err))
	}
	unlocked = append(unlocked, reviewerUnlocks...)

	// Review days count toward the reviewer's contribution streak.
	streakUnlocks, err := s.achievements.CheckStreakAchievements(ctx, a.ReviewerID)
	if err != nil {
		s.logger.Warn("streak achievements check failed", zap.String("user_id", a.ReviewerID), zap.Error(err))
	}
	unlocked = append(unlocked, streakUnlocks...)

	sub, err := s.store.GetSubmission(ctx, a.SubmissionID)
	if err != nil {
		s.logger.Warn("load reviewed submission", zap.String("submission_id", a.SubmissionID), zap.Error(err))
		return unlocked
	}

	if _, err := s.achievements.CheckPerfectScoreAchievement(ctx, sub.UserID, score); err != nil {
		s.logger.Warn("perfect score check failed", zap.String("user_id", sub.UserID), zap.Error(err))
	}

	now := s.now()
	if err := s.store.CreateNotification(ctx, domain.Notification{
		UserID:  sub.UserID,
		Type:    domain.NotificationReviewCompleted,
		Title:   "Your submission was reviewed",
		Message: fmt.Sprintf("%q received a score of %d", sub.PRTitle, score),
		Data: map[string]any{
			"submissionId": sub.ID,
			"assignmentId": a.ID,
			"score":        score,
		},
		CreatedAt: now,
	}); err != nil {
		s.logger.Warn("review notification failed", zap.String("submission_id", sub.ID), zap.Error(err))
	}

	if _, err := s.store.MarkSubmissionCompleted(ctx, sub.ID, now); err != nil {
		s.logger.Warn("mark submission completed", zap.String("submission_id", sub.ID), zap.Error(err))
	}

	return unlocked
}

// ExpireOverdue declines every ASSIGNED assignment past its due date on the
// reviewer's behalf and requests replacements.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	now := s.now()
	overdue, err := s.store.ListOverdueAssignments(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, a := range overdue {
		declined, err := s.store.TransitionAssignment(ctx, a.ID, a.ReviewerID, domain.AssignmentStatusAssigned, domain.AssignmentStatusDeclined, now)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return expired, err
		}
		expired++

		s.logger.Info("review assignment expired",
			zap.String("assignment_id", declined.ID),
			zap.String("reviewer_id", declined.ReviewerID),
		)

		if _, err := s.replace(ctx, declined); err != nil {
			s.logger.Error("replacement reviewer not assigned",
				zap.String("assignment_id", declined.ID),
				zap.Error(err),
			)
		}
	}

	return expired, nil
}

func (s *Service) ListForReviewer(ctx context.Context, reviewerID string, statuses []domain.AssignmentStatus) ([]domain.ReviewAssignment, error) {
	for _, st := range statuses {
		if !st.IsValid() {
			return nil, fmt.Errorf("unknown assignment status %q", st)
		}
	}
	return s.store.ListAssignmentsByReviewer(ctx, reviewerID, statuses)
}

func (s *Service) transition(ctx context.Context, a domain.ReviewAssignment, callerID string, to domain.AssignmentStatus) (domain.ReviewAssignment, error) {
	if err := checkTransition(a, callerID, to); err != nil {
		return domain.ReviewAssignment{}, err
	}
	updated, err := s.compareAndSwap(ctx, a, to, s.now())
	if err != nil {
		return domain.ReviewAssignment{}, err
	}

	s.logger.Info("review assignment transitioned",
		zap.String("assignment_id", a.ID),
		zap.String("from", string(a.Status)),
		zap.String("to", string(to)),
	)

	return updated, nil
}

func (s *Service) compareAndSwap(ctx context.Context, a domain.ReviewAssignment, to domain.AssignmentStatus, at time.Time) (domain.ReviewAssignment, error) {
	updated, err := s.store.TransitionAssignment(ctx, a.ID, a.ReviewerID, a.Status, to, at)
	if errors.Is(err, domain.ErrNotFound) {
		current, getErr := s.store.GetAssignment(ctx, a.ID)
		if getErr != nil {
			return domain.ReviewAssignment{}, getErr
		}
		return domain.ReviewAssignment{}, transitionError(current, to, "assignment changed concurrently")
	}
	return updated, err
}

func checkTransition(a domain.ReviewAssignment, callerID string, to domain.AssignmentStatus) error {
	if a.ReviewerID != callerID {
		return transitionError(a, to, "caller is not the assigned reviewer")
	}
	if !a.Status.CanTransitionTo(to) {
		return transitionError(a, to, "")
	}
	return nil
}

func transitionError(a domain.ReviewAssignment, to domain.AssignmentStatus, reason string) error {
	return &domain.TransitionError{
		Entity: "review assignment",
		ID:     a.ID,
		From:   string(a.Status),
		To:     string(to),
		Reason: reason,
	}
}

package contribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vibedtocracked/contribution-review/internal/achievement"
	"github.com/vibedtocracked/contribution-review/internal/domain"
	"github.com/vibedtocracked/contribution-review/internal/githubapi"
	"github.com/vibedtocracked/contribution-review/internal/xp"
	"go.uber.org/zap"
)

type Verifier interface {
	VerifyPR(ctx context.Context, prURL string) (githubapi.PRInfo, error)
	CheckCIStatus(ctx context.Context, prURL string) (githubapi.CIStatus, error)
	AddPRComment(ctx context.Context, prURL, message string) error
}

type Store interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
	GetProject(ctx context.Context, id string) (domain.Project, error)
	CreateSubmission(ctx context.Context, s domain.Submission) (domain.Submission, error)
	GetSubmission(ctx context.Context, id string) (domain.Submission, error)
	GetSubmissionByPRURL(ctx context.Context, prURL string) (domain.Submission, error)
	// TransitionSubmission changes the PR status only if it still equals from.
	// It returns domain.ErrNotFound otherwise.
	TransitionSubmission(ctx context.Context, id string, from, to domain.PRStatus, at time.Time) (domain.Submission, error)
	UpdateSubmissionCI(ctx context.Context, id string, ci domain.CIFlags) error
	UpdateSubmissionDetails(ctx context.Context, id, title, description string) error
	CountPriorMergedSubmissions(ctx context.Context, userID, excludeSubmissionID string) (int, error)
	MarkSubmissionCompleted(ctx context.Context, id string, at time.Time) (bool, error)
	CreateNotification(ctx context.Context, n domain.Notification) error
}

type Assigner interface {
	AssignInitial(ctx context.Context, sub domain.Submission) ([]domain.ReviewAssignment, error)
}

type XPAwarder interface {
	AwardPRMergeXP(ctx context.Context, userID string, baseReward int, submissionID string, isFirstPR bool) (xp.Award, error)
}

type Achievements interface {
	CheckPRAchievements(ctx context.Context, userID string) ([]achievement.UnlockResult, error)
	CheckStreakAchievements(ctx context.Context, userID string) ([]achievement.UnlockResult, error)
}

// Service runs the contribution pipeline from PR submission to merge rewards.
type Service struct {
	store        Store
	verifier     Verifier
	assigner     Assigner
	xp           XPAwarder
	achievements Achievements
	logger       *zap.Logger
	now          func() time.Time
}

func NewService(store Store, verifier Verifier, assigner Assigner, xp XPAwarder, achievements Achievements, logger *zap.Logger) *Service {
	return &Service{
		store:        store,
		verifier:     verifier,
		assigner:     assigner,
		xp:           xp,
		achievements: achievements,
		logger:       logger,
		now:          time.Now,
	}
}

func (s *Service) Get(ctx context.Context, id string) (domain.Submission, error) {
	return s.store.GetSubmission(ctx, id)
}

// Submit registers a pull request as the user's submission for a project.
// Steps after the submission row is created are best effort.
func (s *Service) Submit(ctx context.Context, userID, projectID, prURL string) (domain.Submission, error) {
	ref, err := githubapi.ParsePRURL(prURL)
	if err != nil {
		return domain.Submission{}, err
	}

	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return domain.Submission{}, fmt.Errorf("submitter %s: %w", userID, err)
	}

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return domain.Submission{}, err
	}

	info, err := s.verifier.VerifyPR(ctx, ref.URL())
	if err != nil {
		return domain.Submission{}, err
	}
	if !info.Targets(project.RepoOwner, project.RepoName) {
		return domain.Submission{}, fmt.Errorf("%w: %s is not %s/%s", domain.ErrWrongRepository, ref, project.RepoOwner, project.RepoName)
	}
	if !info.IsOpen() {
		return domain.Submission{}, domain.ErrPRNotOpen
	}

	canonicalURL := info.HTMLURL
	if canonicalURL == "" {
		canonicalURL = ref.URL()
	}

	sub, err := s.store.CreateSubmission(ctx, domain.Submission{
		UserID:        userID,
		ProjectID:     project.ID,
		GitHubPRURL:   canonicalURL,
		PRNumber:      info.Number,
		PRTitle:       info.Title,
		PRDescription: info.Description,
		PRStatus:      domain.PRStatusOpen,
	})
	if err != nil {
		return domain.Submission{}, err
	}

	s.logger.Info("submission created",
		zap.String("submission_id", sub.ID),
		zap.String("user_id", userID),
		zap.String("pr", ref.String()),
		zap.Bool("from_fork", info.FromFork()),
	)

	if flags, err := s.refreshCI(ctx, sub); err == nil {
		sub.CIPassed, sub.TestsPassed, sub.LintPassed = flags.CIPassed, flags.TestsPassed, flags.LintPassed
	}

	if _, err := s.assigner.AssignInitial(ctx, sub); err != nil {
		s.logger.Warn("initial review assignment failed", zap.String("submission_id", sub.ID), zap.Error(err))
	}

	s.comment(ctx, sub, fmt.Sprintf("Thanks for your submission to **%s**! Peer reviewers have been notified.", project.Title))

	s.notify(ctx, domain.Notification{
		UserID:  userID,
		Type:    domain.NotificationSubmissionReceived,
		Title:   "Submission received",
		Message: fmt.Sprintf("Your pull request %q was submitted for %s", sub.PRTitle, project.Title),
		Data: map[string]any{
			"submissionId": sub.ID,
			"projectId":    project.ID,
			"prUrl":        sub.GitHubPRURL,
		},
	})

	return sub, nil
}

func (s *Service) OnPullRequestOpened(ctx context.Context, prURL string) error {
	sub, ok, err := s.lookup(ctx, prURL)
	if err != nil || !ok {
		return err
	}
	_, err = s.refreshCI(ctx, sub)
	return err
}

func (s *Service) OnPullRequestSynchronized(ctx context.Context, prURL, title, description string) error {
	sub, ok, err := s.lookup(ctx, prURL)
	if err != nil || !ok {
		return err
	}
	if title != "" && (title != sub.PRTitle || description != sub.PRDescription) {
		if err := s.store.UpdateSubmissionDetails(ctx, sub.ID, title, description); err != nil {
			return err
		}
	}
	_, err = s.refreshCI(ctx, sub)
	return err
}

func (s *Service) OnCheckRunCompleted(ctx context.Context, prURL string) error {
	sub, ok, err := s.lookup(ctx, prURL)
	if err != nil || !ok {
		return err
	}
	_, err = s.refreshCI(ctx, sub)
	return err
}

func (s *Service) OnPullRequestClosed(ctx context.Context, prURL string, merged bool) error {
	sub, ok, err := s.lookup(ctx, prURL)
	if err != nil || !ok {
		return err
	}
	if merged {
		return s.handleMerge(ctx, sub)
	}
	return s.changeStatus(ctx, sub, domain.PRStatusClosed)
}

func (s *Service) OnPullRequestReopened(ctx context.Context, prURL string) error {
	sub, ok, err := s.lookup(ctx, prURL)
	if err != nil || !ok {
		return err
	}
	return s.changeStatus(ctx, sub, domain.PRStatusOpen)
}

func (s *Service) OnReviewSubmitted(ctx context.Context, prURL, reviewerLogin, state string) error {
	sub, ok, err := s.lookup(ctx, prURL)
	if err != nil || !ok {
		return err
	}
	return s.store.CreateNotification(ctx, domain.Notification{
		UserID:  sub.UserID,
		Type:    domain.NotificationReviewReceived,
		Title:   "New review on your pull request",
		Message: fmt.Sprintf("%s left a review (%s) on %q", reviewerLogin, state, sub.PRTitle),
		Data: map[string]any{
			"submissionId": sub.ID,
			"reviewer":     reviewerLogin,
			"state":        state,
		},
		CreatedAt: s.now(),
	})
}

func (s *Service) changeStatus(ctx context.Context, sub domain.Submission, to domain.PRStatus) error {
	if sub.PRStatus == to {
		return nil
	}
	if !sub.PRStatus.CanTransitionTo(to) {
		return &domain.TransitionError{Entity: "submission", ID: sub.ID, From: string(sub.PRStatus), To: string(to)}
	}

	updated, err := s.store.TransitionSubmission(ctx, sub.ID, sub.PRStatus, to, s.now())
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.Info("submission status changed concurrently", zap.String("submission_id", sub.ID))
		return nil
	}
	if err != nil {
		return err
	}

	s.notify(ctx, domain.Notification{
		UserID:  updated.UserID,
		Type:    domain.NotificationPRStatusChanged,
		Title:   "Pull request " + statusVerb(to),
		Message: fmt.Sprintf("Your pull request %q was %s", updated.PRTitle, statusVerb(to)),
		Data: map[string]any{
			"submissionId": updated.ID,
			"prStatus":     string(to),
		},
	})
	return nil
}

func statusVerb(st domain.PRStatus) string {
	if st == domain.PRStatusOpen {
		return "reopened"
	}
	return "closed"
}

func (s *Service) lookup(ctx context.Context, prURL string) (domain.Submission, bool, error) {
	sub, err := s.store.GetSubmissionByPRURL(ctx, prURL)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.Debug("pull request is not a tracked submission", zap.String("pr_url", prURL))
		return domain.Submission{}, false, nil
	}
	if err != nil {
		return domain.Submission{}, false, err
	}
	return sub, true, nil
}

func (s *Service) refreshCI(ctx context.Context, sub domain.Submission) (domain.CIFlags, error) {
	status, err := s.verifier.CheckCIStatus(ctx, sub.GitHubPRURL)
	if err != nil {
		s.logger.Warn("ci status unavailable", zap.String("submission_id", sub.ID), zap.Error(err))
		return domain.CIFlags{}, err
	}

	flags := domain.CIFlags{}
	if status.Conclusion != githubapi.CIPending {
		flags = domain.CIFlags{
			CIPassed:    status.Passed(),
			TestsPassed: status.SuitePassed("test"),
			LintPassed:  status.SuitePassed("lint"),
		}
	}
	if err := s.store.UpdateSubmissionCI(ctx, sub.ID, flags); err != nil {
		return domain.CIFlags{}, err
	}

	s.logger.Debug("ci status refreshed",
		zap.String("submission_id", sub.ID),
		zap.String("conclusion", string(status.Conclusion)),
	)
	return flags, nil
}

func (s *Service) comment(ctx context.Context, sub domain.Submission, message string) {
	if err := s.verifier.AddPRComment(ctx, sub.GitHubPRURL, message); err != nil {
		s.logger.Warn("pull request comment failed", zap.String("submission_id", sub.ID), zap.Error(err))
	}
}

func (s *Service) notify(ctx context.Context, n domain.Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		s.logger.Warn("notification failed",
			zap.String("user_id", n.UserID),
			zap.String("type", string(n.Type)),
			zap.Error(err),
		)
	}
}

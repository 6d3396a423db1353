package review

import (
	"context"

	"github.com/vibedtocracked/contribution-review/internal/domain"
	"go.uber.org/zap"
)

// replace assigns a new reviewer after a decline. It prefers a peer nobody has
// asked yet and falls back to an admin once peers are exhausted, the peer
// window has passed, or the declined assignment was already an admin one.
func (s *Service) replace(ctx context.Context, declined domain.ReviewAssignment) (*domain.ReviewAssignment, error) {
	sub, err := s.store.GetSubmission(ctx, declined.SubmissionID)
	if err != nil {
		return nil, err
	}
	if sub.CompletedAt != nil || sub.PRStatus == domain.PRStatusClosed {
		s.logger.Info("no replacement needed",
			zap.String("submission_id", sub.ID),
			zap.String("pr_status", string(sub.PRStatus)),
		)
		return nil, nil
	}

	history, err := s.store.ListAssignmentsBySubmission(ctx, sub.ID)
	if err != nil {
		return nil, err
	}

	exclude := []string{sub.UserID}
	declinedPeers := 0
	for _, a := range history {
		exclude = append(exclude, a.ReviewerID)
		if a.Type == domain.AssignmentTypePeer && a.Status == domain.AssignmentStatusDeclined {
			declinedPeers++
		}
	}

	var replacement domain.ReviewAssignment
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if !s.needsAdmin(sub, declined, declinedPeers) {
			peers, err := s.store.ListPeerCandidates(ctx, exclude, 1)
			if err != nil {
				return err
			}
			if len(peers) > 0 {
				replacement, err = s.create(ctx, sub, peers[0].ID, domain.AssignmentTypePeer)
				return err
			}
		}

		replacement, err = s.assignAdmin(ctx, sub, exclude)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &replacement, nil
}

func (s *Service) needsAdmin(sub domain.Submission, declined domain.ReviewAssignment, declinedPeers int) bool {
	switch {
	case declined.Type == domain.AssignmentTypeAdmin:
		return true
	case declinedPeers >= s.policy.MaxPeerAttempts:
		return true
	case s.policy.PeerWindow > 0 && s.now().Sub(sub.CreatedAt) >= s.policy.PeerWindow:
		return true
	}
	return false
}

func (s *Service) assignAdmin(ctx context.Context, sub domain.Submission, exclude []string) (domain.ReviewAssignment, error) {
	admins, err := s.store.ListAdminCandidates(ctx, exclude)
	if err != nil {
		return domain.ReviewAssignment{}, err
	}
	if len(admins) == 0 {
		return domain.ReviewAssignment{}, domain.ErrNoReviewer
	}
	return s.create(ctx, sub, admins[0].ID, domain.AssignmentTypeAdmin)
}

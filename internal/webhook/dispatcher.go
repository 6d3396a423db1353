package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/go-github/v66/github"
	"github.com/vibedtocracked/contribution-review/internal/githubapi"
	"go.uber.org/zap"
)

const (
	EventPullRequest       = "pull_request"
	EventPullRequestReview = "pull_request_review"
	EventCheckRun          = "check_run"
	EventPing              = "ping"
)

// Pipeline reacts to pull request lifecycle events.
type Pipeline interface {
	OnPullRequestOpened(ctx context.Context, prURL string) error
	OnPullRequestSynchronized(ctx context.Context, prURL, title, description string) error
	OnPullRequestClosed(ctx context.Context, prURL string, merged bool) error
	OnPullRequestReopened(ctx context.Context, prURL string) error
	OnCheckRunCompleted(ctx context.Context, prURL string) error
	OnReviewSubmitted(ctx context.Context, prURL, reviewerLogin, state string) error
}

type DeliveryStore interface {
	HasDelivery(ctx context.Context, deliveryID string) (bool, error)
	RecordDelivery(ctx context.Context, deliveryID, event string, at time.Time) error
}

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
)

type Result struct {
	Outcome Outcome
	Event   string
	Action  string
}

type Dispatcher struct {
	pipeline   Pipeline
	deliveries DeliveryStore
	logger     *zap.Logger
	now        func() time.Time
}

func NewDispatcher(pipeline Pipeline, deliveries DeliveryStore, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		pipeline:   pipeline,
		deliveries: deliveries,
		logger:     logger,
		now:        time.Now,
	}
}

// Dispatch routes a verified webhook payload by its event type. A delivery is
// recorded only after it was processed, so GitHub redeliveries retry failures.
func (d *Dispatcher) Dispatch(ctx context.Context, event, deliveryID string, payload []byte) (Result, error) {
	res := Result{Event: event, Outcome: OutcomeIgnored}

	switch event {
	case EventPullRequest, EventPullRequestReview, EventCheckRun, EventPing:
	default:
		d.logger.Debug("webhook event ignored", zap.String("event", event))
		return res, nil
	}

	if deliveryID != "" {
		seen, err := d.deliveries.HasDelivery(ctx, deliveryID)
		if err != nil {
			return res, err
		}
		if seen {
			res.Outcome = OutcomeDuplicate
			return res, nil
		}
	}

	parsed, err := github.ParseWebHook(event, payload)
	if err != nil {
		return res, fmt.Errorf("parse %s payload: %w", event, err)
	}

	var handled bool
	switch e := parsed.(type) {
	case *github.PullRequestEvent:
		res.Action = e.GetAction()
		handled, err = d.handlePullRequest(ctx, e)
	case *github.PullRequestReviewEvent:
		res.Action = e.GetAction()
		handled, err = d.handleReview(ctx, e)
	case *github.CheckRunEvent:
		res.Action = e.GetAction()
		handled, err = d.handleCheckRun(ctx, e)
	case *github.PingEvent:
		handled = true
	}
	if err != nil {
		return res, err
	}
	if !handled {
		return res, nil
	}

	res.Outcome = OutcomeProcessed
	if deliveryID != "" {
		if err := d.deliveries.RecordDelivery(ctx, deliveryID, event, d.now()); err != nil {
			d.logger.Warn("record webhook delivery", zap.String("delivery_id", deliveryID), zap.Error(err))
		}
	}

	return res, nil
}

func (d *Dispatcher) handlePullRequest(ctx context.Context, e *github.PullRequestEvent) (bool, error) {
	pr := e.GetPullRequest()
	url := pr.GetHTMLURL()

	switch e.GetAction() {
	case "opened":
		return true, d.pipeline.OnPullRequestOpened(ctx, url)
	case "synchronize":
		return true, d.pipeline.OnPullRequestSynchronized(ctx, url, pr.GetTitle(), pr.GetBody())
	case "closed":
		return true, d.pipeline.OnPullRequestClosed(ctx, url, pr.GetMerged())
	case "reopened":
		return true, d.pipeline.OnPullRequestReopened(ctx, url)
	}
	return false, nil
}

func (d *Dispatcher) handleReview(ctx context.Context, e *github.PullRequestReviewEvent) (bool, error) {
	if e.GetAction() != "submitted" {
		return false, nil
	}
	rv := e.GetReview()
	return true, d.pipeline.OnReviewSubmitted(ctx, e.GetPullRequest().GetHTMLURL(), rv.GetUser().GetLogin(), rv.GetState())
}

// handleCheckRun processes every linked pull request independently and joins the failures.
func (d *Dispatcher) handleCheckRun(ctx context.Context, e *github.CheckRunEvent) (bool, error) {
	if e.GetAction() != "completed" {
		return false, nil
	}

	repo := e.GetRepo()
	var errs []error
	for _, pr := range e.GetCheckRun().PullRequests {
		ref := githubapi.PRRef{
			Owner:  repo.GetOwner().GetLogin(),
			Repo:   repo.GetName(),
			Number: pr.GetNumber(),
		}
		if err := d.pipeline.OnCheckRunCompleted(ctx, ref.URL()); err != nil {
			d.logger.Error("check run processing failed", zap.String("pr", ref.String()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", ref, err))
		}
	}

	return true, errors.Join(errs...)
}

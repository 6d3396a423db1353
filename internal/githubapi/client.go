package githubapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v66/github"
	"github.com/vibedtocracked/contribution-review/internal/domain"
	"go.uber.org/zap"
)

type Config struct {
	Token        string
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// NewClient builds a REST client. An empty BaseURL keeps api.github.com.
func NewClient(cfg Config) (*github.Client, error) {
	client := github.NewClient(&http.Client{})
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}

	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		client.BaseURL = u
	}

	return client, nil
}

// Verifier answers questions about pull requests against the GitHub API.
// Every call runs with a per-attempt timeout and is retried on transient failures.
type Verifier struct {
	client *github.Client
	cfg    Config
	logger *zap.Logger
}

func NewVerifier(client *github.Client, cfg Config, logger *zap.Logger) *Verifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Verifier{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

func (v *Verifier) call(ctx context.Context, op string, fn func(ctx context.Context) (*github.Response, error)) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = v.cfg.RetryBackoff
	policy.MaxInterval = 8 * v.cfg.RetryBackoff
	policy.MaxElapsedTime = 0

	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
		defer cancel()

		resp, err := fn(callCtx)
		if err == nil {
			return nil
		}

		apiErr := wrapError(op, resp, err)
		if ctx.Err() != nil || !apiErr.Temporary() {
			return backoff.Permanent(apiErr)
		}
		return apiErr
	}

	notify := func(err error, wait time.Duration) {
		v.logger.Warn("github call failed, retrying",
			zap.String("op", op),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(v.cfg.MaxRetries)), ctx)
	return backoff.RetryNotify(attempt, b, notify)
}

func wrapError(op string, resp *github.Response, err error) *domain.GitHubAPIError {
	apiErr := &domain.GitHubAPIError{
		Op:      op,
		Message: err.Error(),
		Err:     err,
	}
	if resp != nil && resp.Response != nil {
		apiErr.StatusCode = resp.StatusCode
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Message != "" {
		apiErr.Message = ghErr.Message
	}

	return apiErr
}

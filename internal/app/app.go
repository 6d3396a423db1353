package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vibedtocracked/contribution-review/internal/achievement"
	"github.com/vibedtocracked/contribution-review/internal/auth"
	"github.com/vibedtocracked/contribution-review/internal/config"
	"github.com/vibedtocracked/contribution-review/internal/contribution"
	"github.com/vibedtocracked/contribution-review/internal/githubapi"
	"github.com/vibedtocracked/contribution-review/internal/httpserver"
	"github.com/vibedtocracked/contribution-review/internal/migrations"
	"github.com/vibedtocracked/contribution-review/internal/repository"
	"github.com/vibedtocracked/contribution-review/internal/review"
	"github.com/vibedtocracked/contribution-review/internal/scheduler"
	"github.com/vibedtocracked/contribution-review/internal/storage/postgres"
	"github.com/vibedtocracked/contribution-review/internal/webhook"
	"github.com/vibedtocracked/contribution-review/internal/xp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	httpServer *httpserver.Server
	sweeper    *scheduler.Sweeper
	db         *pgxpool.Pool
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	db, err := postgres.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}

	if err := migrations.Run(ctx, cfg.DatabaseURL, logger); err != nil {
		db.Close()
		return nil, err
	}

	ghCfg := githubapi.Config{
		Token:      cfg.GitHub.Token,
		BaseURL:    cfg.GitHub.APIURL,
		Timeout:    cfg.GitHub.Timeout,
		MaxRetries: cfg.GitHub.MaxRetries,
	}
	ghClient, err := githubapi.NewClient(ghCfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("github client: %w", err)
	}
	verifier := githubapi.NewVerifier(ghClient, ghCfg, logger.Named("github"))

	if cfg.GitHub.Token != "" {
		login, err := verifier.AuthenticatedUser(ctx)
		if err != nil {
			logger.Warn("github token check failed", zap.Error(err))
		} else {
			logger.Info("github authenticated", zap.String("login", login))
		}
	} else {
		logger.Warn("GITHUB_TOKEN is not set, using unauthenticated github access")
	}

	repo := repository.New(db)

	achievements := achievement.NewEngine(achievement.DefaultCatalog(), repo, repo, logger.Named("achievement"))
	xpSvc := xp.NewService(repo, repo, xp.DefaultLevel, logger.Named("xp"))

	policy := review.DefaultPolicy()
	policy.PeerDueIn = cfg.Review.PeerDue
	policy.AdminDueIn = cfg.Review.AdminDue
	policy.PeersPerSubmission = cfg.Review.PeersPerSubmission
	policy.MaxPeerAttempts = cfg.Review.MaxPeerAttempts
	policy.PeerWindow = cfg.Review.PeerWindow
	reviews := review.NewService(repo, repo, achievements, policy, logger.Named("review"))

	contributions := contribution.NewService(repo, verifier, reviews, xpSvc, achievements, logger.Named("contribution"))
	dispatcher := webhook.NewDispatcher(contributions, repo, logger.Named("webhook"))

	server := httpserver.New(cfg.HTTPPort, logger, httpserver.Deps{
		Submissions:   contributions,
		Assignments:   reviews,
		Achievements:  achievements,
		Notifications: repo,
		Webhooks:      dispatcher,
		Tokens:        auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer),
		WebhookSecret: cfg.GitHub.WebhookSecret,
	})

	return &App{
		cfg:        cfg,
		logger:     logger,
		httpServer: server,
		sweeper:    scheduler.NewSweeper(reviews, cfg.Review.SweepInterval, logger.Named("scheduler")),
		db:         db,
	}, nil
}

// Run serves HTTP and runs the sweeper until a signal arrives or the server fails.
func (a *App) Run(ctx context.Context) error {
	defer a.db.Close()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.httpServer.Start()
	})

	g.Go(func() error {
		a.sweeper.Run(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		return a.httpServer.Stop(shutdownCtx)
	})

	return g.Wait()
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"SignalScanner/internal/config"
	"SignalScanner/internal/filter"
	"SignalScanner/internal/infrastructure/llm"
	"SignalScanner/internal/infrastructure/scheduler"
	"SignalScanner/internal/infrastructure/slack"
	"SignalScanner/internal/infrastructure/sources"
	"SignalScanner/internal/infrastructure/storage"
	"SignalScanner/internal/infrastructure/suppression"
	"SignalScanner/internal/logging"
	"SignalScanner/internal/ports"
	"SignalScanner/internal/scanner"
	"SignalScanner/internal/usecase"
)

// Application wires configuration to the pipeline and its adapters.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *storage.SQLiteStore
	pipeline *usecase.Pipeline
	runner   *usecase.Runner
}

// New builds a runnable application instance. Sources are registered only
// when their credentials are present, so a partially configured scanner
// still drains whatever it can reach.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	store, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open signal store: %w", err)
	}

	matcher := filter.NewMatcher(keywordClusters(cfg.Keywords))

	registry := scanner.NewRegistry()
	registerSources(registry, cfg, matcher, baseLogger)
	if len(registry.Names()) == 0 {
		_ = store.Close()
		return nil, fmt.Errorf("no signal sources configured")
	}
	baseLogger.Info("sources registered", "names", registry.Names())

	classifier := llm.NewClaudeClassifier(llm.Config{
		Endpoint:       cfg.Claude.Endpoint,
		Model:          cfg.Claude.Model,
		APIKey:         cfg.Claude.APIKey,
		MaxTokens:      cfg.Claude.MaxTokens,
		RequestsPerSec: cfg.Claude.RequestsPerSec,
	})

	var notifier ports.Notifier
	if cfg.Slack.WebhookURL != "" {
		notifier = slack.NewNotifier(cfg.Slack.WebhookURL, cfg.Slack.MentionUserID)
	} else {
		baseLogger.Warn("slack webhook not configured, leads will be persisted without alerts")
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Registry:    registry,
		Ledger:      store,
		Repository:  store,
		Classifier:  classifier,
		Suppression: suppression.NewOutreachLog(cfg.Suppression.OutreachLogPath),
		Notifier:    notifier,
		Filter:      matcher,
		Threshold:   cfg.Scoring.NotifyThreshold,
		Lookback:    cfg.Scoring.Lookback,
		Logger:      baseLogger.With("component", "pipeline"),
	})

	runner := usecase.NewRunner(scheduler.NewIntervalScheduler(cfg.Scheduler.Interval), pipeline)

	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		store:    store,
		pipeline: pipeline,
		runner:   runner,
	}, nil
}

// Run executes one scan pass, or keeps scanning on the configured interval
// until the context is cancelled.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing signal store", "error", err)
		}
	}()

	if a.cfg.Scheduler.RunOnce {
		summary, err := a.pipeline.Run(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		a.logger.Info("scan complete",
			"fetched", summary.Fetched,
			"scored", summary.Scored,
			"persisted", summary.Persisted,
			"notified", summary.Notified,
		)
		return nil
	}

	if err := a.runner.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.runner.Stop(stopCtx)
}

func registerSources(registry *scanner.Registry, cfg config.Config, matcher *filter.Matcher, logger *slog.Logger) {
	if cfg.Reddit.ClientID != "" && cfg.Reddit.ClientSecret != "" {
		registry.Register(sources.NewRedditSource(sources.RedditConfig{
			ClientID:     cfg.Reddit.ClientID,
			ClientSecret: cfg.Reddit.ClientSecret,
			UserAgent:    cfg.Reddit.UserAgent,
			Subreddits:   cfg.Reddit.Subreddits,
			SearchTerms:  cfg.Reddit.SearchTerms,
		}, matcher, logger.With("component", "source.reddit")))
	}

	if cfg.GitHub.Token != "" {
		registry.Register(sources.NewGitHubSource(sources.GitHubConfig{
			Token:         cfg.GitHub.Token,
			SearchQueries: cfg.GitHub.SearchQueries,
			PriorityRepos: cfg.GitHub.PriorityRepos,
		}, logger.With("component", "source.github")))
	}

	if cfg.HuggingFace.Token != "" {
		registry.Register(sources.NewHuggingFaceSource(sources.HuggingFaceConfig{
			Token:       cfg.HuggingFace.Token,
			Datasets:    cfg.HuggingFace.Datasets,
			SearchTerms: cfg.HuggingFace.SearchTerms,
		}, nil, logger.With("component", "source.huggingface")))
	}

	if cfg.AlphaXiv.TrendingURL != "" {
		registry.Register(sources.NewAlphaXivSource(cfg.AlphaXiv.TrendingURL, nil))
	}
}

func keywordClusters(in []config.KeywordCluster) []filter.Cluster {
	out := make([]filter.Cluster, 0, len(in))
	for _, c := range in {
		out = append(out, filter.Cluster{Name: c.Name, Terms: c.Terms})
	}
	return out
}

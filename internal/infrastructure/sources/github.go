package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"

	"SignalScanner/internal/domain"
	"SignalScanner/internal/scanner"
)

// GitHubConfig wires the token, the broad keyword queries, and the
// priority repos whose fresh issues are taken wholesale.
type GitHubConfig struct {
	Token         string
	SearchQueries []string
	PriorityRepos []string
}

// GitHubSource scans the issue search API for pain signals.
type GitHubSource struct {
	cfg    GitHubConfig
	client *gh.Client
	logger *slog.Logger
}

var _ scanner.Source = (*GitHubSource)(nil)

// NewGitHubSource builds an authenticated client. An explicit client can
// be injected for tests via WithClient.
func NewGitHubSource(cfg GitHubConfig, logger *slog.Logger) *GitHubSource {
	return &GitHubSource{
		cfg:    cfg,
		client: gh.NewClient(nil).WithAuthToken(cfg.Token),
		logger: logger,
	}
}

// WithClient swaps the underlying client; used by tests to point at a
// fake server.
func (g *GitHubSource) WithClient(client *gh.Client) *GitHubSource {
	g.client = client
	return g
}

// Name identifies the strategy inside the registry.
func (g *GitHubSource) Name() string {
	return "github"
}

// FetchRecent runs the broad keyword queries first, then drains fresh
// issues from the priority repos. Hitting the search rate limit stops the
// remaining queries early rather than failing the batch.
func (g *GitHubSource) FetchRecent(ctx context.Context, since time.Time) ([]domain.Signal, error) {
	if g.cfg.Token == "" {
		return nil, fmt.Errorf("github token not configured")
	}

	cutoff := since.UTC().Format("2006-01-02")
	var signals []domain.Signal
	seen := map[string]struct{}{}

	queries := make([]string, 0, len(g.cfg.SearchQueries)+len(g.cfg.PriorityRepos))
	for _, terms := range g.cfg.SearchQueries {
		queries = append(queries, fmt.Sprintf("(%s) is:issue is:open created:>%s", terms, cutoff))
	}
	for _, repo := range g.cfg.PriorityRepos {
		queries = append(queries, fmt.Sprintf("repo:%s is:issue is:open created:>%s", repo, cutoff))
	}

	for _, query := range queries {
		result, resp, err := g.client.Search.Issues(ctx, query, &gh.SearchOptions{
			Sort:        "created",
			ListOptions: gh.ListOptions{PerPage: 25},
		})
		if err != nil {
			var rateErr *gh.RateLimitError
			if errors.As(err, &rateErr) {
				g.debug("rate limited, stopping remaining queries", "reset", rateErr.Rate.Reset)
				break
			}
			if resp != nil && resp.StatusCode == 422 {
				g.debug("query rejected", "query", query)
				continue
			}
			g.debug("search failed", "query", query, "error", err)
			continue
		}

		for _, issue := range result.Issues {
			if issue.IsPullRequest() {
				continue
			}
			url := issue.GetHTMLURL()
			if url == "" {
				continue
			}
			if _, dup := seen[url]; dup {
				continue
			}
			seen[url] = struct{}{}

			signals = append(signals, domain.Signal{
				Source:     domain.SourceGitHub,
				ExternalID: url,
				Title:      issue.GetTitle(),
				BodyText:   truncate(issue.GetBody(), maxBodyRunes),
				Author:     issue.GetUser().GetLogin(),
				CreatedAt:  issue.GetCreatedAt().Time,
				Metadata: map[string]string{
					"repo": repoFromURL(issue.GetRepositoryURL()),
				},
			})
		}
	}

	return signals, nil
}

func (g *GitHubSource) debug(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Debug(msg, args...)
	}
}

// repoFromURL turns an API repository URL into owner/name.
func repoFromURL(apiURL string) string {
	parts := strings.Split(apiURL, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2] + "/" + parts[len(parts)-1]
}

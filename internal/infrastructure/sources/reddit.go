// Package sources holds the platform adapters that feed the pipeline.
// Each adapter normalizes its platform's payload into domain.Signal with a
// stable canonical URL, dedups its own batch, and degrades gracefully:
// a partial failure logs and moves on, only a full failure surfaces.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"SignalScanner/internal/domain"
	"SignalScanner/internal/filter"
	"SignalScanner/internal/scanner"
)

const (
	redditTokenURL   = "https://www.reddit.com/api/v1/access_token"
	redditAPIBase    = "https://oauth.reddit.com"
	maxBodyRunes     = 3000
	maxTopComments   = 20
	searchPageLimit  = 10
	listingPageLimit = 100
)

// RedditConfig wires the script-app credentials, the subreddits to watch,
// and the terms used for per-subreddit searches.
type RedditConfig struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
	Subreddits   []string
	SearchTerms  []string
}

// RedditSource scans subreddit new-listings through the OAuth API. When a
// matcher is present it also drains top-level comments of matching posts
// and runs the configured term searches; without one, comment scanning is
// skipped so an unfiltered deployment cannot fan out into hundreds of
// comment fetches per run.
type RedditSource struct {
	cfg     RedditConfig
	matcher *filter.Matcher
	apiBase string
	client  *http.Client
	logger  *slog.Logger
}

var _ scanner.Source = (*RedditSource)(nil)

// NewRedditSource builds the source with a client-credentials token
// source.
func NewRedditSource(cfg RedditConfig, matcher *filter.Matcher, logger *slog.Logger) *RedditSource {
	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     redditTokenURL,
	}
	client := creds.Client(context.Background())
	client.Timeout = 20 * time.Second
	return &RedditSource{cfg: cfg, matcher: matcher, apiBase: redditAPIBase, client: client, logger: logger}
}

// Name identifies the strategy inside the registry.
func (r *RedditSource) Name() string {
	return "reddit"
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	SelfText   string  `json:"selftext"`
	Author     string  `json:"author"`
	Permalink  string  `json:"permalink"`
	Subreddit  string  `json:"subreddit"`
	Flair      string  `json:"link_flair_text"`
	CreatedUTC float64 `json:"created_utc"`
}

type redditCommentListing struct {
	Data struct {
		Children []struct {
			Kind string        `json:"kind"`
			Data redditComment `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditComment struct {
	Body       string  `json:"body"`
	Author     string  `json:"author"`
	Permalink  string  `json:"permalink"`
	Subreddit  string  `json:"subreddit"`
	CreatedUTC float64 `json:"created_utc"`
}

// FetchRecent walks each configured subreddit's new listing, the comments
// of matching posts, and the term searches, returning everything created
// after since. A failing subreddit is logged and skipped.
func (r *RedditSource) FetchRecent(ctx context.Context, since time.Time) ([]domain.Signal, error) {
	if r.cfg.ClientID == "" || r.cfg.ClientSecret == "" {
		return nil, fmt.Errorf("reddit credentials not configured")
	}

	var signals []domain.Signal
	seen := map[string]struct{}{}
	failures := 0

	add := func(sig domain.Signal) {
		if _, dup := seen[sig.ExternalID]; dup {
			return
		}
		seen[sig.ExternalID] = struct{}{}
		signals = append(signals, sig)
	}

	for _, sub := range r.cfg.Subreddits {
		posts, err := r.fetchListing(ctx, fmt.Sprintf("%s/r/%s/new?limit=%d", r.apiBase, sub, listingPageLimit))
		if err != nil {
			failures++
			r.debug("subreddit scan failed", "subreddit", sub, "error", err)
			continue
		}

		for _, post := range posts {
			created := time.Unix(int64(post.CreatedUTC), 0).UTC()
			if created.Before(since) {
				continue
			}
			add(postSignal(post, created))

			// Matching posts get their top-level comments drained too;
			// a buying signal is as likely in the replies as in the post.
			if r.matcher != nil && r.matcher.Matches(post.Title+" "+post.SelfText) {
				for _, sig := range r.fetchMatchingComments(ctx, post) {
					add(sig)
				}
			}
		}

		// Term searches catch posts where the keyword is buried deep
		// enough that the new-listing scan alone would miss the thread.
		for _, term := range r.cfg.SearchTerms {
			found, err := r.fetchListing(ctx, fmt.Sprintf("%s/r/%s/search?q=%s&restrict_sr=1&sort=new&t=day&limit=%d",
				r.apiBase, sub, url.QueryEscape(term), searchPageLimit))
			if err != nil {
				r.debug("subreddit search failed", "subreddit", sub, "term", term, "error", err)
				continue
			}
			for _, post := range found {
				created := time.Unix(int64(post.CreatedUTC), 0).UTC()
				if created.Before(since) {
					continue
				}
				add(postSignal(post, created))
			}
		}
	}

	if failures == len(r.cfg.Subreddits) && failures > 0 {
		return nil, fmt.Errorf("all %d subreddits failed", failures)
	}
	return signals, nil
}

func postSignal(post redditPost, created time.Time) domain.Signal {
	return domain.Signal{
		Source:     domain.SourceReddit,
		ExternalID: "https://reddit.com" + post.Permalink,
		Title:      post.Title,
		BodyText:   truncate(post.SelfText, maxBodyRunes),
		Author:     authorOrDeleted(post.Author),
		CreatedAt:  created,
		Metadata: map[string]string{
			"subreddit": post.Subreddit,
			"flair":     post.Flair,
		},
	}
}

// fetchMatchingComments drains the first page of top-level comments on a
// post and keeps the ones the matcher accepts. Comment failures never fail
// the run; the post itself already made it out.
func (r *RedditSource) fetchMatchingComments(ctx context.Context, post redditPost) []domain.Signal {
	id := post.ID
	if id == "" {
		id = postIDFromPermalink(post.Permalink)
	}
	if id == "" {
		return nil
	}

	comments, err := r.fetchComments(ctx, id)
	if err != nil {
		r.debug("comment scan failed", "post", post.Permalink, "error", err)
		return nil
	}

	var signals []domain.Signal
	for i, comment := range comments {
		if i >= maxTopComments {
			break
		}
		if !r.matcher.Matches(comment.Body) {
			continue
		}
		signals = append(signals, domain.Signal{
			Source:     domain.SourceRedditComment,
			ExternalID: "https://reddit.com" + comment.Permalink,
			Title:      "Re: " + post.Title,
			BodyText:   truncate(comment.Body, maxBodyRunes),
			Author:     authorOrDeleted(comment.Author),
			CreatedAt:  time.Unix(int64(comment.CreatedUTC), 0).UTC(),
			Metadata:   map[string]string{"subreddit": comment.Subreddit},
		})
	}
	return signals
}

func (r *RedditSource) fetchListing(ctx context.Context, url string) ([]redditPost, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", r.cfg.UserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reddit returned %s", resp.Status)
	}

	var listing redditListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}

	posts := make([]redditPost, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		posts = append(posts, child.Data)
	}
	return posts, nil
}

// fetchComments hits the article endpoint, which replies with a pair of
// listings: the post itself, then its top-level comments.
func (r *RedditSource) fetchComments(ctx context.Context, postID string) ([]redditComment, error) {
	url := fmt.Sprintf("%s/comments/%s?limit=%d&depth=1", r.apiBase, postID, maxTopComments)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", r.cfg.UserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request comments: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reddit returned %s", resp.Status)
	}

	var pages []redditCommentListing
	if err := json.NewDecoder(resp.Body).Decode(&pages); err != nil {
		return nil, fmt.Errorf("decode comments: %w", err)
	}
	if len(pages) < 2 {
		return nil, nil
	}

	var comments []redditComment
	for _, child := range pages[1].Data.Children {
		// "more" stubs carry no body
		if child.Kind != "t1" {
			continue
		}
		comments = append(comments, child.Data)
	}
	return comments, nil
}

// postIDFromPermalink pulls the base36 id out of
// /r/<subreddit>/comments/<id>/<slug>/.
func postIDFromPermalink(permalink string) string {
	parts := strings.Split(strings.Trim(permalink, "/"), "/")
	for i, part := range parts {
		if part == "comments" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

func (r *RedditSource) debug(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}

func authorOrDeleted(author string) string {
	if author == "" {
		return "[deleted]"
	}
	return author
}

// truncate cuts on a rune boundary so a multi-byte character is never
// split mid-sequence.
func truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}

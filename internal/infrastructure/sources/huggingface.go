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

	"SignalScanner/internal/domain"
	"SignalScanner/internal/scanner"
)

const (
	hfAPIBase            = "https://huggingface.co/api"
	hfDatasetsServerBase = "https://datasets-server.huggingface.co"
	hfSearchPageLimit    = 10
)

// HuggingFaceConfig names the datasets whose discussions and health are
// watched and the terms used for new-dataset searches.
type HuggingFaceConfig struct {
	Token       string
	Datasets    []string
	SearchTerms []string
}

// HuggingFaceSource watches dataset discussion threads, searches for
// recently created datasets in target domains, and probes dataset health
// on the Hub.
type HuggingFaceSource struct {
	cfg        HuggingFaceConfig
	apiBase    string
	serverBase string
	client     *http.Client
	logger     *slog.Logger
}

var _ scanner.Source = (*HuggingFaceSource)(nil)

// NewHuggingFaceSource wires an HTTP client; nil defaults to a 20s
// timeout client.
func NewHuggingFaceSource(cfg HuggingFaceConfig, client *http.Client, logger *slog.Logger) *HuggingFaceSource {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &HuggingFaceSource{
		cfg:        cfg,
		apiBase:    hfAPIBase,
		serverBase: hfDatasetsServerBase,
		client:     client,
		logger:     logger,
	}
}

// Name identifies the strategy inside the registry.
func (h *HuggingFaceSource) Name() string {
	return "huggingface"
}

type hfDiscussion struct {
	Title     string `json:"title"`
	Num       int    `json:"num"`
	CreatedAt string `json:"createdAt"`
	Author    struct {
		Name string `json:"name"`
	} `json:"author"`
}

type hfDiscussionList struct {
	Discussions []hfDiscussion `json:"discussions"`
}

type hfDiscussionDetail struct {
	Events []struct {
		Type string `json:"type"`
		Data struct {
			Latest struct {
				Raw string `json:"raw"`
			} `json:"latest"`
		} `json:"data"`
	} `json:"events"`
}

type hfDatasetInfo struct {
	ID          string `json:"id"`
	Author      string `json:"author"`
	CreatedAt   string `json:"createdAt"`
	Description string `json:"description"`
}

type hfValidity struct {
	Preview bool `json:"preview"`
	Viewer  bool `json:"viewer"`
}

// FetchRecent scans discussions opened after since on every watched
// dataset, probes each dataset's serving health, then searches the Hub
// for recently created datasets matching the configured terms.
func (h *HuggingFaceSource) FetchRecent(ctx context.Context, since time.Time) ([]domain.Signal, error) {
	if h.cfg.Token == "" {
		return nil, fmt.Errorf("huggingface token not configured")
	}

	var signals []domain.Signal
	seen := map[string]struct{}{}

	add := func(sig domain.Signal) {
		if _, dup := seen[sig.ExternalID]; dup {
			return
		}
		seen[sig.ExternalID] = struct{}{}
		signals = append(signals, sig)
	}

	for _, dataset := range h.cfg.Datasets {
		discussions, err := h.fetchDiscussions(ctx, dataset)
		if err != nil {
			h.debug("discussion scan failed", "dataset", dataset, "error", err)
			continue
		}

		for _, disc := range discussions {
			created, _ := time.Parse(time.RFC3339, disc.CreatedAt)
			if !created.IsZero() && created.Before(since) {
				continue
			}
			add(domain.Signal{
				Source:     domain.SourceHuggingFace,
				ExternalID: fmt.Sprintf("https://huggingface.co/datasets/%s/discussions/%d", dataset, disc.Num),
				Title:      disc.Title,
				BodyText:   h.discussionBody(ctx, dataset, disc),
				Author:     disc.Author.Name,
				CreatedAt:  created,
				Metadata:   map[string]string{"dataset_id": dataset},
			})
		}

		if sig, unhealthy := h.checkHealth(ctx, dataset); unhealthy {
			add(sig)
		}
	}

	for _, term := range h.cfg.SearchTerms {
		datasets, err := h.searchDatasets(ctx, term)
		if err != nil {
			h.debug("dataset search failed", "term", term, "error", err)
			continue
		}
		for _, ds := range datasets {
			created, _ := time.Parse(time.RFC3339, ds.CreatedAt)
			if !created.IsZero() && created.Before(since) {
				continue
			}
			add(domain.Signal{
				Source:     domain.SourceHFDataset,
				ExternalID: "https://huggingface.co/datasets/" + ds.ID,
				Title:      ds.ID,
				BodyText:   truncate(ds.Description, maxBodyRunes),
				Author:     ds.Author,
				CreatedAt:  created,
				Metadata:   map[string]string{"dataset_id": ds.ID},
			})
		}
	}

	return signals, nil
}

func (h *HuggingFaceSource) fetchDiscussions(ctx context.Context, dataset string) ([]hfDiscussion, error) {
	var list hfDiscussionList
	url := fmt.Sprintf("%s/datasets/%s/discussions", h.apiBase, dataset)
	if err := h.getJSON(ctx, url, &list); err != nil {
		return nil, err
	}
	return list.Discussions, nil
}

// discussionBody fetches the thread detail and concatenates its comment
// text. A detail failure falls back to the bare title; the discussion is
// still worth a signal.
func (h *HuggingFaceSource) discussionBody(ctx context.Context, dataset string, disc hfDiscussion) string {
	var detail hfDiscussionDetail
	url := fmt.Sprintf("%s/datasets/%s/discussions/%d", h.apiBase, dataset, disc.Num)
	if err := h.getJSON(ctx, url, &detail); err != nil {
		h.debug("discussion detail failed", "dataset", dataset, "num", disc.Num, "error", err)
		return ""
	}

	var parts []string
	for _, event := range detail.Events {
		if event.Type != "comment" || event.Data.Latest.Raw == "" {
			continue
		}
		parts = append(parts, event.Data.Latest.Raw)
	}
	return truncate(strings.Join(parts, " "), maxBodyRunes)
}

func (h *HuggingFaceSource) searchDatasets(ctx context.Context, term string) ([]hfDatasetInfo, error) {
	var datasets []hfDatasetInfo
	reqURL := fmt.Sprintf("%s/datasets?search=%s&sort=createdAt&direction=-1&limit=%d",
		h.apiBase, url.QueryEscape(term), hfSearchPageLimit)
	if err := h.getJSON(ctx, reqURL, &datasets); err != nil {
		return nil, err
	}
	return datasets, nil
}

func (h *HuggingFaceSource) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.cfg.Token)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("request hub: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hub returned %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// checkHealth probes the datasets server; a dataset losing its preview or
// viewer often precedes a data-quality complaint, so it is worth a signal.
func (h *HuggingFaceSource) checkHealth(ctx context.Context, dataset string) (domain.Signal, bool) {
	url := fmt.Sprintf("%s/is-valid?dataset=%s", h.serverBase, dataset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.Signal{}, false
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.debug("health probe failed", "dataset", dataset, "error", err)
		return domain.Signal{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Signal{}, false
	}

	validity := hfValidity{Preview: true, Viewer: true}
	if err := json.NewDecoder(resp.Body).Decode(&validity); err != nil {
		return domain.Signal{}, false
	}
	if validity.Preview && validity.Viewer {
		return domain.Signal{}, false
	}

	return domain.Signal{
		Source:     domain.SourceHFHealth,
		ExternalID: "https://huggingface.co/datasets/" + dataset,
		Title:      "Dataset health issue: " + dataset,
		BodyText:   fmt.Sprintf("Dataset %s has serving issues (preview=%t viewer=%t)", dataset, validity.Preview, validity.Viewer),
		CreatedAt:  time.Now().UTC(),
		Metadata:   map[string]string{"dataset_id": dataset},
	}, true
}

func (h *HuggingFaceSource) debug(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Debug(msg, args...)
	}
}

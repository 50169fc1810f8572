package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"SignalScanner/internal/domain"
)

func newTestHFSource(server *httptest.Server, cfg HuggingFaceConfig) *HuggingFaceSource {
	return &HuggingFaceSource{
		cfg:        cfg,
		apiBase:    server.URL,
		serverBase: server.URL,
		client:     server.Client(),
	}
}

func TestHuggingFaceFetchRecent(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	fresh := now.Add(-2 * time.Hour).Format(time.RFC3339)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer hf-test" && r.URL.Path != "/is-valid" {
			t.Errorf("missing bearer token on %s, got %q", r.URL.Path, auth)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/datasets/acme/eval-set/discussions":
			_, _ = w.Write([]byte(`{"discussions":[
				{"title":"Noisy labels in the test split","num":7,"createdAt":"` + fresh + `","author":{"name":"researcher"}}
			]}`))
		case "/datasets/acme/eval-set/discussions/7":
			_, _ = w.Write([]byte(`{"events":[
				{"type":"comment","data":{"latest":{"raw":"About 12% of the rows are mislabeled."}}},
				{"type":"status-change","data":{"latest":{"raw":""}}},
				{"type":"comment","data":{"latest":{"raw":"We had to re-annotate everything by hand."}}}
			]}`))
		case "/is-valid":
			_, _ = w.Write([]byte(`{"preview":true,"viewer":true}`))
		case "/datasets":
			if r.URL.Query().Get("search") != "annotation" {
				t.Errorf("unexpected search term: %q", r.URL.Query().Get("search"))
			}
			_, _ = w.Write([]byte(`[
				{"id":"acme/fresh-annotations","author":"acme","createdAt":"` + fresh + `","description":"Hand-labeled preference pairs"}
			]`))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	src := newTestHFSource(server, HuggingFaceConfig{
		Token:       "hf-test",
		Datasets:    []string{"acme/eval-set"},
		SearchTerms: []string{"annotation"},
	})

	signals, err := src.FetchRecent(context.Background(), now.Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(signals) != 2 {
		t.Fatalf("expected discussion + dataset hit, got %d signals", len(signals))
	}

	disc := signals[0]
	if disc.Source != domain.SourceHuggingFace {
		t.Fatalf("unexpected discussion source: %s", disc.Source)
	}
	if disc.ExternalID != "https://huggingface.co/datasets/acme/eval-set/discussions/7" {
		t.Fatalf("unexpected discussion url: %s", disc.ExternalID)
	}
	if !strings.Contains(disc.BodyText, "mislabeled") || !strings.Contains(disc.BodyText, "re-annotate") {
		t.Fatalf("discussion body must carry the thread text, got %q", disc.BodyText)
	}

	ds := signals[1]
	if ds.Source != domain.SourceHFDataset {
		t.Fatalf("unexpected dataset source: %s", ds.Source)
	}
	if ds.ExternalID != "https://huggingface.co/datasets/acme/fresh-annotations" {
		t.Fatalf("unexpected dataset url: %s", ds.ExternalID)
	}
	if ds.BodyText != "Hand-labeled preference pairs" {
		t.Fatalf("unexpected dataset body: %q", ds.BodyText)
	}
	if ds.Metadata["dataset_id"] != "acme/fresh-annotations" {
		t.Fatalf("unexpected dataset metadata: %v", ds.Metadata)
	}
}

func TestHuggingFaceDetailFailureFallsBackToTitle(t *testing.T) {
	t.Parallel()

	fresh := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/datasets/acme/eval-set/discussions":
			_, _ = w.Write([]byte(`{"discussions":[
				{"title":"Annotation drift","num":2,"createdAt":"` + fresh + `","author":{"name":"researcher"}}
			]}`))
		case "/datasets/acme/eval-set/discussions/2":
			w.WriteHeader(http.StatusInternalServerError)
		case "/is-valid":
			_, _ = w.Write([]byte(`{"preview":true,"viewer":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	src := newTestHFSource(server, HuggingFaceConfig{
		Token:    "hf-test",
		Datasets: []string{"acme/eval-set"},
	})

	signals, err := src.FetchRecent(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("expected the discussion despite the detail failure, got %d", len(signals))
	}
	if signals[0].Title != "Annotation drift" {
		t.Fatalf("unexpected title: %q", signals[0].Title)
	}
	if signals[0].BodyText != "" {
		t.Fatalf("detail failure should leave the body empty, got %q", signals[0].BodyText)
	}
}

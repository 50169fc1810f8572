package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"SignalScanner/internal/domain"
	"SignalScanner/internal/filter"
	"SignalScanner/internal/scanner"
)

type memSource struct {
	name    string
	signals []domain.Signal
	err     error
}

func (s *memSource) Name() string { return s.name }

func (s *memSource) FetchRecent(ctx context.Context, since time.Time) ([]domain.Signal, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.signals, nil
}

type memLedger struct {
	mu   sync.Mutex
	seen map[string]time.Time
	err  error
}

func newMemLedger() *memLedger {
	return &memLedger{seen: map[string]time.Time{}}
}

func (l *memLedger) HasSeen(ctx context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	_, ok := l.seen[id]
	return ok, nil
}

func (l *memLedger) MarkSeen(ctx context.Context, id string, at time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if _, ok := l.seen[id]; ok {
		return false, nil
	}
	l.seen[id] = at
	return true, nil
}

type memRepo struct {
	mu      sync.Mutex
	records map[string]domain.SignalRecord
}

func newMemRepo() *memRepo {
	return &memRepo{records: map[string]domain.SignalRecord{}}
}

func (r *memRepo) InsertIfAbsent(ctx context.Context, rec domain.SignalRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.Signal.ExternalID]; ok {
		return false, nil
	}
	r.records[rec.Signal.ExternalID] = rec
	return true, nil
}

func (r *memRepo) Get(ctx context.Context, id string) (*domain.SignalRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (r *memRepo) Unnotified(ctx context.Context, minTotal int) ([]domain.SignalRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SignalRecord
	for _, rec := range r.records {
		if !rec.Notified && rec.Scores.Total() >= minTotal {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memRepo) MarkNotified(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("record %s not found", id)
	}
	rec.Notified = true
	r.records[id] = rec
	return nil
}

type stubClassifier struct {
	mu      sync.Mutex
	calls   int
	reqs    []domain.ScoreRequest
	results map[string]domain.ScoreResult
	err     error
}

func (c *stubClassifier) Classify(ctx context.Context, req domain.ScoreRequest) (domain.ScoreResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls += 1
	c.reqs = append(c.reqs, req)
	if c.err != nil {
		return domain.ScoreResult{}, c.err
	}
	if result, ok := c.results[req.Title]; ok {
		return result, nil
	}
	return domain.ScoreResult{Category: domain.CategoryNone}, nil
}

type stubSuppression struct {
	authors map[string]bool
}

func (s *stubSuppression) IsSuppressed(ctx context.Context, id, author string) (bool, error) {
	return s.authors[author], nil
}

type stubNotifier struct {
	mu    sync.Mutex
	leads []domain.SignalRecord
	err   error
}

func (n *stubNotifier) NotifyLead(ctx context.Context, rec domain.SignalRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.leads = append(n.leads, rec)
	return nil
}

func testMatcher() *filter.Matcher {
	return filter.NewMatcher([]filter.Cluster{
		{Name: "pain", Terms: []string{"annotators", "noisy labels", "annotation"}},
	})
}

func redditSignal(id, title string) domain.Signal {
	return domain.Signal{
		Source:     domain.SourceReddit,
		ExternalID: id,
		Title:      title,
		Author:     "ml_builder",
		CreatedAt:  time.Now().UTC(),
		Metadata:   map[string]string{"subreddit": "MachineLearning"},
	}
}

type fixture struct {
	pipeline   *Pipeline
	ledger     *memLedger
	repo       *memRepo
	classifier *stubClassifier
	notifier   *stubNotifier
}

func newFixture(sources ...scanner.Source) *fixture {
	registry := scanner.NewRegistry()
	for _, src := range sources {
		registry.Register(src)
	}

	f := &fixture{
		ledger:     newMemLedger(),
		repo:       newMemRepo(),
		classifier: &stubClassifier{results: map[string]domain.ScoreResult{}},
		notifier:   &stubNotifier{},
	}
	f.pipeline = NewPipeline(PipelineDeps{
		Registry:    registry,
		Ledger:      f.ledger,
		Repository:  f.repo,
		Classifier:  f.classifier,
		Suppression: &stubSuppression{},
		Notifier:    f.notifier,
		Filter:      testMatcher(),
	})
	return f
}

func TestPipelineHighIntentLead(t *testing.T) {
	t.Parallel()

	title := "our annotators disagree 40% of the time"
	f := newFixture(&memSource{name: "reddit", signals: []domain.Signal{redditSignal("https://reddit.com/r1", title)}})
	f.classifier.results[title] = domain.ScoreResult{
		Scores:   domain.ScoreVector{Pain: 18, Urgency: 10, Commercial: 12, Proximity: 8, Fit: 14},
		Category: domain.CategoryAnnotationQuality,
	}

	summary, err := f.pipeline.Run(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	rec, _ := f.repo.Get(context.Background(), "https://reddit.com/r1")
	if rec == nil {
		t.Fatal("record not persisted")
	}
	if total := rec.Scores.Total(); total != 62 {
		t.Fatalf("expected total 62, got %d", total)
	}
	if rec.Tier != domain.TierHigh {
		t.Fatalf("expected High Intent tier, got %s", rec.Tier)
	}
	if len(f.notifier.leads) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(f.notifier.leads))
	}
	if !mustGet(t, f.repo, "https://reddit.com/r1").Notified {
		t.Fatal("record should be flagged notified")
	}
	if summary.Notified != 1 || summary.Persisted != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestPipelineIdempotentReingest(t *testing.T) {
	t.Parallel()

	title := "annotation disagreement is killing us"
	sig := redditSignal("https://reddit.com/r1", title)
	f := newFixture(&memSource{name: "reddit", signals: []domain.Signal{sig, sig}})
	f.classifier.results[title] = domain.ScoreResult{
		Scores:   domain.ScoreVector{Pain: 10, Urgency: 5, Commercial: 5, Proximity: 5, Fit: 5},
		Category: domain.CategoryAnnotationQuality,
	}

	if _, err := f.pipeline.Run(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	summary, err := f.pipeline.Run(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if f.classifier.calls != 1 {
		t.Fatalf("classifier must run once per unique id, got %d calls", f.classifier.calls)
	}
	if len(f.repo.records) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(f.repo.records))
	}
	if summary.Duplicates != 2 {
		t.Fatalf("expected 2 duplicates in second run, got %d", summary.Duplicates)
	}
}

func TestPipelineKeywordRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(&memSource{name: "reddit", signals: []domain.Signal{
		redditSignal("https://reddit.com/off-topic", "show hn: my new game engine"),
	}})

	summary, err := f.pipeline.Run(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Filtered != 1 {
		t.Fatalf("expected 1 filtered, got %d", summary.Filtered)
	}
	if f.classifier.calls != 0 {
		t.Fatal("rejected signal must never be scored")
	}
	if len(f.repo.records) != 0 {
		t.Fatal("rejected signal must not be persisted")
	}
	seen, _ := f.ledger.HasSeen(context.Background(), "https://reddit.com/off-topic")
	if !seen {
		t.Fatal("rejected signal must still be marked seen")
	}
}

func TestPipelineClassifierFallback(t *testing.T) {
	t.Parallel()

	f := newFixture(&memSource{name: "reddit", signals: []domain.Signal{
		redditSignal("https://reddit.com/r2", "noisy labels everywhere"),
	}})
	f.classifier.err = errors.New("timeout after retries")

	summary, err := f.pipeline.Run(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	rec := mustGet(t, f.repo, "https://reddit.com/r2")
	if rec.Scores.Total() != 0 {
		t.Fatalf("fallback record must have total 0, got %d", rec.Scores.Total())
	}
	if rec.Category != domain.CategoryNone {
		t.Fatalf("fallback category must be none-of-above, got %s", rec.Category)
	}
	if rec.Tier != domain.TierNoise {
		t.Fatalf("fallback tier must be the lowest, got %s", rec.Tier)
	}
	if len(f.notifier.leads) != 0 {
		t.Fatal("fallback record must not notify")
	}
	if summary.Fallbacks != 1 {
		t.Fatalf("expected 1 fallback, got %d", summary.Fallbacks)
	}
}

func TestPipelineClampsClassifierOutput(t *testing.T) {
	t.Parallel()

	title := "annotation pipeline on fire"
	f := newFixture(&memSource{name: "reddit", signals: []domain.Signal{redditSignal("https://reddit.com/r3", title)}})
	f.classifier.results[title] = domain.ScoreResult{
		Scores:   domain.ScoreVector{Pain: 500, Urgency: -4, Commercial: 21, Proximity: 15, Fit: 19},
		Category: domain.CategoryAnnotationQuality,
	}

	if _, err := f.pipeline.Run(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("run: %v", err)
	}

	rec := mustGet(t, f.repo, "https://reddit.com/r3")
	want := domain.ScoreVector{Pain: 25, Urgency: 0, Commercial: 20, Proximity: 15, Fit: 19}
	if rec.Scores != want {
		t.Fatalf("expected clamped vector %+v, got %+v", want, rec.Scores)
	}
	if rec.Scores.Total() != 79 {
		t.Fatalf("expected total 79, got %d", rec.Scores.Total())
	}
	if rec.Tier != domain.TierVeryHigh {
		t.Fatalf("expected Very High tier, got %s", rec.Tier)
	}
}

func TestPipelineSuppressedLead(t *testing.T) {
	t.Parallel()

	title := "need annotators urgently, budget approved"
	registry := scanner.NewRegistry()
	registry.Register(&memSource{name: "reddit", signals: []domain.Signal{redditSignal("https://reddit.com/r4", title)}})

	ledger := newMemLedger()
	repo := newMemRepo()
	notifier := &stubNotifier{}
	classifier := &stubClassifier{results: map[string]domain.ScoreResult{
		title: {
			Scores:   domain.ScoreVector{Pain: 22, Urgency: 18, Commercial: 18, Proximity: 13, Fit: 18},
			Category: domain.CategoryBudgetScaling,
		},
	}}

	pipeline := NewPipeline(PipelineDeps{
		Registry:    registry,
		Ledger:      ledger,
		Repository:  repo,
		Classifier:  classifier,
		Suppression: &stubSuppression{authors: map[string]bool{"ml_builder": true}},
		Notifier:    notifier,
		Filter:      testMatcher(),
	})

	summary, err := pipeline.Run(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(notifier.leads) != 0 {
		t.Fatal("suppressed lead must never reach the notifier")
	}
	rec := mustGet(t, repo, "https://reddit.com/r4")
	if rec.Notified {
		t.Fatal("suppressed record must stay unnotified")
	}
	if rec.Tier != domain.TierActiveBuyer {
		t.Fatalf("suppression must not change the earned tier, got %s", rec.Tier)
	}
	if summary.Suppressed != 1 {
		t.Fatalf("expected 1 suppressed, got %d", summary.Suppressed)
	}
}

func TestPipelineNotifierFailureLeavesRecordResendable(t *testing.T) {
	t.Parallel()

	title := "annotation vendor fell through, need help now"
	f := newFixture(&memSource{name: "reddit", signals: []domain.Signal{redditSignal("https://reddit.com/r5", title)}})
	f.classifier.results[title] = domain.ScoreResult{
		Scores:   domain.ScoreVector{Pain: 20, Urgency: 16, Commercial: 14, Proximity: 10, Fit: 16},
		Category: domain.CategoryAnnotationQuality,
	}
	f.notifier.err = errors.New("webhook 500")

	summary, err := f.pipeline.Run(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("notifier failure must not abort the run: %v", err)
	}
	if summary.Notified != 0 {
		t.Fatalf("expected 0 notified, got %d", summary.Notified)
	}

	pending, _ := f.repo.Unnotified(context.Background(), domain.DefaultNotifyThreshold)
	if len(pending) != 1 {
		t.Fatalf("record must be reachable for manual resend, got %d", len(pending))
	}
}

func TestPipelineSourceFailureSkipsSourceOnly(t *testing.T) {
	t.Parallel()

	title := "noisy labels in our eval set"
	f := newFixture(
		&memSource{name: "github", err: errors.New("rate limited")},
		&memSource{name: "reddit", signals: []domain.Signal{redditSignal("https://reddit.com/r6", title)}},
	)

	summary, err := f.pipeline.Run(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("adapter failure must not become a pipeline error: %v", err)
	}
	if summary.Fetched != 1 {
		t.Fatalf("expected remaining source processed, got %+v", summary)
	}
}

func TestPipelineLedgerFailureIsFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(&memSource{name: "reddit", signals: []domain.Signal{
		redditSignal("https://reddit.com/r7", "annotation chaos"),
	}})
	f.ledger.err = errors.New("disk gone")

	if _, err := f.pipeline.Run(context.Background(), time.Now().UTC()); err == nil {
		t.Fatal("ledger failure must abort the run")
	}
	if f.classifier.calls != 0 {
		t.Fatal("no scoring without dedup guarantees")
	}
}

func TestPipelineRejectsInvalidSignals(t *testing.T) {
	t.Parallel()

	f := newFixture(&memSource{name: "reddit", signals: []domain.Signal{
		{Source: domain.SourceReddit, Title: "annotation trouble"}, // missing identifier
	}})

	summary, err := f.pipeline.Run(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Invalid != 1 {
		t.Fatalf("expected 1 invalid, got %d", summary.Invalid)
	}
	if len(f.ledger.seen) != 0 {
		t.Fatal("invalid signal must not reach the ledger")
	}
}

func TestPipelineExistingRecordNotRedispatched(t *testing.T) {
	t.Parallel()

	// Ledger and signals table diverged (say, a restored ledger backup):
	// the record exists and was already delivered, but the id is unseen.
	title := "annotators quitting over label noise"
	sig := redditSignal("https://reddit.com/r9", title)
	f := newFixture(&memSource{name: "reddit", signals: []domain.Signal{sig}})
	f.classifier.results[title] = domain.ScoreResult{
		Scores:   domain.ScoreVector{Pain: 20, Urgency: 15, Commercial: 15, Proximity: 10, Fit: 15},
		Category: domain.CategoryAnnotationQuality,
	}
	f.repo.records["https://reddit.com/r9"] = domain.SignalRecord{
		Signal:   sig,
		Scores:   domain.ScoreVector{Pain: 20, Urgency: 15, Commercial: 15, Proximity: 10, Fit: 15},
		Tier:     domain.TierVeryHigh,
		Notified: true,
	}

	summary, err := f.pipeline.Run(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(f.notifier.leads) != 0 {
		t.Fatalf("existing record must not be re-alerted, got %d notifications", len(f.notifier.leads))
	}
	if summary.Persisted != 0 || summary.Notified != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if !mustGet(t, f.repo, "https://reddit.com/r9").Notified {
		t.Fatal("existing delivery state must survive the run")
	}
}

func TestPipelineBoundsClassifierBodyByRune(t *testing.T) {
	t.Parallel()

	sig := redditSignal("https://reddit.com/r10", "annotation pipeline melting down")
	sig.BodyText = strings.Repeat("ü", 2500)
	f := newFixture(&memSource{name: "reddit", signals: []domain.Signal{sig}})

	if _, err := f.pipeline.Run(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(f.classifier.reqs) != 1 {
		t.Fatalf("expected 1 classifier call, got %d", len(f.classifier.reqs))
	}
	body := f.classifier.reqs[0].Body
	if got := len([]rune(body)); got != 2000 {
		t.Fatalf("expected 2000-rune body, got %d", got)
	}
	if !utf8.ValidString(body) {
		t.Fatal("truncation split a multi-byte character")
	}
}

func mustGet(t *testing.T, repo *memRepo, id string) *domain.SignalRecord {
	t.Helper()
	rec, err := repo.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	if rec == nil {
		t.Fatalf("record %s not found", id)
	}
	return rec
}

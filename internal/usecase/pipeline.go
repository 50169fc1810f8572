package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"SignalScanner/internal/domain"
	"SignalScanner/internal/filter"
	"SignalScanner/internal/ports"
	"SignalScanner/internal/scanner"
)

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Registry    *scanner.Registry
	Ledger      ports.SeenLedger
	Repository  ports.SignalRepository
	Classifier  ports.Classifier
	Suppression ports.Suppression
	Notifier    ports.Notifier
	Filter      *filter.Matcher
	Threshold   int
	Lookback    time.Duration
	Logger      *slog.Logger
}

// Pipeline implements the signal-ingestion workflow: normalize, dedup,
// keyword gate, score, tier, persist, dispatch.
type Pipeline struct {
	registry    *scanner.Registry
	ledger      ports.SeenLedger
	repository  ports.SignalRepository
	classifier  ports.Classifier
	suppression ports.Suppression
	notifier    ports.Notifier
	filter      *filter.Matcher
	threshold   int
	lookback    time.Duration
	logger      *slog.Logger
}

// RunSummary counts what a single pass did with the drained signals.
type RunSummary struct {
	Fetched    int
	Invalid    int
	Duplicates int
	Filtered   int
	Scored     int
	Fallbacks  int
	Persisted  int
	Notified   int
	Suppressed int
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	threshold := deps.Threshold
	if threshold <= 0 {
		threshold = domain.DefaultNotifyThreshold
	}
	lookback := deps.Lookback
	if lookback <= 0 {
		lookback = 48 * time.Hour
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		registry:    deps.Registry,
		ledger:      deps.Ledger,
		repository:  deps.Repository,
		classifier:  deps.Classifier,
		suppression: deps.Suppression,
		notifier:    deps.Notifier,
		filter:      deps.Filter,
		threshold:   threshold,
		lookback:    lookback,
		logger:      logger,
	}
}

// Run drains every registered source once. A source failure skips that
// source; a ledger failure aborts the run, since the pipeline must not
// proceed without dedup guarantees.
func (p *Pipeline) Run(ctx context.Context, now time.Time) (RunSummary, error) {
	var summary RunSummary
	if p.registry == nil || p.ledger == nil || p.repository == nil {
		return summary, fmt.Errorf("pipeline missing registry, ledger, or repository")
	}

	log := p.logger.With("run_id", uuid.NewString())
	since := now.Add(-p.lookback)

	for _, name := range p.registry.Names() {
		source, err := p.registry.Resolve(name)
		if err != nil {
			log.Warn("source vanished from registry", "source", name, "error", err)
			continue
		}

		signals, err := source.FetchRecent(ctx, since)
		if err != nil {
			log.Warn("source failed, skipping for this run", "source", name, "error", err)
			continue
		}
		log.Debug("source drained", "source", name, "signals", len(signals))
		summary.Fetched += len(signals)

		for _, sig := range signals {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			if err := p.process(ctx, log, sig, now, &summary); err != nil {
				return summary, err
			}
		}
	}

	log.Info("run complete",
		"fetched", summary.Fetched,
		"duplicates", summary.Duplicates,
		"filtered", summary.Filtered,
		"scored", summary.Scored,
		"fallbacks", summary.Fallbacks,
		"persisted", summary.Persisted,
		"notified", summary.Notified,
		"suppressed", summary.Suppressed,
	)
	return summary, nil
}

func (p *Pipeline) process(ctx context.Context, log *slog.Logger, sig domain.Signal, now time.Time, summary *RunSummary) error {
	if !sig.Valid() {
		summary.Invalid++
		return nil
	}

	// Atomic claim: marking before the classifier call guarantees a crash
	// or concurrent worker can never double-bill a scoring request. The
	// acceptable failure mode is a skipped item, never a re-scored one.
	first, err := p.ledger.MarkSeen(ctx, sig.ExternalID, now)
	if err != nil {
		return fmt.Errorf("seen ledger: %w", err)
	}
	if !first {
		summary.Duplicates++
		return nil
	}

	if p.filter != nil && !p.filter.Matches(sig.Title+" "+sig.BodyText) {
		summary.Filtered++
		return nil
	}

	result := p.score(ctx, log, sig, summary)

	scores := result.Scores.Clamped()
	total := scores.Total()
	rec := domain.SignalRecord{
		Signal:      sig,
		Scores:      scores,
		Category:    result.Category,
		Tier:        domain.TierFor(total),
		Rationale:   result.Rationale,
		Hook:        result.Hook,
		ProcessedAt: now,
	}

	inserted, err := p.repository.InsertIfAbsent(ctx, rec)
	if err != nil {
		log.Error("persist failed", "id", sig.ExternalID, "error", err)
		return nil
	}
	if !inserted {
		// The existing row owns the delivery state; dispatching against a
		// freshly built record could re-alert an already-notified lead.
		log.Warn("record already present, skipping dispatch", "id", sig.ExternalID)
		return nil
	}
	summary.Persisted++

	p.dispatch(ctx, log, rec, total, summary)
	return nil
}

// score invokes the classifier once per unique identifier. Any error after
// the adapter's own retries becomes a fallback result: evidence retention
// takes priority over clean data.
func (p *Pipeline) score(ctx context.Context, log *slog.Logger, sig domain.Signal, summary *RunSummary) domain.ScoreResult {
	if p.classifier == nil {
		return domain.FallbackResult("no classifier configured")
	}

	summary.Scored++
	result, err := p.classifier.Classify(ctx, classifyRequest(sig))
	if err != nil {
		summary.Fallbacks++
		log.Warn("classifier failed, using fallback score", "id", sig.ExternalID, "error", err)
		return domain.FallbackResult(fmt.Sprintf("classifier error: %v", err))
	}
	result.Category = domain.ParseCategory(string(result.Category))
	return result
}

// dispatch decides whether a persisted record earns a notification.
// Suppression is a delivery-layer veto: the persisted tier stays as the
// score earned it.
func (p *Pipeline) dispatch(ctx context.Context, log *slog.Logger, rec domain.SignalRecord, total int, summary *RunSummary) {
	if total < p.threshold || p.notifier == nil {
		return
	}

	if p.suppression != nil {
		suppressed, err := p.suppression.IsSuppressed(ctx, rec.Signal.ExternalID, rec.Signal.Author)
		if err != nil {
			log.Warn("suppression lookup failed, treating as not suppressed", "id", rec.Signal.ExternalID, "error", err)
		} else if suppressed {
			summary.Suppressed++
			log.Info("lead suppressed, already engaged elsewhere", "id", rec.Signal.ExternalID, "tier", rec.Tier.Label())
			return
		}
	}

	if err := p.notifier.NotifyLead(ctx, rec); err != nil {
		// No in-run retry: the record stays unnotified and is reachable
		// through the repository for a manual resend.
		log.Error("notifier failed", "id", rec.Signal.ExternalID, "error", err)
		return
	}

	if err := p.repository.MarkNotified(ctx, rec.Signal.ExternalID); err != nil {
		log.Error("mark notified failed", "id", rec.Signal.ExternalID, "error", err)
		return
	}
	summary.Notified++
	log.Info("lead dispatched", "id", rec.Signal.ExternalID, "tier", rec.Tier.Label(), "total", total, "category", rec.Category)
}

// classifyRequest builds the bounded scoring payload: title, truncated
// body, and a short platform-context line from the metadata.
func classifyRequest(sig domain.Signal) domain.ScoreRequest {
	const maxBodyRunes = 2000

	body := sig.BodyText
	if runes := []rune(body); len(runes) > maxBodyRunes {
		body = string(runes[:maxBodyRunes])
	}

	platform := string(sig.Source)
	if sub := sig.Metadata["subreddit"]; sub != "" {
		platform += " (r/" + sub + ")"
	}
	if repo := sig.Metadata["repo"]; repo != "" {
		platform += " (repo: " + repo + ")"
	}
	if dataset := sig.Metadata["dataset_id"]; dataset != "" {
		platform += " (dataset: " + dataset + ")"
	}

	return domain.ScoreRequest{
		Title:   sig.Title,
		Body:    body,
		Context: platform,
		Author:  sig.Author,
	}
}

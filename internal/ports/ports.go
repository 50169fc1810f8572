package ports

import (
	"context"
	"time"

	"SignalScanner/internal/domain"
)

// SignalSource pulls recent raw signals from an upstream platform.
type SignalSource interface {
	FetchRecent(ctx context.Context, since time.Time) ([]domain.Signal, error)
}

// Classifier scores a signal through the external language model. It is
// modeled as a pure function over an unreliable transport; implementations
// own retries and throttling, callers own fallback and clamping.
type Classifier interface {
	Classify(ctx context.Context, req domain.ScoreRequest) (domain.ScoreResult, error)
}

// SeenLedger is the durable record of identifiers the pipeline has already
// handled. MarkSeen returns false when the identifier was present already,
// so check-then-mark is a single atomic claim.
type SeenLedger interface {
	HasSeen(ctx context.Context, externalID string) (bool, error)
	MarkSeen(ctx context.Context, externalID string, at time.Time) (bool, error)
}

// SignalRepository is the append-only store of scored signals.
// InsertIfAbsent reports whether a new row was written; an existing key is
// a successful no-op. There is no update path for scores or category.
type SignalRepository interface {
	InsertIfAbsent(ctx context.Context, rec domain.SignalRecord) (bool, error)
	Get(ctx context.Context, externalID string) (*domain.SignalRecord, error)
	Unnotified(ctx context.Context, minTotal int) ([]domain.SignalRecord, error)
	MarkNotified(ctx context.Context, externalID string) error
}

// Suppression is a read-only lookup of identifiers and contacts already
// engaged through another channel. It vetoes delivery, never scoring.
type Suppression interface {
	IsSuppressed(ctx context.Context, externalID, author string) (bool, error)
}

// Notifier delivers a lead to the outbound channel. It only acknowledges
// success or failure; the pipeline decides what is sent and when.
type Notifier interface {
	NotifyLead(ctx context.Context, rec domain.SignalRecord) error
}

// Scheduler controls when pipeline runs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}

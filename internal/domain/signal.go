package domain

import "time"

// Source identifies the platform a signal was collected from.
type Source string

const (
	SourceReddit        Source = "reddit"
	SourceRedditComment Source = "reddit_comment"
	SourceGitHub        Source = "github"
	SourceHuggingFace   Source = "huggingface"
	SourceHFDataset     Source = "huggingface_dataset"
	SourceHFHealth      Source = "huggingface_health"
	SourceAlphaXiv      Source = "alphaxiv"
)

// Signal is the canonical record every source adapter normalizes into.
// ExternalID is the canonical URL of the underlying item and doubles as
// the deduplication key, so adapters must emit it in a stable form.
type Signal struct {
	Source     Source
	ExternalID string
	Title      string
	BodyText   string
	Author     string
	CreatedAt  time.Time
	Metadata   map[string]string
}

// Valid reports whether the signal carries enough identity to enter the
// pipeline. Records without an identifier are rejected before the ledger.
func (s Signal) Valid() bool {
	return s.ExternalID != "" && (s.Title != "" || s.BodyText != "")
}

// SignalRecord is the persisted form of a scored signal. Rows are written
// once under ExternalID and never updated, except for the Notified flag.
type SignalRecord struct {
	Signal      Signal
	Scores      ScoreVector
	Category    Category
	Tier        Tier
	Rationale   string
	Hook        string
	ProcessedAt time.Time
	Notified    bool
}

// Package suppression checks leads against the outreach tool's contact
// log, so people already engaged on another channel are not pinged twice.
package suppression

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"SignalScanner/internal/ports"
)

// OutreachLog is a read-only lookup over a CSV log written by the
// companion outreach tool. The file is re-read per lookup; dispatch volume
// is a handful of leads per run and the log may grow between runs.
type OutreachLog struct {
	path string
}

var _ ports.Suppression = (*OutreachLog)(nil)

// NewOutreachLog points the lookup at a CSV file. A missing file means
// nobody has been contacted yet, not an error.
func NewOutreachLog(path string) *OutreachLog {
	return &OutreachLog{path: path}
}

// IsSuppressed reports whether the author or the identifier appears
// anywhere in the log, matched as a case-insensitive substring. Matching
// is deliberately loose: log columns vary by campaign and a false
// suppression only costs one notification.
func (l *OutreachLog) IsSuppressed(ctx context.Context, externalID, author string) (bool, error) {
	if l.path == "" {
		return false, nil
	}

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open outreach log: %w", err)
	}
	defer f.Close()

	var needles []string
	if author != "" {
		needles = append(needles, strings.ToLower(author))
	}
	if externalID != "" {
		needles = append(needles, strings.ToLower(externalID))
	}
	if len(needles) == 0 {
		return false, nil
	}

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	header := true
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return false, fmt.Errorf("read outreach log: %w", err)
		}
		if header {
			header = false
			continue
		}
		for _, value := range row {
			lower := strings.ToLower(value)
			for _, needle := range needles {
				if lower != "" && strings.Contains(lower, needle) {
					return true, nil
				}
			}
		}
	}

	return false, nil
}

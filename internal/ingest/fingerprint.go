package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/faultline-io/faultline-backend/internal/parser"
)

// Fingerprinter computes the opaque signature hash that groups events into
// stacks. The hash is treated as a black box everywhere else; only the
// stacking version ties cached entries to the algorithm that produced them.
type Fingerprinter interface {
	Fingerprint(event *parser.Event) string
}

// ContentFingerprinter hashes the normalized error shape: type, source and
// message with volatile noise stripped.
type ContentFingerprinter struct{}

func (ContentFingerprinter) Fingerprint(event *parser.Event) string {
	var b strings.Builder
	b.WriteString(event.Type)
	b.WriteByte('\n')
	b.WriteString(strings.TrimSpace(event.Source))
	b.WriteByte('\n')
	if event.Message != nil {
		b.WriteString(scrubMessage(*event.Message))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// scrubMessage strips digit runs so messages differing only in ids, ports or
// timestamps fingerprint identically.
func scrubMessage(message string) string {
	var b strings.Builder
	b.Grow(len(message))
	lastDigit := false
	for _, r := range strings.TrimSpace(message) {
		if r >= '0' && r <= '9' {
			if !lastDigit {
				b.WriteByte('#')
			}
			lastDigit = true
			continue
		}
		lastDigit = false
		b.WriteRune(r)
	}
	return b.String()
}

// TitleFor derives a human-facing stack title from the first event seen.
func TitleFor(event *parser.Event) string {
	if event.Message != nil && strings.TrimSpace(*event.Message) != "" {
		return truncate(strings.TrimSpace(*event.Message), 200)
	}
	if strings.TrimSpace(event.Source) != "" {
		return truncate(strings.TrimSpace(event.Source), 200)
	}
	return event.Type
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

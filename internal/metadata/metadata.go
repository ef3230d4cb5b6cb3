// Package metadata extracts best-effort printed metadata from an ECG image.
//
// The extractor sits behind a narrow capability interface: the digitization
// pipeline works identically whether or not an OCR engine is installed, and
// extraction failures are advisory, never fatal.
package metadata

import (
	"errors"
	"image"
	"regexp"
	"strings"
)

// Fields holds best-effort text recovered from the printout header.
type Fields struct {
	PatientID string `json:"patient_id,omitempty"`
	Date      string `json:"date,omitempty"`
	RawText   string `json:"raw_text,omitempty"`
}

// Extractor is the OCR capability interface.
type Extractor interface {
	// Extract runs OCR over the given header/label sub-image.
	Extract(img image.Image) (Fields, error)
	Close() error
}

// ErrUnavailable reports that no OCR engine is compiled in or installed.
var ErrUnavailable = errors.New("ocr engine unavailable")

var (
	junkChars  = regexp.MustCompile(`[^a-zA-Z0-9\s\t\n/\\.,:-]+`)
	blankRuns  = regexp.MustCompile(`(\n|\s|\t)(\n|\s|\t)+`)
	idPattern  = regexp.MustCompile(`(?i)\b(?:id|patient)[\s.:#]*([A-Z0-9-]{3,})`)
	datePattern = regexp.MustCompile(`\b(\d{1,4}[./-]\d{1,2}[./-]\d{1,4})\b`)
)

// CleanText strips OCR junk characters and collapses whitespace runs.
func CleanText(s string) string {
	s = junkChars.ReplaceAllString(s, "")
	s = blankRuns.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}

// ParseFields pulls structured fields out of cleaned OCR text.
func ParseFields(text string) Fields {
	f := Fields{RawText: text}
	if m := idPattern.FindStringSubmatch(text); m != nil {
		f.PatientID = m[1]
	}
	if m := datePattern.FindStringSubmatch(text); m != nil {
		f.Date = m[1]
	}
	return f
}

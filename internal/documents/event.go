package documents

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"caseflow-backend/internal/timeline"
)

const (
	maxDescriptionLen  = 280
	documentConfidence = 0.5
)

var (
	brDatePattern  = regexp.MustCompile(`\b(\d{2}/\d{2}/\d{4})\b`)
	isoDatePattern = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
)

// documentEvent derives the timeline event a document contributes: the
// first date found in its text (or fallback) and its first meaningful line.
// The type is left unknown and the low confidence queues it for
// normalization.
func documentEvent(doc Document, fallback time.Time) timeline.EventInput {
	date, ok := firstDate(doc.ExtractedText)
	if !ok {
		date = fallback
	}
	return timeline.EventInput{
		Source:      timeline.SourceDocumentUpload,
		ExternalID:  "doc:" + doc.ID,
		EventDate:   date,
		Description: summary(doc),
		Confidence:  documentConfidence,
		DocumentID:  doc.ID,
	}
}

func firstDate(text string) (time.Time, bool) {
	if m := brDatePattern.FindStringSubmatch(text); m != nil {
		if t, err := time.Parse("02/01/2006", m[1]); err == nil {
			return t, true
		}
	}
	if m := isoDatePattern.FindStringSubmatch(text); m != nil {
		if t, err := time.Parse(time.DateOnly, m[1]); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func summary(doc Document) string {
	for _, line := range strings.Split(doc.ExtractedText, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if utf8.RuneCountInString(line) < 8 {
			continue
		}
		if utf8.RuneCountInString(line) > maxDescriptionLen {
			line = string([]rune(line)[:maxDescriptionLen])
		}
		return line
	}
	return doc.FileName
}

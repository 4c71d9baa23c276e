package timeline

import (
	"strings"
	"time"
	"unicode"

	"caseflow-backend/internal/shared/util"
)

const (
	// dateWindowDays is where date proximity decays to zero.
	dateWindowDays = 30
	// dateToleranceDays is the drift still treated as agreement.
	dateToleranceDays = 1
	// sameEventText is the token overlap that identifies one event.
	sameEventText = 0.5
	// contradictionText is the overlap at which a same-day, same-type pair
	// is one event described two ways.
	contradictionText = 0.25
	// relatedText is the minimum overlap for a same-day relation.
	relatedText = 0.1
)

var stopWords = map[string]struct{}{
	"a": {}, "o": {}, "as": {}, "os": {}, "e": {}, "de": {}, "da": {}, "do": {}, "das": {}, "dos": {},
	"em": {}, "no": {}, "na": {}, "nos": {}, "nas": {}, "um": {}, "uma": {}, "por": {}, "para": {},
	"com": {}, "que": {}, "ao": {}, "aos": {}, "se": {},
	"the": {}, "of": {}, "and": {}, "to": {}, "in": {}, "on": {}, "for": {}, "by": {}, "an": {},
	"at": {}, "is": {}, "was": {}, "with": {},
}

func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(util.FoldAccents(s)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}

// textSimilarity is the Jaccard overlap of normalized description tokens.
func textSimilarity(a, b string) float64 {
	ta, tb := tokenize(a), tokenize(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func dayDiff(a, b time.Time) int {
	d := int(dateOnly(a).Sub(dateOnly(b)).Hours() / 24)
	if d < 0 {
		return -d
	}
	return d
}

// dateProximity is 1 on the same day and decays linearly to 0 at the window.
func dateProximity(a, b time.Time) float64 {
	d := dayDiff(a, b)
	if d >= dateWindowDays {
		return 0
	}
	return 1 - float64(d)/dateWindowDays
}

func normalizeType(t string) string {
	return strings.ToLower(strings.TrimSpace(util.FoldAccents(t)))
}

// typesAgree treats an unknown type on either side as agreement.
func typesAgree(a, b string) bool {
	na, nb := normalizeType(a), normalizeType(b)
	return na == "" || nb == "" || na == nb
}

type matchKind int

const (
	matchNone matchKind = iota
	matchRelated
	matchDuplicate
	matchConflict
)

type judgment struct {
	kind     matchKind
	score    float64
	conflict ConflictKind
	severity Severity
}

// judge decides how candidate relates to an existing entry.
func judge(existing Entry, candidate SourceEvent) judgment {
	days := dayDiff(existing.EventDate, candidate.EventDate)
	text := textSimilarity(existing.Description, candidate.Description)
	score := 0.4*dateProximity(existing.EventDate, candidate.EventDate) + 0.6*text
	typeOK := typesAgree(existing.EventType, candidate.EventType)

	switch {
	case days < dateWindowDays && text >= sameEventText:
		if days <= dateToleranceDays && typeOK {
			return judgment{kind: matchDuplicate, score: score}
		}
		if !typeOK {
			return judgment{kind: matchConflict, score: score, conflict: ConflictType, severity: SeverityHigh}
		}
		return judgment{kind: matchConflict, score: score, conflict: ConflictDate, severity: SeverityMedium}
	case days == 0 && typeOK && normalizeType(existing.EventType) != "" && normalizeType(candidate.EventType) != "" && text >= contradictionText:
		return judgment{kind: matchConflict, score: score, conflict: ConflictDescription, severity: SeverityLow}
	case days == 0 && text >= relatedText:
		return judgment{kind: matchRelated, score: score}
	default:
		return judgment{kind: matchNone, score: score}
	}
}

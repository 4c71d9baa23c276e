package analysis

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeErrorFlattensLines(t *testing.T) {
	assert.Equal(t, "", sanitizeError(nil))
	assert.Equal(t, "upstream failed  retry later", sanitizeError(errors.New("upstream failed\r\nretry later\n")))
}

func TestSanitizeErrorTruncatesOnRuneBoundary(t *testing.T) {
	msg := strings.Repeat("a", 499) + "ção indisponível"
	got := sanitizeError(errors.New(msg))

	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 499), got)

	long := strings.Repeat("é", 400)
	got = sanitizeError(errors.New(long))
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("é", 250), got)
}

package server

import (
	"os"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/UIDickinson/llm-identity/pkg/models"
)

// MaxInputLength bounds free-text request fields, in runes.
const MaxInputLength = 1000

var hubModelID = regexp.MustCompile(`^[\w-]+/[\w.-]+$`)

// ValidModelPath accepts an org/name hub identifier or an existing local path.
func ValidModelPath(p string) bool {
	if p == "" {
		return false
	}
	if hubModelID.MatchString(p) {
		return true
	}
	_, err := os.Stat(p)
	return err == nil
}

// ParseMode validates a requested audit mode. Empty means standard.
func ParseMode(s string) (models.AuditMode, bool) {
	if s == "" {
		return models.ModeStandard, true
	}
	return models.ParseAuditMode(s)
}

// Sanitize truncates s to MaxInputLength runes, drops control characters and
// trims surrounding space.
func Sanitize(s string) string {
	if s == "" {
		return ""
	}
	if utf8.RuneCountInString(s) > MaxInputLength {
		s = string([]rune(s)[:MaxInputLength])
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

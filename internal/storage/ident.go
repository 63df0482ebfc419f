package storage

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxIdentLen is the longest identifier NormalizeIdent produces. It is the
// Postgres limit, the tightest of the supported SQL backends.
const MaxIdentLen = 63

// NormalizeIdent folds an arbitrary JSON key into a portable SQL identifier:
// accents are stripped, letters lowered, every other run of characters becomes
// a single underscore, and a leading digit gets an underscore prefix.
//
// Examples: "Driver Name" -> "driver_name", "Café-ID" -> "cafe_id", "2nd" -> "_2nd".
func NormalizeIdent(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			underscore = false
		default:
			if !underscore && b.Len() > 0 {
				b.WriteByte('_')
				underscore = true
			}
		}
	}
	out := strings.TrimRight(b.String(), "_")
	if out == "" {
		return "col"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	if len(out) > MaxIdentLen {
		out = strings.TrimRight(out[:MaxIdentLen], "_")
	}
	return out
}

// UniqueIdent returns name, or name with a numeric suffix, such that it is not
// in taken. The result is added to taken.
func UniqueIdent(name string, taken map[string]bool) string {
	out := name
	for i := 2; taken[out]; i++ {
		suffix := "_" + strconv.Itoa(i)
		base := name
		if len(base)+len(suffix) > MaxIdentLen {
			base = base[:MaxIdentLen-len(suffix)]
		}
		out = base + suffix
	}
	taken[out] = true
	return out
}

package security

import "strings"

// Formula-trigger prefixes recognized by spreadsheet applications. A cell
// beginning with one of these (or a raw tab / carriage return) executes when
// the export is opened, so the cell gets a literal apostrophe prefix.
const formulaTriggers = "=+-@|%"

// SanitizeCSVCell defeats spreadsheet formula injection in exported audit
// data. The prefix decision is made after stripping control and zero-width
// characters and trimming whitespace, so a zero-width-space or blank padding
// smuggled before "=" cannot bypass the
// check; the returned value keeps the original content (including
// intentional leading or trailing spaces), only gaining the apostrophe.
func SanitizeCSVCell(value string) string {
	if value == "" {
		return ""
	}

	if value[0] == '\t' || value[0] == '\r' {
		return "'" + value
	}

	stripped := strings.TrimSpace(stripHiddenRunes(value))
	if stripped == "" {
		return value
	}

	if strings.ContainsRune(formulaTriggers, rune(stripped[0])) {
		return "'" + value
	}

	return value
}

// stripHiddenRunes removes control characters (U+0000-001F, U+007F-009F) and
// zero-width/formatting characters (U+200B-200F, U+2028-202F, U+FEFF).
func stripHiddenRunes(value string) string {
	var b strings.Builder
	b.Grow(len(value))

	for _, r := range value {
		if hiddenRune(r) {
			continue
		}
		b.WriteRune(r)
	}

	return b.String()
}

func hiddenRune(r rune) bool {
	switch {
	case r <= 0x001F:
		return true
	case r >= 0x007F && r <= 0x009F:
		return true
	case r >= 0x200B && r <= 0x200F:
		return true
	case r >= 0x2028 && r <= 0x202F:
		return true
	case r == 0xFEFF:
		return true
	}
	return false
}

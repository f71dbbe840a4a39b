package migration

import (
	"strings"
	"unicode"
)

// conversionRule describes whether old->new is permitted, and if so
// whether a scan of existing values is required before the DDL runs,
// and the SQL cast expression the shadow-table rebuild should apply.
type conversionRule struct {
	allowed        bool
	requiresScan   bool
	validate       func(string) bool
	castExpr       string // %s placeholder for the column reference
}

// reject is the zero-value rule: no conversion, no scan, no cast.
var reject = conversionRule{}

// ConversionRule returns the policy for converting a column from
// oldLogical to newLogical, per spec §4.4's type-conversion matrix.
//
// The matrix is a closed list. Pairs spec.md does not name are
// rejected outright rather than guessed at, with two narrow,
// self-consistent extensions documented inline below.
func ConversionRule(oldLogical, newLogical LogicalType) conversionRule {
	if oldLogical == newLogical {
		return conversionRule{allowed: true}
	}

	oc, nc := categoryOf(oldLogical), categoryOf(newLogical)

	switch {
	// text -> bounded string: allowed if every existing value already
	// fits the target width (spec §4.4).
	case oc == catText && nc == catBoundedString:
		w := boundedWidth[newLogical]
		return conversionRule{
			allowed:      true,
			requiresScan: true,
			validate:     func(s string) bool { return len(s) <= w },
			castExpr:     "%s",
		}

	// bounded string -> bounded string: widening is always safe;
	// narrowing requires the same length scan as text->bounded
	// string, since it is the same risk (truncation on rebuild).
	case oc == catBoundedString && nc == catBoundedString:
		oldW, newW := boundedWidth[oldLogical], boundedWidth[newLogical]
		if newW >= oldW {
			return conversionRule{allowed: true, castExpr: "%s"}
		}
		return conversionRule{
			allowed:      true,
			requiresScan: true,
			validate:     func(s string) bool { return len(s) <= newW },
			castExpr:     "%s",
		}

	// bounded string -> text: always safe, text has no width limit.
	case oc == catBoundedString && nc == catText:
		return conversionRule{allowed: true, castExpr: "%s"}

	// short_answer or a text-category type (paragraph, file_upload,
	// image_upload, unknown) -> number: allowed if every value parses
	// as a decimal number (spec §4.4).
	case newLogical == Number && (oldLogical == ShortAnswer || oc == catText):
		return conversionRule{
			allowed:      true,
			requiresScan: true,
			validate:     isDecimal,
			castExpr:     "%s",
		}

	// number -> string: safe, no scan (spec §4.4's conversion table
	// lists it alongside date/datetime -> string, distinct from the
	// string -> number direction above which does require a scan).
	case oldLogical == Number && newLogical == ShortAnswer:
		return conversionRule{allowed: true, castExpr: "%s"}

	// date -> string, datetime -> string: safe, no scan (spec §4.4).
	// The canonical date()/datetime() text representation always fits
	// the short_answer column width.
	case oldLogical == Date && newLogical == ShortAnswer:
		return conversionRule{allowed: true, castExpr: "%s"}
	case oldLogical == DateTime && newLogical == ShortAnswer:
		return conversionRule{allowed: true, castExpr: "%s"}

	// short_answer -> date/time/datetime: allowed if every value
	// parses under the target's format (spec §4.4).
	case oldLogical == ShortAnswer && newLogical == Date:
		return conversionRule{allowed: true, requiresScan: true, validate: isDateString, castExpr: "date(%s)"}
	case oldLogical == ShortAnswer && newLogical == Time:
		return conversionRule{allowed: true, requiresScan: true, validate: isTimeString, castExpr: "time(%s)"}
	case oldLogical == ShortAnswer && newLogical == DateTime:
		return conversionRule{allowed: true, requiresScan: true, validate: isDateTimeString, castExpr: "datetime(%s)"}

	// rating <-> slider: both already store 32-bit integers under the
	// same physical type, so reinterpretation is trivially safe.
	case oc == catInteger && nc == catInteger:
		return conversionRule{allowed: true, castExpr: "%s"}

	default:
		return reject
	}
}

// isDecimal reports whether s parses as a base-10 integer or decimal
// number, optionally signed.
func isDecimal(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if s[0] == '+' || s[0] == '-' {
		s = s[1:]
	}
	if s == "" {
		return false
	}
	seenDigit, seenDot := false, false
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			seenDigit = true
		case r == '.' && !seenDot:
			seenDot = true
		default:
			return false
		}
	}
	return seenDigit
}

// isDateString reports whether s is a YYYY-MM-DD date SQLite's date()
// function accepts.
func isDateString(s string) bool {
	return matchesDatePattern(s)
}

// isTimeString reports whether s is an HH:MM or HH:MM:SS time.
func isTimeString(s string) bool {
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if len(p) != 2 || !allDigits(p) {
			return false
		}
	}
	return true
}

// isDateTimeString reports whether s is a date and time joined by a
// space or 'T', as SQLite's datetime() function accepts.
func isDateTimeString(s string) bool {
	sep := " "
	if strings.Contains(s, "T") {
		sep = "T"
	}
	parts := strings.SplitN(s, sep, 2)
	if len(parts) != 2 {
		return false
	}
	return matchesDatePattern(parts[0]) && isTimeString(parts[1])
}

func matchesDatePattern(s string) bool {
	if len(s) != 10 || s[4] != '-' || s[7] != '-' {
		return false
	}
	return allDigits(s[0:4]) && allDigits(s[5:7]) && allDigits(s[8:10])
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

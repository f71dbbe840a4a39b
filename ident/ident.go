// Package ident turns human field and form labels into stable,
// collision-resistant SQL identifiers. Normalization never opens a
// transaction and never touches the database: the spec requires
// identifier resolution to be pure and pre-computed before any
// transaction opens (see spec §9, "dynamic column-name derivation
// mid-transaction"), so every function here is a plain string
// transform.
package ident

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidLabel is returned only when the label itself is nil/undefined
// at the call site (spec §4.1: "Fails with InvalidLabel only when the
// label is null/undefined. Empty strings use fallback."). Go has no
// null string and NormalizeLabel takes a plain string, so it never
// returns this error itself: callers that model "label absent" as a
// *string report it when that pointer is nil, and "" passed to
// NormalizeLabel uses the fallback base.
var ErrInvalidLabel = errors.New("ident: label is null/undefined")

// MaxLength is the hard ceiling spec §4.1 imposes on any identifier.
const MaxLength = 63

// namespace is the fixed UUID namespace the deterministic collision
// suffix is derived from (uuid.NewSHA1 requires one). It has no
// meaning beyond being constant across runs, which is all
// determinism requires.
var namespace = uuid.MustParse("6ba7b814-9dad-11d1-80b4-00c04fd430c8")

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Kind selects the prefix, the fallback base (substituted when a label
// normalizes to nothing) and the collision-suffix length used for a
// field column or a form table identifier.
type Kind int

const (
	KindField Kind = iota
	KindForm
)

func (k Kind) prefix() string {
	if k == KindForm {
		return "form_"
	}
	return "f_"
}

func (k Kind) fallback() string {
	if k == KindForm {
		return "form"
	}
	return "field"
}

func (k Kind) suffixLen() int {
	if k == KindForm {
		return 8
	}
	return 6
}

// NormalizeLabel implements the algorithm from spec §4.1, steps 1-6.
// id is the entity's stable identity (e.g. a field or form UUID); it
// seeds the collision suffix so two entities that share a title never
// collide. label must not be nil; pass ErrInvalidLabel's contract
// upstream by checking for a nil *string before calling, or call with
// "" directly (which uses the fallback, per spec).
func NormalizeLabel(kind Kind, label string, id string) (string, error) {
	// step 1: romanize
	romanized := transliterate(label)

	// step 2: collapse non-alphanumerics to a single underscore, lowercase
	lower := strings.ToLower(romanized)
	collapsed := nonAlnum.ReplaceAllString(lower, "_")
	collapsed = strings.Trim(collapsed, "_")

	// step 4: empty after collapse -> fallback base
	base := collapsed
	if base == "" {
		base = kind.fallback()
	}

	// step 3: must start with a letter
	if !startsWithLetter(base) {
		base = strings.TrimSuffix(kind.prefix(), "_") + "_" + base
	}

	suffix := collisionSuffix(id, kind.suffixLen())

	// step 6: truncate the pre-suffix portion so total length <= MaxLength
	budget := MaxLength - len(suffix) - 1 // 1 for the separating underscore
	if budget < 1 {
		budget = 1
	}
	if len(base) > budget {
		base = strings.TrimRight(base[:budget], "_")
		if base == "" {
			base = kind.fallback()
			if len(base) > budget {
				base = base[:max(1, budget)]
			}
		}
	}

	return base + "_" + suffix, nil
}

// Validate reports whether s satisfies spec §8 invariant 2:
// ^[a-z][a-z0-9_]{0,62}$.
var validIdentifier = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

func Validate(s string) bool {
	return validIdentifier.MatchString(s)
}

func startsWithLetter(s string) bool {
	if s == "" {
		return false
	}
	r := rune(s[0])
	return r >= 'a' && r <= 'z'
}

func collisionSuffix(id string, n int) string {
	u := uuid.NewSHA1(namespace, []byte(id))
	hex := strings.ReplaceAll(u.String(), "-", "")
	if n > len(hex) {
		n = len(hex)
	}
	return hex[:n]
}

// transliterate romanizes non-Latin runes deterministically. Latin
// letters with diacritics are decomposed via NFKD and stripped of
// their combining marks (so "café" -> "cafe"); the fixed Thai
// transliteration table in transliterate.go covers the non-Latin alphabet Q-Collector
// form labels are predominantly written in. Any rune this step can't
// place falls through untouched and is stripped by the
// non-alphanumeric collapse in step 2 — still deterministic and
// single-valued per input, satisfying spec §9's open question on the
// transliteration table.
func transliterate(s string) string {
	var b strings.Builder
	for _, r := range s {
		if repl, ok := thaiTable[r]; ok {
			b.WriteString(repl)
			continue
		}
		b.WriteRune(r)
	}

	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, b.String())
	if err != nil {
		return b.String()
	}
	return out
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

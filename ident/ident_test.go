package ident_test

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppongpan/Q-Collector-sub018/ident"
)

var idPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

func TestNormalizeLabelIsDeterministic(t *testing.T) {
	a, err := ident.NormalizeLabel(ident.KindField, "Customer Name", "field-123")
	require.NoError(t, err)
	b, err := ident.NormalizeLabel(ident.KindField, "Customer Name", "field-123")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNormalizeLabelCollisionResistant(t *testing.T) {
	a, err := ident.NormalizeLabel(ident.KindField, "Name", "field-1")
	require.NoError(t, err)
	b, err := ident.NormalizeLabel(ident.KindField, "Name", "field-2")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestNormalizeLabelOutputIsSQLSafe(t *testing.T) {
	labels := []string{
		"Customer Name",
		"ชื่อลูกค้า",
		"café número",
		"!!!",
		"",
		"123 Start With Digit",
		strings.Repeat("very long label ", 10),
	}

	for _, l := range labels {
		out, err := ident.NormalizeLabel(ident.KindField, l, "stable-id-"+l)
		require.NoError(t, err)
		assert.True(t, idPattern.MatchString(out), "label %q -> %q is not SQL-safe", l, out)
		assert.LessOrEqual(t, len(out), ident.MaxLength)
		assert.True(t, ident.Validate(out))
	}
}

func TestNormalizeLabelEmptyUsesFallback(t *testing.T) {
	out, err := ident.NormalizeLabel(ident.KindField, "", "some-id")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "field_"))

	out, err = ident.NormalizeLabel(ident.KindForm, "", "some-id")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "form_"))
}

func TestNormalizeLabelFormPrefixLonger(t *testing.T) {
	out, err := ident.NormalizeLabel(ident.KindForm, "Survey", "form-1")
	require.NoError(t, err)
	assert.True(t, idPattern.MatchString(out))
}

func TestValidateRejectsUnsafeIdentifiers(t *testing.T) {
	assert.False(t, ident.Validate("1abc"))
	assert.False(t, ident.Validate("Abc"))
	assert.False(t, ident.Validate("a-b"))
	assert.False(t, ident.Validate(strings.Repeat("a", 64)))
	assert.True(t, ident.Validate("a"))
	assert.True(t, ident.Validate("a_1"))
}

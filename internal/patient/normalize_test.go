package patient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"  John   SMITH ":        "john smith",
		"Dr. John Smith, Jr.":    "john smith",
		"Mrs. Anne-Marie O'Neil": "anne-marie o'neil",
		"":                       "",
		"Mr.":                    "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeName(in), "input %q", in)
	}
}

func TestNormalizePhoneIsRegionAware(t *testing.T) {
	assert.Equal(t, "+919876543210", NormalizePhone("98765 43210", "IN"))
	assert.Equal(t, NormalizePhone("+91 (98765) 43210", "IN"), NormalizePhone("098765-43210", "IN"))
	assert.Equal(t, "+16502530000", NormalizePhone("(650) 253-0000", "US"))
	// not a phone number at all: keep whatever digits there are
	assert.Equal(t, "12", NormalizePhone("ext 12", "US"))
	assert.Equal(t, "", NormalizePhone("   ", "US"))
}

func TestNormalizeEmailLowercasesDomainOnly(t *testing.T) {
	assert.Equal(t, "Jane.Doe@example.com", NormalizeEmail("  Jane.Doe@EXAMPLE.Com "))
	assert.Equal(t, "not-an-email", NormalizeEmail("not-an-email"))
}

func TestParseDOB(t *testing.T) {
	want := time.Date(1990, time.March, 4, 0, 0, 0, 0, time.UTC)
	for _, raw := range []string{"1990-03-04", "03/04/1990", "03-04-1990", "03.04.1990", "1990/03/04", "3/4/1990"} {
		got, err := ParseDOB(raw)
		require.NoError(t, err, raw)
		assert.True(t, want.Equal(got), "%s parsed as %s", raw, got)
	}

	// day-first only when month-first is impossible
	got, err := ParseDOB("25/12/1985")
	require.NoError(t, err)
	assert.Equal(t, time.December, got.Month())
	assert.Equal(t, 25, got.Day())

	for _, raw := range []string{"", "yesterday", "1990-13-45"} {
		_, err := ParseDOB(raw)
		assert.ErrorIs(t, err, ErrUnparseableDOB, raw)
	}
}

package patient

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dob1990 = time.Date(1990, time.March, 4, 0, 0, 0, 0, time.UTC)

func TestNameSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, NameSimilarity("john smith", "john smith"))
	assert.Equal(t, 1.0, NameSimilarity("smith john", "john smith"))
	assert.InDelta(t, 0.9, NameSimilarity("jon smith", "john smith"), 1e-9)
	assert.Less(t, NameSimilarity("mary jones", "john smith"), 0.5)
	assert.Equal(t, 1.0, NameSimilarity("", ""))
	assert.Equal(t, 0.0, NameSimilarity("abc", ""))
}

func TestScoreIsDeterministic(t *testing.T) {
	a := Key{Name: "jon smith", DOB: dob1990, Phone: "+919876543210"}
	b := Key{Name: "john smith", DOB: dob1990, Phone: "+919876543210", Email: "j@x.com"}

	first := Score(a, b)
	assert.Equal(t, first, Score(a, b))
	assert.True(t, first.DOBMatch)
	assert.True(t, first.PhoneMatch)
	assert.False(t, first.EmailMatch, "empty candidate email never matches")
	assert.InDelta(t, 0.6*0.9+0.4, first.Confidence(), 1e-9)
}

func TestMatcherDOBIsAHardGate(t *testing.T) {
	m := Matcher{Threshold: 0.85}

	sameName := Score(
		Key{Name: "john smith", DOB: dob1990, Phone: "+919876543210"},
		Key{Name: "john smith", DOB: dob1990.AddDate(0, 0, 1), Phone: "+919876543210"},
	)
	assert.False(t, m.IsMatch(sameName), "different DOB must never merge")

	contactOnly := Score(
		Key{Name: "j. smithers", DOB: dob1990, Email: "js@example.com"},
		Key{Name: "john smith", DOB: dob1990, Email: "JS@example.com"},
	)
	assert.Less(t, contactOnly.NameSimilarity, 0.85)
	assert.True(t, m.IsMatch(contactOnly))

	nameOnly := Score(Key{Name: "jon smith", DOB: dob1990}, Key{Name: "john smith", DOB: dob1990})
	assert.True(t, m.IsMatch(nameOnly))

	tooFar := Score(Key{Name: "joan smythe", DOB: dob1990}, Key{Name: "john smith", DOB: dob1990})
	assert.False(t, m.IsMatch(tooFar))
}

func TestMatcherThresholdIsExclusive(t *testing.T) {
	typo := Score(Key{Name: "jon smith", DOB: dob1990}, Key{Name: "john smith", DOB: dob1990})
	require.InDelta(t, 0.9, typo.NameSimilarity, 1e-9)

	assert.True(t, Matcher{Threshold: 0.89}.IsMatch(typo))
	assert.False(t, Matcher{Threshold: typo.NameSimilarity}.IsMatch(typo), "similarity equal to the threshold does not exceed it")

	typo.EmailMatch = true
	assert.True(t, Matcher{Threshold: typo.NameSimilarity}.IsMatch(typo), "contact match ignores the threshold")
}

func TestMatcherBestTieBreak(t *testing.T) {
	m := Matcher{Threshold: 0.85}
	now := time.Now()

	exact := Patient{ID: uuid.New(), NormalizedName: "john smith", DOB: dob1990, UpdatedAt: now.Add(-time.Hour)}
	typo := Patient{ID: uuid.New(), NormalizedName: "jon smith", DOB: dob1990, UpdatedAt: now}

	best, match, ok := m.Best(Key{Name: "john smith", DOB: dob1990}, []Patient{typo, exact})
	require.True(t, ok)
	assert.Equal(t, exact.ID, best.ID, "highest name similarity wins")
	assert.Equal(t, 1.0, match.NameSimilarity)

	older := Patient{ID: uuid.New(), NormalizedName: "john smith", DOB: dob1990, UpdatedAt: now.Add(-48 * time.Hour)}
	newer := Patient{ID: uuid.New(), NormalizedName: "john smith", DOB: dob1990, UpdatedAt: now}
	best, _, ok = m.Best(Key{Name: "john smith", DOB: dob1990}, []Patient{older, newer})
	require.True(t, ok)
	assert.Equal(t, newer.ID, best.ID, "equal similarity falls back to most recently updated")

	_, _, ok = m.Best(Key{Name: "john smith", DOB: dob1990.AddDate(1, 0, 0)}, []Patient{older, newer})
	assert.False(t, ok)
}

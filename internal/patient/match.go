package patient

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Match is the outcome of comparing a candidate key with a stored patient.
type Match struct {
	NameSimilarity float64
	DOBMatch       bool
	PhoneMatch     bool
	EmailMatch     bool
}

func (m Match) ContactMatch() bool {
	return m.PhoneMatch || m.EmailMatch
}

// Confidence is a weighted summary for logs and API responses. The match
// decision itself is made by Matcher.IsMatch.
func (m Match) Confidence() float64 {
	score := 0.6 * m.NameSimilarity
	if m.DOBMatch {
		score += 0.2
	}
	if m.ContactMatch() {
		score += 0.2
	}
	return score
}

// NameSimilarity is 1 - editDistance/maxLen over normalized names, taking the
// better of the given token order and the sorted token order.
func NameSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	best := editSimilarity(a, b)
	if s := editSimilarity(sortTokens(a), sortTokens(b)); s > best {
		best = s
	}
	return best
}

func editSimilarity(a, b string) float64 {
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// Score compares two normalized keys. It is pure and deterministic.
func Score(candidate, stored Key) Match {
	return Match{
		NameSimilarity: NameSimilarity(candidate.Name, stored.Name),
		DOBMatch:       !candidate.DOB.IsZero() && candidate.DOB.Equal(stored.DOB),
		PhoneMatch:     candidate.Phone != "" && candidate.Phone == stored.Phone,
		EmailMatch:     candidate.Email != "" && strings.EqualFold(candidate.Email, stored.Email),
	}
}

type Matcher struct {
	Threshold float64
}

// IsMatch requires an exact DOB, then either a name similarity strictly
// above the threshold or an exact phone/email match.
func (m Matcher) IsMatch(x Match) bool {
	if !x.DOBMatch {
		return false
	}
	return x.NameSimilarity > m.Threshold || x.ContactMatch()
}

// Best picks the matching patient with the highest name similarity, breaking
// ties by the most recent UpdatedAt.
func (m Matcher) Best(candidate Key, patients []Patient) (*Patient, Match, bool) {
	var (
		best      *Patient
		bestMatch Match
	)
	for i := range patients {
		p := &patients[i]
		x := Score(candidate, p.Key())
		if !m.IsMatch(x) {
			continue
		}
		if best == nil ||
			x.NameSimilarity > bestMatch.NameSimilarity ||
			(x.NameSimilarity == bestMatch.NameSimilarity && p.UpdatedAt.After(best.UpdatedAt)) {
			best = p
			bestMatch = x
		}
	}
	return best, bestMatch, best != nil
}

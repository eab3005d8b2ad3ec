package patient

import (
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/nyaruka/phonenumbers"
)

var ErrUnparseableDOB = errors.New("unparseable date of birth")

// honorifics and generational suffixes carry no identity
var ignoredNameTokens = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {},
	"jr": {}, "sr": {}, "ii": {}, "iii": {}, "iv": {},
}

// Month-first layouts are tried before day-first ones, so 03/04/1990 is March 4.
var dobLayouts = []string{
	"2006-01-02",
	"01/02/2006", "01-02-2006", "01.02.2006",
	"02/01/2006", "02-01-2006", "02.01.2006",
	"2006/01/02", "2006.01.02",
	"01/02/06", "01-02-06", "01.02.06",
	"02/01/06", "02-01-06", "02.01.06",
	"1/2/2006", "2/1/2006",
}

// NormalizeName lowercases, strips punctuation and drops honorifics.
func NormalizeName(name string) string {
	fields := strings.Fields(strings.ToLower(name))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		tok := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '\'' {
				return r
			}
			return -1
		}, f)
		if tok == "" {
			continue
		}
		if _, skip := ignoredNameTokens[tok]; skip {
			continue
		}
		tokens = append(tokens, tok)
	}
	return strings.Join(tokens, " ")
}

// NormalizePhone formats a number as E.164 for the given default region.
// Numbers the library rejects fall back to their digits.
func NormalizePhone(raw, region string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if num, err := phonenumbers.Parse(raw, region); err == nil && phonenumbers.IsValidNumber(num) {
		return phonenumbers.Format(num, phonenumbers.E164)
	}
	return digitsOnly(raw)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeEmail trims and lowercases the domain; the local part is kept.
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at+1] + strings.ToLower(email[at+1:])
}

// ParseDOB accepts the date formats the intake form has historically seen.
func ParseDOB(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrUnparseableDOB
	}
	for _, layout := range dobLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, ErrUnparseableDOB
}

// Normalize builds the match key for an input. DOB must already be parsed.
func Normalize(in Input, dob time.Time, region string) Key {
	return Key{
		Name:  NormalizeName(in.FullName),
		DOB:   dob,
		Phone: NormalizePhone(in.Phone, region),
		Email: NormalizeEmail(in.Email),
	}
}

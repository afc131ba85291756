// internal/domain/phone/phone.go
package phone

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidPhone is returned when a phone number is empty or cannot be canonicalized.
var ErrInvalidPhone = errors.New("invalid phone number")

const (
	DefaultCountryCode  = "52"
	DefaultMobilePrefix = "1"
	nationalDigits      = 10
)

// separators that show up in spreadsheet cells but carry no meaning.
var separatorReplacer = strings.NewReplacer(" ", "", "-", "", ".", "", "(", "", ")", "", "\t", "")

// Keyer canonicalizes phone numbers into the two renderings used across the system:
// the send form (+5216641234567) used as the WhatsApp recipient, and the key form
// (5216641234567) used for delivery reconciliation and spreadsheet lookups.
//
// The same Keyer must be used by the sender and the webhook parser. If the two ever
// normalize differently, delivery statuses stop matching their rows.
type Keyer struct {
	countryCode string
	prefix      string
	validForm   *regexp.Regexp
}

// NewKeyer builds a Keyer for a country code and mobile prefix, e.g. ("52", "1") for Mexico.
func NewKeyer(countryCode, mobilePrefix string) *Keyer {
	countryCode = strings.TrimPrefix(strings.TrimSpace(countryCode), "+")
	prefix := countryCode + strings.TrimSpace(mobilePrefix)
	return &Keyer{
		countryCode: countryCode,
		prefix:      prefix,
		validForm:   regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `\d{10}$`),
	}
}

// Default returns a Keyer for Mexican mobile numbers ("521").
func Default() *Keyer {
	return NewKeyer(DefaultCountryCode, DefaultMobilePrefix)
}

// Prefix is the full country-mobile prefix, e.g. "521".
func (k *Keyer) Prefix() string { return k.prefix }

// KeyForm returns the bare-digit canonical form.
func (k *Keyer) KeyForm(raw string) (string, error) {
	n := separatorReplacer.Replace(strings.TrimSpace(raw))
	n = strings.TrimPrefix(n, "+")
	if n == "" {
		return "", ErrInvalidPhone
	}

	switch {
	case strings.HasPrefix(n, k.prefix):
		return n, nil
	case k.countryCode != k.prefix && strings.HasPrefix(n, k.countryCode) && len(n) == len(k.countryCode)+nationalDigits:
		// "52" + national number, missing the mobile "1".
		return k.prefix + n[len(k.countryCode):], nil
	default:
		return k.prefix + n, nil
	}
}

// SendForm returns the "+"-prefixed canonical form used as the message recipient.
func (k *Keyer) SendForm(raw string) (string, error) {
	key, err := k.KeyForm(raw)
	if err != nil {
		return "", err
	}
	return "+" + key, nil
}

// Valid reports whether raw canonicalizes to exactly <prefix><10 digits>.
func (k *Keyer) Valid(raw string) bool {
	key, err := k.KeyForm(raw)
	if err != nil {
		return false
	}
	return k.validForm.MatchString(key)
}

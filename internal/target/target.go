// Package target validates and normalizes investigation targets.
package target

import (
	"errors"
	"net/url"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
)

// MaxURLLength bounds accepted input before parsing.
const MaxURLLength = 2048

// Validation errors. All map to a 400 at the HTTP layer.
var (
	ErrURLRequired = eris.New("URL required")
	ErrURLTooLong  = eris.New("URL too long")
	ErrInvalidURL  = eris.New("invalid URL format")
)

// Request is a validated investigation target. Immutable once created.
type Request struct {
	URL    string `json:"url"`
	Domain string `json:"domain"`
	Name   string `json:"name"`
}

// Logo returns the single-character logo placeholder for the target.
func (r Request) Logo() string {
	if r.Name == "" {
		return "?"
	}
	return string([]rune(r.Name)[0])
}

// Normalize validates raw user input and produces a Request. Bare domains
// get an https scheme prepended; only http/https URLs with a dotted
// hostname are accepted.
func Normalize(input string) (Request, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return Request{}, ErrURLRequired
	}
	if len(trimmed) > MaxURLLength {
		return Request{}, ErrURLTooLong
	}

	raw := trimmed
	if !strings.HasPrefix(raw, "http") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return Request{}, eris.Wrap(ErrInvalidURL, err.Error())
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return Request{}, ErrInvalidURL
	}
	host := parsed.Hostname()
	if host == "" || !strings.Contains(host, ".") {
		return Request{}, ErrInvalidURL
	}

	return Request{
		URL:    raw,
		Domain: host,
		Name:   displayName(host),
	}, nil
}

// IsValidationError reports whether err stems from target validation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrURLRequired) ||
		errors.Is(err, ErrURLTooLong) ||
		errors.Is(err, ErrInvalidURL)
}

// displayName capitalizes the first label of the domain: "acme.com" -> "Acme".
func displayName(domain string) string {
	label := strings.Split(domain, ".")[0]
	if label == "" {
		return ""
	}
	runes := []rune(label)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

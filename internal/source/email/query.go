package email

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
)

// queryDateLayout is the date format accepted by since: and before:.
const queryDateLayout = "2006-01-02"

// WithSince appends a since-constraint to query in this source's query
// syntax. A zero since leaves the query unchanged.
func WithSince(query string, since time.Time) string {
	if since.IsZero() {
		return query
	}
	term := "since:" + since.UTC().Format(queryDateLayout)
	if strings.TrimSpace(query) == "" {
		return term
	}
	return query + " " + term
}

// ParseQuery converts a query string into IMAP search criteria.
//
// A query is a whitespace-separated list of terms that are ANDed:
//
//	subject:invoice|receipt from:amazon has:attachment since:2024-01-31
//
// Values may be double-quoted to include spaces, "a|b" matches either
// alternative, and a leading "-" negates a term. Supported keys are
// subject, from, to, cc, body, text, since, before, larger, smaller and
// has:attachment.
func ParseQuery(query string) (*imap.SearchCriteria, error) {
	terms, err := tokenize(query)
	if err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{}
	for _, term := range terms {
		negate := false
		if strings.HasPrefix(term, "-") {
			negate = true
			term = term[1:]
		}

		key, value, ok := strings.Cut(term, ":")
		if !ok || value == "" {
			return nil, fmt.Errorf("invalid query term %q: expected key:value", term)
		}
		key = strings.ToLower(key)

		alternatives := splitAlternatives(value)
		parts := make([]imap.SearchCriteria, 0, len(alternatives))
		for _, alt := range alternatives {
			c, err := termCriteria(key, alt)
			if err != nil {
				return nil, err
			}
			parts = append(parts, c)
		}

		c := orAll(parts)
		if negate {
			c = imap.SearchCriteria{Not: []imap.SearchCriteria{c}}
		}
		criteria.And(&c)
	}

	return criteria, nil
}

// termCriteria builds the criteria for a single key:value pair.
func termCriteria(key, value string) (imap.SearchCriteria, error) {
	var c imap.SearchCriteria

	switch key {
	case "subject", "from", "to", "cc":
		c.Header = []imap.SearchCriteriaHeaderField{{
			Key:   strings.ToUpper(key[:1]) + key[1:],
			Value: value,
		}}
	case "body":
		c.Body = []string{value}
	case "text":
		c.Text = []string{value}
	case "since", "before":
		t, err := time.Parse(queryDateLayout, value)
		if err != nil {
			return c, fmt.Errorf("invalid %s date %q: %w", key, value, err)
		}
		if key == "since" {
			c.Since = t
		} else {
			c.Before = t
		}
	case "larger", "smaller":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return c, fmt.Errorf("invalid %s size %q: %w", key, value, err)
		}
		if key == "larger" {
			c.Larger = n
		} else {
			c.Smaller = n
		}
	case "has":
		if strings.ToLower(value) != "attachment" {
			return c, fmt.Errorf("unsupported has:%s", value)
		}
		// IMAP cannot search for attachments directly; a multipart
		// Content-Type is the closest server-side approximation.
		c.Header = []imap.SearchCriteriaHeaderField{{
			Key:   "Content-Type",
			Value: "multipart",
		}}
	default:
		return c, fmt.Errorf("unsupported query key %q", key)
	}

	return c, nil
}

// orAll folds criteria into nested ORs. A single element is returned as is.
func orAll(parts []imap.SearchCriteria) imap.SearchCriteria {
	if len(parts) == 1 {
		return parts[0]
	}
	rest := orAll(parts[1:])
	return imap.SearchCriteria{
		Or: [][2]imap.SearchCriteria{{parts[0], rest}},
	}
}

// splitAlternatives splits a value on "|" and drops empty alternatives.
func splitAlternatives(value string) []string {
	var out []string
	for _, alt := range strings.Split(value, "|") {
		if alt = strings.TrimSpace(alt); alt != "" {
			out = append(out, alt)
		}
	}
	return out
}

// tokenize splits a query on whitespace, keeping double-quoted sections
// together and stripping the quotes.
func tokenize(query string) ([]string, error) {
	var (
		terms   []string
		current strings.Builder
		quoted  bool
	)

	flush := func() {
		if current.Len() > 0 {
			terms = append(terms, current.String())
			current.Reset()
		}
	}

	for _, r := range query {
		switch {
		case r == '"':
			quoted = !quoted
		case !quoted && (r == ' ' || r == '\t' || r == '\n'):
			flush()
		default:
			current.WriteRune(r)
		}
	}
	if quoted {
		return nil, fmt.Errorf("unterminated quote in query %q", query)
	}
	flush()

	return terms, nil
}

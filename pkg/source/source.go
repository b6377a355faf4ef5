// Package source is the boundary between query logs and the graph engine.
//
// A Source lists users and, per user, the raw queries they ran. A Filter then
// decides which of those queries feed the transition graph.
package source

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// SuspiciousUserType marks accounts whose interactive queries are excluded.
const SuspiciousUserType = "suspicious"

var (
	// ErrInvalidQueryType is returned for anything but interactive or scheduled.
	ErrInvalidQueryType = errors.New("invalid query type")

	// ErrInvalidPattern wraps a source pattern that does not compile.
	ErrInvalidPattern = errors.New("invalid source pattern")

	// ErrUnknownUser is returned when queries are requested for a user the
	// source never listed.
	ErrUnknownUser = errors.New("unknown user")
)

// User is an account in the query log.
type User struct {
	ID   string
	Name string
	// Type is empty for ordinary users.
	Type string
}

// Query is one logged query.
type Query struct {
	Text        string
	Interactive bool
	Suspicious  bool
}

// Source provides users and their queries. Implementations must allow
// concurrent Queries calls.
type Source interface {
	Users(ctx context.Context) ([]User, error)
	Queries(ctx context.Context, u User) ([]Query, error)
}

// QueryType selects which population of queries is analysed.
type QueryType int

const (
	Interactive QueryType = iota
	Scheduled
)

func (t QueryType) String() string {
	switch t {
	case Interactive:
		return "interactive"
	case Scheduled:
		return "scheduled"
	default:
		return fmt.Sprintf("QueryType(%d)", int(t))
	}
}

// ParseQueryType accepts "interactive" or "scheduled".
func ParseQueryType(s string) (QueryType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "interactive":
		return Interactive, nil
	case "scheduled":
		return Scheduled, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidQueryType, s)
	}
}

// Filter selects the queries of a user that contribute to the graph.
type Filter struct {
	Type QueryType
	// SourcePattern, when set, keeps only queries whose source or sourcetype
	// assignment matches it. It is a regular expression.
	SourcePattern string

	re *regexp.Regexp
}

// NewFilter validates the query type and compiles the source pattern.
func NewFilter(t QueryType, pattern string) (*Filter, error) {
	if t != Interactive && t != Scheduled {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQueryType, t)
	}
	f := &Filter{Type: t, SourcePattern: pattern}
	if pattern != "" {
		re, err := regexp.Compile(`(sourcetype|source)\s*=\s*['"]?(` + pattern + `)`)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
		f.re = re
	}
	return f, nil
}

// Apply returns the query texts of u that pass the filter. ok is false when
// the user is excluded altogether, in which case none of its queries count
// toward any total.
//
// Interactive runs drop suspicious users and suspicious queries. Scheduled
// runs keep each distinct non-interactive query once, in first-seen order.
func (f *Filter) Apply(u User, queries []Query) (texts []string, ok bool) {
	switch f.Type {
	case Interactive:
		if u.Type == SuspiciousUserType {
			return nil, false
		}
		for _, q := range queries {
			if q.Interactive && !q.Suspicious && f.matchSource(q.Text) {
				texts = append(texts, q.Text)
			}
		}
	case Scheduled:
		seen := make(map[string]struct{})
		for _, q := range queries {
			if q.Interactive {
				continue
			}
			if _, dup := seen[q.Text]; dup {
				continue
			}
			seen[q.Text] = struct{}{}
			if f.matchSource(q.Text) {
				texts = append(texts, q.Text)
			}
		}
	default:
		return nil, false
	}
	return texts, true
}

func (f *Filter) matchSource(text string) bool {
	return f.re == nil || f.re.MatchString(text)
}

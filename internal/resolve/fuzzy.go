// Package resolve turns a partial conversation id typed on the command line
// into one of the ids a tracker knows about.
package resolve

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"
)

// maxCandidates caps the suggestions carried by AmbiguousError.
const maxCandidates = 5

// Match is a fuzzy match result with score.
type Match struct {
	ID    string
	Score int
}

var (
	ErrEmptyQuery = errors.New("empty conversation query")
	ErrEmptyItems = errors.New("no conversations to match against")
)

// NotFoundError means nothing resembled the query.
type NotFoundError struct {
	Query string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no conversation matches %q", e.Query)
}

// AmbiguousError indicates several ids matched equally well.
type AmbiguousError struct {
	Query   string
	Matches []Match
}

func (e *AmbiguousError) Error() string {
	var b strings.Builder
	_, _ = fmt.Fprintf(&b, "ambiguous conversation %q, candidates:", e.Query)
	for _, m := range e.Matches {
		_, _ = fmt.Fprintf(&b, "\n  %s", m.ID)
	}
	return b.String()
}

type lowerIDs []string

func (s lowerIDs) String(i int) string { return strings.ToLower(s[i]) }
func (s lowerIDs) Len() int            { return len(s) }

// Conversation picks the tracked id the query refers to.
//
// Only an exact (case-insensitive) id or a unique prefix resolves; several
// prefix matches return *AmbiguousError and anything else *NotFoundError.
// Fuzzy matches never resolve, because callers clear state by the result.
func Conversation(query string, ids []string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", ErrEmptyQuery
	}
	if len(ids) == 0 {
		return "", ErrEmptyItems
	}

	for _, id := range ids {
		if strings.EqualFold(id, query) {
			return id, nil
		}
	}

	lq := strings.ToLower(query)
	var prefixed []string
	for _, id := range ids {
		if strings.HasPrefix(strings.ToLower(id), lq) {
			prefixed = append(prefixed, id)
		}
	}
	switch {
	case len(prefixed) == 1:
		return prefixed[0], nil
	case len(prefixed) > 1:
		matches := make([]Match, 0, maxCandidates)
		for _, id := range prefixed {
			if len(matches) == maxCandidates {
				break
			}
			matches = append(matches, Match{ID: id})
		}
		return "", &AmbiguousError{Query: query, Matches: matches}
	}
	return "", &NotFoundError{Query: query}
}

// Suggest returns up to limit ids that fuzzy-match query, best first.
func Suggest(query string, ids []string, limit int) []Match {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" || len(ids) == 0 || limit <= 0 {
		return nil
	}
	return buildMatches(ids, fuzzy.FindFrom(query, lowerIDs(ids)), limit)
}

func buildMatches(ids []string, results fuzzy.Matches, limit int) []Match {
	if len(results) > limit {
		results = results[:limit]
	}
	if len(results) == 0 {
		return nil
	}
	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{ID: ids[r.Index], Score: r.Score}
	}
	return matches
}

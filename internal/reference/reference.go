// Package reference resolves a marketplace search target from either a
// pasted trade URL or a bare saved-query id.
package reference

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// searchRegex matches: .../search/{realm}/{league}/{queryId}
// Example: https://www.pathofexile.com/trade2/search/poe2/Dawn%20of%20the%20Hunt/Ab3LSL5cQ
// No capture may contain '/', '?' or '#', so query strings and fragments
// after the id are never part of it.
var searchRegex = regexp.MustCompile(`/search/([^/?#]+)/([^/?#]+)/([^/?#]+)`)

// MinBareIDLength is the shortest string accepted as a bare query id.
const MinBareIDLength = 6

var (
	ErrEmptyInput    = errors.New("reference: empty input")
	ErrUnresolvable  = errors.New("reference: cannot resolve a search target")
	ErrMissingDomain = errors.New("reference: realm and league are required")
)

// Reference identifies a saved search on the marketplace. League is held in
// decoded form and escaped whenever a URL is built.
type Reference struct {
	Realm   string `json:"realm"`
	League  string `json:"league"`
	QueryID string `json:"query_id"`
}

// Parse resolves input into a Reference. A trade URL supplies its own realm
// and league; a bare id (no slash, at least MinBareIDLength chars) is paired
// with defaultRealm and defaultLeague.
func Parse(input, defaultRealm, defaultLeague string) (*Reference, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}

	if m := searchRegex.FindStringSubmatch(input); m != nil {
		return &Reference{
			Realm:   unescape(m[1]),
			League:  unescape(m[2]),
			QueryID: m[3],
		}, nil
	}

	if !strings.Contains(input, "/") && utf8.RuneCountInString(input) >= MinBareIDLength {
		if defaultRealm == "" || defaultLeague == "" {
			return nil, ErrMissingDomain
		}
		return &Reference{
			Realm:   defaultRealm,
			League:  defaultLeague,
			QueryID: input,
		}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnresolvable, input)
}

// SearchPath returns the API path for re-running the saved search.
func (r Reference) SearchPath() string {
	return fmt.Sprintf("search/%s/%s/%s",
		url.PathEscape(r.Realm), url.PathEscape(r.League), url.PathEscape(r.QueryID))
}

// FetchPath returns the API path and query for fetching ids of this search.
func (r Reference) FetchPath(ids []string) string {
	return FetchPath(ids, r.QueryID)
}

// TradeURL returns the public trade-site URL for this search under base,
// e.g. https://www.pathofexile.com/trade2.
func (r Reference) TradeURL(base string) string {
	return TradeURL(base, r.Realm, r.League, r.QueryID)
}

// FetchPath builds "fetch/{id,id,...}?query={queryID}".
func FetchPath(ids []string, queryID string) string {
	escaped := make([]string, len(ids))
	for i, id := range ids {
		escaped[i] = url.PathEscape(id)
	}
	return fmt.Sprintf("fetch/%s?query=%s", strings.Join(escaped, ","), url.QueryEscape(queryID))
}

// TradeURL builds {base}/search/{realm}/{league}/{id}.
func TradeURL(base, realm, league, id string) string {
	return fmt.Sprintf("%s/search/%s/%s/%s",
		strings.TrimRight(base, "/"), url.PathEscape(realm), url.PathEscape(league), url.PathEscape(id))
}

// unescape decodes a path segment, keeping the raw form if it is not
// valid percent-encoding.
func unescape(segment string) string {
	if s, err := url.PathUnescape(segment); err == nil {
		return s
	}
	return segment
}

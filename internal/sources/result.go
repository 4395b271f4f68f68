package sources

import (
	"net/url"

	"github.com/google/uuid"
)

// snippetLimit is the maximum snippet length in characters.
const snippetLimit = 200

// Result is a single normalized search result from one source.
type Result struct {
	ID        string            `json:"id"`
	Source    Kind              `json:"source"`
	Title     string            `json:"title"`
	Snippet   string            `json:"snippet,omitempty"`
	URL       string            `json:"url,omitempty"`
	Relevance float64           `json:"relevance"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// newResult builds a Result for one parsed item. The snippet is the
// body truncated to snippetLimit characters, the URL is kept only when
// it parses as an absolute URL, and relevance is computed from
// (query, title, body).
func newResult(source Kind, query, title, body, rawURL string, meta map[string]string) Result {
	return Result{
		ID:        uuid.NewString(),
		Source:    source,
		Title:     title,
		Snippet:   truncate(body, snippetLimit),
		URL:       validURL(rawURL),
		Relevance: Score(query, title, body),
		Metadata:  meta,
	}
}

// truncate returns the first limit characters of s.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// validURL returns raw if it is a well-formed absolute URL, else "".
func validURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return ""
	}
	return raw
}

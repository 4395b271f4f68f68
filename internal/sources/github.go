package sources

import "encoding/json"

// GitHub adapts a GitHub MCP server's search_code tool.
type GitHub struct{}

func (GitHub) Kind() Kind { return KindGitHub }

func (GitHub) BuildQuery(query string) (string, map[string]any) {
	return "search_code", map[string]any{"q": query}
}

// githubPayload is the JSON shape of a search_code response.
type githubPayload struct {
	Items []struct {
		Name       string `json:"name"`
		Path       string `json:"path"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
		HTMLURL string `json:"html_url"`
	} `json:"items"`
}

func (GitHub) Parse(raw, query string) []Result {
	var payload githubPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}

	var results []Result
	for _, item := range payload.Items {
		if item.Name == "" {
			continue
		}
		meta := map[string]string{}
		if item.Path != "" {
			meta["path"] = item.Path
		}
		if item.Repository.FullName != "" {
			meta["repository"] = item.Repository.FullName
		}
		if len(meta) == 0 {
			meta = nil
		}
		results = append(results, newResult(KindGitHub, query, item.Name, item.Path, item.HTMLURL, meta))
	}
	return results
}

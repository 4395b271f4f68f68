package sources

import (
	"encoding/json"
	"path"
)

// Obsidian adapts an Obsidian vault MCP server's search tool. Results
// are vault-relative file paths; the note title is the last path
// component.
type Obsidian struct{}

func (Obsidian) Kind() Kind { return KindObsidian }

func (Obsidian) BuildQuery(query string) (string, map[string]any) {
	return "search", map[string]any{"query": query}
}

// obsidianItem is one entry of a search response.
type obsidianItem struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (Obsidian) Parse(raw, query string) []Result {
	var items []obsidianItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}

	var results []Result
	for _, item := range items {
		if item.Path == "" {
			continue
		}
		title := path.Base(item.Path)
		meta := map[string]string{"path": item.Path}
		results = append(results, newResult(KindObsidian, query, title, item.Content, "file://"+item.Path, meta))
	}
	return results
}

package sources

import "encoding/json"

// GoogleDrive adapts a Google Drive MCP server's search tool.
type GoogleDrive struct{}

func (GoogleDrive) Kind() Kind { return KindGoogleDrive }

func (GoogleDrive) BuildQuery(query string) (string, map[string]any) {
	return "search", map[string]any{"query": query}
}

// driveItem is one entry of a search response.
type driveItem struct {
	Name        string `json:"name"`
	MimeType    string `json:"mimeType"`
	WebViewLink string `json:"webViewLink"`
}

func (GoogleDrive) Parse(raw, query string) []Result {
	var items []driveItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}

	var results []Result
	for _, item := range items {
		if item.Name == "" {
			continue
		}
		var meta map[string]string
		if item.MimeType != "" {
			meta = map[string]string{"mimeType": item.MimeType}
		}
		results = append(results, newResult(KindGoogleDrive, query, item.Name, item.MimeType, item.WebViewLink, meta))
	}
	return results
}

package sources

import (
	"encoding/json"
	"strings"
)

// neo4jCypher matches nodes whose name or description contains the
// query, case-insensitively. The result limit is fixed at 10.
const neo4jCypher = "MATCH (n) " +
	"WHERE toLower(n.name) CONTAINS toLower($query) " +
	"OR toLower(n.description) CONTAINS toLower($query) " +
	"RETURN n LIMIT 10"

// Neo4j adapts a Neo4j MCP server's execute_query tool.
type Neo4j struct{}

func (Neo4j) Kind() Kind { return KindNeo4j }

func (Neo4j) BuildQuery(query string) (string, map[string]any) {
	return "execute_query", map[string]any{
		"query":  neo4jCypher,
		"params": map[string]any{"query": query},
	}
}

// neo4jPayload is the JSON shape of an execute_query response.
type neo4jPayload struct {
	Records []struct {
		N struct {
			Properties struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			} `json:"properties"`
			Labels []string `json:"labels"`
		} `json:"n"`
	} `json:"records"`
}

func (Neo4j) Parse(raw, query string) []Result {
	var payload neo4jPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}

	var results []Result
	for _, rec := range payload.Records {
		name := rec.N.Properties.Name
		if name == "" {
			continue
		}
		var meta map[string]string
		if len(rec.N.Labels) > 0 {
			meta = map[string]string{"labels": strings.Join(rec.N.Labels, ",")}
		}
		results = append(results, newResult(KindNeo4j, query, name, rec.N.Properties.Description, "", meta))
	}
	return results
}

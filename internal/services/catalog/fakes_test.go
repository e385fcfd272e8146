package catalog

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/ternarybob/tessera/internal/interfaces"
)

type modelEdge struct {
	label string
	from  string
	to    string
}

// memoryModelStore emulates the Model side of the graph: vertex property
// bags keyed by model id, labeled edges, and a twin-instance count per
// model for the delete guards. Statements are dispatched on the cypher
// shapes the catalog service issues.
type memoryModelStore struct {
	mu     sync.Mutex
	models map[string]map[string]interface{}
	edges  []modelEdge
	twins  map[string]int
}

func newMemoryModelStore() *memoryModelStore {
	return &memoryModelStore{
		models: map[string]map[string]interface{}{},
		twins:  map[string]int{},
	}
}

// vertexRow round-trips the property bag through JSON so the service sees
// the same decoded shapes the real store produces.
func vertexRow(props map[string]interface{}) map[string]interface{} {
	data, _ := json.Marshal(props)
	var decoded interface{}
	_ = json.Unmarshal(data, &decoded)
	return map[string]interface{}{"m": map[string]interface{}{
		"id":         float64(1),
		"label":      "Model",
		"properties": decoded,
	}}
}

func (m *memoryModelStore) ExecuteCypher(ctx context.Context, graph, cypher string, params map[string]interface{}, columns []string) ([]map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case strings.Contains(cypher, "{id: $id}) RETURN m"):
		props, ok := m.models[params["id"].(string)]
		if !ok {
			return nil, nil
		}
		return []map[string]interface{}{vertexRow(props)}, nil

	case strings.Contains(cypher, "CREATE (m:Model"):
		props := make(map[string]interface{}, len(params))
		for k, v := range params {
			props[k] = v
		}
		m.models[params["id"].(string)] = props
		return nil, nil

	case strings.Contains(cypher, "SET m.decommissioned"):
		m.models[params["id"].(string)]["decommissioned"] = params["flag"]
		return nil, nil

	case strings.Contains(cypher, "SET m.descendants"):
		m.models[params["id"].(string)]["descendants"] = params["descendants"]
		return nil, nil

	case strings.Contains(cypher, "SET m.model"):
		props := m.models[params["id"].(string)]
		props["model"] = params["model"]
		props["uploadTime"] = params["uploadTime"]
		props["displayName"] = params["displayName"]
		props["description"] = params["description"]
		return nil, nil

	case strings.Contains(cypher, "[e:_hasComponent]") && strings.Contains(cypher, "DELETE e"):
		from, to := params["from"].(string), params["to"].(string)
		kept := m.edges[:0]
		for _, e := range m.edges {
			if !(e.label == "_hasComponent" && e.from == from && e.to == to) {
				kept = append(kept, e)
			}
		}
		m.edges = kept
		return nil, nil

	case strings.Contains(cypher, "CREATE (c)-[:"):
		start := strings.Index(cypher, "[:") + 2
		end := strings.Index(cypher, "]->")
		m.edges = append(m.edges, modelEdge{
			label: cypher[start:end],
			from:  params["from"].(string),
			to:    params["to"].(string),
		})
		return nil, nil

	case strings.Contains(cypher, "DETACH DELETE m"):
		if params == nil {
			m.models = map[string]map[string]interface{}{}
			m.edges = nil
			return nil, nil
		}
		id := params["id"].(string)
		delete(m.models, id)
		kept := m.edges[:0]
		for _, e := range m.edges {
			if e.from != id && e.to != id {
				kept = append(kept, e)
			}
		}
		m.edges = kept
		return nil, nil

	case strings.Contains(cypher, "MATCH (m:Model) RETURN m"):
		ids := make([]string, 0, len(m.models))
		for id := range m.models {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		rows := make([]map[string]interface{}, 0, len(ids))
		for _, id := range ids {
			rows = append(rows, vertexRow(m.models[id]))
		}
		return rows, nil
	}
	return nil, nil
}

func (m *memoryModelStore) ExecuteScalar(ctx context.Context, graph, cypher string, params map[string]interface{}) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case strings.Contains(cypher, "RETURN count(e)"):
		id := params["id"].(string)
		n := 0
		for _, e := range m.edges {
			if e.to == id {
				n++
			}
		}
		return float64(n), nil

	case strings.Contains(cypher, "t['$metadata']['$model']"):
		return float64(m.twins[params["id"].(string)]), nil

	case strings.Contains(cypher, "MATCH (t:Twin) RETURN count(t)"):
		total := 0
		for _, n := range m.twins {
			total += n
		}
		return float64(total), nil

	case strings.Contains(cypher, "MATCH (m:Model) RETURN count(m)"):
		return float64(len(m.models)), nil
	}
	return float64(0), nil
}

func (m *memoryModelStore) ExecuteCypherStream(ctx context.Context, graph, cypher string, params map[string]interface{}, columns []string) (interfaces.RowCursor, error) {
	return nil, nil
}

func (m *memoryModelStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx interfaces.GraphQuerier) error) error {
	return fn(ctx, m)
}

func (m *memoryModelStore) CreateGraph(ctx context.Context, graph string) error { return nil }
func (m *memoryModelStore) DropGraph(ctx context.Context, graph string) error   { return nil }
func (m *memoryModelStore) GraphExists(ctx context.Context, graph string) (bool, error) {
	return true, nil
}
func (m *memoryModelStore) Ping(ctx context.Context) error { return nil }
func (m *memoryModelStore) Close()                         {}

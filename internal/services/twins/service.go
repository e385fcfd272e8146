// Package twins is the data plane: CRUD over twin nodes, relationship
// edges and components, with JSON-Patch mutation, ETag concurrency and
// validation against the model catalog.
package twins

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/dtdl"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
	"github.com/ternarybob/tessera/internal/storage/age"
)

// maxBatchSize bounds twin and relationship batch upserts.
const maxBatchSize = 100

// keyVersion is the hidden per-row write counter backing the ETag. It is
// stripped from every document before it leaves the service.
const keyVersion = "$version"

// Catalog is the slice of the model catalog the data plane needs.
type Catalog interface {
	Record(ctx context.Context, id string) (*models.ModelRecord, error)
	ResolveInterface(ctx context.Context, id string) (*dtdl.Interface, []*dtdl.Interface, error)
	FlattenedContents(ctx context.Context, id string) ([]dtdl.Content, error)
}

// Service implements the twin and relationship data plane over one graph.
type Service struct {
	store   interfaces.GraphStore
	catalog Catalog
	graph   string
	logger  arbor.ILogger
}

// NewService creates a data plane service.
func NewService(store interfaces.GraphStore, catalog Catalog, graph string, logger arbor.ILogger) *Service {
	return &Service{
		store:   store,
		catalog: catalog,
		graph:   graph,
		logger:  logger,
	}
}

// etagFor derives the opaque version token from the row identity and its
// write counter. A counter rather than a timestamp keeps the token
// monotonic under clock skew.
func etagFor(identity string, version int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", identity, version)))
	return `W/"` + hex.EncodeToString(sum[:8]) + `"`
}

// checkIfMatch enforces an If-Match precondition against the current tag.
func checkIfMatch(ifMatch, current string) error {
	if ifMatch == "" || ifMatch == "*" || ifMatch == current {
		return nil
	}
	return models.NewError(models.KindPreconditionFailed,
		"etag mismatch: expected %s", current)
}

// fetchTwinNode reads a twin node and splits off the hidden version
// counter. Returns TwinNotFound when the node does not exist.
func (s *Service) fetchTwinNode(ctx context.Context, q interfaces.GraphQuerier, id string) (models.DigitalTwin, int64, error) {
	rows, err := q.ExecuteCypher(ctx, s.graph,
		"MATCH (t:Twin) WHERE t['$dtId'] = $id RETURN t",
		map[string]interface{}{"id": id}, []string{"t"})
	if err != nil {
		return nil, 0, err
	}
	if len(rows) == 0 {
		return nil, 0, models.NewError(models.KindTwinNotFound, "digital twin %s not found", id)
	}
	props := age.VertexProperties(rows[0]["t"])
	if props == nil {
		return nil, 0, models.NewError(models.KindInternal, "query returned a non-vertex twin value")
	}
	version := popVersion(props)
	return models.DigitalTwin(props), version, nil
}

// twinExists reports existence without decoding the body.
func (s *Service) twinExists(ctx context.Context, q interfaces.GraphQuerier, id string) (bool, error) {
	v, err := q.ExecuteScalar(ctx, s.graph,
		"MATCH (t:Twin) WHERE t['$dtId'] = $id RETURN count(t)",
		map[string]interface{}{"id": id})
	if err != nil {
		return false, err
	}
	return asInt(v) > 0, nil
}

// popVersion removes the hidden counter from a property bag.
func popVersion(props map[string]interface{}) int64 {
	v := asInt(props[keyVersion])
	delete(props, keyVersion)
	return v
}

func asInt(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

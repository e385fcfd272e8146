package age

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
)

// rowSource is satisfied by both *pgxpool.Pool and pgx.Tx so the same
// cypher plumbing runs inside and outside transactions.
type rowSource interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// buildCypherSQL wraps a cypher statement in the ag_catalog.cypher call.
// The graph name and statement are embedded (AGE resolves them at plan
// time); user values travel through the params argument only.
func buildCypherSQL(graph, cypher string, hasParams bool, columns []string) string {
	if len(columns) == 0 {
		columns = []string{"result"}
	}
	asList := make([]string, len(columns))
	for i, c := range columns {
		asList[i] = quoteIdent(c) + " agtype"
	}
	paramArg := ""
	if hasParams {
		paramArg = ", $1::agtype"
	}
	return fmt.Sprintf(
		"SELECT * FROM ag_catalog.cypher(%s::name, %s%s) AS (%s)",
		dollarQuote(graph), dollarQuote(cypher), paramArg, strings.Join(asList, ", "),
	)
}

func executeCypher(ctx context.Context, src rowSource, graph, cypher string, params map[string]interface{}, columns []string) ([]map[string]interface{}, error) {
	if len(columns) == 0 {
		columns = []string{"result"}
	}
	sql := buildCypherSQL(graph, cypher, params != nil, columns)

	var rows pgx.Rows
	var err error
	if params != nil {
		encoded, perr := encodeParams(params)
		if perr != nil {
			return nil, perr
		}
		rows, err = src.Query(ctx, sql, encoded)
	} else {
		rows, err = src.Query(ctx, sql)
	}
	if err != nil {
		return nil, classifyStoreError("cypher", err)
	}
	defer rows.Close()

	var out []map[string]interface{}
	for rows.Next() {
		record, err := scanAgtypeRow(rows, columns)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError("cypher", err)
	}
	return out, nil
}

func scanAgtypeRow(rows pgx.Rows, columns []string) (map[string]interface{}, error) {
	raw := make([]interface{}, len(columns))
	dest := make([]interface{}, len(columns))
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, classifyStoreError("scan", err)
	}
	record := make(map[string]interface{}, len(columns))
	for i, col := range columns {
		switch v := raw[i].(type) {
		case nil:
			record[col] = nil
		case string:
			decoded, err := DecodeAgtype(v)
			if err != nil {
				return nil, err
			}
			record[col] = decoded
		case []byte:
			decoded, err := DecodeAgtype(string(v))
			if err != nil {
				return nil, err
			}
			record[col] = decoded
		default:
			record[col] = v
		}
	}
	return record, nil
}

// ExecuteCypher runs a cypher statement and returns all rows.
func (s *Store) ExecuteCypher(ctx context.Context, graph, cypher string, params map[string]interface{}, columns []string) ([]map[string]interface{}, error) {
	return executeCypher(ctx, s.pool, graph, cypher, params, columns)
}

// ExecuteScalar runs a cypher statement expected to produce at most one
// single-column row.
func (s *Store) ExecuteScalar(ctx context.Context, graph, cypher string, params map[string]interface{}) (interface{}, error) {
	rows, err := s.ExecuteCypher(ctx, graph, cypher, params, []string{"result"})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0]["result"], nil
}

// cursor adapts pgx.Rows to interfaces.RowCursor with lazy agtype
// decoding.
type cursor struct {
	rows    pgx.Rows
	columns []string
	current map[string]interface{}
	err     error
}

func (c *cursor) Next() bool {
	if c.err != nil {
		return false
	}
	if !c.rows.Next() {
		c.err = c.rows.Err()
		return false
	}
	record, err := scanAgtypeRow(c.rows, c.columns)
	if err != nil {
		c.err = err
		return false
	}
	c.current = record
	return true
}

func (c *cursor) Row() map[string]interface{} { return c.current }

func (c *cursor) Err() error {
	if c.err != nil && !errors.Is(c.err, pgx.ErrNoRows) {
		return c.err
	}
	return nil
}

func (c *cursor) Close() { c.rows.Close() }

// ExecuteCypherStream runs a cypher statement and returns a lazy cursor.
func (s *Store) ExecuteCypherStream(ctx context.Context, graph, cypher string, params map[string]interface{}, columns []string) (interfaces.RowCursor, error) {
	if len(columns) == 0 {
		columns = []string{"result"}
	}
	sql := buildCypherSQL(graph, cypher, params != nil, columns)

	var rows pgx.Rows
	var err error
	if params != nil {
		encoded, perr := encodeParams(params)
		if perr != nil {
			return nil, perr
		}
		rows, err = s.pool.Query(ctx, sql, encoded)
	} else {
		rows, err = s.pool.Query(ctx, sql)
	}
	if err != nil {
		return nil, classifyStoreError("cypher", err)
	}
	return &cursor{rows: rows, columns: columns}, nil
}

// txQuerier exposes an open transaction as a GraphQuerier.
type txQuerier struct {
	tx pgx.Tx
}

func (t *txQuerier) ExecuteCypher(ctx context.Context, graph, cypher string, params map[string]interface{}, columns []string) ([]map[string]interface{}, error) {
	return executeCypher(ctx, t.tx, graph, cypher, params, columns)
}

func (t *txQuerier) ExecuteScalar(ctx context.Context, graph, cypher string, params map[string]interface{}) (interface{}, error) {
	rows, err := t.ExecuteCypher(ctx, graph, cypher, params, []string{"result"})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0]["result"], nil
}

// WithTransaction runs fn inside one store transaction, committing on nil
// and rolling back on error.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx interfaces.GraphQuerier) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classifyStoreError("begin", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &txQuerier{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classifyStoreError("commit", err)
	}
	return nil
}

// CreateGraph provisions the graph, installs the helper functions in its
// schema and creates the companion jobs schema.
func (s *Store) CreateGraph(ctx context.Context, graph string) error {
	exists, err := s.GraphExists(ctx, graph)
	if err != nil {
		return err
	}
	if !exists {
		if _, err := s.pool.Exec(ctx, "SELECT ag_catalog.create_graph($1)", graph); err != nil {
			return classifyStoreError("create_graph", err)
		}
	}
	// Labels must exist before the helper functions can reference their
	// backing tables.
	for _, label := range []string{"Twin", "Model"} {
		if _, err := s.pool.Exec(ctx, "SELECT ag_catalog.create_vlabel($1, $2)", graph, label); err != nil {
			if !isDuplicateObject(err) {
				return classifyStoreError("create_vlabel", err)
			}
		}
	}
	for _, label := range []string{"_extends", "_hasComponent"} {
		if _, err := s.pool.Exec(ctx, "SELECT ag_catalog.create_elabel($1, $2)", graph, label); err != nil {
			if !isDuplicateObject(err) {
				return classifyStoreError("create_elabel", err)
			}
		}
	}
	if err := s.installFunctions(ctx, graph); err != nil {
		return err
	}
	if err := s.ensureJobsSchema(ctx, graph); err != nil {
		return err
	}
	s.logger.Info().Str("graph", graph).Msg("Graph created")
	return nil
}

// DropGraph removes the graph with all its data and the jobs schema.
func (s *Store) DropGraph(ctx context.Context, graph string) error {
	exists, err := s.GraphExists(ctx, graph)
	if err != nil {
		return err
	}
	if exists {
		if _, err := s.pool.Exec(ctx, "SELECT ag_catalog.drop_graph($1, true)", graph); err != nil {
			return classifyStoreError("drop_graph", err)
		}
	}
	jobsSchema := JobsSchemaName(graph)
	if _, err := s.pool.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", quoteIdent(jobsSchema))); err != nil {
		return classifyStoreError("drop_jobs_schema", err)
	}
	s.logger.Info().Str("graph", graph).Msg("Graph dropped")
	return nil
}

// GraphExists reports whether the named graph is provisioned.
func (s *Store) GraphExists(ctx context.Context, graph string) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx, "SELECT count(*) FROM ag_catalog.ag_graph WHERE name = $1", graph).Scan(&count)
	if err != nil {
		return false, classifyStoreError("graph_exists", err)
	}
	return count > 0, nil
}

// classifyStoreError wraps a driver error as a ServiceError. Timeouts and
// broken connections surface as retryable; everything else is internal.
func classifyStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return models.WrapError(models.KindCancelled, err, "store operation %s cancelled", op)
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return models.WrapError(models.KindTransient, err, "store operation %s timed out", op)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 = connection exception, 57 = operator intervention.
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57") {
			return models.WrapError(models.KindTransient, err, "store operation %s failed", op)
		}
	}
	return models.WrapError(models.KindInternal, err, "store operation %s failed", op)
}

func isDuplicateObject(err error) bool {
	var pgErr *pgconn.PgError
	// 42710 duplicate_object, 42P07 duplicate_table.
	return errors.As(err, &pgErr) && (pgErr.Code == "42710" || pgErr.Code == "42P07")
}

// Package query translates TDQL to Cypher and executes both dialects
// against the graph, streaming rows lazily or serving opaque-token pages.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/common"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
)

// Service executes queries against one graph.
type Service struct {
	store  interfaces.GraphStore
	graph  string
	config common.QueryConfig
	logger arbor.ILogger
}

// NewService creates a query service.
func NewService(store interfaces.GraphStore, graph string, config common.QueryConfig, logger arbor.ILogger) *Service {
	if config.DefaultPageSize <= 0 {
		config.DefaultPageSize = 100
	}
	if config.MaxPageSize <= 0 {
		config.MaxPageSize = 1000
	}
	return &Service{
		store:  store,
		graph:  graph,
		config: config,
		logger: logger,
	}
}

var _ interfaces.QueryService = (*Service)(nil)

// prepare resolves the dialect and produces the executable Cypher plus
// its result column names.
func (s *Service) prepare(query string) (string, []string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", nil, models.NewError(models.KindArgument, "query must not be empty")
	}
	cypher := query
	if Dialect(query) == "tdql" {
		translated, err := Translate(query, s.graph)
		if err != nil {
			return "", nil, models.WrapError(models.KindArgument, err, "invalid query")
		}
		cypher = translated
	}
	return cypher, resultColumns(cypher), nil
}

// Stream lazily iterates every row of the query.
func (s *Service) Stream(ctx context.Context, query string) (interfaces.ValueCursor, error) {
	cypher, columns, err := s.prepare(query)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ExecuteCypherStream(ctx, s.graph, cypher, nil, columns)
	if err != nil {
		return nil, err
	}
	return &valueCursor{rows: rows, columns: columns}, nil
}

// Page returns one page of results. A non-empty continuation token resumes
// a previous query at its cumulative offset; the caller's query, when also
// given, must match the one inside the token.
func (s *Service) Page(ctx context.Context, queryText, token string, pageSizeHint int) (*models.Page, error) {
	offset := 0
	if token != "" {
		decoded, err := decodeToken(token)
		if err != nil {
			return nil, err
		}
		if queryText != "" && queryText != decoded.Query {
			return nil, models.NewError(models.KindArgument,
				"continuation token does not belong to this query")
		}
		queryText = decoded.Query
		offset = decoded.Offset
	}

	cypher, columns, err := s.prepare(queryText)
	if err != nil {
		return nil, err
	}

	pageSize := pageSizeHint
	if pageSize <= 0 {
		pageSize = s.config.DefaultPageSize
	}
	if pageSize > s.config.MaxPageSize {
		pageSize = s.config.MaxPageSize
	}

	// SKIP interacts badly with variable-length path expansion on the
	// backend, so those queries run eagerly and are sliced client-side.
	if HasVariableLengthEdge(cypher) {
		return s.pageEagerly(ctx, queryText, cypher, columns, offset, pageSize)
	}

	base, skip, limit := stripSkipLimit(cypher)
	if limit >= 0 {
		remaining := limit - offset
		if remaining <= 0 {
			return &models.Page{Values: []json.RawMessage{}}, nil
		}
		if remaining < pageSize {
			pageSize = remaining
		}
	}

	probe := fmt.Sprintf("%s SKIP %d LIMIT %d", base, skip+offset, pageSize+1)
	rows, err := s.store.ExecuteCypher(ctx, s.graph, probe, nil, columns)
	if err != nil {
		return nil, err
	}

	page := &models.Page{Values: make([]json.RawMessage, 0, pageSize)}
	for i, row := range rows {
		if i == pageSize {
			break
		}
		value, err := rowValue(row, columns)
		if err != nil {
			return nil, err
		}
		page.Values = append(page.Values, value)
	}
	exhausted := len(rows) <= pageSize ||
		(limit >= 0 && offset+pageSize >= limit)
	if !exhausted {
		page.ContinuationToken = encodeToken(continuationToken{
			Query:  queryText,
			Offset: offset + pageSize,
		})
	}
	return page, nil
}

// pageEagerly fetches the whole result set and slices the requested page.
func (s *Service) pageEagerly(ctx context.Context, queryText, cypher string, columns []string, offset, pageSize int) (*models.Page, error) {
	rows, err := s.store.ExecuteCypher(ctx, s.graph, cypher, nil, columns)
	if err != nil {
		return nil, err
	}
	page := &models.Page{Values: []json.RawMessage{}}
	end := offset + pageSize
	if end > len(rows) {
		end = len(rows)
	}
	for i := offset; i < end; i++ {
		value, err := rowValue(rows[i], columns)
		if err != nil {
			return nil, err
		}
		page.Values = append(page.Values, value)
	}
	if end < len(rows) {
		page.ContinuationToken = encodeToken(continuationToken{Query: queryText, Offset: end})
	}
	return page, nil
}

// ---- result shaping ----

// rowValue serializes one result row: single-column rows emit the bare
// value, multi-column rows an object keyed by column name. Vertex and
// edge wrappers are unwrapped to their property bags.
func rowValue(row map[string]interface{}, columns []string) (json.RawMessage, error) {
	if len(columns) == 1 {
		return json.Marshal(normalizeValue(row[columns[0]]))
	}
	out := make(map[string]interface{}, len(columns))
	for _, col := range columns {
		out[col] = normalizeValue(row[col])
	}
	return json.Marshal(out)
}

func normalizeValue(v interface{}) interface{} {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return v
	}
	props, hasProps := obj["properties"].(map[string]interface{})
	if !hasProps {
		return v
	}
	if _, hasID := obj["id"]; !hasID {
		return v
	}
	cleaned := make(map[string]interface{}, len(props))
	for k, val := range props {
		if k == "$version" {
			continue
		}
		cleaned[k] = val
	}
	return cleaned
}

// valueCursor adapts a store row cursor to a stream of JSON values.
type valueCursor struct {
	rows    interfaces.RowCursor
	columns []string
	current json.RawMessage
	err     error
}

func (c *valueCursor) Next() bool {
	if c.err != nil {
		return false
	}
	if !c.rows.Next() {
		c.err = c.rows.Err()
		return false
	}
	value, err := rowValue(c.rows.Row(), c.columns)
	if err != nil {
		c.err = err
		return false
	}
	c.current = value
	return true
}

func (c *valueCursor) Value() json.RawMessage { return c.current }

func (c *valueCursor) Err() error { return c.err }

func (c *valueCursor) Close() { c.rows.Close() }

// ---- cypher text analysis ----

var (
	returnClausePattern = regexp.MustCompile(`(?i)\bRETURN\b`)
	clauseCutPattern    = regexp.MustCompile(`(?i)\b(ORDER|SKIP|LIMIT)\b`)
	trailingLimit       = regexp.MustCompile(`(?i)\s+LIMIT\s+(\d+)\s*$`)
	trailingSkip        = regexp.MustCompile(`(?i)\s+SKIP\s+(\d+)\s*$`)
	bareIdent           = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	asAliasPattern      = regexp.MustCompile(`(?i)\s+AS\s+([A-Za-z_][A-Za-z0-9_]*)\s*$`)
	patternAlias        = regexp.MustCompile(`[(\[]\s*([A-Za-z_][A-Za-z0-9_]*)`)
)

// stripSkipLimit parses a trailing SKIP/LIMIT off a Cypher statement.
// Absent values come back as 0 and -1.
func stripSkipLimit(cypher string) (base string, skip, limit int) {
	base = strings.TrimSpace(cypher)
	limit = -1
	if m := trailingLimit.FindStringSubmatch(base); m != nil {
		limit, _ = strconv.Atoi(m[1])
		base = strings.TrimSpace(trailingLimit.ReplaceAllString(base, ""))
	}
	if m := trailingSkip.FindStringSubmatch(base); m != nil {
		skip, _ = strconv.Atoi(m[1])
		base = strings.TrimSpace(trailingSkip.ReplaceAllString(base, ""))
	}
	return base, skip, limit
}

// resultColumns derives the projection column names from a Cypher
// statement's final RETURN clause. RETURN * falls back to the aliases
// bound in the pattern, in order of appearance.
func resultColumns(cypher string) []string {
	locs := returnClausePattern.FindAllStringIndex(cypher, -1)
	if len(locs) == 0 {
		return []string{"result"}
	}
	last := locs[len(locs)-1]
	head := cypher[:last[0]]
	tail := cypher[last[1]:]
	if cut := clauseCutPattern.FindStringIndex(tail); cut != nil {
		tail = tail[:cut[0]]
	}
	tail = strings.TrimSpace(tail)

	if tail == "*" {
		var columns []string
		seen := map[string]bool{}
		for _, m := range patternAlias.FindAllStringSubmatch(head, -1) {
			name := m[1]
			if name == "Twin" || name == "Model" || seen[name] {
				continue
			}
			seen[name] = true
			columns = append(columns, name)
		}
		if len(columns) == 0 {
			return []string{"result"}
		}
		return columns
	}

	var columns []string
	for i, item := range splitProjection(tail) {
		item = strings.TrimSpace(item)
		if m := asAliasPattern.FindStringSubmatch(item); m != nil {
			columns = append(columns, m[1])
			continue
		}
		if bareIdent.MatchString(item) {
			columns = append(columns, item)
			continue
		}
		if strings.HasPrefix(strings.ToUpper(item), "COUNT(") {
			columns = append(columns, "count")
			continue
		}
		columns = append(columns, fmt.Sprintf("col%d", i+1))
	}
	return columns
}

// splitProjection splits a projection list on commas outside parentheses,
// brackets and string literals.
func splitProjection(text string) []string {
	var out []string
	depth := 0
	inString := false
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\'':
			inString = !inString
		case '(', '[':
			if !inString {
				depth++
			}
		case ')', ']':
			if !inString {
				depth--
			}
		case ',':
			if !inString && depth == 0 {
				out = append(out, text[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, text[start:])
	return out
}

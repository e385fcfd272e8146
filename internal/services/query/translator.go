// -----------------------------------------------------------------------
// TDQL to Cypher translation
// -----------------------------------------------------------------------

package query

import (
	"fmt"
	"regexp"
	"strings"
)

// Translate rewrites a TDQL statement into the Cypher dialect the graph
// backend executes. It is a pure function: the graph name is only spliced
// into is_of_model calls, and no store access happens here.
func Translate(tdql, graph string) (string, error) {
	toks, err := lex(tdql)
	if err != nil {
		return "", err
	}
	stmt, err := parseStatement(toks)
	if err != nil {
		return "", err
	}
	t := &translator{graph: graph, stmt: stmt}
	return t.render()
}

// Dialect returns "tdql" for SELECT-led queries and "cypher" for
// everything else. The data-plane surface auto-detects on this.
func Dialect(query string) string {
	fields := strings.Fields(query)
	if len(fields) > 0 && strings.EqualFold(fields[0], "SELECT") {
		return "tdql"
	}
	return "cypher"
}

var varLengthEdgePattern = regexp.MustCompile(`\[[^\]]*\*[^\]]*\]`)

// HasVariableLengthEdge reports whether a query contains a variable-length
// edge pattern such as [*], [*1..3] or [r:knows*]. These are never
// rewritten; the executor paginates them client-side instead.
func HasVariableLengthEdge(query string) bool {
	return varLengthEdgePattern.MatchString(query)
}

// ---- lexer ----

type tokenKind int

const (
	tkIdent tokenKind = iota
	tkNumber
	tkString
	tkPunct
)

type token struct {
	kind tokenKind
	text string
}

var multiPunct = []string{"!=", "<>", "<=", ">=", "->", "<-"}

func lex(input string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '\'':
			j := i + 1
			for j < len(input) {
				if input[j] == '\'' {
					if j+1 < len(input) && input[j+1] == '\'' {
						j += 2
						continue
					}
					break
				}
				j++
			}
			if j >= len(input) {
				return nil, fmt.Errorf("unterminated string literal at offset %d", i)
			}
			toks = append(toks, token{tkString, input[i+1 : j]})
			i = j + 1
		case isIdentStart(c):
			j := i + 1
			for j < len(input) && isIdentPart(input[j]) {
				j++
			}
			toks = append(toks, token{tkIdent, input[i:j]})
			i = j
		case c >= '0' && c <= '9':
			j := i + 1
			for j < len(input) && (input[j] >= '0' && input[j] <= '9' || input[j] == '.') {
				// ".." is the range operator inside edge patterns, not a
				// decimal point.
				if input[j] == '.' && j+1 < len(input) && input[j+1] == '.' {
					break
				}
				j++
			}
			toks = append(toks, token{tkNumber, input[i:j]})
			i = j
		default:
			matched := false
			for _, mp := range multiPunct {
				if strings.HasPrefix(input[i:], mp) {
					toks = append(toks, token{tkPunct, mp})
					i += len(mp)
					matched = true
					break
				}
			}
			if !matched {
				toks = append(toks, token{tkPunct, string(c)})
				i++
			}
		}
	}
	return toks, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// ---- parser ----

const (
	sourceTwins         = "twins"
	sourceRelationships = "relationships"
)

type projItem struct {
	expr  []token
	alias string
}

type joinClause struct {
	target string // node alias introduced by the join
	source string // existing alias the relationship starts from
	rel    string // relationship name
	alias  string // relationship alias
}

type statement struct {
	topN       string
	countAll   bool
	star       bool
	projection []projItem
	source     string
	alias      string
	joins      []joinClause
	pattern    []token // custom MATCH pattern
	where      []token
}

var tdqlKeywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "JOIN": true,
	"RELATED": true, "MATCH": true, "TOP": true, "AS": true,
	"AND": true, "OR": true, "NOT": true, "IN": true, "IS": true,
	"NULL": true, "TRUE": true, "FALSE": true,
}

func isKeyword(tok token, word string) bool {
	return tok.kind == tkIdent && strings.EqualFold(tok.text, word)
}

func parseStatement(toks []token) (*statement, error) {
	p := &parser{toks: toks}
	stmt := &statement{}

	if !p.acceptKeyword("SELECT") {
		return nil, fmt.Errorf("query must start with SELECT")
	}
	if p.acceptKeyword("TOP") {
		if !p.acceptPunct("(") {
			return nil, fmt.Errorf("TOP requires a parenthesized count")
		}
		n := p.next()
		if n == nil || n.kind != tkNumber {
			return nil, fmt.Errorf("TOP requires a numeric count")
		}
		stmt.topN = n.text
		if !p.acceptPunct(")") {
			return nil, fmt.Errorf("unclosed TOP clause")
		}
	}

	projToks := p.collectUntilKeyword("FROM")
	if err := parseProjection(stmt, projToks); err != nil {
		return nil, err
	}
	if !p.acceptKeyword("FROM") {
		return nil, fmt.Errorf("query is missing FROM")
	}

	src := p.next()
	switch {
	case src != nil && isKeyword(*src, "DIGITALTWINS"):
		stmt.source = sourceTwins
	case src != nil && isKeyword(*src, "RELATIONSHIPS"):
		stmt.source = sourceRelationships
	default:
		return nil, fmt.Errorf("FROM must name DIGITALTWINS or RELATIONSHIPS")
	}

	if tok := p.peek(); tok != nil && tok.kind == tkIdent && !isAnyKeyword(*tok) {
		stmt.alias = tok.text
		p.next()
	}

	for p.acceptKeyword("JOIN") {
		join := joinClause{}
		tgt := p.next()
		if tgt == nil || tgt.kind != tkIdent {
			return nil, fmt.Errorf("JOIN requires a target alias")
		}
		join.target = tgt.text
		if !p.acceptKeyword("RELATED") {
			return nil, fmt.Errorf("JOIN must be followed by RELATED")
		}
		src := p.next()
		if src == nil || src.kind != tkIdent {
			return nil, fmt.Errorf("RELATED requires a source alias")
		}
		join.source = src.text
		if !p.acceptPunct(".") {
			return nil, fmt.Errorf("RELATED requires <alias>.<relationship>")
		}
		rel := p.next()
		if rel == nil || rel.kind != tkIdent {
			return nil, fmt.Errorf("RELATED requires a relationship name")
		}
		join.rel = rel.text
		if tok := p.peek(); tok != nil && tok.kind == tkIdent && !isAnyKeyword(*tok) {
			join.alias = tok.text
			p.next()
		}
		stmt.joins = append(stmt.joins, join)
	}

	if p.acceptKeyword("MATCH") {
		stmt.pattern = p.collectUntilKeyword("WHERE")
	}
	if p.acceptKeyword("WHERE") {
		stmt.where = p.rest()
	}
	if tok := p.peek(); tok != nil {
		return nil, fmt.Errorf("unexpected token %q", tok.text)
	}
	return stmt, nil
}

func parseProjection(stmt *statement, toks []token) error {
	if len(toks) == 0 {
		return fmt.Errorf("empty SELECT projection")
	}
	if len(toks) == 1 && toks[0].kind == tkPunct && toks[0].text == "*" {
		stmt.star = true
		return nil
	}
	if len(toks) == 3 && isKeyword(toks[0], "COUNT") &&
		toks[1].text == "(" && toks[2].text == ")" {
		stmt.countAll = true
		return nil
	}
	for _, group := range splitTopLevel(toks, ",") {
		if len(group) == 0 {
			return fmt.Errorf("empty projection item")
		}
		item := projItem{expr: group}
		if len(group) >= 3 && isKeyword(group[len(group)-2], "AS") &&
			group[len(group)-1].kind == tkIdent {
			item.alias = group[len(group)-1].text
			item.expr = group[:len(group)-2]
		}
		stmt.projection = append(stmt.projection, item)
	}
	return nil
}

func isAnyKeyword(tok token) bool {
	return tok.kind == tkIdent && tdqlKeywords[strings.ToUpper(tok.text)]
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() *token {
	if p.pos >= len(p.toks) {
		return nil
	}
	return &p.toks[p.pos]
}

func (p *parser) next() *token {
	tok := p.peek()
	if tok != nil {
		p.pos++
	}
	return tok
}

func (p *parser) acceptKeyword(word string) bool {
	if tok := p.peek(); tok != nil && isKeyword(*tok, word) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) acceptPunct(text string) bool {
	if tok := p.peek(); tok != nil && tok.kind == tkPunct && tok.text == text {
		p.pos++
		return true
	}
	return false
}

func (p *parser) collectUntilKeyword(word string) []token {
	start := p.pos
	for p.pos < len(p.toks) && !isKeyword(p.toks[p.pos], word) {
		p.pos++
	}
	return p.toks[start:p.pos]
}

func (p *parser) rest() []token {
	out := p.toks[p.pos:]
	p.pos = len(p.toks)
	return out
}

// splitTopLevel splits a token slice on a punct separator, ignoring
// separators nested inside parentheses or brackets.
func splitTopLevel(toks []token, sep string) [][]token {
	var out [][]token
	depth := 0
	start := 0
	for i, tok := range toks {
		if tok.kind != tkPunct {
			continue
		}
		switch tok.text {
		case "(", "[":
			depth++
		case ")", "]":
			depth--
		case sep:
			if depth == 0 {
				out = append(out, toks[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, toks[start:])
	return out
}

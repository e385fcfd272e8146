package query

import (
	"fmt"
	"regexp"
	"strings"
)

// translator renders one parsed statement. It tracks the declared aliases
// so unqualified column references can be bound to the row alias.
type translator struct {
	graph   string
	stmt    *statement
	primary string
	aliases map[string]bool
}

func (t *translator) render() (string, error) {
	t.aliases = map[string]bool{}

	switch t.stmt.source {
	case sourceTwins:
		t.primary = "T"
	case sourceRelationships:
		t.primary = "R"
	}
	if t.stmt.alias != "" {
		t.primary = t.stmt.alias
	}
	t.aliases[t.primary] = true
	for i := range t.stmt.joins {
		join := &t.stmt.joins[i]
		if join.alias == "" {
			join.alias = "R"
		}
		t.aliases[join.target] = true
		t.aliases[join.alias] = true
	}

	pattern, extraPred, err := t.renderPattern()
	if err != nil {
		return "", err
	}

	var where string
	if len(t.stmt.where) > 0 {
		where, err = t.renderExpr(t.stmt.where)
		if err != nil {
			return "", err
		}
	}
	if extraPred != "" {
		if where != "" {
			where = where + " AND " + extraPred
		} else {
			where = extraPred
		}
	}

	proj, err := t.renderProjection()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("MATCH ")
	sb.WriteString(pattern)
	if where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}
	sb.WriteString(" RETURN ")
	sb.WriteString(proj)
	if t.stmt.topN != "" {
		sb.WriteString(" LIMIT ")
		sb.WriteString(t.stmt.topN)
	}
	return sb.String(), nil
}

// ---- MATCH pattern ----

var (
	nodePattern     = regexp.MustCompile(`\(([A-Za-z_][A-Za-z0-9_]*)?\)`)
	pipeEdgePattern = regexp.MustCompile(`\[([A-Za-z_][A-Za-z0-9_]*)?:([A-Za-z_][A-Za-z0-9_]*(?:\|[A-Za-z_][A-Za-z0-9_]*)+)\]`)
	aliasInPattern  = regexp.MustCompile(`[(\[]([A-Za-z_][A-Za-z0-9_]*)`)
)

func (t *translator) renderPattern() (string, string, error) {
	if len(t.stmt.pattern) > 0 {
		return t.renderCustomPattern()
	}

	if t.stmt.source == sourceRelationships {
		return "(:Twin)-[" + t.primary + "]->(:Twin)", "", nil
	}

	pattern := "(" + t.primary + ":Twin)"
	for i, join := range t.stmt.joins {
		edge := "-[" + join.alias + ":" + join.rel + "]->(" + join.target + ":Twin)"
		if i == 0 && join.source == t.primary {
			pattern += edge
		} else {
			pattern += ", (" + join.source + ")" + edge
		}
	}
	return pattern, "", nil
}

// renderCustomPattern handles FROM DIGITALTWINS MATCH (...) clauses:
// unlabeled nodes get :Twin injected, and pipe-labeled edges are rewritten
// to an unlabeled edge plus label() predicates, which the backend lacks
// native support for.
func (t *translator) renderCustomPattern() (string, string, error) {
	raw := joinPatternTokens(t.stmt.pattern)

	raw = nodePattern.ReplaceAllStringFunc(raw, func(m string) string {
		inner := strings.Trim(m, "()")
		if inner == "" {
			return "(:Twin)"
		}
		return "(" + inner + ":Twin)"
	})

	var preds []string
	raw = pipeEdgePattern.ReplaceAllStringFunc(raw, func(m string) string {
		groups := pipeEdgePattern.FindStringSubmatch(m)
		alias := groups[1]
		if alias == "" {
			alias = "R"
		}
		var labelTests []string
		for _, label := range strings.Split(groups[2], "|") {
			labelTests = append(labelTests, "label("+alias+") = '"+label+"'")
		}
		preds = append(preds, "("+strings.Join(labelTests, " OR ")+")")
		return "[" + alias + "]"
	})

	for _, m := range aliasInPattern.FindAllStringSubmatch(raw, -1) {
		if m[1] != "Twin" {
			t.aliases[m[1]] = true
		}
	}
	return raw, strings.Join(preds, " AND "), nil
}

// joinPatternTokens reconstructs a pattern with graph punctuation kept
// tight; only commas between patterns get a trailing space.
func joinPatternTokens(toks []token) string {
	var sb strings.Builder
	for _, tok := range toks {
		if tok.kind == tkString {
			sb.WriteString("'" + tok.text + "'")
			continue
		}
		sb.WriteString(tok.text)
		if tok.kind == tkPunct && tok.text == "," {
			sb.WriteString(" ")
		}
	}
	return sb.String()
}

// ---- projection ----

func (t *translator) renderProjection() (string, error) {
	if t.stmt.star {
		return "*", nil
	}
	if t.stmt.countAll {
		return "COUNT(*)", nil
	}
	var items []string
	for _, item := range t.stmt.projection {
		rendered, err := t.renderExpr(item.expr)
		if err != nil {
			return "", err
		}
		if item.alias != "" {
			rendered += " AS " + item.alias
		}
		items = append(items, rendered)
	}
	return strings.Join(items, ", "), nil
}

// ---- expressions ----

// renderExpr rewrites a projection or predicate expression: property
// paths are alias-bound and bracket-rewritten, != becomes NOT (=), and
// the TDQL function vocabulary is expanded.
func (t *translator) renderExpr(toks []token) (string, error) {
	units, err := t.renderUnits(toks)
	if err != nil {
		return "", err
	}

	// Merge a != b into NOT (a = b).
	var merged []string
	for i := 0; i < len(units); i++ {
		if (units[i] == "!=" || units[i] == "<>") && len(merged) > 0 && i+1 < len(units) {
			lhs := merged[len(merged)-1]
			merged[len(merged)-1] = "NOT (" + lhs + " = " + units[i+1] + ")"
			i++
			continue
		}
		merged = append(merged, units[i])
	}
	return strings.Join(merged, " "), nil
}

func (t *translator) renderUnits(toks []token) ([]string, error) {
	var units []string
	i := 0
	for i < len(toks) {
		tok := toks[i]
		// CONTAINS doubles as an infix operator and a function; the
		// function form is detected by its opening paren.
		containsCall := tok.kind == tkIdent && strings.EqualFold(tok.text, "CONTAINS") &&
			i+1 < len(toks) && toks[i+1].kind == tkPunct && toks[i+1].text == "("
		switch {
		case containsCall,
			tok.kind == tkString, tok.kind == tkNumber,
			tok.kind == tkIdent && !isOperatorWord(tok.text),
			tok.kind == tkPunct && tok.text == "(":
			atom, next, err := t.renderAtom(toks, i)
			if err != nil {
				return nil, err
			}
			units = append(units, atom)
			i = next
		case tok.kind == tkIdent:
			units = append(units, strings.ToUpper(tok.text))
			i++
		default:
			units = append(units, tok.text)
			i++
		}
	}
	return units, nil
}

func isOperatorWord(word string) bool {
	switch strings.ToUpper(word) {
	case "AND", "OR", "NOT", "IN", "IS", "NULL", "CONTAINS":
		return true
	}
	return false
}

// renderAtom renders one operand starting at i and returns the index of
// the first token after it.
func (t *translator) renderAtom(toks []token, i int) (string, int, error) {
	tok := toks[i]
	switch {
	case tok.kind == tkString:
		return "'" + tok.text + "'", i + 1, nil
	case tok.kind == tkNumber:
		return tok.text, i + 1, nil
	case tok.kind == tkPunct && tok.text == "(":
		end, err := matchParen(toks, i)
		if err != nil {
			return "", 0, err
		}
		inner, err := t.renderExpr(toks[i+1 : end])
		if err != nil {
			return "", 0, err
		}
		return "(" + inner + ")", end + 1, nil
	case tok.kind == tkIdent:
		switch strings.ToLower(tok.text) {
		case "true", "false", "null":
			return strings.ToLower(tok.text), i + 1, nil
		}
		if i+1 < len(toks) && toks[i+1].kind == tkPunct && toks[i+1].text == "(" {
			return t.renderCall(toks, i)
		}
		return t.renderPath(toks, i)
	}
	return "", 0, fmt.Errorf("unexpected token %q in expression", tok.text)
}

// renderPath renders alias.prop.sub chains, binding bare references to
// the row alias and switching any segment that starts with $ to bracket
// form.
func (t *translator) renderPath(toks []token, i int) (string, int, error) {
	var segments []string
	segments = append(segments, toks[i].text)
	i++
	for i+1 < len(toks) && toks[i].kind == tkPunct && toks[i].text == "." && toks[i+1].kind == tkIdent {
		segments = append(segments, toks[i+1].text)
		i += 2
	}

	base := segments[0]
	rest := segments[1:]
	if !t.aliases[base] {
		// An unqualified column reference binds to the row alias. The
		// wildcard alias "_" passes through untouched.
		if base != "_" {
			rest = segments
			base = t.primary
		}
	}

	out := base
	for _, seg := range rest {
		if strings.HasPrefix(seg, "$") {
			out += "['" + seg + "']"
		} else {
			out += "." + seg
		}
	}
	return out, i, nil
}

// renderCall expands a TDQL function call.
func (t *translator) renderCall(toks []token, i int) (string, int, error) {
	name := toks[i].text
	end, err := matchParen(toks, i+1)
	if err != nil {
		return "", 0, err
	}
	argGroups := splitTopLevel(toks[i+2:end], ",")
	if len(argGroups) == 1 && len(argGroups[0]) == 0 {
		argGroups = nil
	}
	next := end + 1

	var args []string
	for _, group := range argGroups {
		rendered, err := t.renderExpr(group)
		if err != nil {
			return "", 0, err
		}
		args = append(args, rendered)
	}

	switch strings.ToUpper(name) {
	case "IS_OF_MODEL":
		return t.renderIsOfModel(argGroups, false), next, nil
	case "IS_OF_MODEL_OLD":
		return t.renderIsOfModel(argGroups, true), next, nil
	case "IS_NUMBER":
		a := args[0]
		return fmt.Sprintf("((toFloat(%s) IS NOT NULL OR toInteger(%s) IS NOT NULL) AND NOT (toString(%s) = %s))", a, a, a, a), next, nil
	case "IS_STRING":
		return "(toString(" + args[0] + ") = " + args[0] + ")", next, nil
	case "IS_BOOL":
		return "(" + args[0] + " = true OR " + args[0] + " = false)", next, nil
	case "IS_DEFINED":
		return "(" + args[0] + " IS NOT NULL)", next, nil
	case "IS_NULL":
		return "(" + args[0] + " IS NULL)", next, nil
	case "CONTAINS":
		if len(args) != 2 {
			return "", 0, fmt.Errorf("CONTAINS requires two arguments")
		}
		return args[0] + " CONTAINS " + args[1], next, nil
	case "STARTS_WITH":
		if len(args) != 2 {
			return "", 0, fmt.Errorf("STARTS_WITH requires two arguments")
		}
		return "STARTS_WITH(" + args[0] + "," + args[1] + ")", next, nil
	case "ENDS_WITH":
		if len(args) != 2 {
			return "", 0, fmt.Errorf("ENDS_WITH requires two arguments")
		}
		return "ENDS_WITH(" + args[0] + "," + args[1] + ")", next, nil
	case "COUNT":
		if len(args) == 0 {
			return "COUNT(*)", next, nil
		}
		return "COUNT(" + strings.Join(args, ", ") + ")", next, nil
	default:
		return name + "(" + strings.Join(args, ", ") + ")", next, nil
	}
}

// renderIsOfModel expands IS_OF_MODEL into the graph-schema helper call.
// The twin argument defaults to the row alias unless an explicit alias is
// given; a trailing `exact` keyword sets the third parameter.
func (t *translator) renderIsOfModel(argGroups [][]token, old bool) string {
	alias := t.primary
	model := "''"
	exact := false
	for _, group := range argGroups {
		if len(group) != 1 {
			continue
		}
		tok := group[0]
		switch {
		case tok.kind == tkString:
			model = "'" + tok.text + "'"
		case tok.kind == tkIdent && strings.EqualFold(tok.text, "exact"):
			exact = true
		case tok.kind == tkIdent && t.aliases[tok.text]:
			alias = tok.text
		}
	}
	fn := ".is_of_model("
	if old {
		fn = ".is_of_model_old("
	}
	out := t.graph + fn + alias + "," + model
	if exact {
		out += ",true"
	}
	return out + ")"
}

func matchParen(toks []token, open int) (int, error) {
	depth := 0
	for i := open; i < len(toks); i++ {
		if toks[i].kind != tkPunct {
			continue
		}
		switch toks[i].text {
		case "(":
			depth++
		case ")":
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("unbalanced parentheses")
}

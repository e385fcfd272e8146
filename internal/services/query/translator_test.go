package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateBasicForms(t *testing.T) {
	cases := []struct {
		name string
		tdql string
		want string
	}{
		{
			name: "select star from twins",
			tdql: "SELECT * FROM DIGITALTWINS",
			want: "MATCH (T:Twin) RETURN *",
		},
		{
			name: "select aliased row",
			tdql: "SELECT T FROM DIGITALTWINS T",
			want: "MATCH (T:Twin) RETURN T",
		},
		{
			name: "select star from relationships",
			tdql: "SELECT * FROM RELATIONSHIPS",
			want: "MATCH (:Twin)-[R]->(:Twin) RETURN *",
		},
		{
			name: "count all",
			tdql: "SELECT COUNT() FROM DIGITALTWINS",
			want: "MATCH (T:Twin) RETURN COUNT(*)",
		},
		{
			name: "top with metadata path",
			tdql: "SELECT TOP(1) T FROM DIGITALTWINS T WHERE T.$metadata.$model = 'dtmi:x;1'",
			want: "MATCH (T:Twin) WHERE T['$metadata']['$model'] = 'dtmi:x;1' RETURN T LIMIT 1",
		},
		{
			name: "join related",
			tdql: "SELECT B, R FROM DIGITALTWINS DT JOIN B RELATED DT.has R WHERE DT.$dtId = 'root'",
			want: "MATCH (DT:Twin)-[R:has]->(B:Twin) WHERE DT['$dtId'] = 'root' RETURN B, R",
		},
		{
			name: "case insensitive source",
			tdql: "select * from digitaltwins",
			want: "MATCH (T:Twin) RETURN *",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Translate(tc.tdql, "g")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTranslateIsOfModel(t *testing.T) {
	got, err := Translate("SELECT * FROM DIGITALTWINS WHERE IS_OF_MODEL('dtmi:x;1')", "g")
	require.NoError(t, err)
	assert.Equal(t, "MATCH (T:Twin) WHERE g.is_of_model(T,'dtmi:x;1') RETURN *", got)

	got, err = Translate("SELECT * FROM DIGITALTWINS T WHERE IS_OF_MODEL(T, 'dtmi:x;1', exact)", "space")
	require.NoError(t, err)
	assert.Equal(t, "MATCH (T:Twin) WHERE space.is_of_model(T,'dtmi:x;1',true) RETURN *", got)

	got, err = Translate("SELECT * FROM DIGITALTWINS WHERE IS_OF_MODEL_OLD('dtmi:x;1')", "g")
	require.NoError(t, err)
	assert.Equal(t, "MATCH (T:Twin) WHERE g.is_of_model_old(T,'dtmi:x;1') RETURN *", got)
}

func TestTranslateOperatorRewrites(t *testing.T) {
	got, err := Translate("SELECT * FROM DIGITALTWINS WHERE T.name != 'mars'", "g")
	require.NoError(t, err)
	assert.Equal(t, "MATCH (T:Twin) WHERE NOT (T.name = 'mars') RETURN *", got)

	got, err = Translate("SELECT * FROM DIGITALTWINS WHERE temperature <> 42", "g")
	require.NoError(t, err)
	assert.Equal(t, "MATCH (T:Twin) WHERE NOT (T.temperature = 42) RETURN *", got)

	got, err = Translate("SELECT * FROM DIGITALTWINS WHERE IS_DEFINED(T.mass) AND IS_BOOL(T.habitable)", "g")
	require.NoError(t, err)
	assert.Equal(t, "MATCH (T:Twin) WHERE (T.mass IS NOT NULL) AND (T.habitable = true OR T.habitable = false) RETURN *", got)

	got, err = Translate("SELECT * FROM DIGITALTWINS WHERE CONTAINS(T.name, 'ar')", "g")
	require.NoError(t, err)
	assert.Equal(t, "MATCH (T:Twin) WHERE T.name CONTAINS 'ar' RETURN *", got)

	got, err = Translate("SELECT * FROM DIGITALTWINS WHERE STARTS_WITH(T.name, 'm')", "g")
	require.NoError(t, err)
	assert.Equal(t, "MATCH (T:Twin) WHERE STARTS_WITH(T.name,'m') RETURN *", got)
}

func TestTranslateUnqualifiedReferences(t *testing.T) {
	// Bare property references bind to the row alias.
	got, err := Translate("SELECT name FROM DIGITALTWINS", "g")
	require.NoError(t, err)
	assert.Equal(t, "MATCH (T:Twin) RETURN T.name", got)

	// The wildcard alias passes through untouched.
	got, err = Translate("SELECT _ FROM DIGITALTWINS WHERE _.name = 'x'", "g")
	require.NoError(t, err)
	assert.Equal(t, "MATCH (T:Twin) WHERE _.name = 'x' RETURN _", got)
}

func TestTranslateProjectionAlias(t *testing.T) {
	got, err := Translate("SELECT T.name AS twinName FROM DIGITALTWINS T", "g")
	require.NoError(t, err)
	assert.Equal(t, "MATCH (T:Twin) RETURN T.name AS twinName", got)
}

func TestTranslateCustomPattern(t *testing.T) {
	got, err := Translate("SELECT a, b FROM DIGITALTWINS MATCH (a)-[r]->(b) WHERE a.$dtId = 'root'", "g")
	require.NoError(t, err)
	assert.Equal(t, "MATCH (a:Twin)-[r]->(b:Twin) WHERE a['$dtId'] = 'root' RETURN a, b", got)
}

func TestTranslatePipeEdgeLabels(t *testing.T) {
	got, err := Translate("SELECT a FROM DIGITALTWINS MATCH (a)-[r:likes|knows]->(b) WHERE b.$dtId = 'x'", "g")
	require.NoError(t, err)
	assert.Equal(t,
		"MATCH (a:Twin)-[r]->(b:Twin) WHERE b['$dtId'] = 'x' AND (label(r) = 'likes' OR label(r) = 'knows') RETURN a",
		got)

	// Without an explicit WHERE the label predicate stands alone.
	got, err = Translate("SELECT a FROM DIGITALTWINS MATCH (a)-[:likes|knows]->(b)", "g")
	require.NoError(t, err)
	assert.Equal(t,
		"MATCH (a:Twin)-[R]->(b:Twin) WHERE (label(R) = 'likes' OR label(R) = 'knows') RETURN a",
		got)
}

func TestTranslateErrors(t *testing.T) {
	for _, tdql := range []string{
		"FROM DIGITALTWINS",
		"SELECT *",
		"SELECT * FROM SOMETHING",
		"SELECT TOP() * FROM DIGITALTWINS",
		"SELECT * FROM DIGITALTWINS WHERE T.name = 'unterminated",
		"SELECT B FROM DIGITALTWINS JOIN B RELATED",
	} {
		_, err := Translate(tdql, "g")
		assert.Error(t, err, "expected error for %q", tdql)
	}
}

func TestDialect(t *testing.T) {
	assert.Equal(t, "tdql", Dialect("SELECT * FROM DIGITALTWINS"))
	assert.Equal(t, "tdql", Dialect("  select T from digitaltwins T"))
	assert.Equal(t, "cypher", Dialect("MATCH (n:Twin) RETURN n"))
	assert.Equal(t, "cypher", Dialect(""))
}

func TestHasVariableLengthEdge(t *testing.T) {
	assert.True(t, HasVariableLengthEdge("MATCH (a)-[*]->(b) RETURN b"))
	assert.True(t, HasVariableLengthEdge("MATCH (a)-[r:knows*1..3]->(b) RETURN b"))
	assert.False(t, HasVariableLengthEdge("MATCH (a)-[r:knows]->(b) RETURN b"))
}

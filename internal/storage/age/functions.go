package age

import (
	"context"
	"fmt"
)

// The subtype test lives next to the data as a helper function in the
// graph's schema, so translated queries can call <graph>.is_of_model(...)
// without another round trip. The previous recursive implementation is
// kept under the _old suffix for benchmarking; both must stay behaviorally
// identical.

const isOfModelTemplate = `
CREATE OR REPLACE FUNCTION %[1]s.is_of_model(twin ag_catalog.agtype, model ag_catalog.agtype, exact boolean DEFAULT false)
RETURNS boolean
LANGUAGE plpgsql STABLE AS $fn$
DECLARE
    twin_model text;
    want text;
BEGIN
    want := trim(both '"' from model::text);
    twin_model := trim(both '"' from ag_catalog.agtype_access_operator(
        ag_catalog.age_properties(twin), '"$metadata"'::ag_catalog.agtype, '"$model"'::ag_catalog.agtype)::text);
    IF twin_model IS NULL OR twin_model = 'null' THEN
        RETURN false;
    END IF;
    IF twin_model = want THEN
        RETURN true;
    END IF;
    IF exact THEN
        RETURN false;
    END IF;
    -- bases is materialized on the twin's model node; membership there is
    -- the whole subtype test.
    RETURN EXISTS (
        SELECT 1
        FROM %[1]s."Model" m
        WHERE m.properties::text::jsonb ->> 'id' = twin_model
          AND m.properties::text::jsonb -> 'bases' ? want
    );
END;
$fn$;
`

const isOfModelOldTemplate = `
CREATE OR REPLACE FUNCTION %[1]s.is_of_model_old(twin ag_catalog.agtype, model ag_catalog.agtype, exact boolean DEFAULT false)
RETURNS boolean
LANGUAGE plpgsql STABLE AS $fn$
DECLARE
    twin_model text;
    want text;
BEGIN
    want := trim(both '"' from model::text);
    twin_model := trim(both '"' from ag_catalog.agtype_access_operator(
        ag_catalog.age_properties(twin), '"$metadata"'::ag_catalog.agtype, '"$model"'::ag_catalog.agtype)::text);
    IF twin_model IS NULL OR twin_model = 'null' THEN
        RETURN false;
    END IF;
    IF twin_model = want THEN
        RETURN true;
    END IF;
    IF exact THEN
        RETURN false;
    END IF;
    -- Walk the _extends DAG upwards from the twin's model. Cost grows with
    -- inheritance depth, which is why the materialized variant replaced it.
    RETURN EXISTS (
        WITH RECURSIVE ancestors(model_id) AS (
            SELECT twin_model
            UNION
            SELECT parent.properties::text::jsonb ->> 'id'
            FROM ancestors a
            JOIN %[1]s."Model" child ON child.properties::text::jsonb ->> 'id' = a.model_id
            JOIN %[1]s."_extends" e ON e.start_id = child.id
            JOIN %[1]s."Model" parent ON parent.id = e.end_id
        )
        SELECT 1 FROM ancestors WHERE model_id = want
    );
END;
$fn$;
`

// installFunctions creates or refreshes the helper functions inside the
// graph's schema. AGE creates one schema per graph, which makes the graph
// name the natural namespace for them.
func (s *Store) installFunctions(ctx context.Context, graph string) error {
	schema := quoteIdent(graph)
	for _, template := range []string{isOfModelTemplate, isOfModelOldTemplate} {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf(template, schema)); err != nil {
			return classifyStoreError("install_functions", err)
		}
	}
	return nil
}

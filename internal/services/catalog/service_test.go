package catalog

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/models"
)

const baseModel = `{
	"@id": "dtmi:com:example:Base;1",
	"@type": "Interface",
	"contents": [{"@type": "Property", "name": "serial", "schema": "string"}]
}`

const derivedModel = `{
	"@id": "dtmi:com:example:Derived;1",
	"@type": "Interface",
	"extends": ["dtmi:com:example:Base;1"],
	"contents": [{"@type": "Property", "name": "speed", "schema": "double"}]
}`

const leafModel = `{
	"@id": "dtmi:com:example:Leaf;1",
	"@type": "Interface",
	"extends": ["dtmi:com:example:Derived;1"]
}`

func newCatalogFixture() (*Service, *memoryModelStore) {
	store := newMemoryModelStore()
	return NewService(store, "g", 0, arbor.NewLogger()), store
}

func docs(bodies ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(bodies))
	for i, body := range bodies {
		out[i] = json.RawMessage(body)
	}
	return out
}

func mustCreate(t *testing.T, svc *Service, bodies ...string) []*models.ModelRecord {
	t.Helper()
	records, err := svc.CreateModels(context.Background(), docs(bodies...))
	require.NoError(t, err)
	return records
}

func TestCreateModelsReportsUnresolvedReferencesSorted(t *testing.T) {
	svc, _ := newCatalogFixture()

	_, err := svc.CreateModels(context.Background(), docs(`{
		"@id": "dtmi:com:example:Orphan;1",
		"@type": "Interface",
		"extends": ["dtmi:com:example:Zed;1", "dtmi:com:example:Alpha;1"]
	}`))
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindResolution))
	assert.Contains(t, err.Error(),
		"unresolved model references: dtmi:com:example:Alpha;1, dtmi:com:example:Zed;1")
}

func TestCreateModelsResolvesWithinBatch(t *testing.T) {
	svc, _ := newCatalogFixture()

	// Derived precedes its base in the batch; resolution is order-free.
	records := mustCreate(t, svc, derivedModel, baseModel)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"dtmi:com:example:Base;1"}, records[0].Bases)
	assert.Equal(t, []string{"dtmi:com:example:Derived;1"}, records[1].Descendants)
}

func TestCreateModelsRejectsDuplicateUpload(t *testing.T) {
	svc, _ := newCatalogFixture()
	mustCreate(t, svc, baseModel)

	_, err := svc.CreateModels(context.Background(), docs(baseModel))
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindModelAlreadyExists))
}

func TestBasesAndDescendantsStayMutualInverses(t *testing.T) {
	svc, _ := newCatalogFixture()
	ctx := context.Background()
	mustCreate(t, svc, baseModel)
	mustCreate(t, svc, derivedModel)
	mustCreate(t, svc, leafModel)

	leaf, err := svc.GetModel(ctx, "dtmi:com:example:Leaf;1", models.GetModelOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"dtmi:com:example:Derived;1", "dtmi:com:example:Base;1"}, leaf.Bases)

	derived, err := svc.GetModel(ctx, "dtmi:com:example:Derived;1", models.GetModelOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"dtmi:com:example:Leaf;1"}, derived.Descendants)

	base, err := svc.GetModel(ctx, "dtmi:com:example:Base;1", models.GetModelOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"dtmi:com:example:Derived;1", "dtmi:com:example:Leaf;1"}, base.Descendants)

	// Every bases entry is mirrored by a descendants entry and vice versa.
	all, err := svc.ListModels(ctx, models.ListModelsOptions{})
	require.NoError(t, err)
	byID := map[string]*models.ModelRecord{}
	for _, record := range all {
		byID[record.ID] = record
	}
	for _, record := range all {
		for _, b := range record.Bases {
			assert.Contains(t, byID[b].Descendants, record.ID, "descendants of %s", b)
		}
		for _, d := range record.Descendants {
			assert.Contains(t, byID[d].Bases, record.ID, "bases of %s", d)
		}
	}
}

func TestDeleteModelMaintainsInverseIndex(t *testing.T) {
	svc, _ := newCatalogFixture()
	ctx := context.Background()
	mustCreate(t, svc, baseModel)
	mustCreate(t, svc, derivedModel)
	mustCreate(t, svc, leafModel)

	// A model with descendants cannot go.
	err := svc.DeleteModel(ctx, "dtmi:com:example:Base;1")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindModelReferences))
	assert.Contains(t, err.Error(), "is extended by")

	// Leaves delete fine, and their ancestors forget them.
	require.NoError(t, svc.DeleteModel(ctx, "dtmi:com:example:Leaf;1"))
	derived, err := svc.GetModel(ctx, "dtmi:com:example:Derived;1", models.GetModelOptions{})
	require.NoError(t, err)
	assert.Empty(t, derived.Descendants)
	base, err := svc.GetModel(ctx, "dtmi:com:example:Base;1", models.GetModelOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"dtmi:com:example:Derived;1"}, base.Descendants)

	require.NoError(t, svc.DeleteModel(ctx, "dtmi:com:example:Derived;1"))
	require.NoError(t, svc.DeleteModel(ctx, "dtmi:com:example:Base;1"))

	_, err = svc.GetModel(ctx, "dtmi:com:example:Base;1", models.GetModelOptions{})
	assert.True(t, models.IsKind(err, models.KindModelNotFound))
}

func TestDeleteModelReferenceGuards(t *testing.T) {
	svc, store := newCatalogFixture()
	ctx := context.Background()
	mustCreate(t, svc, `{
		"@id": "dtmi:com:example:Thermostat;1",
		"@type": "Interface",
		"contents": [{"@type": "Property", "name": "setPoint", "schema": "double"}]
	}`, `{
		"@id": "dtmi:com:example:Room;1",
		"@type": "Interface",
		"contents": [{"@type": "Component", "name": "thermostat", "schema": "dtmi:com:example:Thermostat;1"}]
	}`)

	// A component schema reference blocks the delete.
	err := svc.DeleteModel(ctx, "dtmi:com:example:Thermostat;1")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindModelReferences))
	assert.Contains(t, err.Error(), "referenced by other models")

	// Twin instances block the delete.
	store.twins["dtmi:com:example:Room;1"] = 2
	err = svc.DeleteModel(ctx, "dtmi:com:example:Room;1")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindModelReferences))
	assert.Contains(t, err.Error(), "has twin instances")
}

func TestDeleteModelRelationshipTargetGuard(t *testing.T) {
	svc, _ := newCatalogFixture()
	mustCreate(t, svc, `{
		"@id": "dtmi:com:example:Spot;1",
		"@type": "Interface"
	}`, `{
		"@id": "dtmi:com:example:Zone;1",
		"@type": "Interface",
		"contents": [{"@type": "Relationship", "name": "covers", "target": "dtmi:com:example:Spot;1"}]
	}`)

	err := svc.DeleteModel(context.Background(), "dtmi:com:example:Spot;1")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindModelReferences))
	assert.Contains(t, err.Error(), "is a relationship target of dtmi:com:example:Zone;1")
}

func TestReplaceModelRejectsExtendsChange(t *testing.T) {
	svc, _ := newCatalogFixture()
	mustCreate(t, svc, baseModel)
	mustCreate(t, svc, derivedModel)

	_, err := svc.ReplaceModel(context.Background(), "dtmi:com:example:Derived;1", json.RawMessage(`{
		"@id": "dtmi:com:example:Derived;1",
		"@type": "Interface",
		"contents": [{"@type": "Property", "name": "speed", "schema": "double"}]
	}`))
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindModelExtendsChanged))
}

func TestReplaceModelRejectsDescendantNameCollision(t *testing.T) {
	svc, _ := newCatalogFixture()
	mustCreate(t, svc, baseModel)
	mustCreate(t, svc, derivedModel)

	// Derived already defines "speed"; the base cannot adopt that name.
	_, err := svc.ReplaceModel(context.Background(), "dtmi:com:example:Base;1", json.RawMessage(`{
		"@id": "dtmi:com:example:Base;1",
		"@type": "Interface",
		"contents": [
			{"@type": "Property", "name": "serial", "schema": "string"},
			{"@type": "Property", "name": "speed", "schema": "integer"}
		]
	}`))
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindModelUpdateValidation))
	assert.Contains(t, err.Error(), "collides with descendant dtmi:com:example:Derived;1")
}

func TestReplaceModelAppliesDocument(t *testing.T) {
	svc, _ := newCatalogFixture()
	ctx := context.Background()
	mustCreate(t, svc, baseModel)
	mustCreate(t, svc, derivedModel)

	updated, err := svc.ReplaceModel(ctx, "dtmi:com:example:Base;1", json.RawMessage(`{
		"@id": "dtmi:com:example:Base;1",
		"@type": "Interface",
		"contents": [
			{"@type": "Property", "name": "serial", "schema": "string"},
			{"@type": "Property", "name": "mass", "schema": "double"}
		]
	}`))
	require.NoError(t, err)
	assert.Contains(t, string(updated.Model), "mass")

	stored, err := svc.GetModel(ctx, "dtmi:com:example:Base;1", models.GetModelOptions{IncludeModelDefinition: true})
	require.NoError(t, err)
	assert.Contains(t, string(stored.Model), "mass")
	assert.Equal(t, []string{"dtmi:com:example:Derived;1"}, stored.Descendants, "replace leaves the index untouched")
}

func TestUpdateModelTogglesDecommissioned(t *testing.T) {
	svc, _ := newCatalogFixture()
	ctx := context.Background()
	mustCreate(t, svc, baseModel)

	require.NoError(t, svc.UpdateModel(ctx, "dtmi:com:example:Base;1", true))
	record, err := svc.GetModel(ctx, "dtmi:com:example:Base;1", models.GetModelOptions{})
	require.NoError(t, err)
	assert.True(t, record.Decommissioned)

	err = svc.UpdateModel(ctx, "dtmi:com:example:Missing;1", true)
	assert.True(t, models.IsKind(err, models.KindModelNotFound))
}

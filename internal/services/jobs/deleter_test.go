package jobs

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/tessera/internal/models"
)

func TestDeleteAllRunsPhasesInOrder(t *testing.T) {
	f := newImportFixture()
	// Two relationship batches, three twins over two batches, one model
	// batch; each phase ends on a zero count.
	f.store.scalars = []interface{}{float64(2), float64(0), float64(2), float64(1), float64(0), float64(1), float64(0)}

	job, err := f.svc.DeleteAll(context.Background(), "wipe-1")
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusSucceeded, job.Status)
	assert.Equal(t, 2, job.RelationshipsDeleted)
	assert.Equal(t, 3, job.TwinsDeleted)
	assert.Equal(t, 1, job.ModelsDeleted)

	require.Len(t, f.store.queries, 7)
	for i, q := range f.store.queries {
		switch {
		case i < 2:
			assert.Contains(t, q, "MATCH ()-[r]->()", "query %d", i)
		case i < 5:
			assert.Contains(t, q, "MATCH (t:Twin)", "query %d", i)
		default:
			assert.Contains(t, q, "MATCH (m:Model)", "query %d", i)
			assert.Contains(t, q, "NOT EXISTS((:Model)-[:_extends]->(m))", "query %d", i)
		}
		assert.Contains(t, q, "LIMIT 2", "query %d", i)
	}

	// The checkpoint is removed once the graph is drained.
	checkpoint, err := f.storage.LoadDeleteCheckpoint(context.Background(), "wipe-1")
	require.NoError(t, err)
	assert.Nil(t, checkpoint)
	assert.Empty(t, f.storage.locks)
}

func TestDeleteAllResumesFromCheckpoint(t *testing.T) {
	f := newImportFixture()
	require.NoError(t, f.storage.SaveCheckpoint(context.Background(), &models.DeleteCheckpoint{
		JobID:                  "wipe-2",
		CurrentSection:         models.DeleteSectionTwins,
		RelationshipsCompleted: true,
		RelationshipsDeleted:   5,
	}))
	f.store.scalars = []interface{}{float64(0), float64(0)}

	job, err := f.svc.DeleteAll(context.Background(), "wipe-2")
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusSucceeded, job.Status)
	assert.Equal(t, 5, job.RelationshipsDeleted, "relationship progress carries over")
	assert.Equal(t, 0, job.TwinsDeleted)

	// The relationships phase is never revisited.
	require.Len(t, f.store.queries, 2)
	assert.False(t, strings.Contains(f.store.queries[0], "()-[r]->()"))
	assert.Contains(t, f.store.queries[0], "MATCH (t:Twin)")
	assert.Contains(t, f.store.queries[1], "MATCH (m:Model)")
}

func TestDeleteAllCancelledBeforeWorkKeepsCheckpoint(t *testing.T) {
	f := newImportFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job, err := f.svc.DeleteAll(ctx, "wipe-3")
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCancelled, job.Status)
	assert.Empty(t, f.store.queries)

	// The checkpoint survives so a rerun resumes instead of restarting.
	checkpoint, err := f.storage.LoadDeleteCheckpoint(context.Background(), "wipe-3")
	require.NoError(t, err)
	require.NotNil(t, checkpoint)
	assert.Equal(t, models.DeleteSectionRelationships, checkpoint.CurrentSection)
	assert.Empty(t, f.storage.locks)
}

func TestDeleteBatchCoercesCounts(t *testing.T) {
	f := newImportFixture()

	f.store.scalars = []interface{}{int64(4)}
	n, err := f.svc.deleteBatch(context.Background(), "MATCH (t:Twin) WITH t LIMIT %d DETACH DELETE t RETURN count(*)")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	f.store.scalars = []interface{}{"not a number"}
	n, err = f.svc.deleteBatch(context.Background(), "MATCH (t:Twin) WITH t LIMIT %d DETACH DELETE t RETURN count(*)")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

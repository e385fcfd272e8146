package jobs

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/tessera/internal/models"
)

// fakeClock drives the storage clock without sleeping.
type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time          { return c.current }
func (c *fakeClock) advance(d time.Duration) { c.current = c.current.Add(d) }

func newClockedStorage() (*memoryJobStorage, *fakeClock) {
	clock := &fakeClock{current: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	storage := newMemoryJobStorage()
	storage.now = clock.now
	return storage, clock
}

func TestLockBlocksSecondOwnerUntilExpiry(t *testing.T) {
	storage, clock := newClockedStorage()
	ctx := context.Background()

	acquired, err := storage.TryAcquireLock(ctx, "job-1", "instance-a", 60)
	require.NoError(t, err)
	assert.True(t, acquired)

	// Second instance fails while the TTL is alive.
	acquired, err = storage.TryAcquireLock(ctx, "job-1", "instance-b", 60)
	require.NoError(t, err)
	assert.False(t, acquired)

	// The holder can renew, pushing the expiry out.
	clock.advance(30 * time.Second)
	renewed, err := storage.RenewLock(ctx, "job-1", "instance-a")
	require.NoError(t, err)
	assert.True(t, renewed)

	// 31s later the renewed lock is still alive for the holder only.
	clock.advance(31 * time.Second)
	acquired, err = storage.TryAcquireLock(ctx, "job-1", "instance-b", 60)
	require.NoError(t, err)
	assert.False(t, acquired)

	// Past the renewed expiry the second instance steals the lock.
	clock.advance(30 * time.Second)
	acquired, err = storage.TryAcquireLock(ctx, "job-1", "instance-b", 60)
	require.NoError(t, err)
	assert.True(t, acquired)

	// The previous holder's renew fails after the steal.
	renewed, err = storage.RenewLock(ctx, "job-1", "instance-a")
	require.NoError(t, err)
	assert.False(t, renewed)
}

func TestLockReentrantForSameOwner(t *testing.T) {
	storage, _ := newClockedStorage()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		acquired, err := storage.TryAcquireLock(ctx, "job-1", "instance-a", 60)
		require.NoError(t, err)
		assert.True(t, acquired, "attempt %d", i)
	}
}

func TestLockReleaseIsOwnerGuarded(t *testing.T) {
	storage, _ := newClockedStorage()
	ctx := context.Background()

	acquired, err := storage.TryAcquireLock(ctx, "job-1", "instance-a", 60)
	require.NoError(t, err)
	require.True(t, acquired)

	// A non-owner release is a no-op; the lock stays held.
	require.NoError(t, storage.ReleaseLock(ctx, "job-1", "instance-b"))
	acquired, err = storage.TryAcquireLock(ctx, "job-1", "instance-b", 60)
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, storage.ReleaseLock(ctx, "job-1", "instance-a"))
	acquired, err = storage.TryAcquireLock(ctx, "job-1", "instance-b", 60)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRenewLockRejectsExpiredLock(t *testing.T) {
	storage, clock := newClockedStorage()
	ctx := context.Background()

	acquired, err := storage.TryAcquireLock(ctx, "job-1", "instance-a", 60)
	require.NoError(t, err)
	require.True(t, acquired)

	clock.advance(61 * time.Second)
	renewed, err := storage.RenewLock(ctx, "job-1", "instance-a")
	require.NoError(t, err)
	assert.False(t, renewed, "an expired lock cannot be renewed, only re-acquired")
}

func TestCleanupExpiredLocks(t *testing.T) {
	storage, clock := newClockedStorage()
	ctx := context.Background()

	_, err := storage.TryAcquireLock(ctx, "job-1", "instance-a", 60)
	require.NoError(t, err)
	_, err = storage.TryAcquireLock(ctx, "job-2", "instance-a", 300)
	require.NoError(t, err)

	clock.advance(61 * time.Second)
	reaped, err := storage.CleanupExpiredLocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	info, err := storage.GetLockInfo(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, info)
	info, err = storage.GetLockInfo(ctx, "job-2")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "instance-a", info.OwnerInstanceID)
	assert.False(t, info.IsExpired)
}

func TestStartJobStealsExpiredForeignLock(t *testing.T) {
	f := newImportFixture()
	f.storage.holdLock("import-steal", "instance-b", -time.Minute)

	job, err := f.svc.ImportGraph(context.Background(), "import-steal",
		strings.NewReader(validImportStream), nil, models.DefaultImportOptions())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, job.Status)
	assert.Empty(t, f.storage.locks, "lock released after the stolen run finishes")
}

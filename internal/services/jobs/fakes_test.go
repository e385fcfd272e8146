package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ternarybob/tessera/internal/dtdl"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
)

// lockEntry models one job lock row: owner plus TTL-based expiry, evaluated
// against the storage clock the way the SQL store evaluates its own.
type lockEntry struct {
	owner     string
	ttl       time.Duration
	expiresAt time.Time
}

// memoryJobStorage is an in-memory JobStorage for tests. The clock is
// injectable so lock expiry can be driven without sleeping.
type memoryJobStorage struct {
	mu          sync.Mutex
	jobs        map[string]*models.JobRecord
	locks       map[string]*lockEntry
	checkpoints map[string]*models.DeleteCheckpoint
	now         func() time.Time
}

func newMemoryJobStorage() *memoryJobStorage {
	return &memoryJobStorage{
		jobs:        map[string]*models.JobRecord{},
		locks:       map[string]*lockEntry{},
		checkpoints: map[string]*models.DeleteCheckpoint{},
		now:         time.Now,
	}
}

// holdLock seeds a lock held by owner, expiring ttl from now. A negative
// ttl seeds an already expired lock.
func (m *memoryJobStorage) holdLock(jobID, owner string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[jobID] = &lockEntry{owner: owner, ttl: ttl, expiresAt: m.now().Add(ttl)}
}

func (m *memoryJobStorage) CreateJob(ctx context.Context, job *models.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return models.NewError(models.KindInvalidOperation, "job %s already exists", job.ID)
	}
	clone := *job
	m.jobs[job.ID] = &clone
	return nil
}

func (m *memoryJobStorage) GetJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, models.NewError(models.KindJobNotFound, "job %s not found", jobID)
	}
	clone := *job
	return &clone, nil
}

func (m *memoryJobStorage) SaveJob(ctx context.Context, job *models.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *job
	m.jobs[job.ID] = &clone
	return nil
}

func (m *memoryJobStorage) ListJobs(ctx context.Context, jobType models.JobType) ([]*models.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.JobRecord
	for _, job := range m.jobs {
		if jobType != "" && job.JobType != jobType {
			continue
		}
		clone := *job
		out = append(out, &clone)
	}
	return out, nil
}

func (m *memoryJobStorage) DeleteJob(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	delete(m.checkpoints, jobID)
	return nil
}

func (m *memoryJobStorage) PurgeFinishedJobs(ctx context.Context) (int, error) { return 0, nil }

func (m *memoryJobStorage) TryAcquireLock(ctx context.Context, jobID, owner string, ttlSeconds int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, held := m.locks[jobID]
	if held && entry.owner != owner && m.now().Before(entry.expiresAt) {
		return false, nil
	}
	ttl := time.Duration(ttlSeconds) * time.Second
	m.locks[jobID] = &lockEntry{owner: owner, ttl: ttl, expiresAt: m.now().Add(ttl)}
	return true, nil
}

func (m *memoryJobStorage) RenewLock(ctx context.Context, jobID, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, held := m.locks[jobID]
	if !held || entry.owner != owner || !m.now().Before(entry.expiresAt) {
		return false, nil
	}
	entry.expiresAt = m.now().Add(entry.ttl)
	return true, nil
}

func (m *memoryJobStorage) ReleaseLock(ctx context.Context, jobID, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, held := m.locks[jobID]; held && entry.owner == owner {
		delete(m.locks, jobID)
	}
	return nil
}

func (m *memoryJobStorage) CleanupExpiredLocks(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reaped := 0
	for jobID, entry := range m.locks {
		if !m.now().Before(entry.expiresAt) {
			delete(m.locks, jobID)
			reaped++
		}
	}
	return reaped, nil
}

func (m *memoryJobStorage) GetLockInfo(ctx context.Context, jobID string) (*models.JobLockInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, held := m.locks[jobID]
	if !held {
		return nil, nil
	}
	return &models.JobLockInfo{
		JobID:           jobID,
		OwnerInstanceID: entry.owner,
		TTL:             entry.ttl,
		IsExpired:       !m.now().Before(entry.expiresAt),
	}, nil
}

func (m *memoryJobStorage) SaveCheckpoint(ctx context.Context, checkpoint *models.DeleteCheckpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *checkpoint
	m.checkpoints[checkpoint.JobID] = &clone
	return nil
}

func (m *memoryJobStorage) LoadDeleteCheckpoint(ctx context.Context, jobID string) (*models.DeleteCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	checkpoint, ok := m.checkpoints[jobID]
	if !ok {
		return nil, nil
	}
	clone := *checkpoint
	return &clone, nil
}

func (m *memoryJobStorage) DeleteCheckpoint(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, jobID)
	return nil
}

// fakeModelService counts created models and optionally fails every batch.
type fakeModelService struct {
	mu      sync.Mutex
	created int
	batches int
	failAll bool
}

func (f *fakeModelService) CreateModels(ctx context.Context, docs []json.RawMessage) ([]*models.ModelRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, models.NewError(models.KindValidationFailed, "invalid DTDL document")
	}
	f.batches++
	f.created += len(docs)
	return nil, nil
}

func (f *fakeModelService) GetModel(ctx context.Context, id string, opts models.GetModelOptions) (*models.ModelRecord, error) {
	return nil, models.NewError(models.KindModelNotFound, "model %s not found", id)
}

func (f *fakeModelService) ListModels(ctx context.Context, opts models.ListModelsOptions) ([]*models.ModelRecord, error) {
	return nil, nil
}

func (f *fakeModelService) UpdateModel(ctx context.Context, id string, decommissioned bool) error {
	return nil
}

func (f *fakeModelService) ReplaceModel(ctx context.Context, id string, doc json.RawMessage) (*models.ModelRecord, error) {
	return nil, nil
}

func (f *fakeModelService) DeleteModel(ctx context.Context, id string) error { return nil }

func (f *fakeModelService) DeleteAllModels(ctx context.Context) (int, error) { return 0, nil }

func (f *fakeModelService) ResolveInterface(ctx context.Context, id string) (*dtdl.Interface, []*dtdl.Interface, error) {
	return nil, nil, models.NewError(models.KindModelNotFound, "model %s not found", id)
}

func (f *fakeModelService) FlattenedContents(ctx context.Context, id string) ([]dtdl.Content, error) {
	return nil, nil
}

// fakeTwinService records upserted twins and relationships; ids in fail
// reject with a validation error.
type fakeTwinService struct {
	mu    sync.Mutex
	twins []string
	rels  []string
	fail  map[string]bool
}

func (f *fakeTwinService) CreateOrReplaceTwin(ctx context.Context, id string, body []byte, ifNoneMatch string) (models.DigitalTwin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[id] {
		return nil, models.NewError(models.KindValidationFailed, "twin validation failed")
	}
	f.twins = append(f.twins, id)
	return models.DigitalTwin{"$dtId": id}, nil
}

func (f *fakeTwinService) GetTwin(ctx context.Context, id string) (models.DigitalTwin, error) {
	return nil, models.NewError(models.KindTwinNotFound, "digital twin %s not found", id)
}

func (f *fakeTwinService) UpdateTwin(ctx context.Context, id string, patch []byte, ifMatch string) error {
	return nil
}

func (f *fakeTwinService) DeleteTwin(ctx context.Context, id string, ifMatch string) error {
	return nil
}

func (f *fakeTwinService) CreateOrReplaceTwins(ctx context.Context, batch []json.RawMessage) (*models.BatchResult, error) {
	return &models.BatchResult{}, nil
}

func (f *fakeTwinService) CreateOrReplaceRelationship(ctx context.Context, sourceID, relID string, body []byte, ifNoneMatch string) (models.Relationship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[relID] {
		return nil, models.NewError(models.KindValidationFailed, "relationship validation failed")
	}
	f.rels = append(f.rels, relID)
	return models.Relationship{"$relationshipId": relID}, nil
}

func (f *fakeTwinService) GetRelationship(ctx context.Context, sourceID, relID string) (models.Relationship, error) {
	return nil, models.NewError(models.KindRelationshipNotFound, "relationship %s not found", relID)
}

func (f *fakeTwinService) UpdateRelationship(ctx context.Context, sourceID, relID string, patch []byte, ifMatch string) error {
	return nil
}

func (f *fakeTwinService) DeleteRelationship(ctx context.Context, sourceID, relID string, ifMatch string) error {
	return nil
}

func (f *fakeTwinService) CreateOrReplaceRelationships(ctx context.Context, batch []json.RawMessage) (*models.BatchResult, error) {
	return &models.BatchResult{}, nil
}

func (f *fakeTwinService) ListRelationships(ctx context.Context, twinID, name string) ([]models.Relationship, error) {
	return nil, nil
}

func (f *fakeTwinService) ListIncomingRelationships(ctx context.Context, twinID string) ([]models.Relationship, error) {
	return nil, nil
}

func (f *fakeTwinService) GetComponent(ctx context.Context, twinID, component string) (map[string]interface{}, error) {
	return nil, models.NewError(models.KindComponentNotFound, "component %s not found", component)
}

func (f *fakeTwinService) UpdateComponent(ctx context.Context, twinID, component string, patch []byte, ifMatch string) error {
	return nil
}

// scriptedStore returns queued scalar results in order; each call also
// records the cypher it served.
type scriptedStore struct {
	mu      sync.Mutex
	scalars []interface{}
	queries []string
}

func (s *scriptedStore) ExecuteScalar(ctx context.Context, graph, cypher string, params map[string]interface{}) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, cypher)
	if len(s.scalars) == 0 {
		return float64(0), nil
	}
	v := s.scalars[0]
	s.scalars = s.scalars[1:]
	return v, nil
}

func (s *scriptedStore) ExecuteCypher(ctx context.Context, graph, cypher string, params map[string]interface{}, columns []string) ([]map[string]interface{}, error) {
	return nil, nil
}

func (s *scriptedStore) ExecuteCypherStream(ctx context.Context, graph, cypher string, params map[string]interface{}, columns []string) (interfaces.RowCursor, error) {
	return nil, nil
}

func (s *scriptedStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx interfaces.GraphQuerier) error) error {
	return fn(ctx, s)
}

func (s *scriptedStore) CreateGraph(ctx context.Context, graph string) error { return nil }
func (s *scriptedStore) DropGraph(ctx context.Context, graph string) error   { return nil }
func (s *scriptedStore) GraphExists(ctx context.Context, graph string) (bool, error) {
	return true, nil
}
func (s *scriptedStore) Ping(ctx context.Context) error { return nil }
func (s *scriptedStore) Close()                         {}

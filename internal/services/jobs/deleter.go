package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/tessera/internal/models"
)

// runDelete drains the graph in three strict phases: every relationship
// before any twin, every twin before any model. Progress is checkpointed
// after each batch so a restarted job resumes mid-phase.
func (s *Service) runDelete(ctx context.Context, job *models.JobRecord) error {
	checkpoint, err := s.storage.LoadDeleteCheckpoint(ctx, job.ID)
	if err != nil {
		return err
	}
	if checkpoint == nil {
		checkpoint = models.NewDeleteCheckpoint(job.ID)
	}
	job.RelationshipsDeleted = checkpoint.RelationshipsDeleted
	job.TwinsDeleted = checkpoint.TwinsDeleted
	job.ModelsDeleted = checkpoint.ModelsDeleted

	for checkpoint.CurrentSection != models.DeleteSectionCompleted {
		if err := ctx.Err(); err != nil {
			// Persist where we got to before surfacing the cancellation.
			s.saveCheckpoint(checkpoint)
			return models.WrapError(models.KindCancelled, err, "bulk delete cancelled")
		}

		switch checkpoint.CurrentSection {
		case models.DeleteSectionRelationships:
			n, err := s.deleteBatch(ctx, "MATCH ()-[r]->() WITH r LIMIT %d DELETE r RETURN count(*)")
			if err != nil {
				return err
			}
			if n == 0 {
				checkpoint.RelationshipsCompleted = true
				checkpoint.CurrentSection = models.DeleteSectionTwins
			} else {
				checkpoint.RelationshipsDeleted += n
				job.RelationshipsDeleted += n
			}
		case models.DeleteSectionTwins:
			n, err := s.deleteBatch(ctx, "MATCH (t:Twin) WITH t LIMIT %d DETACH DELETE t RETURN count(*)")
			if err != nil {
				return err
			}
			if n == 0 {
				checkpoint.TwinsCompleted = true
				checkpoint.CurrentSection = models.DeleteSectionModels
			} else {
				checkpoint.TwinsDeleted += n
				job.TwinsDeleted += n
			}
		case models.DeleteSectionModels:
			// Leaves first, so a crash mid-phase never leaves a model whose
			// parent is already gone.
			n, err := s.deleteBatch(ctx,
				"MATCH (m:Model) WHERE NOT EXISTS((:Model)-[:_extends]->(m)) WITH m LIMIT %d DETACH DELETE m RETURN count(*)")
			if err != nil {
				return err
			}
			if n == 0 {
				checkpoint.ModelsCompleted = true
				checkpoint.CurrentSection = models.DeleteSectionCompleted
			} else {
				checkpoint.ModelsDeleted += n
				job.ModelsDeleted += n
			}
		}

		checkpoint.LastUpdated = time.Now().UTC()
		s.saveCheckpoint(checkpoint)
		s.saveProgress(ctx, job)
	}

	if err := s.storage.DeleteCheckpoint(ctx, job.ID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to remove completed checkpoint")
	}
	return nil
}

// deleteBatch runs one batched delete statement and returns the number of
// elements removed.
func (s *Service) deleteBatch(ctx context.Context, template string) (int, error) {
	cypher := fmt.Sprintf(template, s.config.DeleteBatchSize)
	v, err := s.store.ExecuteScalar(ctx, s.graph, cypher, nil)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int64:
		return int(n), nil
	}
	return 0, nil
}

func (s *Service) saveCheckpoint(checkpoint *models.DeleteCheckpoint) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.storage.SaveCheckpoint(ctx, checkpoint); err != nil {
		s.logger.Warn().Err(err).Str("job_id", checkpoint.JobID).Msg("Failed to persist delete checkpoint")
	}
}

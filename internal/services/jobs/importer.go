package jobs

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ternarybob/tessera/internal/models"
)

// maxImportLine bounds a single ND-JSON record.
const maxImportLine = 4 * 1024 * 1024

// sectionMarker introduces each part of an import stream.
type sectionMarker struct {
	Section string `json:"Section"`
}

// importHeader is the second record of the stream.
type importHeader struct {
	FileVersion string `json:"fileVersion"`
}

var sectionOrder = map[string]int{
	"Models":        1,
	"Twins":         2,
	"Relationships": 3,
}

// runImport consumes an ND-JSON stream in strict section order: a Header
// marker, the header object, then Models, Twins and Relationships
// sections. Per-record failures honor ContinueOnFailure; counters and the
// output log track progress either way.
func (s *Service) runImport(ctx context.Context, job *models.JobRecord, input io.Reader, output io.Writer, opts models.ImportOptions) error {
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = s.config.OperationTimeout
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = models.DefaultImportOptions().BatchSize
	}

	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 64*1024), maxImportLine)

	line, ok := nextLine(scanner)
	if !ok {
		return models.NewError(models.KindArgument, "Empty input stream")
	}
	var marker sectionMarker
	if err := json.Unmarshal(line, &marker); err != nil || marker.Section != "Header" {
		return models.NewError(models.KindArgument, "First section must be 'Header'")
	}

	line, ok = nextLine(scanner)
	if !ok {
		return models.NewError(models.KindArgument, "Missing file header")
	}
	var header importHeader
	if err := json.Unmarshal(line, &header); err != nil {
		return models.WrapError(models.KindArgument, err, "file header is not valid JSON")
	}
	if header.FileVersion != "1.0.0" {
		return models.NewError(models.KindArgument, "Unsupported file version")
	}

	logf(output, "import %s: header accepted (fileVersion %s)", job.ID, header.FileVersion)

	section := ""
	lastRank := 0
	var modelBatch []json.RawMessage

	flushModels := func() error {
		for len(modelBatch) > 0 {
			n := opts.BatchSize
			if n > len(modelBatch) {
				n = len(modelBatch)
			}
			chunk := modelBatch[:n]
			modelBatch = modelBatch[n:]

			opCtx, cancel := context.WithTimeout(ctx, opts.OperationTimeout)
			_, err := s.catalog.CreateModels(opCtx, chunk)
			cancel()
			if err != nil {
				if !opts.ContinueOnFailure {
					return err
				}
				job.ErrorCount++
				logf(output, "import %s: model batch failed: %v", job.ID, err)
				continue
			}
			job.ModelsCreated += n
		}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return models.WrapError(models.KindCancelled, err, "import cancelled")
		}
		line, ok = nextLine(scanner)
		if !ok {
			break
		}

		var maybeMarker sectionMarker
		if err := json.Unmarshal(line, &maybeMarker); err == nil && maybeMarker.Section != "" {
			rank, known := sectionOrder[maybeMarker.Section]
			if !known {
				return models.NewError(models.KindArgument, "unknown section %q", maybeMarker.Section)
			}
			if rank <= lastRank {
				return models.NewError(models.KindArgument, "section %q is out of order", maybeMarker.Section)
			}
			if section == "Models" {
				if err := flushModels(); err != nil {
					return err
				}
			}
			section = maybeMarker.Section
			lastRank = rank
			logf(output, "import %s: section %s", job.ID, section)
			s.saveProgress(ctx, job)
			continue
		}

		switch section {
		case "Models":
			modelBatch = append(modelBatch, append(json.RawMessage(nil), line...))
		case "Twins":
			if err := s.importTwin(ctx, job, output, line, opts); err != nil {
				return err
			}
		case "Relationships":
			if err := s.importRelationship(ctx, job, output, line, opts); err != nil {
				return err
			}
		default:
			return models.NewError(models.KindArgument, "record outside of a section")
		}
	}
	if err := scanner.Err(); err != nil {
		return models.WrapError(models.KindInternal, err, "failed to read import stream")
	}
	if section == "Models" {
		if err := flushModels(); err != nil {
			return err
		}
	}

	s.saveProgress(ctx, job)
	logf(output, "import %s: done (%d models, %d twins, %d relationships, %d errors)",
		job.ID, job.ModelsCreated, job.TwinsCreated, job.RelationshipsCreated, job.ErrorCount)
	return nil
}

func (s *Service) importTwin(ctx context.Context, job *models.JobRecord, output io.Writer, line []byte, opts models.ImportOptions) error {
	var doc map[string]interface{}
	if err := json.Unmarshal(line, &doc); err != nil {
		return s.recordFailure(job, output, opts,
			models.WrapError(models.KindArgument, err, "twin record is not valid JSON"))
	}
	id, _ := doc[models.KeyDtID].(string)
	if id == "" {
		return s.recordFailure(job, output, opts,
			models.NewError(models.KindArgument, "twin record is missing $dtId"))
	}
	opCtx, cancel := context.WithTimeout(ctx, opts.OperationTimeout)
	_, err := s.twins.CreateOrReplaceTwin(opCtx, id, line, "")
	cancel()
	if err != nil {
		return s.recordFailure(job, output, opts, fmt.Errorf("twin %s: %w", id, err))
	}
	job.TwinsCreated++
	return nil
}

func (s *Service) importRelationship(ctx context.Context, job *models.JobRecord, output io.Writer, line []byte, opts models.ImportOptions) error {
	var doc map[string]interface{}
	if err := json.Unmarshal(line, &doc); err != nil {
		return s.recordFailure(job, output, opts,
			models.WrapError(models.KindArgument, err, "relationship record is not valid JSON"))
	}
	rel := models.Relationship(doc)
	if rel.SourceID() == "" || rel.ID() == "" {
		return s.recordFailure(job, output, opts,
			models.NewError(models.KindArgument, "relationship record is missing $sourceId or $relationshipId"))
	}
	opCtx, cancel := context.WithTimeout(ctx, opts.OperationTimeout)
	_, err := s.twins.CreateOrReplaceRelationship(opCtx, rel.SourceID(), rel.ID(), line, "")
	cancel()
	if err != nil {
		return s.recordFailure(job, output, opts,
			fmt.Errorf("relationship %s/%s: %w", rel.SourceID(), rel.ID(), err))
	}
	job.RelationshipsCreated++
	return nil
}

// recordFailure either logs a per-record error and keeps the run going,
// or aborts with the first failure.
func (s *Service) recordFailure(job *models.JobRecord, output io.Writer, opts models.ImportOptions, err error) error {
	if !opts.ContinueOnFailure {
		return err
	}
	job.ErrorCount++
	logf(output, "import %s: %v", job.ID, err)
	return nil
}

// nextLine yields the next non-blank line.
func nextLine(scanner *bufio.Scanner) ([]byte, bool) {
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(trimSpaceBytes(line)) == 0 {
			continue
		}
		return line, true
	}
	return nil, false
}

func trimSpaceBytes(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && (b[start] == ' ' || b[start] == '\t' || b[start] == '\r') {
		start++
	}
	for end > start && (b[end-1] == ' ' || b[end-1] == '\t' || b[end-1] == '\r') {
		end--
	}
	return b[start:end]
}

func logf(output io.Writer, format string, args ...interface{}) {
	if output == nil {
		return
	}
	fmt.Fprintf(output, "%s %s\n", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
}

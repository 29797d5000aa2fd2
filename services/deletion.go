package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/bahrain-bp/bqa-insight-ai-sub000/database"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/model"
	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"
)

// DefaultDeleteParallel bounds concurrent per-file deletions
const DefaultDeleteParallel = 8

// DeletionReport is the outcome for one file key
type DeletionReport struct {
	FileKey        string                  `json:"fileKey"`
	ObjectsDeleted int                     `json:"objectsDeleted"`
	RecordFound    bool                    `json:"recordFound"`
	Removal        *database.RemovalResult `json:"removal,omitempty"`
	IndexRemoved   bool                    `json:"indexRemoved"`
	Error          string                  `json:"error,omitempty"`
}

// DeletionService removes uploaded files, their derived objects, their file
// records and any entity no other file references
type DeletionService struct {
	store    ObjectStore
	entities EntityStore
	index    IndexDocumentRemover
	parallel int
}

// NewDeletionService creates a deletion service. index may be nil when no
// knowledge base is configured.
func NewDeletionService(store ObjectStore, entities EntityStore, index IndexDocumentRemover) *DeletionService {
	return &DeletionService{
		store:    store,
		entities: entities,
		index:    index,
		parallel: DefaultDeleteParallel,
	}
}

// WithParallel bounds how many files are deleted at once
func (s *DeletionService) WithParallel(n int) *DeletionService {
	if n > 0 {
		s.parallel = n
	}
	return s
}

// Delete removes every file independently. The returned reports are in
// input order; the error joins every per-file failure.
func (s *DeletionService) Delete(ctx context.Context, fileKeys []string) ([]DeletionReport, error) {
	keys := uniqueKeys(fileKeys)
	reports := make([]DeletionReport, len(keys))
	errs := make([]error, len(keys))

	var g errgroup.Group
	g.SetLimit(s.parallel)
	for i, key := range keys {
		g.Go(func() error {
			reports[i], errs[i] = s.deleteOne(ctx, key)
			if errs[i] != nil {
				reports[i].Error = errs[i].Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	if err != nil {
		log.Errorf("[Deletion] %d file(s) requested, failures: %v", len(keys), err)
	} else {
		log.Infof("[Deletion] Deleted %d file(s)", len(keys))
	}
	return reports, err
}

func (s *DeletionService) deleteOne(ctx context.Context, fileKey string) (DeletionReport, error) {
	key := model.ObjectKey(fileKey)
	report := DeletionReport{FileKey: key}

	var objects []string
	for _, k := range []string{key, model.TextKey(key), model.MetadataStubKey(key)} {
		ok, err := s.store.Exists(ctx, k)
		if err != nil {
			return report, fmt.Errorf("%s: failed to check %s: %w", key, k, err)
		}
		if ok {
			objects = append(objects, k)
		}
	}
	chunks, err := s.store.List(ctx, model.ChunkPrefix(key))
	if err != nil {
		return report, fmt.Errorf("%s: failed to list chunks: %w", key, err)
	}
	objects = append(objects, chunks...)

	if len(objects) > 0 {
		if err := s.store.DeleteMany(ctx, objects); err != nil {
			return report, fmt.Errorf("%s: failed to delete objects: %w", key, err)
		}
	}
	report.ObjectsDeleted = len(objects)

	removal, err := s.entities.RemoveFileRecord(ctx, key)
	switch {
	case errors.Is(err, database.ErrFileNotFound):
		log.Warnf("[Deletion] No file record for %s", key)
	case err != nil:
		return report, fmt.Errorf("%s: %w", key, err)
	default:
		report.RecordFound = true
		report.Removal = removal
		for _, ref := range removal.Removed {
			log.Infof("[Deletion] Removed %s %q with its last file %s", ref.Kind, ref.Name, key)
		}
		for _, ref := range removal.Retained {
			log.Debugf("[Deletion] Kept %s %q, still referenced", ref.Kind, ref.Name)
		}
	}

	if s.index != nil {
		if err := s.index.DeleteDocument(ctx, s.store.URI(model.TextKey(key))); err != nil {
			return report, fmt.Errorf("%s: failed to remove index document: %w", key, err)
		}
		report.IndexRemoved = true
	}
	return report, nil
}

func uniqueKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = model.ObjectKey(k)
		if k == model.FilesPrefix || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

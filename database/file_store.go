package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bahrain-bp/bqa-insight-ai-sub000/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FileFilter narrows ListFileRecords
type FileFilter struct {
	BatchID              string
	InstituteName        string
	UniversityName       string
	VocationalCenterName string
	Limit                int
	Offset               int
}

// RegisterFile inserts a FileRecord unless one already exists. Pre-registered
// rows (batch id, report type) win over the later upload notification.
func (s *GORMStore) RegisterFile(ctx context.Context, rec *model.FileRecord) error {
	if rec.Status == "" {
		rec.Status = model.FileStatusRegistered
	}
	if err := s.checkKeyConflict(ctx, rec.FileKey); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "file_key"}}, DoNothing: true}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to register file %s: %w", rec.FileKey, err)
	}
	return nil
}

// PrepareUpload registers a file ahead of its upload. A key uploaded again
// joins the new batch and returns to registered; entity links are kept
// until extraction relinks them.
func (s *GORMStore) PrepareUpload(ctx context.Context, rec *model.FileRecord) error {
	rec.Status = model.FileStatusRegistered
	if err := s.checkKeyConflict(ctx, rec.FileKey); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "file_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"batch_id", "report_type", "status", "updated_at"}),
		}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to prepare upload %s: %w", rec.FileKey, err)
	}
	return nil
}

// checkKeyConflict rejects key when another file shares its base name, since
// both would write the same SplitFiles/ and TextFiles/ objects
func (s *GORMStore) checkKeyConflict(ctx context.Context, key string) error {
	base := model.BaseName(key)
	var keys []string
	err := s.db.WithContext(ctx).Model(&model.FileRecord{}).
		Where("file_key LIKE ? ESCAPE '\\' AND file_key <> ?", "%"+escapeLike(base)+"%", key).
		Pluck("file_key", &keys).Error
	if err != nil {
		return fmt.Errorf("failed to check key conflicts for %s: %w", key, err)
	}
	for _, other := range keys {
		if model.BaseName(other) == base {
			return fmt.Errorf("%w: %s and %s derive the same objects", ErrKeyConflict, key, other)
		}
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// GetFileRecord loads a FileRecord by key
func (s *GORMStore) GetFileRecord(ctx context.Context, fileKey string) (*model.FileRecord, error) {
	var rec model.FileRecord
	err := s.db.WithContext(ctx).Where("file_key = ?", fileKey).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load file %s: %w", fileKey, err)
	}
	return &rec, nil
}

// ListFileRecords returns a page of files plus the total match count
func (s *GORMStore) ListFileRecords(ctx context.Context, filter FileFilter) ([]model.FileRecord, int64, error) {
	query := s.db.WithContext(ctx).Model(&model.FileRecord{})
	if filter.BatchID != "" {
		query = query.Where("batch_id = ?", filter.BatchID)
	}
	if filter.InstituteName != "" {
		query = query.Where("institute_name = ?", filter.InstituteName)
	}
	if filter.UniversityName != "" {
		query = query.Where("university_name = ?", filter.UniversityName)
	}
	if filter.VocationalCenterName != "" {
		query = query.Where("vocational_center_name = ?", filter.VocationalCenterName)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count files: %w", err)
	}

	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	var files []model.FileRecord
	err := query.Order("created_at DESC").Limit(filter.Limit).Offset(filter.Offset).Find(&files).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list files: %w", err)
	}
	return files, total, nil
}

// AppendChunkURLs adds chunk locations to the file, creating the row if the
// upload notification has not been recorded yet. URLs already present are
// skipped so a re-run of the splitter leaves the list unchanged.
func (s *GORMStore) AppendChunkURLs(ctx context.Context, fileKey string, urls []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec model.FileRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("file_key = ?", fileKey).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			rec = model.FileRecord{
				FileKey:   fileKey,
				Status:    model.FileStatusSplit,
				ChunkURLs: mergeURLs(nil, urls),
			}
			return tx.Create(&rec).Error
		}
		if err != nil {
			return fmt.Errorf("failed to lock file %s: %w", fileKey, err)
		}

		merged := mergeURLs(rec.ChunkURLs, urls)
		return tx.Model(&model.FileRecord{}).
			Where("file_key = ?", fileKey).
			Updates(map[string]interface{}{
				"chunk_urls": merged,
				"status":     model.FileStatusSplit,
			}).Error
	})
}

// ReplaceChunkURLs records urls as the file's complete chunk set, creating
// the row if the upload notification has not been recorded yet
func (s *GORMStore) ReplaceChunkURLs(ctx context.Context, fileKey string, urls []string) error {
	rec := &model.FileRecord{
		FileKey:   fileKey,
		Status:    model.FileStatusSplit,
		ChunkURLs: mergeURLs(nil, urls),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "file_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"chunk_urls", "status", "updated_at"}),
		}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to record chunks of %s: %w", fileKey, err)
	}
	return nil
}

// UpdateFileStatus moves a file to the given pipeline status
func (s *GORMStore) UpdateFileStatus(ctx context.Context, fileKey string, status model.FileStatus) error {
	res := s.db.WithContext(ctx).Model(&model.FileRecord{}).
		Where("file_key = ?", fileKey).
		Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("failed to update status of %s: %w", fileKey, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrFileNotFound
	}
	return nil
}

func mergeURLs(existing, add []string) datatypes.JSONSlice[string] {
	seen := make(map[string]struct{}, len(existing)+len(add))
	out := make([]string, 0, len(existing)+len(add))
	for _, list := range [][]string{existing, add} {
		for _, u := range list {
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, u)
		}
	}
	return out
}

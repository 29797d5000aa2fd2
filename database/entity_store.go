package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/bahrain-bp/bqa-insight-ai-sub000/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RemovalResult describes what RemoveFileRecord deleted
type RemovalResult struct {
	File            model.FileRecord  `json:"file"`
	Removed         []model.EntityRef `json:"removedEntities,omitempty"`
	Retained        []model.EntityRef `json:"retainedEntities,omitempty"`
	ProgramsRemoved int64             `json:"programsRemoved,omitempty"`
}

type entityTable struct {
	model  interface{}
	column string
}

func tableFor(kind model.EntityKind) (entityTable, error) {
	switch kind {
	case model.EntityInstitute:
		return entityTable{model: &model.InstituteMetadata{}, column: "institute_name"}, nil
	case model.EntityUniversity:
		return entityTable{model: &model.UniversityMetadata{}, column: "university_name"}, nil
	case model.EntityVocationalCenter:
		return entityTable{model: &model.VocationalCenterMetadata{}, column: "vocational_center_name"}, nil
	}
	return entityTable{}, fmt.Errorf("unknown entity kind %q", kind)
}

// SaveInstitute upserts the institute and links the file to it in one transaction
func (s *GORMStore) SaveInstitute(ctx context.Context, fileKey string, rec *model.InstituteMetadata) error {
	rec.FileKey = fileKey
	return s.withLockedFile(ctx, fileKey, func(tx *gorm.DB, file *model.FileRecord) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "institute_name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"classification", "grade_levels", "location", "date_of_review",
				"overall_effectiveness", "file_key", "raw", "updated_at",
			}),
		}).Create(rec).Error
		if err != nil {
			return fmt.Errorf("failed to upsert institute %q: %w", rec.InstituteName, err)
		}
		return linkFile(tx, file, model.EntityRef{Kind: model.EntityInstitute, Name: rec.InstituteName})
	})
}

// SaveUniversity upserts the university and links the file to it
func (s *GORMStore) SaveUniversity(ctx context.Context, fileKey string, rec *model.UniversityMetadata) error {
	rec.FileKey = fileKey
	return s.withLockedFile(ctx, fileKey, func(tx *gorm.DB, file *model.FileRecord) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "university_name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"location", "num_programs", "num_qualifications", "file_key", "raw", "updated_at",
			}),
		}).Create(rec).Error
		if err != nil {
			return fmt.Errorf("failed to upsert university %q: %w", rec.UniversityName, err)
		}
		return linkFile(tx, file, model.EntityRef{Kind: model.EntityUniversity, Name: rec.UniversityName})
	})
}

// SavePrograms upserts programme judgments keyed by (university, programme)
// and links the file to the owning university.
func (s *GORMStore) SavePrograms(ctx context.Context, fileKey, universityName string, programs []model.ProgramMetadata) error {
	if len(programs) == 0 {
		return nil
	}
	for i := range programs {
		programs[i].UniversityName = universityName
		programs[i].FileKey = fileKey
	}
	return s.withLockedFile(ctx, fileKey, func(tx *gorm.DB, file *model.FileRecord) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "university_name"}, {Name: "programme_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"judgment", "file_key", "updated_at"}),
		}).Create(&programs).Error
		if err != nil {
			return fmt.Errorf("failed to upsert programs of %q: %w", universityName, err)
		}
		return linkFile(tx, file, model.EntityRef{Kind: model.EntityUniversity, Name: universityName})
	})
}

// SaveVocationalCenter upserts the center and links the file to it
func (s *GORMStore) SaveVocationalCenter(ctx context.Context, fileKey string, rec *model.VocationalCenterMetadata) error {
	rec.FileKey = fileKey
	return s.withLockedFile(ctx, fileKey, func(tx *gorm.DB, file *model.FileRecord) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "vocational_center_name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"location", "date_of_review", "file_key", "raw", "updated_at",
			}),
		}).Create(rec).Error
		if err != nil {
			return fmt.Errorf("failed to upsert vocational center %q: %w", rec.VocationalCenterName, err)
		}
		return linkFile(tx, file, model.EntityRef{Kind: model.EntityVocationalCenter, Name: rec.VocationalCenterName})
	})
}

// RemoveFileRecord deletes the file row and every linked entity that no
// other file references. The file row and entity rows are locked for the
// whole transaction, so a concurrent extraction either commits its link
// before the count (entity kept) or re-creates the entity after it.
func (s *GORMStore) RemoveFileRecord(ctx context.Context, fileKey string) (*RemovalResult, error) {
	result := &RemovalResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		file, err := lockFile(tx, fileKey)
		if err != nil {
			return err
		}
		result.File = *file

		for _, ref := range file.EntityRefs() {
			removed, programs, err := releaseEntity(tx, ref, fileKey)
			if err != nil {
				return err
			}
			result.ProgramsRemoved += programs
			if removed {
				result.Removed = append(result.Removed, ref)
			} else {
				result.Retained = append(result.Retained, ref)
			}
		}

		if err := tx.Where("file_key = ?", fileKey).Delete(&model.FileRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete file record %s: %w", fileKey, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListOrphanedEntities returns entities no FileRecord points at
func (s *GORMStore) ListOrphanedEntities(ctx context.Context) ([]model.EntityRef, error) {
	var refs []model.EntityRef
	for _, kind := range []model.EntityKind{model.EntityInstitute, model.EntityUniversity, model.EntityVocationalCenter} {
		tbl, _ := tableFor(kind)
		var names []string
		sub := s.db.Model(&model.FileRecord{}).
			Select("1").
			Where(fmt.Sprintf("file_records.%s = e.%s", tbl.column, tbl.column))
		err := s.db.WithContext(ctx).
			Table(fmt.Sprintf("%s AS e", tableName(s.db, tbl.model))).
			Where("NOT EXISTS (?)", sub).
			Pluck("e."+tbl.column, &names).Error
		if err != nil {
			return nil, fmt.Errorf("failed to scan orphaned %s entities: %w", kind, err)
		}
		for _, n := range names {
			refs = append(refs, model.EntityRef{Kind: kind, Name: n})
		}
	}

	// Programs whose university row is already gone and no file names it.
	var universities []string
	err := s.db.WithContext(ctx).Model(&model.ProgramMetadata{}).
		Distinct("university_name").
		Where("university_name NOT IN (?)", s.db.Model(&model.FileRecord{}).
			Select("university_name").Where("university_name IS NOT NULL")).
		Pluck("university_name", &universities).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan orphaned programs: %w", err)
	}
	seen := make(map[string]bool)
	for _, r := range refs {
		if r.Kind == model.EntityUniversity {
			seen[r.Name] = true
		}
	}
	for _, u := range universities {
		if !seen[u] {
			refs = append(refs, model.EntityRef{Kind: model.EntityUniversity, Name: u})
		}
	}
	return refs, nil
}

// PurgeOrphanedEntities re-checks and deletes each orphan under lock
func (s *GORMStore) PurgeOrphanedEntities(ctx context.Context) (int, error) {
	orphans, err := s.ListOrphanedEntities(ctx)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, ref := range orphans {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			removed, _, err := releaseEntity(tx, ref, "")
			if removed {
				purged++
			}
			return err
		})
		if err != nil {
			return purged, err
		}
	}
	return purged, nil
}

// EntityCounts reports the number of rows in each metadata table
func (s *GORMStore) EntityCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64)
	for name, m := range map[string]interface{}{
		"institutes":         &model.InstituteMetadata{},
		"universities":       &model.UniversityMetadata{},
		"programs":           &model.ProgramMetadata{},
		"vocational_centers": &model.VocationalCenterMetadata{},
		"files":              &model.FileRecord{},
	} {
		var n int64
		if err := s.db.WithContext(ctx).Model(m).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", name, err)
		}
		counts[name] = n
	}
	return counts, nil
}

func (s *GORMStore) withLockedFile(ctx context.Context, fileKey string, fn func(tx *gorm.DB, file *model.FileRecord) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		file, err := lockFile(tx, fileKey)
		if err != nil {
			return err
		}
		return fn(tx, file)
	})
}

func lockFile(tx *gorm.DB, fileKey string) (*model.FileRecord, error) {
	var file model.FileRecord
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("file_key = ?", fileKey).First(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock file %s: %w", fileKey, err)
	}
	return &file, nil
}

// linkFile points the file at ref. A different entity previously linked
// under the same column is released when this file was its last reference.
func linkFile(tx *gorm.DB, file *model.FileRecord, ref model.EntityRef) error {
	for _, prev := range file.EntityRefs() {
		if prev.Kind == ref.Kind && prev.Name != ref.Name {
			if _, _, err := releaseEntity(tx, prev, file.FileKey); err != nil {
				return err
			}
		}
	}

	err := tx.Model(&model.FileRecord{}).
		Where("file_key = ?", file.FileKey).
		Updates(map[string]interface{}{
			ref.Kind.Column(): ref.Name,
			"status":          model.FileStatusExtracted,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to link file %s to %s %q: %w", file.FileKey, ref.Kind, ref.Name, err)
	}
	return nil
}

// releaseEntity deletes the entity when no file other than excludeFileKey
// references it. Universities cascade to their programs.
func releaseEntity(tx *gorm.DB, ref model.EntityRef, excludeFileKey string) (bool, int64, error) {
	tbl, err := tableFor(ref.Kind)
	if err != nil {
		return false, 0, err
	}

	// Lock the entity row so concurrent upserts serialize behind the count.
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(tbl.column+" = ?", ref.Name).
		Limit(1).
		Find(tbl.model).Error; err != nil {
		return false, 0, fmt.Errorf("failed to lock %s %q: %w", ref.Kind, ref.Name, err)
	}

	var others int64
	err = tx.Model(&model.FileRecord{}).
		Where(ref.Kind.Column()+" = ? AND file_key <> ?", ref.Name, excludeFileKey).
		Count(&others).Error
	if err != nil {
		return false, 0, fmt.Errorf("failed to count references to %s %q: %w", ref.Kind, ref.Name, err)
	}
	if others > 0 {
		return false, 0, nil
	}

	if err := tx.Where(tbl.column+" = ?", ref.Name).Delete(tbl.model).Error; err != nil {
		return false, 0, fmt.Errorf("failed to delete %s %q: %w", ref.Kind, ref.Name, err)
	}

	var programs int64
	if ref.Kind == model.EntityUniversity {
		res := tx.Where("university_name = ?", ref.Name).Delete(&model.ProgramMetadata{})
		if res.Error != nil {
			return false, 0, fmt.Errorf("failed to delete programs of %q: %w", ref.Name, res.Error)
		}
		programs = res.RowsAffected
	}
	return true, programs, nil
}

func tableName(db *gorm.DB, m interface{}) string {
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(m); err != nil {
		return ""
	}
	return stmt.Schema.Table
}

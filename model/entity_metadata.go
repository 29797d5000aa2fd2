package model

import (
	"time"

	"gorm.io/datatypes"
)

// InstituteMetadata describes a school reviewed in one or more reports
type InstituteMetadata struct {
	InstituteName        string         `gorm:"primaryKey;type:varchar(512)" json:"instituteName"`
	Classification       string         `gorm:"type:varchar(255)" json:"instituteClassification"`
	GradeLevels          string         `gorm:"type:varchar(255)" json:"instituteGradeLevels"`
	Location             string         `gorm:"type:varchar(255)" json:"instituteLocation"`
	DateOfReview         string         `gorm:"type:varchar(64)" json:"dateOfReview"`
	OverallEffectiveness string         `gorm:"type:varchar(255)" json:"overallEffectiveness,omitempty"`
	FileKey              string         `gorm:"type:varchar(1024)" json:"fileKey"`
	Raw                  datatypes.JSON `json:"raw,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
}

// TableName specifies the table name for InstituteMetadata
func (InstituteMetadata) TableName() string {
	return "institute_metadata"
}

// UniversityMetadata describes a higher-education provider
type UniversityMetadata struct {
	UniversityName    string         `gorm:"primaryKey;type:varchar(512)" json:"universityName"`
	Location          string         `gorm:"type:varchar(255)" json:"location"`
	NumPrograms       int            `json:"numPrograms"`
	NumQualifications int            `json:"numQualifications"`
	FileKey           string         `gorm:"type:varchar(1024)" json:"fileKey"`
	Raw               datatypes.JSON `json:"raw,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// TableName specifies the table name for UniversityMetadata
func (UniversityMetadata) TableName() string {
	return "university_metadata"
}

// ProgramMetadata is a programme judgment owned by its university
type ProgramMetadata struct {
	UniversityName string    `gorm:"primaryKey;type:varchar(512)" json:"universityName"`
	ProgrammeName  string    `gorm:"primaryKey;type:varchar(512)" json:"programmeName"`
	Judgment       string    `gorm:"type:varchar(255)" json:"judgment"`
	FileKey        string    `gorm:"type:varchar(1024)" json:"fileKey"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// TableName specifies the table name for ProgramMetadata
func (ProgramMetadata) TableName() string {
	return "program_metadata"
}

// VocationalCenterMetadata describes a vocational training center
type VocationalCenterMetadata struct {
	VocationalCenterName string         `gorm:"primaryKey;type:varchar(512)" json:"vocationalCenterName"`
	Location             string         `gorm:"type:varchar(255)" json:"location"`
	DateOfReview         string         `gorm:"type:varchar(64)" json:"dateOfReview"`
	FileKey              string         `gorm:"type:varchar(1024)" json:"fileKey"`
	Raw                  datatypes.JSON `json:"raw,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
}

// TableName specifies the table name for VocationalCenterMetadata
func (VocationalCenterMetadata) TableName() string {
	return "vocational_center_metadata"
}

// EntityKind names a back-reference column on FileRecord
type EntityKind string

const (
	EntityInstitute        EntityKind = "institute"
	EntityUniversity       EntityKind = "university"
	EntityVocationalCenter EntityKind = "vocational_center"
)

// Column returns the file_records column holding the back-reference
func (k EntityKind) Column() string {
	switch k {
	case EntityInstitute:
		return "institute_name"
	case EntityUniversity:
		return "university_name"
	case EntityVocationalCenter:
		return "vocational_center_name"
	}
	return ""
}

// EntityRef is one linked entity discovered on a FileRecord
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	Name string     `json:"name"`
}

// EntityRefs lists the entities a file currently points at
func (f *FileRecord) EntityRefs() []EntityRef {
	var refs []EntityRef
	if f.InstituteName != nil && *f.InstituteName != "" {
		refs = append(refs, EntityRef{Kind: EntityInstitute, Name: *f.InstituteName})
	}
	if f.UniversityName != nil && *f.UniversityName != "" {
		refs = append(refs, EntityRef{Kind: EntityUniversity, Name: *f.UniversityName})
	}
	if f.VocationalCenterName != nil && *f.VocationalCenterName != "" {
		refs = append(refs, EntityRef{Kind: EntityVocationalCenter, Name: *f.VocationalCenterName})
	}
	return refs
}

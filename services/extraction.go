package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bahrain-bp/bqa-insight-ai-sub000/model"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/services/llm"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/utils"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/utils/validation"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"
)

// ErrMissingRequiredKeys is returned when model output lacks a key the
// entity cannot be stored without
var ErrMissingRequiredKeys = errors.New("model output is missing required keys")

const (
	// maxPromptChars bounds the report text sent in one prompt
	maxPromptChars = 150000
	// classifyPromptChars is enough of the report to tell its type
	classifyPromptChars = 8000
	// extractionAttempts counts model calls per extractor before giving up
	extractionAttempts = 2
)

// ExtractionResult summarizes one processed file
type ExtractionResult struct {
	FileKey       string            `json:"fileKey"`
	ReportType    model.ReportType  `json:"reportType"`
	Entities      []model.EntityRef `json:"entities"`
	Programmes    int               `json:"programmes,omitempty"`
	Attributes    map[string]string `json:"attributes"`
	SyncPublished bool              `json:"syncPublished"`
}

// ExtractionService turns aggregated report text into entity rows
type ExtractionService struct {
	store      ObjectStore
	files      FileStore
	entities   EntityStore
	client     llm.Client
	completion *CompletionDetector
	validator  *validation.Validator
}

// NewExtractionService creates a new extraction service
func NewExtractionService(store ObjectStore, files FileStore, entities EntityStore, client llm.Client, completion *CompletionDetector) *ExtractionService {
	return &ExtractionService{
		store:      store,
		files:      files,
		entities:   entities,
		client:     client,
		completion: completion,
		validator:  validation.NewValidator(),
	}
}

// HandleMessage processes one extraction queue message
func (s *ExtractionService) HandleMessage(ctx context.Context, body []byte) error {
	msg, err := model.ParseExtractionMessage(body)
	if err != nil {
		return Permanent(err)
	}
	_, err = s.Process(ctx, msg)
	return err
}

// Process runs the extractors for the message's report type, stores the
// entities, fills the metadata sidecar and reports the file as done
func (s *ExtractionService) Process(ctx context.Context, msg *model.ExtractionMessage) (*ExtractionResult, error) {
	fileKey := model.ObjectKey(msg.FileKey)

	text, err := s.loadText(ctx, msg)
	if err != nil {
		return nil, err
	}

	reportType, err := s.resolveReportType(ctx, fileKey, msg.ReportType, text)
	if err != nil {
		return nil, err
	}
	log.Infof("[Extraction] Extracting %s as %s report (%d chars)", fileKey, reportType, len(text))

	result := &ExtractionResult{FileKey: fileKey, ReportType: reportType, Attributes: map[string]string{"reportType": string(reportType)}}
	prompt := truncateRunes(text, maxPromptChars)

	switch reportType {
	case model.ReportTypeSchool:
		err = s.extractInstitute(ctx, fileKey, prompt, result)
	case model.ReportTypeUniversity:
		err = s.extractUniversity(ctx, fileKey, prompt, result)
	case model.ReportTypeVocational:
		err = s.extractVocational(ctx, fileKey, prompt, result)
	default:
		err = Permanent(fmt.Errorf("no extractor for report type %q", reportType))
	}
	if err != nil {
		return nil, err
	}

	if err := s.writeMetadata(ctx, fileKey, result.Attributes); err != nil {
		return nil, err
	}

	published, err := s.completion.FileDone(ctx, fileKey, msg.BatchID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to record completion for %s: %w", fileKey, err)
	}
	result.SyncPublished = published

	log.Infof("[Extraction] Completed %s: %d entities, %d programmes", fileKey, len(result.Entities), result.Programmes)
	return result, nil
}

func (s *ExtractionService) loadText(ctx context.Context, msg *model.ExtractionMessage) (string, error) {
	if msg.Text != "" {
		return msg.Text, nil
	}
	data, err := s.store.Download(ctx, msg.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to load text %s: %w", msg.TextKey, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", Permanent(fmt.Errorf("text %s is empty", msg.TextKey))
	}
	return string(data), nil
}

// resolveReportType prefers the message, then the upload's record, then asks
// the model
func (s *ExtractionService) resolveReportType(ctx context.Context, fileKey string, fromMsg model.ReportType, text string) (model.ReportType, error) {
	if fromMsg != model.ReportTypeUnknown {
		return fromMsg, nil
	}
	if rec, err := s.files.GetFileRecord(ctx, fileKey); err == nil && rec.ReportType != model.ReportTypeUnknown {
		return rec.ReportType, nil
	}

	resp, err := s.client.Complete(ctx, llm.Request{
		System:      extractionSystemPrompt,
		Instruction: fmt.Sprintf(classificationInstruction, truncateRunes(text, classifyPromptChars)),
		MaxTokens:   16,
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("failed to classify %s: %w", fileKey, err)
	}
	reportType := model.ParseReportType(resp.Text)
	if reportType == model.ReportTypeUnknown {
		return "", Permanent(fmt.Errorf("could not classify %s: model answered %q", fileKey, strings.TrimSpace(resp.Text)))
	}
	log.Infof("[Extraction] Classified %s as %s", fileKey, reportType)
	return reportType, nil
}

// structured asks the model for schema-shaped output, falls back to pulling
// JSON out of free text, and validates before anything is written
func (s *ExtractionService) structured(ctx context.Context, subject string, schema llm.ToolSchema, text string, target normalizer) (json.RawMessage, error) {
	var lastErr error
	for attempt := 1; attempt <= extractionAttempts; attempt++ {
		raw, err := s.requestStructured(ctx, subject, schema, text)
		if err != nil {
			if !errors.Is(err, utils.ErrNoJSONFound) {
				return nil, err
			}
			lastErr = err
			log.Warnf("[Extraction] %s attempt %d returned no JSON", schema.Name, attempt)
			continue
		}

		if err := json.Unmarshal(raw, target); err != nil {
			lastErr = fmt.Errorf("%w: %s output does not decode: %v", ErrMissingRequiredKeys, schema.Name, err)
			log.Warnf("[Extraction] %s attempt %d: %v", schema.Name, attempt, err)
			continue
		}
		target.normalize()

		if err := s.validator.ValidateStruct(target); err != nil {
			lastErr = fmt.Errorf("%w: %s lacks %s", ErrMissingRequiredKeys, schema.Name, strings.Join(validation.MissingFields(err), ", "))
			log.Warnf("[Extraction] %s attempt %d: %v", schema.Name, attempt, lastErr)
			continue
		}
		return raw, nil
	}
	return nil, lastErr
}

func (s *ExtractionService) requestStructured(ctx context.Context, subject string, schema llm.ToolSchema, text string) (json.RawMessage, error) {
	resp, err := s.client.Complete(ctx, llm.Request{
		System:      extractionSystemPrompt,
		Instruction: extractionInstruction(subject, schema, text),
		Schema:      &schema,
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", schema.Name, err)
	}
	if len(resp.Structured) > 0 {
		return resp.Structured, nil
	}
	extracted, err := utils.ExtractJSON(resp.Text)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(extracted), nil
}

func (s *ExtractionService) extractInstitute(ctx context.Context, fileKey, text string, result *ExtractionResult) error {
	var fields InstituteFields
	raw, err := s.structured(ctx, "school's metadata", instituteSchema, text, &fields)
	if err != nil {
		return err
	}

	rec := &model.InstituteMetadata{
		InstituteName:        fields.Name,
		Classification:       fields.Classification,
		GradeLevels:          fields.GradesInSchool,
		Location:             fields.Location,
		DateOfReview:         fields.DateOfReview,
		OverallEffectiveness: fields.OverallEffectiveness,
		Raw:                  datatypes.JSON(raw),
	}
	if err := s.entities.SaveInstitute(ctx, fileKey, rec); err != nil {
		return fmt.Errorf("failed to save institute %s: %w", rec.InstituteName, err)
	}

	result.Entities = append(result.Entities, entityRef(model.EntityInstitute, rec.InstituteName))
	setAttr(result.Attributes, "instituteName", rec.InstituteName)
	setAttr(result.Attributes, "instituteClassification", rec.Classification)
	setAttr(result.Attributes, "instituteGradeLevels", rec.GradeLevels)
	setAttr(result.Attributes, "instituteLocation", rec.Location)
	setAttr(result.Attributes, "dateOfReview", rec.DateOfReview)
	setAttr(result.Attributes, "overallEffectiveness", rec.OverallEffectiveness)
	return nil
}

// extractUniversity stores the institution first so its name owns the
// programmes extracted from the same text
func (s *ExtractionService) extractUniversity(ctx context.Context, fileKey, text string, result *ExtractionResult) error {
	var fields UniversityFields
	raw, err := s.structured(ctx, "university's metadata", universitySchema, text, &fields)
	if err != nil {
		return err
	}

	uni := &model.UniversityMetadata{
		UniversityName:    fields.Name,
		Location:          fields.Location,
		NumPrograms:       int(fields.NumberOfProgrammes),
		NumQualifications: int(fields.NumberOfQualifications),
		Raw:               datatypes.JSON(raw),
	}
	if err := s.entities.SaveUniversity(ctx, fileKey, uni); err != nil {
		return fmt.Errorf("failed to save university %s: %w", uni.UniversityName, err)
	}
	result.Entities = append(result.Entities, entityRef(model.EntityUniversity, uni.UniversityName))
	setAttr(result.Attributes, "universityName", uni.UniversityName)
	setAttr(result.Attributes, "universityLocation", uni.Location)
	if uni.NumPrograms > 0 {
		result.Attributes["numPrograms"] = strconv.Itoa(uni.NumPrograms)
	}

	var programmes ProgrammeList
	if _, err := s.structured(ctx, "programme judgments", programmeSchema, text, &programmes); err != nil {
		// institutional reports without programme sections are common
		if errors.Is(err, ErrMissingRequiredKeys) || errors.Is(err, utils.ErrNoJSONFound) {
			log.Warnf("[Extraction] No programmes found in %s: %v", fileKey, err)
			return nil
		}
		return err
	}

	rows := make([]model.ProgramMetadata, 0, len(programmes.Entities))
	seen := make(map[string]bool, len(programmes.Entities))
	for _, p := range programmes.Entities {
		if seen[p.ProgrammeName] {
			continue
		}
		seen[p.ProgrammeName] = true
		rows = append(rows, model.ProgramMetadata{ProgrammeName: p.ProgrammeName, Judgment: p.Judgment})
	}
	if err := s.entities.SavePrograms(ctx, fileKey, uni.UniversityName, rows); err != nil {
		return fmt.Errorf("failed to save programmes for %s: %w", uni.UniversityName, err)
	}
	result.Programmes = len(rows)
	return nil
}

func (s *ExtractionService) extractVocational(ctx context.Context, fileKey, text string, result *ExtractionResult) error {
	var fields VocationalFields
	raw, err := s.structured(ctx, "vocational training center's metadata", vocationalSchema, text, &fields)
	if err != nil {
		return err
	}

	rec := &model.VocationalCenterMetadata{
		VocationalCenterName: fields.Name,
		Location:             fields.Location,
		DateOfReview:         fields.DateOfReview,
		Raw:                  datatypes.JSON(raw),
	}
	if err := s.entities.SaveVocationalCenter(ctx, fileKey, rec); err != nil {
		return fmt.Errorf("failed to save vocational center %s: %w", rec.VocationalCenterName, err)
	}

	result.Entities = append(result.Entities, entityRef(model.EntityVocationalCenter, rec.VocationalCenterName))
	setAttr(result.Attributes, "vocationalCenterName", rec.VocationalCenterName)
	setAttr(result.Attributes, "vocationalCenterLocation", rec.Location)
	setAttr(result.Attributes, "dateOfReview", rec.DateOfReview)
	return nil
}

// writeMetadata replaces the empty sidecar written at split time with the
// extracted attributes in the knowledge base's metadata format
func (s *ExtractionService) writeMetadata(ctx context.Context, fileKey string, attrs map[string]string) error {
	body, err := json.Marshal(map[string]interface{}{"metadataAttributes": attrs})
	if err != nil {
		return err
	}
	if _, err := s.store.Upload(ctx, model.MetadataStubKey(fileKey), body, "application/json"); err != nil {
		return fmt.Errorf("failed to write metadata for %s: %w", fileKey, err)
	}
	return nil
}

func setAttr(attrs map[string]string, key, value string) {
	if value != "" {
		attrs[key] = value
	}
}

func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

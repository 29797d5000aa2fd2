package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bahrain-bp/bqa-insight-ai-sub000/model"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/services/llm"
)

// FlexInt accepts a JSON number or a string holding one ("12 programmes")
type FlexInt int

var leadingDigits = regexp.MustCompile(`\d+`)

func (n *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		f, err := num.Float64()
		if err != nil {
			return err
		}
		*n = FlexInt(int(f))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("expected number or string, got %s", data)
	}
	m := leadingDigits.FindString(s)
	if m == "" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(m)
	if err != nil {
		return err
	}
	*n = FlexInt(v)
	return nil
}

// InstituteFields is the school report extraction output
type InstituteFields struct {
	Name                 string `json:"Institute Name" validate:"required"`
	Classification       string `json:"Institute Classification"`
	DateOfReview         string `json:"Date of Review"`
	OverallEffectiveness string `json:"Overall Effectiveness"`
	Location             string `json:"Location"`
	GradesInSchool       string `json:"Grades In School"`
}

func (f *InstituteFields) normalize() {
	f.Name = cleanEntityName(f.Name)
	f.Classification = strings.TrimSpace(f.Classification)
	f.DateOfReview = strings.TrimSpace(f.DateOfReview)
	f.OverallEffectiveness = strings.TrimSpace(f.OverallEffectiveness)
	f.Location = strings.TrimSpace(f.Location)
	f.GradesInSchool = strings.TrimSpace(f.GradesInSchool)
}

// UniversityFields is the institutional review extraction output
type UniversityFields struct {
	Name                   string  `json:"University Name" validate:"required"`
	Location               string  `json:"Location"`
	NumberOfProgrammes     FlexInt `json:"Number of Programmes"`
	NumberOfQualifications FlexInt `json:"Number of Qualifications"`
}

func (f *UniversityFields) normalize() {
	f.Name = cleanEntityName(f.Name)
	f.Location = strings.TrimSpace(f.Location)
}

// ProgrammeFields is one programme judgment
type ProgrammeFields struct {
	UniversityName string `json:"University Name"`
	ProgrammeName  string `json:"Programme Name" validate:"required"`
	Judgment       string `json:"Programme Judgment"`
}

// ProgrammeList wraps the programme judgments found in a report
type ProgrammeList struct {
	Entities []ProgrammeFields `json:"entities" validate:"required,min=1,dive"`
}

func (f *ProgrammeList) normalize() {
	kept := f.Entities[:0]
	for _, p := range f.Entities {
		p.UniversityName = cleanEntityName(p.UniversityName)
		p.ProgrammeName = strings.TrimSpace(p.ProgrammeName)
		p.Judgment = strings.TrimSpace(p.Judgment)
		kept = append(kept, p)
	}
	f.Entities = kept
}

// VocationalFields is the vocational center extraction output
type VocationalFields struct {
	Name         string `json:"Vocational Training center" validate:"required"`
	Location     string `json:"Vocational Location"`
	DateOfReview string `json:"Date of Review"`
}

func (f *VocationalFields) normalize() {
	f.Name = cleanEntityName(f.Name)
	f.Location = strings.TrimSpace(f.Location)
	f.DateOfReview = strings.TrimSpace(f.DateOfReview)
}

type normalizer interface {
	normalize()
}

// cleanEntityName drops the reviewing authority's name that reports print
// next to the institution
func cleanEntityName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "Education and Training Quality Authority", "")
	return strings.Join(strings.Fields(s), " ")
}

const extractionSystemPrompt = `You extract structured facts from quality review reports published in the Kingdom of Bahrain.
Only report values that appear in the text. Use an empty string for a value the report does not state.
Do not add fields that are not in the schema.`

var instituteSchema = llm.ToolSchema{
	Name:        "institute_metadata",
	Description: "Records the reviewed school's metadata.",
	Schema: llm.ObjectSchema(map[string]string{
		"Institute Name":           "Name of the school, without the reviewing authority's name.",
		"Institute Classification": "Private School if the report says private, otherwise Government School.",
		"Date of Review":           "Dates of the review visit as written in the report.",
		"Overall Effectiveness":    "Overall effectiveness grade with its label: 1 Outstanding, 2 Good, 3 Satisfactory, 4 Inadequate.",
		"Location":                 "Governorate of the school only, without the town.",
		"Grades In School":         "Primary School, Secondary School or High School, judged from the primary, middle and high columns.",
	}, "Institute Name", "Institute Classification", "Date of Review", "Overall Effectiveness", "Location", "Grades In School"),
}

var universitySchema = llm.ToolSchema{
	Name:        "university_metadata",
	Description: "Records the reviewed higher education institution's metadata.",
	Schema: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"University Name":          map[string]interface{}{"type": "string", "description": "Name of the university or college."},
			"Location":                 map[string]interface{}{"type": "string", "description": "Location of the institution."},
			"Number of Programmes":     map[string]interface{}{"type": "integer", "description": "Number of academic programmes offered."},
			"Number of Qualifications": map[string]interface{}{"type": "integer", "description": "Number of qualifications awarded."},
		},
		"required":             []string{"University Name", "Location", "Number of Programmes", "Number of Qualifications"},
		"additionalProperties": false,
	},
}

var programmeSchema = llm.ToolSchema{
	Name:        "programme_judgments",
	Description: "Records every programme reviewed in the report with its judgment.",
	Schema: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"entities": map[string]interface{}{
				"type": "array",
				"items": llm.ObjectSchema(map[string]string{
					"University Name":    "Institution offering the programme.",
					"Programme Name":     "Full programme title.",
					"Programme Judgment": "Overall judgment, e.g. Confidence, Limited Confidence or No Confidence.",
				}, "University Name", "Programme Name", "Programme Judgment"),
			},
		},
		"required":             []string{"entities"},
		"additionalProperties": false,
	},
}

var vocationalSchema = llm.ToolSchema{
	Name:        "vocational_center_metadata",
	Description: "Records the reviewed vocational training center's metadata.",
	Schema: llm.ObjectSchema(map[string]string{
		"Vocational Training center": "Name of the vocational training center.",
		"Vocational Location":        "Location of the center.",
		"Date of Review":             "Dates of the review visit as written in the report.",
	}, "Vocational Training center", "Vocational Location", "Date of Review"),
}

func extractionInstruction(subject string, schema llm.ToolSchema, text string) string {
	keys, _ := json.Marshal(schema.Schema["properties"])
	return fmt.Sprintf(`Extract the %s from the review report below by calling the %s tool.
If tools are unavailable, answer with a single JSON object using these keys: %s

<report>
%s
</report>`, subject, schema.Name, keys, text)
}

const classificationInstruction = `Which kind of review report is this? Answer with exactly one word:
school (a government or private school review),
university (a higher education institutional or programme review),
vocational (a vocational training center review).

<report>
%s
</report>`

// entityRef is a helper for result reporting
func entityRef(kind model.EntityKind, name string) model.EntityRef {
	return model.EntityRef{Kind: kind, Name: name}
}

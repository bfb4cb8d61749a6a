package problem

import (
	"time"

	"github.com/google/uuid"

	"github.com/ayusync/ayusync/internal/domain/terminology"
	"github.com/ayusync/ayusync/internal/platform/fhir"
)

// DualCodeRecord is a diagnosis carrying its NAMASTE coding followed by one
// ICD-11 coding per chosen code, in the order the codes were given.
type DualCodeRecord struct {
	RecordID   uuid.UUID     `json:"record_id"`
	PatientID  string        `json:"patient_id,omitempty"`
	Namaste    fhir.Coding   `json:"namaste"`
	ICD        []fhir.Coding `json:"icd"`
	RecordedAt time.Time     `json:"recorded_at,omitempty"`
}

// Codings returns the NAMASTE coding first, then the ICD-11 codings.
func (r *DualCodeRecord) Codings() []fhir.Coding {
	out := make([]fhir.Coding, 0, len(r.ICD)+1)
	out = append(out, r.Namaste)
	return append(out, r.ICD...)
}

// ToFHIR renders the record as a FHIR Condition.
func (r *DualCodeRecord) ToFHIR() map[string]interface{} {
	result := map[string]interface{}{
		"resourceType": "Condition",
		"code": fhir.CodeableConcept{
			Coding: r.Codings(),
			Text:   r.Namaste.Display,
		},
	}
	if r.RecordID != uuid.Nil {
		result["id"] = r.RecordID.String()
	}
	if r.PatientID != "" {
		result["subject"] = fhir.Reference{Reference: fhir.FormatReference("Patient", r.PatientID)}
	}
	if !r.RecordedAt.IsZero() {
		result["recordedDate"] = r.RecordedAt.Format(time.RFC3339)
	}
	return result
}

// rows flattens the record into one stored row per ICD-11 code.
func (r *DualCodeRecord) rows() []*Problem {
	out := make([]*Problem, 0, len(r.ICD))
	for _, c := range r.ICD {
		out = append(out, &Problem{
			RecordID:       r.RecordID,
			PatientID:      r.PatientID,
			NamasteCode:    r.Namaste.Code,
			NamasteDisplay: r.Namaste.Display,
			ICDCode:        c.Code,
			ICDDisplay:     c.Display,
			CreatedAt:      r.RecordedAt,
		})
	}
	return out
}

// Problem is one stored problem-list row. Rows sharing a RecordID belong to
// the same dual-coded record.
type Problem struct {
	ID             int64     `json:"id"`
	RecordID       uuid.UUID `json:"record_id"`
	PatientID      string    `json:"patient_id"`
	NamasteCode    string    `json:"namaste_code"`
	NamasteDisplay string    `json:"namaste_display,omitempty"`
	ICDCode        string    `json:"icd_code"`
	ICDDisplay     string    `json:"icd_display"`
	CreatedAt      time.Time `json:"created_at"`
}

func namasteCoding(c *terminology.NamasteConcept) fhir.Coding {
	system := c.System
	if system == "" {
		system = terminology.SystemNamaste
	}
	return fhir.Coding{System: system, Code: c.Code, Display: c.Display}
}

func icdCoding(code, display string) fhir.Coding {
	return fhir.Coding{System: terminology.SystemICD11, Code: code, Display: display}
}

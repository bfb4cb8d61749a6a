package terminology

import (
	"encoding/json"
	"fmt"
	"time"
)

// Code system identifiers used in FHIR codings.
const (
	SystemNamaste = "urn:namaste"
	SystemICD11   = "http://id.who.int/icd11/mms"
)

// Module labels for ICD-11 entries.
const (
	ModuleTM2        = "TM2"
	ModuleBiomedical = "Biomedical"
)

// TermEntry is a cached ICD-11 entry. Code is unique; a newer LastSynced
// supersedes an older one.
type TermEntry struct {
	Code       string          `json:"code"`
	Display    string          `json:"display"`
	Module     string          `json:"module"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
	LastSynced time.Time       `json:"last_synced"`
}

// MappingType records how a crosswalk edge was established.
type MappingType string

const (
	MappingAutomatic MappingType = "automatic"
	MappingManual    MappingType = "manual"
	MappingVerified  MappingType = "verified"
)

// Valid reports whether t is one of the known mapping types.
func (t MappingType) Valid() bool {
	switch t {
	case MappingAutomatic, MappingManual, MappingVerified:
		return true
	}
	return false
}

// CrosswalkEdge maps a NAMASTE concept to one ICD-11 candidate. The pair
// (NamasteCode, ICDCode) is unique.
type CrosswalkEdge struct {
	NamasteCode string      `json:"namaste_code"`
	ICDCode     string      `json:"icd_code"`
	ICDDisplay  string      `json:"icd_display"`
	Module      string      `json:"module"`
	Confidence  int         `json:"confidence"`
	MappingType MappingType `json:"mapping_type"`
}

// Validate checks the confidence range and mapping type.
func (e *CrosswalkEdge) Validate() error {
	if e.NamasteCode == "" || e.ICDCode == "" {
		return fmt.Errorf("crosswalk edge requires namaste and icd codes")
	}
	if e.Confidence < 0 || e.Confidence > 100 {
		return fmt.Errorf("crosswalk %s -> %s: confidence %d outside 0..100", e.NamasteCode, e.ICDCode, e.Confidence)
	}
	if !e.MappingType.Valid() {
		return fmt.Errorf("crosswalk %s -> %s: unknown mapping type %q", e.NamasteCode, e.ICDCode, e.MappingType)
	}
	return nil
}

// Suggestion is the caller-facing shape of a crosswalk edge.
type Suggestion struct {
	Code        string      `json:"code"`
	Display     string      `json:"display"`
	Module      string      `json:"module"`
	Confidence  int         `json:"confidence"`
	MappingType MappingType `json:"mappingType"`
}

// ToSuggestion drops the source code from the edge.
func (e *CrosswalkEdge) ToSuggestion() Suggestion {
	return Suggestion{
		Code:        e.ICDCode,
		Display:     e.ICDDisplay,
		Module:      e.Module,
		Confidence:  e.Confidence,
		MappingType: e.MappingType,
	}
}

// CrosswalkRow is a crosswalk edge joined with its NAMASTE display, used for
// debug listings.
type CrosswalkRow struct {
	CrosswalkEdge
	NamasteDisplay string `json:"namaste_display"`
}

// NamasteConcept is NAMASTE reference data.
type NamasteConcept struct {
	Code     string `json:"code" yaml:"code"`
	Display  string `json:"display" yaml:"display"`
	Category string `json:"category" yaml:"category"`
	System   string `json:"system" yaml:"system,omitempty"`
}

// ICDResult is the caller-facing shape of a resolved ICD-11 entry.
type ICDResult struct {
	Code    string `json:"code"`
	Display string `json:"display"`
	Module  string `json:"module"`
}

// ToResult drops the payload and sync time.
func (e *TermEntry) ToResult() ICDResult {
	return ICDResult{Code: e.Code, Display: e.Display, Module: e.Module}
}

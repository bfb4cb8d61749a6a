package fhir

import (
	"encoding/json"
	"testing"
)

func TestNewOperationOutcome(t *testing.T) {
	oo := NewOperationOutcome("error", "processing", "something went wrong")

	if oo.ResourceType != "OperationOutcome" {
		t.Errorf("expected resourceType OperationOutcome, got %s", oo.ResourceType)
	}
	if len(oo.Issue) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(oo.Issue))
	}
	if oo.Issue[0].Severity != "error" || oo.Issue[0].Code != "processing" {
		t.Errorf("unexpected issue: %+v", oo.Issue[0])
	}
	if oo.Issue[0].Diagnostics != "something went wrong" {
		t.Errorf("expected diagnostics 'something went wrong', got %s", oo.Issue[0].Diagnostics)
	}
}

func TestNotFoundOutcome(t *testing.T) {
	oo := NotFoundOutcome("Condition", "123")
	if oo.Issue[0].Code != IssueTypeNotFound {
		t.Error("expected not-found code")
	}
	if oo.Issue[0].Diagnostics != "Condition/123 not found" {
		t.Errorf("unexpected diagnostics: %s", oo.Issue[0].Diagnostics)
	}
}

func TestCodeNotFoundOutcome(t *testing.T) {
	oo := CodeNotFoundOutcome("urn:namaste", "NAM-999")
	issue := oo.Issue[0]
	if issue.Code != IssueTypeNotFound {
		t.Errorf("expected not-found, got %s", issue.Code)
	}
	if issue.Diagnostics != "code NAM-999 not found in urn:namaste" {
		t.Errorf("unexpected diagnostics: %s", issue.Diagnostics)
	}
	if issue.Details == nil || len(issue.Details.Coding) != 1 || issue.Details.Coding[0].Code != "NAM-999" {
		t.Errorf("expected details coding for NAM-999, got %+v", issue.Details)
	}
	if !oo.HasErrors() {
		t.Error("expected HasErrors")
	}
}

func TestFormatReference(t *testing.T) {
	if ref := FormatReference("Patient", "abc-123"); ref != "Patient/abc-123" {
		t.Errorf("expected Patient/abc-123, got %s", ref)
	}
	r := NewReference("Patient", "p1")
	if r.Reference != "Patient/p1" || r.Type != "Patient" {
		t.Errorf("unexpected reference %+v", r)
	}
}

func TestValidationOutcome(t *testing.T) {
	oo := ValidationOutcome("icdCodes", "must not be empty")
	issue := oo.Issue[0]
	if issue.Code != IssueTypeInvalid {
		t.Errorf("expected invalid, got %s", issue.Code)
	}
	if issue.Diagnostics != "icdCodes: must not be empty" {
		t.Errorf("unexpected diagnostics: %s", issue.Diagnostics)
	}
	if len(issue.Expression) != 1 || issue.Expression[0] != "icdCodes" {
		t.Errorf("unexpected expression: %v", issue.Expression)
	}
}

func TestRequiredFieldOutcome(t *testing.T) {
	oo := RequiredFieldOutcome("patientId")
	if oo.Issue[0].Code != IssueTypeRequired || oo.Issue[0].Diagnostics != "patientId is required" {
		t.Errorf("unexpected issue: %+v", oo.Issue[0])
	}
}

func TestInternalErrorOutcome(t *testing.T) {
	oo := InternalErrorOutcome("database is locked")
	if oo.Issue[0].Severity != IssueSeverityFatal || oo.Issue[0].Code != IssueTypeException {
		t.Errorf("unexpected issue: %+v", oo.Issue[0])
	}
}

func TestOperationOutcome_HasErrors(t *testing.T) {
	warn := NewOperationOutcome(IssueSeverityWarning, IssueTypeProcessing, "served from cache")
	if warn.HasErrors() {
		t.Error("warning outcome should not report errors")
	}
	if !ErrorOutcome("x").HasErrors() {
		t.Error("error outcome should report errors")
	}
}

func TestOperationOutcome_JSON(t *testing.T) {
	data, err := json.Marshal(CodeNotFoundOutcome("urn:namaste", "NAM-999"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["resourceType"] != "OperationOutcome" {
		t.Errorf("unexpected resourceType %v", m["resourceType"])
	}
	issues, ok := m["issue"].([]interface{})
	if !ok || len(issues) != 1 {
		t.Fatalf("expected one issue, got %v", m["issue"])
	}
	if _, ok := issues[0].(map[string]interface{})["expression"]; ok {
		t.Error("expected expression omitted when empty")
	}
}

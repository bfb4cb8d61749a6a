package terminology

import (
	"context"
	"fmt"
	"strings"
)

// The crosswalk is published as a single FHIR ConceptMap.
const (
	ConceptMapID   = "namaste-to-icd11"
	ConceptMapURL  = "urn:ayusync:ConceptMap/namaste-to-icd11"
	ConceptMapName = "NAMASTE to ICD-11"
)

// FHIR R4 ConceptMap equivalence codes used for crosswalk edges.
const (
	EquivalenceEquivalent = "equivalent"
	EquivalenceInexact    = "inexact"
)

// Equivalence maps the edge onto a ConceptMap equivalence. Only verified
// edges claim equivalence.
func (e *CrosswalkEdge) Equivalence() string {
	if e.MappingType == MappingVerified {
		return EquivalenceEquivalent
	}
	return EquivalenceInexact
}

// TranslateRequest holds the parameters of a $translate call.
type TranslateRequest struct {
	Code          string
	System        string
	TargetSystem  string
	ConceptMapURL string
}

// TranslateMatch is one translation target.
type TranslateMatch struct {
	Equivalence string
	Code        string
	Display     string
	System      string
	Confidence  int
}

// TranslateResponse is the outcome of $translate. Result is false when the
// code is unknown or has no mappings.
type TranslateResponse struct {
	Result  bool
	Message string
	Matches []TranslateMatch
}

// Translate runs $translate from NAMASTE to ICD-11 over the crosswalk.
func (s *Service) Translate(ctx context.Context, req *TranslateRequest) (*TranslateResponse, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, fmt.Errorf("code is required: %w", ErrInvalidInput)
	}
	if req.ConceptMapURL != "" && req.ConceptMapURL != ConceptMapURL {
		return nil, fmt.Errorf("unknown concept map %s: %w", req.ConceptMapURL, ErrInvalidInput)
	}
	if req.System != "" && req.System != SystemNamaste {
		return nil, fmt.Errorf("no concept map from %s: %w", req.System, ErrInvalidInput)
	}
	if req.TargetSystem != "" && req.TargetSystem != SystemICD11 {
		return nil, fmt.Errorf("no concept map to %s: %w", req.TargetSystem, ErrInvalidInput)
	}

	edges, err := s.Crosswalk(ctx, code)
	if IsNotFound(err) {
		return &TranslateResponse{
			Message: fmt.Sprintf("Code '%s' is not in system '%s'", code, SystemNamaste),
		}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(edges) == 0 {
		return &TranslateResponse{
			Message: fmt.Sprintf("No mapping found for code '%s'", code),
		}, nil
	}

	matches := make([]TranslateMatch, 0, len(edges))
	for _, e := range edges {
		matches = append(matches, TranslateMatch{
			Equivalence: e.Equivalence(),
			Code:        e.ICDCode,
			Display:     e.ICDDisplay,
			System:      SystemICD11,
			Confidence:  e.Confidence,
		})
	}
	return &TranslateResponse{Result: true, Message: "Mapping found", Matches: matches}, nil
}

// ToFHIR converts the response into a FHIR Parameters resource.
func (r *TranslateResponse) ToFHIR() map[string]interface{} {
	params := []interface{}{
		map[string]interface{}{"name": "result", "valueBoolean": r.Result},
		map[string]interface{}{"name": "message", "valueString": r.Message},
	}
	for _, m := range r.Matches {
		params = append(params, map[string]interface{}{
			"name": "match",
			"part": []interface{}{
				map[string]interface{}{"name": "equivalence", "valueCode": m.Equivalence},
				map[string]interface{}{
					"name": "concept",
					"valueCoding": map[string]interface{}{
						"system":  m.System,
						"code":    m.Code,
						"display": m.Display,
					},
				},
				map[string]interface{}{"name": "source", "valueUri": ConceptMapURL},
			},
		})
	}
	return map[string]interface{}{
		"resourceType": "Parameters",
		"parameter":    params,
	}
}

// conceptMapPageSize bounds each read while assembling the ConceptMap.
const conceptMapPageSize = 500

// ConceptMap renders the whole crosswalk as a FHIR ConceptMap, one element
// per NAMASTE code in crosswalk order.
func (s *Service) ConceptMap(ctx context.Context) (map[string]interface{}, error) {
	var all []*CrosswalkRow
	for offset := 0; ; offset += conceptMapPageSize {
		rows, total, err := s.ListCrosswalk(ctx, conceptMapPageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
		if len(rows) == 0 || len(all) >= total {
			break
		}
	}

	var order []string
	elements := make(map[string]map[string]interface{})
	for _, row := range all {
		el, ok := elements[row.NamasteCode]
		if !ok {
			el = map[string]interface{}{"code": row.NamasteCode, "target": []interface{}{}}
			if row.NamasteDisplay != "" {
				el["display"] = row.NamasteDisplay
			}
			elements[row.NamasteCode] = el
			order = append(order, row.NamasteCode)
		}
		el["target"] = append(el["target"].([]interface{}), map[string]interface{}{
			"code":        row.ICDCode,
			"display":     row.ICDDisplay,
			"equivalence": row.Equivalence(),
			"comment":     fmt.Sprintf("confidence %d, %s, module %s", row.Confidence, row.MappingType, row.Module),
		})
	}

	group := make([]interface{}, 0, len(order))
	for _, code := range order {
		group = append(group, elements[code])
	}

	return map[string]interface{}{
		"resourceType": "ConceptMap",
		"id":           ConceptMapID,
		"url":          ConceptMapURL,
		"name":         "NamasteToICD11",
		"title":        ConceptMapName,
		"status":       "active",
		"sourceUri":    SystemNamaste,
		"targetUri":    SystemICD11,
		"group": []interface{}{
			map[string]interface{}{
				"source":  SystemNamaste,
				"target":  SystemICD11,
				"element": group,
			},
		},
	}, nil
}

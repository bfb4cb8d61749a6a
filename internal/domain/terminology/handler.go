package terminology

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ayusync/ayusync/internal/platform/fhir"
	"github.com/ayusync/ayusync/pkg/pagination"
)

// Handler provides REST endpoints for NAMASTE and ICD-11 lookups.
type Handler struct {
	svc *Service
}

// NewHandler creates a new terminology handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers terminology routes on the API group. The debug
// group may be nil, in which case the listings are not exposed.
func (h *Handler) RegisterRoutes(api *echo.Group, debug *echo.Group) {
	api.GET("/namaste/search", h.SearchNamaste)
	api.GET("/icd/search", h.SearchICD)
	api.GET("/icd/:code", h.GetICD)
	api.GET("/concept-map/:code", h.ConceptMap)

	if debug == nil {
		return
	}
	debug.GET("/namaste", h.ListNamaste)
	debug.GET("/icd-cache", h.ListICDCache)
	debug.GET("/concept-map", h.ListConceptMap)
}

// RegisterFHIRRoutes exposes the crosswalk as a FHIR ConceptMap with the
// $translate operation.
func (h *Handler) RegisterFHIRRoutes(g *echo.Group) {
	g.GET("/ConceptMap", h.SearchConceptMaps)
	g.GET("/ConceptMap/$translate", h.Translate)
	g.POST("/ConceptMap/$translate", h.TranslatePost)
	g.GET("/ConceptMap/:id", h.GetConceptMap)
	g.GET("/ConceptMap/:id/$translate", h.TranslateByMap)
}

// SearchNamaste handles GET /api/namaste/search?q=...
func (h *Handler) SearchNamaste(c echo.Context) error {
	concepts, err := h.svc.SearchNamaste(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, concepts)
}

// SearchICD handles GET /api/icd/search?q=...
func (h *Handler) SearchICD(c echo.Context) error {
	entries, err := h.svc.Resolve(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return errorResponse(c, err)
	}
	results := make([]ICDResult, 0, len(entries))
	for _, e := range entries {
		results = append(results, e.ToResult())
	}
	return c.JSON(http.StatusOK, results)
}

// GetICD handles GET /api/icd/:code against the local cache.
func (h *Handler) GetICD(c echo.Context) error {
	entry, err := h.svc.LookupTerm(c.Request().Context(), c.Param("code"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, entry)
}

// ConceptMap handles GET /api/concept-map/:code.
func (h *Handler) ConceptMap(c echo.Context) error {
	edges, err := h.svc.Crosswalk(c.Request().Context(), c.Param("code"))
	if err != nil {
		return errorResponse(c, err)
	}
	suggestions := make([]Suggestion, 0, len(edges))
	for _, e := range edges {
		suggestions = append(suggestions, e.ToSuggestion())
	}
	return c.JSON(http.StatusOK, suggestions)
}

// ListNamaste handles GET /api/debug/namaste, ordered by code.
func (h *Handler) ListNamaste(c echo.Context) error {
	concepts, err := h.svc.SearchNamaste(c.Request().Context(), "")
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, concepts)
}

// ListICDCache handles GET /api/debug/icd-cache, newest sync first.
func (h *Handler) ListICDCache(c echo.Context) error {
	p := pagination.FromContext(c)
	entries, total, err := h.svc.ListCache(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, p, c.Path()))
}

// ListConceptMap handles GET /api/debug/concept-map.
func (h *Handler) ListConceptMap(c echo.Context) error {
	p := pagination.FromContext(c)
	rows, total, err := h.svc.ListCrosswalk(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(rows, total, p, c.Path()))
}

// errorResponse maps service errors onto OperationOutcome responses.
func errorResponse(c echo.Context, err error) error {
	var nf *NotFoundError
	switch {
	case errors.As(err, &nf):
		return c.JSON(http.StatusNotFound, fhir.CodeNotFoundOutcome(nf.System, nf.Code))
	case IsInvalidInput(err):
		return c.JSON(http.StatusBadRequest, fhir.ValidationOutcome("code", err.Error()))
	default:
		zerolog.Ctx(c.Request().Context()).Error().Err(err).Msg("terminology request failed")
		return c.JSON(http.StatusInternalServerError, fhir.InternalErrorOutcome("terminology store unavailable"))
	}
}

// =========== FHIR ConceptMap ===========

// SearchConceptMaps handles GET /fhir/ConceptMap with a searchset Bundle
// holding the one published map.
func (h *Handler) SearchConceptMaps(c echo.Context) error {
	bundle := map[string]interface{}{
		"resourceType": "Bundle",
		"type":         "searchset",
		"total":        1,
		"entry": []interface{}{
			map[string]interface{}{
				"resource": map[string]interface{}{
					"resourceType": "ConceptMap",
					"id":           ConceptMapID,
					"url":          ConceptMapURL,
					"title":        ConceptMapName,
					"status":       "active",
					"sourceUri":    SystemNamaste,
					"targetUri":    SystemICD11,
				},
			},
		},
	}
	return c.JSON(http.StatusOK, bundle)
}

// GetConceptMap handles GET /fhir/ConceptMap/:id.
func (h *Handler) GetConceptMap(c echo.Context) error {
	if c.Param("id") != ConceptMapID {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("ConceptMap", c.Param("id")))
	}
	cm, err := h.svc.ConceptMap(c.Request().Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, cm)
}

// Translate handles GET /fhir/ConceptMap/$translate.
func (h *Handler) Translate(c echo.Context) error {
	req := &TranslateRequest{
		Code:          c.QueryParam("code"),
		System:        c.QueryParam("system"),
		TargetSystem:  c.QueryParam("targetsystem"),
		ConceptMapURL: c.QueryParam("url"),
	}
	return h.doTranslate(c, req)
}

// TranslatePost handles POST /fhir/ConceptMap/$translate with a Parameters body.
func (h *Handler) TranslatePost(c echo.Context) error {
	var params struct {
		ResourceType string `json:"resourceType"`
		Parameter    []struct {
			Name      string `json:"name"`
			ValueCode string `json:"valueCode,omitempty"`
			ValueURI  string `json:"valueUri,omitempty"`
		} `json:"parameter"`
	}
	if err := json.NewDecoder(c.Request().Body).Decode(&params); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeStructure, "invalid Parameters body: "+err.Error()))
	}
	if params.ResourceType != "Parameters" {
		return c.JSON(http.StatusBadRequest, fhir.ValidationOutcome("resourceType", "expected Parameters"))
	}

	req := &TranslateRequest{}
	for _, p := range params.Parameter {
		switch p.Name {
		case "code":
			req.Code = p.ValueCode
		case "system":
			req.System = p.ValueURI
		case "targetsystem":
			req.TargetSystem = p.ValueURI
		case "url":
			req.ConceptMapURL = p.ValueURI
		}
	}
	return h.doTranslate(c, req)
}

// TranslateByMap handles GET /fhir/ConceptMap/:id/$translate.
func (h *Handler) TranslateByMap(c echo.Context) error {
	if c.Param("id") != ConceptMapID {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("ConceptMap", c.Param("id")))
	}
	req := &TranslateRequest{
		Code:          c.QueryParam("code"),
		System:        c.QueryParam("system"),
		TargetSystem:  c.QueryParam("targetsystem"),
		ConceptMapURL: ConceptMapURL,
	}
	return h.doTranslate(c, req)
}

func (h *Handler) doTranslate(c echo.Context, req *TranslateRequest) error {
	if req.Code == "" {
		return c.JSON(http.StatusBadRequest, fhir.RequiredFieldOutcome("code"))
	}
	resp, err := h.svc.Translate(c.Request().Context(), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, resp.ToFHIR())
}

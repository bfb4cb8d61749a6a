package problem

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ayusync/ayusync/internal/domain/terminology"
	"github.com/ayusync/ayusync/internal/platform/fhir"
	"github.com/ayusync/ayusync/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the problem-list routes. debug may be nil.
func (h *Handler) RegisterRoutes(api *echo.Group, debug *echo.Group) {
	api.POST("/problem-list", h.Create)
	if debug != nil {
		debug.GET("/problems", h.List)
	}
}

// CreateRequest is the POST /api/problem-list body.
type CreateRequest struct {
	PatientID   string   `json:"patientId"`
	NamasteCode string   `json:"namasteCode"`
	ICDCodes    []string `json:"icdCodes"`
}

// CreateResponse echoes the stored record as a FHIR Condition.
type CreateResponse struct {
	Success       bool                   `json:"success"`
	Message       string                 `json:"message"`
	RecordID      string                 `json:"recordId"`
	FHIRCondition map[string]interface{} `json:"fhirCondition"`
}

// Create handles POST /api/problem-list.
func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("invalid request body"))
	}
	if req.PatientID == "" {
		return c.JSON(http.StatusBadRequest, fhir.RequiredFieldOutcome("patientId"))
	}
	if req.NamasteCode == "" {
		return c.JSON(http.StatusBadRequest, fhir.RequiredFieldOutcome("namasteCode"))
	}

	rec, err := h.svc.Record(c.Request().Context(), req.PatientID, req.NamasteCode, req.ICDCodes)
	var nf *terminology.NotFoundError
	switch {
	case err == nil:
	case errors.As(err, &nf):
		return c.JSON(http.StatusNotFound, fhir.CodeNotFoundOutcome(nf.System, nf.Code))
	case terminology.IsInvalidInput(err):
		return c.JSON(http.StatusBadRequest, fhir.ValidationOutcome("request", err.Error()))
	default:
		zerolog.Ctx(c.Request().Context()).Error().Err(err).Msg("problem-list save failed")
		return c.JSON(http.StatusInternalServerError, fhir.InternalErrorOutcome("problem could not be saved"))
	}

	return c.JSON(http.StatusOK, CreateResponse{
		Success:       true,
		Message:       "Problem saved successfully",
		RecordID:      rec.RecordID.String(),
		FHIRCondition: rec.ToFHIR(),
	})
}

// List handles GET /api/debug/problems.
func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		zerolog.Ctx(c.Request().Context()).Error().Err(err).Msg("problem listing failed")
		return c.JSON(http.StatusInternalServerError, fhir.InternalErrorOutcome("problems could not be listed"))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg, c.Path()))
}

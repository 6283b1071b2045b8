package patient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/fhirportal/fhirportal/internal/platform/fhir"
	"github.com/fhirportal/fhirportal/pkg/pagination"
)

type Handler struct {
	svc       *Service
	baseURL   string
	validator *fhir.Validator
	logger    zerolog.Logger
}

func NewHandler(svc *Service, baseURL string, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:       svc,
		baseURL:   strings.TrimRight(baseURL, "/"),
		validator: fhir.NewValidator(),
		logger:    logger,
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group, fhirGroup *echo.Group) {
	api.GET("/patients", h.ListPatients)
	api.POST("/patients", h.CreatePatient)
	api.GET("/patients/mrn/:mrn", h.GetPatientByMRN)
	api.GET("/patients/:id", h.GetPatient)
	api.PUT("/patients/:id", h.UpdatePatient)
	api.DELETE("/patients/:id", h.DeletePatient)

	fhirGroup.GET("/Patient", h.SearchPatientsFHIR)
	fhirGroup.POST("/Patient", h.CreatePatientFHIR)
	fhirGroup.GET("/Patient/:id", h.GetPatientFHIR)
	fhirGroup.PUT("/Patient/:id", h.UpdatePatientFHIR)
	fhirGroup.DELETE("/Patient/:id", h.DeletePatientFHIR)
}

// -- FHIR Endpoints --

func (h *Handler) SearchPatientsFHIR(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := fhir.ExtractSearchParams(c)
	queryStr := searchQueryString(params)

	items, total, err := h.svc.SearchPatients(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return h.fhirError(c, err)
	}

	resources := make([]interface{}, len(items))
	for i, item := range items {
		resources[i] = item.ToFHIR()
	}
	return c.JSON(http.StatusOK, fhir.NewSearchBundleWithLinks(resources, fhir.SearchBundleParams{
		BaseURL:  h.baseURL + "/fhir/Patient",
		QueryStr: queryStr,
		Count:    pg.Limit,
		Offset:   pg.Offset,
		Total:    total,
	}))
}

func (h *Handler) CreatePatientFHIR(c echo.Context) error {
	doc, outcome := h.bindDocument(c)
	if outcome != nil {
		return c.JSON(http.StatusBadRequest, outcome)
	}
	rec := ToRecord(doc, uuid.Nil)
	if err := h.svc.CreatePatient(c.Request().Context(), rec); err != nil {
		return h.fhirError(c, err)
	}
	c.Response().Header().Set("Location", "/fhir/Patient/"+rec.ID.String())
	fhir.SetVersionHeaders(c, rec.Version, lastModified(rec))
	return c.JSON(http.StatusCreated, rec.ToFHIR())
}

func (h *Handler) GetPatientFHIR(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("invalid patient id: must be a UUID"))
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return h.fhirError(c, err)
	}
	fhir.SetVersionHeaders(c, p.Version, lastModified(p))
	if fhir.CheckIfNoneMatch(c, p.Version) {
		return c.NoContent(http.StatusNotModified)
	}
	return c.JSON(http.StatusOK, p.ToFHIR())
}

func (h *Handler) UpdatePatientFHIR(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("invalid patient id: must be a UUID"))
	}
	expected, outcome := fhir.ExpectedVersion(c)
	if outcome != nil {
		return c.JSON(http.StatusBadRequest, outcome)
	}
	doc, outcome := h.bindDocument(c)
	if outcome != nil {
		return c.JSON(http.StatusBadRequest, outcome)
	}
	if bodyID, _ := doc["id"].(string); bodyID != "" && bodyID != id.String() {
		return c.JSON(http.StatusBadRequest, fhir.ValidationOutcome("id", "resource id does not match request URL"))
	}
	rec := ToRecord(doc, id)
	if err := h.svc.UpdatePatient(c.Request().Context(), rec, expected); err != nil {
		return h.fhirError(c, err)
	}
	fhir.SetVersionHeaders(c, rec.Version, lastModified(rec))
	return c.JSON(http.StatusOK, rec.ToFHIR())
}

func (h *Handler) DeletePatientFHIR(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("invalid patient id: must be a UUID"))
	}
	if err := h.svc.DeletePatient(c.Request().Context(), id); err != nil {
		return h.fhirError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- REST Endpoints --

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreatePatient(c.Request().Context(), &p); err != nil {
		return h.restError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return h.restError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetPatientByMRN(c echo.Context) error {
	p, err := h.svc.GetPatientByMRN(c.Request().Context(), c.Param("mrn"))
	if err != nil {
		return h.restError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatients(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return h.restError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = id
	if err := h.svc.UpdatePatient(c.Request().Context(), &p, 0); err != nil {
		return h.restError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeletePatient(c.Request().Context(), id); err != nil {
		return h.restError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Helpers --

// bindDocument decodes and validates the request body as a Patient document.
func (h *Handler) bindDocument(c echo.Context) (map[string]interface{}, *fhir.OperationOutcome) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, fhir.ErrorOutcome("failed to read request body")
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fhir.ErrorOutcome("invalid JSON: " + err.Error())
	}
	rt, _ := doc["resourceType"].(string)
	if rt == "" {
		return nil, fhir.RequiredFieldOutcome("resourceType")
	}
	if rt != "Patient" {
		return nil, fhir.ValidationOutcome("resourceType", fmt.Sprintf("expected Patient, got %s", rt))
	}
	if result := h.validator.ValidateResourceMap(doc, false); !result.Valid {
		return nil, result.ToOperationOutcome()
	}
	return doc, nil
}

// fhirError translates service errors into OperationOutcome responses.
func (h *Handler) fhirError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Patient", c.Param("id")))
	case errors.Is(err, ErrDuplicateMRN):
		return c.JSON(http.StatusConflict, fhir.DuplicateOutcome(err.Error()))
	case errors.Is(err, ErrVersionConflict):
		return c.JSON(http.StatusConflict, fhir.ConflictOutcome(err.Error()))
	case errors.Is(err, ErrInvalidGender):
		return c.JSON(http.StatusBadRequest, fhir.ValidationOutcome("gender", err.Error()))
	default:
		h.logger.Error().Err(err).Str("path", c.Path()).Msg("patient operation failed")
		return c.JSON(http.StatusInternalServerError, fhir.InternalErrorOutcome("internal server error"))
	}
}

// restError translates service errors for the plain JSON surface.
func (h *Handler) restError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.Is(err, ErrDuplicateMRN):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidGender):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// searchQueryString rebuilds the filter portion of paging links in a fixed
// order so identical searches produce identical URLs.
func searchQueryString(params map[string]string) string {
	var parts []string
	for _, key := range []string{"name", "birthdate", "identifier", "gender"} {
		if v, ok := params[key]; ok && v != "" {
			parts = append(parts, key+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(parts, "&")
}

func lastModified(p *Patient) string {
	return p.UpdatedAt.UTC().Format(http.TimeFormat)
}

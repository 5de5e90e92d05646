package earlydetection

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/grahmeen/health/internal/platform/apperr"
	"github.com/grahmeen/health/internal/platform/auth"
	"github.com/grahmeen/health/internal/triage"
	"github.com/grahmeen/health/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/assessments", h.Submit)
	api.GET("/assessments", h.List)
	api.GET("/assessments/:id", h.Get)
	api.DELETE("/assessments/:id", h.Delete)
	api.POST("/assessments/:id/summary", h.Summary)

	api.GET("/triage/strategies", h.Strategies)
	api.POST("/triage/score", h.Score)
	api.POST("/triage/simple", h.Simple)
}

// owner resolves whose records the caller is asking for. Clinicians may name
// another user with ?user_id=.
func owner(c echo.Context) (string, error) {
	ctx := c.Request().Context()
	caller := auth.UserIDFromContext(ctx)
	if caller == "" {
		return "", apperr.ErrUnauthenticated
	}
	target := strings.TrimSpace(c.QueryParam("user_id"))
	if target == "" || target == caller {
		return caller, nil
	}
	if !auth.IsClinician(ctx) {
		return "", apperr.ErrForbidden
	}
	return target, nil
}

func bindSubmit(c echo.Context) (SubmitRequest, error) {
	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return req, nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) Submit(c echo.Context) error {
	req, err := bindSubmit(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Submit(c.Request().Context(), auth.UserIDFromContext(c.Request().Context()), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	userID, err := owner(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Get(c.Request().Context(), userID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), auth.UserIDFromContext(c.Request().Context()), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Summary emails the assessment summary. Clinicians may send it for a
// patient's record with ?user_id=.
func (h *Handler) Summary(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	userID, err := owner(c)
	if err != nil {
		return err
	}
	n, err := h.svc.SendSummary(c.Request().Context(), userID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, n)
}

func (h *Handler) List(c echo.Context) error {
	userID, err := owner(c)
	if err != nil {
		return err
	}
	q, err := listQueryFromContext(c)
	if err != nil {
		return err
	}
	items, total, err := h.svc.List(c.Request().Context(), userID, q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, q.Limit, q.Offset))
}

func listQueryFromContext(c echo.Context) (ListQuery, error) {
	pg := pagination.FromContext(c)
	sort := pagination.SortFromContext(c, SortFields, SortCreatedAt)

	search := c.QueryParam("search")
	if search == "" {
		search = c.QueryParam("q")
	}
	q := ListQuery{
		Limit:     pg.Limit,
		Offset:    pg.Offset,
		SortBy:    sort.Field,
		SortDesc:  sort.Desc,
		Search:    strings.TrimSpace(search),
		RiskLevel: strings.ToLower(strings.TrimSpace(c.QueryParam("risk_level"))),
		Severity:  strings.ToLower(strings.TrimSpace(c.QueryParam("severity"))),
	}

	ve := &apperr.ValidationError{}
	var err error
	if q.From, err = parseTime(c.QueryParam("from"), false); err != nil {
		ve.Add("from must be RFC 3339 or YYYY-MM-DD")
	}
	if q.To, err = parseTime(c.QueryParam("to"), true); err != nil {
		ve.Add("to must be RFC 3339 or YYYY-MM-DD")
	}
	return q, ve.OrNil()
}

// parseTime accepts RFC 3339 or a bare date. A bare date used as an upper
// bound covers the whole day.
func parseTime(s string, endOfDay bool) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

type strategiesResponse struct {
	Strategies []string `json:"strategies"`
	Default    string   `json:"default"`
}

func (h *Handler) Strategies(c echo.Context) error {
	names, def := h.svc.Strategies()
	return c.JSON(http.StatusOK, strategiesResponse{Strategies: names, Default: def})
}

// Score returns the detailed Insight without storing anything.
func (h *Handler) Score(c echo.Context) error {
	req, err := bindSubmit(c)
	if err != nil {
		return err
	}
	res, err := h.svc.Evaluate(req, triage.StrategyDetailed)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res.Insight)
}

// Simple returns the rating-based assessment without storing anything.
func (h *Handler) Simple(c echo.Context) error {
	req, err := bindSubmit(c)
	if err != nil {
		return err
	}
	res, err := h.svc.Evaluate(req, triage.StrategySimple)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, triage.SimpleAssessment{
		RiskLevel:           res.RiskLevel,
		PotentialConditions: res.PotentialConditions,
		Recommendations:     res.Recommendations,
	})
}

package webhook

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/grahmeen/health/internal/platform/auth"
	"github.com/grahmeen/health/pkg/pagination"
)

// Handler exposes webhook management to admins.
type Handler struct {
	manager *Manager
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/webhooks", auth.RequireRole(auth.RoleAdmin))
	g.POST("", h.Register)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/test", h.Test)
	g.GET("/:id/deliveries", h.Deliveries)
	g.POST("/:id/pause", h.Pause)
	g.POST("/:id/resume", h.Resume)
	g.POST("/deliveries/:id/retry", h.Retry)
}

func (h *Handler) Register(c echo.Context) error {
	var in EndpointInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	in.CreatedBy = auth.UserIDFromContext(c.Request().Context())
	ep, err := h.manager.RegisterEndpoint(c.Request().Context(), in)
	if err != nil {
		return err
	}
	// the generated secret is only ever shown here
	return c.JSON(http.StatusCreated, ep)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	eps, total, err := h.manager.ListEndpoints(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	for _, ep := range eps {
		ep.Secret = ""
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(eps, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	ep, err := h.manager.GetEndpoint(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	ep.Secret = ""
	return c.JSON(http.StatusOK, ep)
}

func (h *Handler) Update(c echo.Context) error {
	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ep, err := h.manager.UpdateEndpoint(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return err
	}
	ep.Secret = ""
	return c.JSON(http.StatusOK, ep)
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.manager.DeleteEndpoint(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Test(c echo.Context) error {
	attempt, err := h.manager.TestEndpoint(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, attempt)
}

func (h *Handler) Deliveries(c echo.Context) error {
	pg := pagination.FromContext(c)
	logs, total, err := h.manager.DeliveryLogs(c.Request().Context(), c.Param("id"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(logs, total, pg.Limit, pg.Offset))
}

func (h *Handler) Pause(c echo.Context) error {
	ep, err := h.manager.PauseEndpoint(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"id": ep.ID, "status": ep.Status})
}

func (h *Handler) Resume(c echo.Context) error {
	ep, err := h.manager.ResumeEndpoint(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"id": ep.ID, "status": ep.Status})
}

func (h *Handler) Retry(c echo.Context) error {
	attempt, err := h.manager.RetryDelivery(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, attempt)
}

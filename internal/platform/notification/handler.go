package notification

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
)

type Handler struct {
	mgr *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{mgr: mgr}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/notifications", auth.RequireRole(auth.RoleBilling))
	g.GET("", h.List)
	g.GET("/:id", h.Get)
}

func (h *Handler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, h.mgr.Recent(c.QueryParam("recipient")))
}

func (h *Handler) Get(c echo.Context) error {
	n, ok := h.mgr.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	}
	return c.JSON(http.StatusOK, n)
}

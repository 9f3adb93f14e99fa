package subscriber

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Handler exposes subscriber administration. Every mutation invalidates the
// registry cache so the emission engine sees the change on its next batch.
type Handler struct {
	repo  Repository
	cache *Cache
}

func NewHandler(repo Repository, cache *Cache) *Handler {
	return &Handler{repo: repo, cache: cache}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/subscribers", h.List)
	api.POST("/subscribers", h.Create)
	api.GET("/subscribers/:id", h.Get)
	api.PUT("/subscribers/:id", h.Update)
	api.DELETE("/subscribers/:id", h.Delete)
}

func validKind(kind string) bool {
	return kind == KindMLLP || kind == KindFile || kind == KindFHIR
}

func (h *Handler) List(c echo.Context) error {
	subs, err := h.repo.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, subs)
}

func (h *Handler) Create(c echo.Context) error {
	var s Subscriber
	if err := c.Bind(&s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if s.Name == "" || s.Endpoint == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name and endpoint are required")
	}
	if !validKind(s.Kind) {
		return echo.NewHTTPError(http.StatusBadRequest, "kind must be MLLP, FILE or FHIR")
	}
	if err := h.repo.Create(c.Request().Context(), &s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	h.cache.Invalidate()
	return c.JSON(http.StatusCreated, s)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	s, err := h.repo.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if s == nil {
		return echo.NewHTTPError(http.StatusNotFound, "subscriber not found")
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	existing, err := h.repo.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if existing == nil {
		return echo.NewHTTPError(http.StatusNotFound, "subscriber not found")
	}

	var s Subscriber
	if err := c.Bind(&s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.ID = id
	if !validKind(s.Kind) {
		return echo.NewHTTPError(http.StatusBadRequest, "kind must be MLLP, FILE or FHIR")
	}
	if err := h.repo.Update(c.Request().Context(), &s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	h.cache.Invalidate()
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.repo.Delete(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.cache.Invalidate()
	return c.NoContent(http.StatusNoContent)
}

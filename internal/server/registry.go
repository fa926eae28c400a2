package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/orca-live/orcad/internal/store"
)

type agentDirectory interface {
	Agents(ctx context.Context) ([]store.Agent, error)
}

// RegistryHandler exposes the read-only agent directory.
type RegistryHandler struct {
	Directory agentDirectory
}

func (h *RegistryHandler) Register(g *echo.Group) {
	g.GET("", h.list)
}

func (h *RegistryHandler) list(c echo.Context) error {
	agents, err := h.Directory.Agents(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	if agents == nil {
		agents = []store.Agent{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"agents": agents})
}

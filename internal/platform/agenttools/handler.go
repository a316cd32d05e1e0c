package agenttools

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	registry *Registry
}

func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/tools", h.List)
	api.POST("/tools/:name", h.Call)
}

// List returns the tool catalog. ?agent= narrows it to one agent
// type's permitted set.
func (h *Handler) List(c echo.Context) error {
	if agent := c.QueryParam("agent"); agent != "" {
		return c.JSON(http.StatusOK, map[string]interface{}{"tools": h.registry.ForAgent(agent)})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"tools": h.registry.List()})
}

// Call dispatches one tool invocation. The body is the tool's JSON
// argument object; an X-Agent-Type header scopes the call to that
// agent's permissions.
func (h *Handler) Call(c echo.Context) error {
	name := c.Param("name")
	tool, ok := h.registry.Get(name)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown tool: "+name)
	}
	if agent := c.Request().Header.Get("X-Agent-Type"); !Allowed(agent, name) {
		return echo.NewHTTPError(http.StatusForbidden, "tool not permitted for agent type "+agent)
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body: "+err.Error())
	}
	args := json.RawMessage(body)
	if len(body) == 0 {
		args = json.RawMessage("{}")
	} else if !json.Valid(body) {
		return echo.NewHTTPError(http.StatusBadRequest, "body must be a JSON object")
	}

	result, err := tool.Run(c.Request().Context(), args)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"result":  result,
	})
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/phonehub/phonehub/pkg/errors"
)

// PersonaView is the public part of a persona.
type PersonaView struct {
	ID            string `json:"id"`
	DisplayName   string `json:"display_name"`
	Description   string `json:"description,omitempty"`
	RoutingNumber string `json:"routing_number,omitempty"`
	Default       bool   `json:"default"`
}

func (h *Handler) ListPersonas(c *gin.Context) {
	all := h.registry.All()
	views := make([]PersonaView, 0, len(all))
	for i, p := range all {
		views = append(views, PersonaView{
			ID:            p.ID,
			DisplayName:   p.DisplayName,
			Description:   p.Description,
			RoutingNumber: p.RoutingNumber,
			Default:       i == 0,
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": views, "count": len(views)})
}

func (h *Handler) GetPersona(c *gin.Context) {
	p, ok := h.registry.Lookup(c.Param("id"))
	if !ok {
		errors.NotFound(c, "persona not found")
		return
	}
	c.JSON(http.StatusOK, PersonaView{
		ID:            p.ID,
		DisplayName:   p.DisplayName,
		Description:   p.Description,
		RoutingNumber: p.RoutingNumber,
		Default:       p.ID == h.registry.Default().ID,
	})
}

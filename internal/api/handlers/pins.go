package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/meridian-net/netengine/internal/api/models"
)

// ListPins godoc
// @Summary List configured public-key pin sets
// @Description Returns the hostnames currently carrying a public-key pin set
// @Tags pins
// @Produce json
// @Success 200 {object} models.PinsResponse
// @Failure 503 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /engine/pins [get]
func (h *Handler) ListPins(c *gin.Context) {
	store := h.getPinStore()
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "pin store not configured"})
		return
	}
	hosts := store.Hostnames()
	c.JSON(http.StatusOK, models.PinsResponse{Hostnames: hosts, Count: len(hosts)})
}

// GetPin godoc
// @Summary Get one hostname's pin set
// @Description Returns the pin set registered directly for a hostname
// @Tags pins
// @Produce json
// @Param hostname path string true "hostname"
// @Success 200 {object} models.PinSetResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /engine/pins/{hostname} [get]
func (h *Handler) GetPin(c *gin.Context) {
	store := h.getPinStore()
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "pin store not configured"})
		return
	}
	set, ok := store.Get(c.Param("hostname"))
	if !ok {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "no pin set for hostname"})
		return
	}
	hashes := make([]string, 0, len(set.SPKIHashes))
	for hash := range set.SPKIHashes {
		hashes = append(hashes, hash)
	}
	c.JSON(http.StatusOK, models.PinSetResponse{
		Hostname:          set.Hostname,
		IncludeSubdomains: set.IncludeSubdomains,
		SPKIHashes:        hashes,
		ExpiresAt:         set.ExpiresAt,
	})
}

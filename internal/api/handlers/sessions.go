package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/meridian-net/netengine/internal/api/models"
)

// ListSessions godoc
// @Summary List session pool contents
// @Description Returns every live multiplexed transport session currently held by the session pool
// @Tags sessions
// @Produce json
// @Success 200 {object} models.SessionPoolResponse
// @Failure 503 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /engine/sessions [get]
func (h *Handler) ListSessions(c *gin.Context) {
	pool := h.getSessionPool()
	if pool == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "session pool not configured"})
		return
	}

	infos := pool.Snapshot()
	resp := models.SessionPoolResponse{Sessions: make([]models.SessionResponse, 0, len(infos))}
	for _, info := range infos {
		resp.Sessions = append(resp.Sessions, models.SessionResponse{
			Origin:        info.Key.Origin.String(),
			Scheme:        info.Key.Origin.Scheme.String(),
			PrivacyMode:   info.Key.PrivacyMode != 0,
			Binding:       info.Key.Binding.String(),
			Protocol:      info.Protocol.String(),
			State:         info.State.String(),
			ActiveStreams: info.ActiveStreams,
			AliveSince:    info.AliveSince,
		})
	}
	resp.Count = len(resp.Sessions)
	c.JSON(http.StatusOK, resp)
}

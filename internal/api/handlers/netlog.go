package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/meridian-net/netengine/internal/api/models"
)

// NetLogStatus godoc
// @Summary NetLog recording status
// @Description Reports whether event recording is active and how many events have been captured
// @Tags netlog
// @Produce json
// @Success 200 {object} models.NetLogStatusResponse
// @Security ApiKeyAuth
// @Router /engine/netlog [get]
func (h *Handler) NetLogStatus(c *gin.Context) {
	nl := h.eng.NetLog()
	c.JSON(http.StatusOK, models.NetLogStatusResponse{
		Active:         nl.Active(),
		EventsCaptured: nl.EventsCaptured(),
	})
}

// StartNetLog godoc
// @Summary Start NetLog recording
// @Description Starts writing NetLog events to the given file path, replacing any prior recording
// @Tags netlog
// @Accept json
// @Produce json
// @Param request body models.NetLogStartRequest true "recording parameters"
// @Success 200 {object} models.NetLogStatusResponse
// @Failure 400 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /engine/netlog/start [post]
func (h *Handler) StartNetLog(c *gin.Context) {
	var req models.NetLogStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	nl := h.eng.NetLog()
	if err := nl.Start(req.Path, req.IncludeSensitive); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, models.NetLogStatusResponse{Active: nl.Active(), EventsCaptured: nl.EventsCaptured()})
}

// StopNetLog godoc
// @Summary Stop NetLog recording
// @Description Stops recording and flushes the NetLog file, if one is active
// @Tags netlog
// @Produce json
// @Success 200 {object} models.NetLogStatusResponse
// @Failure 400 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /engine/netlog/stop [post]
func (h *Handler) StopNetLog(c *gin.Context) {
	nl := h.eng.NetLog()
	if nl.Active() {
		if err := nl.Stop(); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, models.NetLogStatusResponse{Active: nl.Active(), EventsCaptured: nl.EventsCaptured()})
}

package handler

import (
	"io"

	app_errors "pt-watch/internal/errors"
	"pt-watch/internal/notify"
	"pt-watch/internal/response"

	"github.com/gin-gonic/gin"
)

// GetNotifyChannels handles GET /api/notify/channels with secrets masked.
func (s *Server) GetNotifyChannels(c *gin.Context) {
	channels, err := s.NotifyManager.GetChannels()
	if err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInternalServer, err.Error()))
		return
	}
	response.Success(c, notify.MaskSecrets(channels))
}

// UpdateNotifyChannels handles PUT /api/notify/channels. Masked secrets keep
// their stored values.
func (s *Server) UpdateNotifyChannels(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrBadRequest, err.Error()))
		return
	}

	channels, err := s.NotifyManager.UpdateChannels(body)
	if err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInvalidJSON, err.Error()))
		return
	}
	response.Success(c, notify.MaskSecrets(channels))
}

// TestNotifyChannel handles POST /api/notify/test/:channel.
func (s *Server) TestNotifyChannel(c *gin.Context) {
	ok, message := s.NotifyManager.Test(c.Request.Context(), c.Param("channel"))
	response.Success(c, gin.H{"ok": ok, "message": message})
}

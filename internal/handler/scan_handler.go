package handler

import (
	"errors"

	app_errors "pt-watch/internal/errors"
	"pt-watch/internal/response"
	"pt-watch/internal/watcher"

	"github.com/gin-gonic/gin"
)

// GetScanStatus handles GET /api/scan/status.
func (s *Server) GetScanStatus(c *gin.Context) {
	response.Success(c, s.Scanner.Status())
}

// GetDepsStatus handles GET /api/scan/deps. It reports the backoff state of
// the upstream dependencies.
func (s *Server) GetDepsStatus(c *gin.Context) {
	response.Success(c, s.DepsStatus.Snapshot())
}

// RunScanRequest is the optional POST /api/scan/run payload.
type RunScanRequest struct {
	Domain string `json:"domain"`
}

// RunScan handles POST /api/scan/run. Without a domain it triggers a full
// scan in the background; with one it checks that site synchronously and
// returns the result.
func (s *Server) RunScan(c *gin.Context) {
	var req RunScanRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, app_errors.NewAPIError(app_errors.ErrInvalidJSON, err.Error()))
			return
		}
	}

	if req.Domain == "" {
		if err := s.ScanService.TriggerScan(); err != nil {
			response.Error(c, app_errors.NewAPIError(app_errors.ErrInternalServer, err.Error()))
			return
		}
		response.Success(c, gin.H{"triggered": true})
		return
	}

	result, err := s.Scanner.RunOne(c.Request.Context(), req.Domain)
	if err != nil {
		switch {
		case errors.Is(err, watcher.ErrScanRunning):
			response.Error(c, app_errors.ErrScanInProgress)
		default:
			response.Error(c, app_errors.NewAPIError(app_errors.ErrBadRequest, err.Error()))
		}
		return
	}
	response.Success(c, result)
}

package handler

import (
	app_errors "pt-watch/internal/errors"
	"pt-watch/internal/response"

	"github.com/gin-gonic/gin"
)

// ListStates handles GET /api/states. Evidence is stored as JSON and returned
// verbatim inside each row.
func (s *Server) ListStates(c *gin.Context) {
	states, err := s.stateStore.List()
	if err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}
	response.Success(c, states)
}

// GetState handles GET /api/states/:domain.
func (s *Server) GetState(c *gin.Context) {
	state, err := s.stateStore.Get(c.Param("domain"))
	if err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}
	if state == nil {
		response.Error(c, app_errors.ErrResourceNotFound)
		return
	}
	response.Success(c, state)
}

package handler

import (
	"time"

	app_errors "pt-watch/internal/errors"
	"pt-watch/internal/response"
	"pt-watch/internal/types"
	"pt-watch/internal/utils"

	"github.com/gin-gonic/gin"
)

// CategorizedSettings groups settings for the dashboard.
type CategorizedSettings struct {
	CategoryName string                    `json:"category_name"`
	Settings     []types.SystemSettingInfo `json:"settings"`
}

// GetSettings handles GET /api/settings, grouped by category in declaration
// order.
func (s *Server) GetSettings(c *gin.Context) {
	currentSettings := s.SettingsManager.GetSettings()
	settingsInfo := utils.GenerateSettingsMetadata(&currentSettings)

	categorized := make(map[string][]types.SystemSettingInfo)
	var categoryOrder []string
	for _, info := range settingsInfo {
		if _, exists := categorized[info.Category]; !exists {
			categoryOrder = append(categoryOrder, info.Category)
		}
		categorized[info.Category] = append(categorized[info.Category], info)
	}

	var responseData []CategorizedSettings
	for _, categoryName := range categoryOrder {
		responseData = append(responseData, CategorizedSettings{
			CategoryName: categoryName,
			Settings:     categorized[categoryName],
		})
	}

	response.Success(c, responseData)
}

// UpdateSettings handles PUT /api/settings with a partial settings map.
func (s *Server) UpdateSettings(c *gin.Context) {
	var settingsMap map[string]any
	if err := c.ShouldBindJSON(&settingsMap); err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInvalidJSON, err.Error()))
		return
	}
	if len(settingsMap) == 0 {
		response.Success(c, nil)
		return
	}

	if err := s.SettingsManager.ValidateSettings(settingsMap); err != nil {
		response.Error(c, app_errors.NewValidationError(err.Error()))
		return
	}
	if err := s.SettingsManager.UpdateSettings(settingsMap); err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrDatabase, err.Error()))
		return
	}

	// The cached settings refresh through pub/sub; give it a moment so the
	// follow-up GET the dashboard fires sees the new values.
	time.Sleep(100 * time.Millisecond)

	response.Success(c, nil)
}

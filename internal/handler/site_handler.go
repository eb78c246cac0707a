package handler

import (
	"strings"

	app_errors "pt-watch/internal/errors"
	"pt-watch/internal/models"
	"pt-watch/internal/response"

	"github.com/gin-gonic/gin"
)

// SecretMask is returned in place of stored credentials; sending it back in
// an update keeps the stored value.
const SecretMask = "***"

// SiteOverrideView is a SiteOverride row with its secrets reduced to
// presence flags.
type SiteOverrideView struct {
	models.SiteOverride
	HasCookie        bool `json:"has_cookie"`
	HasAuthorization bool `json:"has_authorization"`
	HasDID           bool `json:"has_did"`
}

// SiteOverridePayload is the create/update body. Secret fields are pointers
// so an omitted field can be told apart from an explicit clear.
type SiteOverridePayload struct {
	Domain           string  `json:"domain"`
	Mode             string  `json:"mode"`
	Name             string  `json:"name"`
	URL              string  `json:"url"`
	UA               string  `json:"ua"`
	Cookie           *string `json:"cookie"`
	Authorization    *string `json:"authorization"`
	DID              *string `json:"did"`
	Template         string  `json:"template"`
	RegistrationPath string  `json:"registration_path"`
	InvitePath       string  `json:"invite_path"`
	BypassMethod     string  `json:"bypass_method"`
	Enabled          *bool   `json:"enabled"`
}

func overrideView(row models.SiteOverride) SiteOverrideView {
	return SiteOverrideView{
		SiteOverride:     row,
		HasCookie:        row.Cookie != "",
		HasAuthorization: row.Authorization != "",
		HasDID:           row.DID != "",
	}
}

// ListSites handles GET /api/sites.
func (s *Server) ListSites(c *gin.Context) {
	var rows []models.SiteOverride
	if err := s.DB.Order("domain asc").Find(&rows).Error; err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}
	views := make([]SiteOverrideView, 0, len(rows))
	for _, row := range rows {
		views = append(views, overrideView(row))
	}
	response.Success(c, views)
}

// CreateSite handles POST /api/sites.
func (s *Server) CreateSite(c *gin.Context) {
	var payload SiteOverridePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInvalidJSON, err.Error()))
		return
	}
	if apiErr := validateOverridePayload(&payload); apiErr != nil {
		response.Error(c, apiErr)
		return
	}

	row := models.SiteOverride{
		Domain:           payload.Domain,
		Mode:             payload.Mode,
		Name:             strings.TrimSpace(payload.Name),
		URL:              strings.TrimSpace(payload.URL),
		UA:               strings.TrimSpace(payload.UA),
		Template:         payload.Template,
		RegistrationPath: strings.TrimSpace(payload.RegistrationPath),
		InvitePath:       strings.TrimSpace(payload.InvitePath),
		BypassMethod:     payload.BypassMethod,
		Enabled:          true,
	}
	if payload.Enabled != nil {
		row.Enabled = *payload.Enabled
	}
	if apiErr := s.applySecrets(&row, &payload); apiErr != nil {
		response.Error(c, apiErr)
		return
	}

	if err := s.DB.Create(&row).Error; err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}
	response.Success(c, overrideView(row))
}

// UpdateSite handles PUT /api/sites/:id.
func (s *Server) UpdateSite(c *gin.Context) {
	var row models.SiteOverride
	if err := s.DB.Where("id = ?", c.Param("id")).First(&row).Error; err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}

	var payload SiteOverridePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInvalidJSON, err.Error()))
		return
	}
	if payload.Domain == "" {
		payload.Domain = row.Domain
	}
	if payload.Mode == "" {
		payload.Mode = row.Mode
	}
	if payload.URL == "" {
		payload.URL = row.URL
	}
	if apiErr := validateOverridePayload(&payload); apiErr != nil {
		response.Error(c, apiErr)
		return
	}

	row.Domain = payload.Domain
	row.Mode = payload.Mode
	row.Name = strings.TrimSpace(payload.Name)
	row.URL = strings.TrimSpace(payload.URL)
	row.UA = strings.TrimSpace(payload.UA)
	row.Template = payload.Template
	row.RegistrationPath = strings.TrimSpace(payload.RegistrationPath)
	row.InvitePath = strings.TrimSpace(payload.InvitePath)
	row.BypassMethod = payload.BypassMethod
	if payload.Enabled != nil {
		row.Enabled = *payload.Enabled
	}
	if apiErr := s.applySecrets(&row, &payload); apiErr != nil {
		response.Error(c, apiErr)
		return
	}

	if err := s.DB.Save(&row).Error; err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}
	response.Success(c, overrideView(row))
}

// DeleteSite handles DELETE /api/sites/:id. The site's stored state stays
// around; a later scan of the same domain reuses it.
func (s *Server) DeleteSite(c *gin.Context) {
	result := s.DB.Where("id = ?", c.Param("id")).Delete(&models.SiteOverride{})
	if result.Error != nil {
		response.Error(c, app_errors.ParseDBError(result.Error))
		return
	}
	if result.RowsAffected == 0 {
		response.Error(c, app_errors.ErrResourceNotFound)
		return
	}
	response.Success(c, nil)
}

// applySecrets merges the payload's secret fields into the row: nil or the
// mask keeps the stored value, empty clears it, anything else is encrypted
// and stored.
func (s *Server) applySecrets(row *models.SiteOverride, payload *SiteOverridePayload) *app_errors.APIError {
	set := func(target *string, value *string) *app_errors.APIError {
		if value == nil || *value == SecretMask {
			return nil
		}
		if *value == "" {
			*target = ""
			return nil
		}
		encrypted, err := s.EncryptionSvc.Encrypt(*value)
		if err != nil {
			return app_errors.NewAPIError(app_errors.ErrInternalServer, "failed to encrypt credential")
		}
		*target = encrypted
		return nil
	}

	if apiErr := set(&row.Cookie, payload.Cookie); apiErr != nil {
		return apiErr
	}
	if apiErr := set(&row.Authorization, payload.Authorization); apiErr != nil {
		return apiErr
	}
	return set(&row.DID, payload.DID)
}

func validateOverridePayload(payload *SiteOverridePayload) *app_errors.APIError {
	payload.Domain = strings.ToLower(strings.TrimSpace(payload.Domain))
	if payload.Domain == "" {
		return app_errors.NewValidationError("domain is required")
	}

	payload.Mode = strings.ToLower(strings.TrimSpace(payload.Mode))
	switch payload.Mode {
	case "":
		payload.Mode = models.OverrideModeOverride
	case models.OverrideModeOverride, models.OverrideModeManual:
	default:
		return app_errors.NewValidationError("mode must be override or manual")
	}
	if payload.Mode == models.OverrideModeManual && strings.TrimSpace(payload.URL) == "" {
		return app_errors.NewValidationError("manual sites require a URL")
	}

	payload.Template = strings.ToLower(strings.TrimSpace(payload.Template))
	switch payload.Template {
	case "", models.TemplateNexusPHP, models.TemplateCustom, models.TemplateMTeam:
	default:
		return app_errors.NewValidationError("template must be nexusphp, custom or mteam")
	}

	payload.BypassMethod = strings.ToLower(strings.TrimSpace(payload.BypassMethod))
	switch payload.BypassMethod {
	case "":
		payload.BypassMethod = models.BypassMethodNone
	case models.BypassMethodNone, models.BypassMethodStealth:
	default:
		return app_errors.NewValidationError("bypass_method must be none or stealth")
	}

	return nil
}

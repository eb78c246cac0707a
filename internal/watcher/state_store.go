package watcher

import (
	"errors"

	"pt-watch/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StateStore persists per-domain check results.
type StateStore struct {
	db *gorm.DB
}

func NewStateStore(db *gorm.DB) *StateStore {
	return &StateStore{db: db}
}

// Get returns the stored state for a domain, or nil when the domain has never
// been checked.
func (s *StateStore) Get(domain string) (*models.SiteState, error) {
	var state models.SiteState
	err := s.db.Where("domain = ?", normalizeDomain(domain)).First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}

// List returns every stored state ordered by domain.
func (s *StateStore) List() ([]models.SiteState, error) {
	var states []models.SiteState
	if err := s.db.Order("domain asc").Find(&states).Error; err != nil {
		return nil, err
	}
	return states, nil
}

// Upsert writes one state row. LastChangedAt only advances when the caller
// set it; a nil value keeps whatever the row already holds.
func (s *StateStore) Upsert(state models.SiteState) error {
	state.Domain = normalizeDomain(state.Domain)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "domain"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"name":               state.Name,
			"url":                state.URL,
			"engine":             state.Engine,
			"registration_state": state.RegistrationState,
			"invites_state":      state.InvitesState,
			"invites_available":  state.InvitesAvailable,
			"last_checked_at":    state.LastCheckedAt,
			"last_changed_at":    gorm.Expr("COALESCE(?, last_changed_at)", state.LastChangedAt),
			"last_evidence":      state.LastEvidence,
			"updated_at":         gorm.Expr("CURRENT_TIMESTAMP"),
		}),
	}).Create(&state).Error
}

// Delete removes the stored state for a domain.
func (s *StateStore) Delete(domain string) error {
	return s.db.Where("domain = ?", normalizeDomain(domain)).Delete(&models.SiteState{}).Error
}

// Package integration mirrors local data into FreeAgent and maintains the
// per-company cache of FreeAgent reference data.
package integration

import (
	"errors"
	"fmt"
	"time"

	"github.com/orderdesk/orderdesk/internal/freeagent"
	"github.com/orderdesk/orderdesk/internal/platform/httpx"
)

// CachedContact is a FreeAgent contact mirrored locally.
type CachedContact struct {
	ID        int64     `json:"id"`
	CompanyID int64     `json:"-"`
	URL       string    `json:"url"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	SyncedAt  time.Time `json:"synced_at"`
}

// CachedProject is a project row. Locally created projects start with an
// empty URL until the remote create succeeds.
type CachedProject struct {
	ID        int64     `json:"id"`
	CompanyID int64     `json:"-"`
	URL       string    `json:"url,omitempty"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Currency  string    `json:"currency,omitempty"`
	SyncedAt  time.Time `json:"synced_at"`
}

// CachedCategory is a FreeAgent accounting category mirrored locally.
type CachedCategory struct {
	ID          int64  `json:"id"`
	CompanyID   int64  `json:"-"`
	URL         string `json:"url"`
	Description string `json:"description"`
	NominalCode string `json:"nominal_code"`
}

// CompanyDetails is the mirrored FreeAgent company profile.
type CompanyDetails struct {
	CompanyID           int64     `json:"-"`
	Name                string    `json:"name"`
	Subdomain           string    `json:"subdomain,omitempty"`
	Currency            string    `json:"currency"`
	CompanyRegistration string    `json:"company_registration,omitempty"`
	SyncedAt            time.Time `json:"synced_at"`
}

// CompanyData is everything one sync pass replaces.
type CompanyData struct {
	Details    CompanyDetails
	Contacts   []CachedContact
	Projects   []CachedProject
	Categories []CachedCategory
}

// wrapConnectionErr translates credential errors into the HTTP error
// taxonomy: both cases require tenant action, not a retry.
func wrapConnectionErr(err error) error {
	switch {
	case errors.Is(err, freeagent.ErrNotConnected):
		return fmt.Errorf("%w: FreeAgent is not connected", httpx.ErrConflict)
	case errors.Is(err, freeagent.ErrReconnectRequired):
		return fmt.Errorf("%w: FreeAgent connection expired, reconnect required", httpx.ErrConflict)
	}
	return err
}

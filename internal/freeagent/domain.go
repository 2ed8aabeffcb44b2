// Package freeagent integrates with the FreeAgent accounting API.
package freeagent

import (
	"errors"
	"time"
)

// Credential holds the OAuth2 tokens stored per tenant company. Mutated only
// by the refresh routine; read by every outbound FreeAgent call.
type Credential struct {
	CompanyID    int64
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UpdatedAt    time.Time
}

// Expiring reports whether the access token expires within the buffer.
func (c Credential) Expiring(now time.Time, buffer time.Duration) bool {
	return !now.Add(buffer).Before(c.ExpiresAt)
}

// Contact is a FreeAgent contact resource.
type Contact struct {
	URL          string `json:"url"`
	Organisation string `json:"organisation_name"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
}

// Project is a FreeAgent project resource.
type Project struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Currency string `json:"currency"`
	Contact  string `json:"contact"`
}

// Category is a FreeAgent accounting category.
type Category struct {
	URL         string `json:"url"`
	Description string `json:"description"`
	NominalCode string `json:"nominal_code"`
}

// CompanyProfile is the FreeAgent company resource.
type CompanyProfile struct {
	URL                   string `json:"url"`
	Name                  string `json:"name"`
	Subdomain             string `json:"subdomain"`
	Currency              string `json:"currency"`
	CompanyRegistration   string `json:"company_registration_number"`
	SalesTaxRegistration  string `json:"sales_tax_registration_number"`
	FirstAccountingYearEnd string `json:"first_accounting_year_end"`
}

// BillItem is one line of a FreeAgent bill.
type BillItem struct {
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
	TotalValue  string `json:"total_value"`
}

// Bill is the payload for bill creation and the returned resource.
type Bill struct {
	URL       string     `json:"url,omitempty"`
	Contact   string     `json:"contact"`
	Reference string     `json:"reference"`
	DatedOn   string     `json:"dated_on"`
	DueOn     string     `json:"due_on"`
	Currency  string     `json:"currency,omitempty"`
	Items     []BillItem `json:"bill_items"`
}

var (
	// ErrReconnectRequired indicates the refresh grant was rejected or
	// unreachable; callers must not retry with the stale token.
	ErrReconnectRequired = errors.New("freeagent: reconnect required")
	// ErrNotConnected indicates the company has no stored credential.
	ErrNotConnected = errors.New("freeagent: company not connected")
)

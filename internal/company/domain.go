// Package company manages tenant companies, their FreeAgent connection and
// company-level assets.
package company

import "time"

// Company is a tenant.
type Company struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	LogoKey   string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

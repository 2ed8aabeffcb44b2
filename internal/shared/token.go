package shared

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const portalTokenBytes = 32

// NewPortalToken generates the opaque credential embedded in supplier portal
// links. Generated once at order creation and never re-issued.
func NewPortalToken() (string, error) {
	b := make([]byte, portalTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("shared: portal token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

package freeagent

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"
)

// RefreshBuffer is how long before expiry a token is refreshed.
const RefreshBuffer = 300 * time.Second

// Refresher performs the refresh-token grant. Satisfied by *Client.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Credential, error)
}

// Store reads and writes per-company credentials. Satisfied by *CredentialStore.
type Store interface {
	Get(ctx context.Context, companyID int64) (Credential, error)
	Put(ctx context.Context, cred Credential) error
}

// TokenSource guarantees a non-expired bearer token for every outbound call.
type TokenSource struct {
	refresher Refresher
	store     Store
	group     singleflight.Group
	now       func() time.Time
}

// NewTokenSource constructs a TokenSource.
func NewTokenSource(refresher Refresher, store Store) *TokenSource {
	return &TokenSource{refresher: refresher, store: store, now: time.Now}
}

// EnsureToken returns an access token valid for at least RefreshBuffer,
// refreshing and persisting first when needed. Concurrent callers for the
// same company share one refresh exchange. A failed exchange surfaces as
// ErrReconnectRequired; the stale token is never returned.
func (ts *TokenSource) EnsureToken(ctx context.Context, companyID int64) (string, error) {
	cred, err := ts.store.Get(ctx, companyID)
	if err != nil {
		return "", err
	}
	if !cred.Expiring(ts.now(), RefreshBuffer) {
		return cred.AccessToken, nil
	}

	key := strconv.FormatInt(companyID, 10)
	result := ts.group.DoChan(key, func() (any, error) {
		refreshed, err := ts.refresher.Refresh(ctx, cred.RefreshToken)
		if err != nil {
			return nil, err
		}
		refreshed.CompanyID = companyID
		if err := ts.store.Put(ctx, refreshed); err != nil {
			return nil, err
		}
		return refreshed.AccessToken, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

package gateway

import (
	"time"

	"callsight/internal/auth"
)

// AccessTokenVerifier admits websocket connections carrying a valid access
// token issued by the auth manager.
type AccessTokenVerifier struct {
	Manager *auth.Manager
}

func (v AccessTokenVerifier) VerifyCredential(token string) (string, string, error) {
	claims, err := v.Manager.Verify(token, auth.TokenTypeAccess, time.Now())
	if err != nil {
		return "", "", err
	}
	return claims.UserID, claims.Role, nil
}

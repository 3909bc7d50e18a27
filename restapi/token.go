// Copyright 2026 MatchKeep Contributors
// SPDX-License-Identifier: Apache-2.0

package restapi

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token helpers operate on the access token the host app obtained from the
// auth flow. The client never verifies signatures (the server does); it only
// needs the subject for stamping createdByUserId and the expiry for deciding
// whether the user still counts as authenticated while offline.

var tokenParser = jwt.NewParser()

// UserIDFromToken extracts the subject claim from an access token.
func UserIDFromToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := tokenParser.ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("failed to parse access token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("access token has no subject claim")
	}
	return sub, nil
}

// TokenExpired reports whether the token's exp claim is in the past. Tokens
// without an exp claim are treated as non-expiring.
func TokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := tokenParser.ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(now)
}

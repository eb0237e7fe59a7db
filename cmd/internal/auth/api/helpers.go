package authapi

import (
	"warden/cmd/identity"
	"warden/cmd/internal/auth/session"
)

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		EmailVerified: u.Verified(),
		CreatedAt:     u.CreatedAt,
	}
}

func toSessionsResponse(recs []session.Record, currentID string) sessionsResponse {
	out := make([]sessionResponse, 0, len(recs))
	for _, r := range recs {
		out = append(out, sessionResponse{
			ID:        r.ID,
			Device:    r.Device,
			IssuedAt:  r.IssuedAt,
			ExpiresAt: r.ExpiresAt,
			Current:   r.ID == currentID,
		})
	}
	return sessionsResponse{Sessions: out}
}

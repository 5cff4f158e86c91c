package authapi

import (
	"beacon/cmd/identity"
	"beacon/cmd/internal/auth/guard"
	"beacon/cmd/internal/auth/session"
)

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Identifier:  u.Identifier,
		DisplayName: u.DisplayName,
		Role:        string(u.Role),
		Status:      string(u.Status),
	}
}

func principalResponse(p guard.Principal) userResponse {
	return userResponse{
		ID:          p.UserID,
		DisplayName: p.DisplayName,
		Role:        string(p.Role),
		Status:      string(p.Status),
	}
}

func toSessionResponse(issued session.Issued) sessionResponse {
	return sessionResponse{
		SessionID:        issued.SessionID,
		AccessToken:      issued.AccessToken,
		AccessExpiresAt:  issued.AccessExp,
		RefreshToken:     issued.RefreshToken,
		RefreshExpiresAt: issued.RefreshExp,
	}
}

func toActiveSessions(recs []session.Record) []activeSession {
	out := make([]activeSession, 0, len(recs))
	for _, r := range recs {
		out = append(out, activeSession{
			SessionID:  r.ID,
			DeviceName: r.DeviceName,
			DeviceType: string(r.DeviceType),
			IPAddress:  r.IPAddress,
			UserAgent:  r.UserAgent,
			IssuedAt:   r.IssuedAt,
			ExpiresAt:  r.ExpiresAt,
			LastUsedAt: r.LastUsedAt,
		})
	}
	return out
}

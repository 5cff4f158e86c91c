package authapi

import (
	"log/slog"
	"net"

	"beacon/cmd/internal/auth/autherr"
)

func ipAttr(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

func (h *Handler) auditLoginSuccess(userID, sessionID string, ip net.IP, ua string) {
	h.log.Info("audit.auth.login_success",
		slog.String("user_id", userID),
		slog.String("session_id", sessionID),
		slog.String("ip", ipAttr(ip)),
		slog.String("user_agent", ua),
	)
}

// auditLoginFailed never records the submitted identifier's validity.
func (h *Handler) auditLoginFailed(ip net.IP, ua string, err error) {
	h.log.Warn("audit.auth.login_failed",
		slog.String("code", autherr.Code(err)),
		slog.String("ip", ipAttr(ip)),
		slog.String("user_agent", ua),
	)
}

func (h *Handler) auditLoginThrottled(ip net.IP, scope string) {
	h.log.Warn("audit.auth.login_throttled", slog.String("scope", scope), slog.String("ip", ipAttr(ip)))
}

func (h *Handler) auditRefreshRejected(ip net.IP, err error) {
	h.log.Warn("audit.auth.refresh_rejected", slog.String("code", autherr.Code(err)), slog.String("ip", ipAttr(ip)))
}

func (h *Handler) auditLogoutAll(userID string, revoked int64) {
	h.log.Info("audit.auth.logout_all", slog.String("user_id", userID), slog.Int64("revoked", revoked))
}

func (h *Handler) auditPasswordChanged(userID string, revoked int64) {
	h.log.Info("audit.auth.password_changed", slog.String("user_id", userID), slog.Int64("revoked", revoked))
}

// Package security provides the security plumbing for the authorization
// server: audit logging with PII protection, per-identifier rate limiting,
// secure response headers, client IP extraction, and random token generation.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Auditor handles security event logging with PII protection.
// Resource-owner identifiers are hashed before they reach the log stream.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	ID        string
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_id", event.ID,
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued logs when a token is issued
func (a *Auditor) LogTokenIssued(userID, clientID, ipAddress, grantType, scope string) {
	a.LogEvent(Event{
		Type:      "token_issued",
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"grant_type": grantType,
			"scope":      scope,
		},
	})
}

// LogTokenRevoked logs when a token is revoked
func (a *Auditor) LogTokenRevoked(userID, clientID, ipAddress, tokenKind string) {
	a.LogEvent(Event{
		Type:      "token_revoked",
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"token_kind": tokenKind,
		},
	})
}

// LogRevocationIgnored logs a revocation request that was silently dropped,
// either because the token was unknown or because the caller did not own it.
func (a *Auditor) LogRevocationIgnored(clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      "revocation_ignored",
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(userID, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      "auth_failure",
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, userID string) {
	a.LogEvent(Event{
		Type:      "rate_limit_exceeded",
		UserID:    userID,
		IPAddress: ipAddress,
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}

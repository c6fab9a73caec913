// Package audit records role assignment changes into the append-only
// role_audit table and serves the audit trail to administrators.
package audit

import (
	"net/http"
	"strings"
	"time"
)

// Action enumerates auditable role events.
type Action string

// Audit actions written by the roles service.
const (
	ActionAssigned   Action = "ASSIGNED"
	ActionUnassigned Action = "UNASSIGNED"
)

// Entry is one row of the audit trail. Entries are never updated or deleted.
type Entry struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	RoleID     int64     `json:"role_id"`
	Action     Action    `json:"action"`
	AssignedBy string    `json:"assigned_by"`
	AssignedAt time.Time `json:"assigned_at"`
	Notes      string    `json:"notes,omitempty"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
}

// RequestMeta captures the caller metadata stored with each entry.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// MetaFromRequest extracts caller metadata, preferring the forwarded-for
// header over the raw connection address.
func MetaFromRequest(r *http.Request) RequestMeta {
	ip := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		ip = strings.TrimSpace(first)
	}
	return RequestMeta{IPAddress: ip, UserAgent: r.UserAgent()}
}

package router

import "encoding/json"

// AdminDashboardRoom is the reserved, access-controlled audience for
// administrator dashboards.
const AdminDashboardRoom = "admin-dashboard"

// Message is the JSON frame exchanged with clients in both directions.
// Target carries the room name; Payload is opaque to the gateway.
type Message struct {
	Target  string          `json:"target,omitempty"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DenyReason explains a rejected join. Denials are returned as values,
// never thrown across the component boundary.
type DenyReason string

const (
	DenyNotAuthenticated DenyReason = "notAuthenticated"
	DenyForbidden        DenyReason = "forbidden"
)

type JoinResult struct {
	OK     bool
	Reason DenyReason // empty when OK
}

func joinOK() JoinResult {
	return JoinResult{OK: true}
}

func joinDenied(reason DenyReason) JoinResult {
	return JoinResult{OK: false, Reason: reason}
}

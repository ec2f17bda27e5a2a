package api

import (
	"github.com/viralboard/membersync/pkg/ledger"
	"github.com/viralboard/membersync/pkg/membersync"
)

// ClaimRequest is the body of POST /me/external-id
type ClaimRequest struct {
	// ExternalID is a bare channel ID or a profile URL containing one
	ExternalID string `json:"externalId"`
}

// SyncResponse reports a reconciliation pass
type SyncResponse struct {
	Outcome      membersync.Outcome       `json:"outcome"`
	Account      *membersync.Account      `json:"account,omitempty"`
	Rule         membersync.Rule          `json:"rule,omitempty"`
	Notification *membersync.Notification `json:"notification,omitempty"`
}

// EntitlementResponse is the body of GET /me/entitlement
type EntitlementResponse struct {
	*membersync.EntitlementStatus
	Usage *ledger.Usage `json:"usage,omitempty"`
}

// AccountChangeRequest is the body of PATCH /admin/accounts/{uid}
type AccountChangeRequest struct {
	Role *membersync.Role `json:"role,omitempty"`
	Plan *membersync.Plan `json:"plan,omitempty"`
}

// ExtendRequest is the body of POST /admin/accounts/{uid}/extend
type ExtendRequest struct {
	Days   int    `json:"days"`
	Reason string `json:"reason"`
}

// AuditResponse is the body of GET /admin/accounts/{uid}/audit
type AuditResponse struct {
	UID     string                    `json:"uid"`
	Entries []*membersync.AuditRecord `json:"entries"`
}

// ErrorResponse is the default error body
type ErrorResponse struct {
	Error   string   `json:"error"`
	Preview []string `json:"preview,omitempty"`
}

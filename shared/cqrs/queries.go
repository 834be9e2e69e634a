package cqrs

import "github.com/brokerdesk/platform/shared/models"

// ---------- Account queries ----------

type GetAccountQuery struct {
	AccountID string
}

// ListAccountsQuery is admin-only. Search matches id or full name.
type ListAccountsQuery struct {
	Search string
}

// ---------- Request queries ----------

// ListRequestsQuery lists one request collection in insertion order.
// Empty AccountID or Status means no filter.
type ListRequestsQuery struct {
	Kind      models.RequestKind
	AccountID string
	Status    models.RequestStatus
}

// GetRequestQuery fetches one request. A non-empty AccountID restricts the
// result to that account's own requests.
type GetRequestQuery struct {
	Kind      models.RequestKind
	RequestID string
	AccountID string
}

// ---------- Per-account history ----------

type ListReferralsQuery struct {
	AccountID string
}

type ListPositionsQuery struct {
	AccountID string
}

type ListJournalQuery struct {
	AccountID string
}

type ListActivityQuery struct {
	AccountID string
	Limit     int64
}

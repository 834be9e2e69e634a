package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type RequestKind string

const (
	KindDeposit    RequestKind = "deposit"
	KindWithdrawal RequestKind = "withdrawal"
	KindCredit     RequestKind = "credit"
	KindKYC        RequestKind = "kyc"
)

// RequestKinds lists every kind in a stable order.
var RequestKinds = []RequestKind{KindDeposit, KindWithdrawal, KindCredit, KindKYC}

// ParseRequestKind accepts the lowercase kind names used in URLs.
func ParseRequestKind(s string) (RequestKind, bool) {
	for _, k := range RequestKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// HasAmount is false only for KYC submissions.
func (k RequestKind) HasAmount() bool {
	return k != KindKYC
}

type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

// IsTerminal reports whether no further transition is allowed.
func (s RequestStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

func ParseRequestStatus(s string) (RequestStatus, bool) {
	switch RequestStatus(s) {
	case StatusPending, StatusApproved, StatusRejected:
		return RequestStatus(s), true
	}
	return "", false
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func ParseDecision(s string) (Decision, bool) {
	switch Decision(s) {
	case DecisionApprove, DecisionReject:
		return Decision(s), true
	}
	return "", false
}

// Status is the terminal status a decision leads to.
func (d Decision) Status() RequestStatus {
	if d == DecisionApprove {
		return StatusApproved
	}
	return StatusRejected
}

// RequestPayload is the kind-specific part of a Request. Only the payload
// types in this package implement it.
type RequestPayload interface {
	Kind() RequestKind
	isRequestPayload()
}

type DepositPayload struct {
	Currency string `json:"currency"`
	Proof    string `json:"proof,omitempty"`
}

type WithdrawalPayload struct {
	Address   string `json:"address"`
	WalletUID string `json:"walletUid,omitempty"`
}

type CreditPayload struct {
	Reason string `json:"reason,omitempty"`
}

type KYCPayload struct {
	FullName string `json:"fullName"`
	IDNumber string `json:"idNumber"`
	Country  string `json:"country"`
	Document string `json:"document,omitempty"`
}

func (DepositPayload) Kind() RequestKind    { return KindDeposit }
func (WithdrawalPayload) Kind() RequestKind { return KindWithdrawal }
func (CreditPayload) Kind() RequestKind     { return KindCredit }
func (KYCPayload) Kind() RequestKind        { return KindKYC }

func (DepositPayload) isRequestPayload()    {}
func (WithdrawalPayload) isRequestPayload() {}
func (CreditPayload) isRequestPayload()     {}
func (KYCPayload) isRequestPayload()        {}

// DecodePayload rebuilds the payload of the given kind from its JSON form.
func DecodePayload(kind RequestKind, data []byte) (RequestPayload, error) {
	var (
		p   RequestPayload
		err error
	)
	switch kind {
	case KindDeposit:
		var v DepositPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindWithdrawal:
		var v WithdrawalPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindCredit:
		var v CreditPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindKYC:
		var v KYCPayload
		err = json.Unmarshal(data, &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown request kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", kind, err)
	}
	return p, nil
}

// Request is an admin-gated ask to change money or trading permission.
// Amount is zero for KYC. Only Status and ResolvedAt ever change after
// creation.
type Request struct {
	ID         string
	AccountID  string
	Kind       RequestKind
	Amount     decimal.Decimal
	Status     RequestStatus
	Payload    RequestPayload
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

type requestJSON struct {
	ID         string           `json:"id"`
	AccountID  string           `json:"accountId"`
	Kind       RequestKind      `json:"kind"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Status     RequestStatus    `json:"status"`
	Payload    json.RawMessage  `json:"payload"`
	CreatedAt  time.Time        `json:"createdTimestamp"`
	ResolvedAt *time.Time       `json:"resolvedTimestamp,omitempty"`
}

func (r Request) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return nil, err
	}
	out := requestJSON{
		ID:         r.ID,
		AccountID:  r.AccountID,
		Kind:       r.Kind,
		Status:     r.Status,
		Payload:    payload,
		CreatedAt:  r.CreatedAt,
		ResolvedAt: r.ResolvedAt,
	}
	if r.Kind.HasAmount() {
		amount := r.Amount
		out.Amount = &amount
	}
	return json.Marshal(out)
}

func (r *Request) UnmarshalJSON(data []byte) error {
	var in requestJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	payload, err := DecodePayload(in.Kind, in.Payload)
	if err != nil {
		return err
	}
	*r = Request{
		ID:         in.ID,
		AccountID:  in.AccountID,
		Kind:       in.Kind,
		Status:     in.Status,
		Payload:    payload,
		CreatedAt:  in.CreatedAt,
		ResolvedAt: in.ResolvedAt,
	}
	if in.Amount != nil {
		r.Amount = *in.Amount
	}
	return nil
}

// Clone copies the request including its ResolvedAt pointer target.
func (r *Request) Clone() *Request {
	cp := *r
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

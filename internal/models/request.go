package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RequestStatus string

const (
	RequestPending    RequestStatus = "PENDING"
	RequestProcessing RequestStatus = "PROCESSING"
	RequestCompleted  RequestStatus = "COMPLETED"
	RequestFailed     RequestStatus = "FAILED"
	RequestRejected   RequestStatus = "REJECTED"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestProcessing, RequestCompleted, RequestFailed, RequestRejected:
		return true
	}
	return false
}

func (s RequestStatus) Terminal() bool {
	return s == RequestCompleted || s == RequestFailed || s == RequestRejected
}

// Refundable reports whether entering s reverses the original debit.
func (s RequestStatus) Refundable() bool {
	return s == RequestFailed || s == RequestRejected
}

// ServiceRequest is the record shared by every service category. FormData and
// ResultPayload are category specific and opaque to the lifecycle.
type ServiceRequest struct {
	ID             string          `db:"id" json:"id"`
	UserID         string          `db:"user_id" json:"user_id"`
	ServiceID      string          `db:"service_id" json:"service_id"`
	Category       string          `db:"category" json:"category"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	CommissionRate decimal.Decimal `db:"commission_rate" json:"-"`
	Reference      string          `db:"reference" json:"reference"`
	FormData       Payload         `db:"form_data" json:"form_data"`
	Status         RequestStatus   `db:"status" json:"status"`
	StatusMessage  string          `db:"status_message" json:"status_message"`
	ResultPayload  Payload         `db:"result_payload" json:"result_payload,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

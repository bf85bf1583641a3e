package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleAgent      Role = "agent"
	RoleAggregator Role = "aggregator"
)

func (r Role) Valid() bool {
	return r == RoleAgent || r == RoleAggregator
}

type User struct {
	ID            string    `db:"id" json:"id"`
	Username      string    `db:"username" json:"username"`
	Email         string    `db:"email" json:"email"`
	PasswordHash  string    `db:"password_hash" json:"-"`
	Role          Role      `db:"role" json:"role"`
	AggregatorID  *string   `db:"aggregator_id" json:"aggregator_id,omitempty"`
	BankName      string    `db:"bank_name" json:"bank_name"`
	AccountNumber string    `db:"account_number" json:"account_number"`
	AccountName   string    `db:"account_name" json:"account_name"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

type Wallet struct {
	UserID            string          `db:"user_id" json:"user_id"`
	Balance           decimal.Decimal `db:"balance" json:"balance"`
	CommissionBalance decimal.Decimal `db:"commission_balance" json:"commission_balance"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

type TransactionType string

const (
	TransactionDebit      TransactionType = "DEBIT"
	TransactionCredit     TransactionType = "CREDIT"
	TransactionRefund     TransactionType = "REFUND"
	TransactionCommission TransactionType = "COMMISSION"
)

type TransactionStatus string

const (
	TransactionCompleted TransactionStatus = "COMPLETED"
	// TransactionReversed is derived on read for a DEBIT whose reference has a
	// REFUND. Stored rows are never updated.
	TransactionReversed TransactionStatus = "REVERSED"
)

type Transaction struct {
	ID          string            `db:"id" json:"id"`
	UserID      string            `db:"user_id" json:"user_id"`
	Type        TransactionType   `db:"type" json:"type"`
	Amount      decimal.Decimal   `db:"amount" json:"amount"`
	Description string            `db:"description" json:"description"`
	Reference   string            `db:"reference" json:"reference"`
	Status      TransactionStatus `db:"status" json:"status"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
}

type PendingAccountChange struct {
	UserID           string    `db:"user_id" json:"user_id"`
	NewBankName      string    `db:"new_bank_name" json:"new_bank_name"`
	NewAccountNumber string    `db:"new_account_number" json:"new_account_number"`
	NewAccountName   string    `db:"new_account_name" json:"new_account_name"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

type AccountDetails struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

func (c PendingAccountChange) Details() AccountDetails {
	return AccountDetails{
		BankName:      c.NewBankName,
		AccountNumber: c.NewAccountNumber,
		AccountName:   c.NewAccountName,
	}
}

// Service is the pricing descriptor for one purchasable service.
type Service struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	Price          decimal.Decimal `json:"price"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	Active         bool            `json:"active"`
	Instant        bool            `json:"instant"`
	ProviderURL    string          `json:"-"`
}

// VariablePrice reports whether the requester chooses the amount (airtime,
// data top-ups).
func (s Service) VariablePrice() bool {
	return s.Price.IsZero()
}

type AuditEntry struct {
	ID         string    `db:"id" json:"id"`
	ActorID    *string   `db:"actor_user_id" json:"actor_user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	EntityType string    `db:"entity_type" json:"entity_type"`
	EntityID   string    `db:"entity_id" json:"entity_id"`
	Data       string    `db:"data" json:"data"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// AdminRole is a back-office capability granted to a non-super admin.
type AdminRole string

const (
	AdminReviewRequests       AdminRole = "CanReviewRequests"
	AdminApproveAccountChange AdminRole = "CanApproveAccountChanges"
	AdminManageWallets        AdminRole = "CanManageWallets"
	AdminViewTransactions     AdminRole = "CanViewTransactions"
)

func (r AdminRole) Valid() bool {
	switch r {
	case AdminReviewRequests, AdminApproveAccountChange, AdminManageWallets, AdminViewTransactions:
		return true
	}
	return false
}

type AdminAccess struct {
	IsAdmin bool
	IsSuper bool
}

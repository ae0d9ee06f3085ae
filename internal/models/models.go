package models

import "time"

// User is the slice of the account row the pipeline needs. Credits is the
// balance; it is only ever changed through conditional updates in ledger.
type User struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Email     string    `gorm:"type:varchar(191);uniqueIndex;not null" json:"email"`
	Username  string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	Credits   int64     `gorm:"not null;default:0" json:"credits"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

type TxDirection string

const (
	TxCredit TxDirection = "credit"
	TxDebit  TxDirection = "debit"
)

// Ledger reasons.
const (
	ReasonTurn        = "turn"
	ReasonPurchase    = "purchase"
	ReasonAdjustment  = "admin_adjustment"
	ReasonDiscrepancy = "ledger_discrepancy"
)

// CreditTransaction is an append-only audit row for every balance change.
type CreditTransaction struct {
	ID        uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint64      `gorm:"not null;index;index:uniq_credit_tx_ref,unique,priority:1" json:"user_id"`
	Amount    int64       `gorm:"not null" json:"amount"`
	Direction TxDirection `gorm:"type:varchar(8);not null" json:"direction"`
	Reason    string      `gorm:"type:varchar(32);index;not null" json:"reason"`
	// Reference is an optional idempotency key (payment id, grant id).
	Reference *string `gorm:"type:varchar(128);index:uniq_credit_tx_ref,unique,priority:2" json:"reference,omitempty"`
	// ConversationID links turn debits and discrepancies to their conversation.
	ConversationID *string   `gorm:"type:varchar(26);index" json:"conversation_id,omitempty"`
	BalanceAfter   int64     `gorm:"not null" json:"balance_after"`
	CreatedAt      time.Time `json:"created_at"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

// Setting is a platform-wide key/value row written by the admin collaborator.
type Setting struct {
	Key       string    `gorm:"primaryKey;type:varchar(64)" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Setting) TableName() string { return "settings" }

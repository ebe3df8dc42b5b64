package model

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PaymentSource is where funds for a payment row came from.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type PaymentSource string

const (
	PaymentSourceBalance PaymentSource = "BALANCE"
	PaymentSourceFiat    PaymentSource = "FIAT"
	PaymentSourceCrypto  PaymentSource = "CRYPTO"
)

// Valid returns true if the PaymentSource is known.
func (s PaymentSource) Valid() bool {
	return s == PaymentSourceBalance || s == PaymentSourceFiat || s == PaymentSourceCrypto
}

// UnmarshalText implements encoding.TextUnmarshaler for flag and env parsing.
func (s *PaymentSource) UnmarshalText(text []byte) error {
	v := PaymentSource(strings.ToUpper(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid PaymentSource: %q", string(text))
	}
	*s = v
	return nil
}

// PaymentType is the direction of a ledger row.
type PaymentType string

const (
	PaymentTypeDeposit    PaymentType = "DEPOSIT"
	PaymentTypeWithdrawal PaymentType = "WITHDRAWAL"
	PaymentTypeRefund     PaymentType = "REFUND"
)

// Valid returns true if the PaymentType is known.
func (t PaymentType) Valid() bool {
	return t == PaymentTypeDeposit || t == PaymentTypeWithdrawal || t == PaymentTypeRefund
}

// Payment is one row of a user's internal ledger. Amount is in the smallest unit.
type Payment struct {
	ID        int64         `json:"id"              db:"id"`
	UserID    int64         `json:"userId"          db:"user_id"`
	JobID     *int64        `json:"jobId,omitempty" db:"job_id"`
	Source    PaymentSource `json:"source"          db:"source"`
	Type      PaymentType   `json:"type"            db:"type"`
	Amount    string        `json:"amount"          db:"amount"`
	CreatedAt time.Time     `json:"createdAt"       db:"created_at"`
}

// SavePaymentParams records a balance movement.
type SavePaymentParams struct {
	UserID int64
	JobID  *int64
	Source PaymentSource
	Type   PaymentType
	Amount *big.Int
}

// Validate validates the SavePaymentParams fields.
func (p SavePaymentParams) Validate() error {
	if p.UserID <= 0 {
		return fmt.Errorf("user id is required")
	}
	if !p.Source.Valid() {
		return fmt.Errorf("invalid payment source %q", p.Source)
	}
	if !p.Type.Valid() {
		return fmt.Errorf("invalid payment type %q", p.Type)
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// EscrowConfig is the configuration written into a newly created escrow.
type EscrowConfig struct {
	RecordingOracle     common.Address
	ReputationOracle    common.Address
	RecordingOracleFee  int64
	ReputationOracleFee int64
	ManifestURL         string
	ManifestHash        string
}

// WebhookPayload announces a launched escrow to another oracle, or reports an
// event about one back to the launcher.
type WebhookPayload struct {
	EscrowAddress string `json:"escrowAddress"`
	ChainID       int64  `json:"chainId"`
	EventType     string `json:"eventType,omitempty"`
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the per-user ledger row. Reserved funds are earmarked for
// in-flight invoices and are not available for new reservations.
type Balance struct {
	UserId    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	Reserved  decimal.Decimal `json:"reserved"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewBalance returns an empty ledger row for a user.
func NewBalance(userID string) *Balance {
	return &Balance{
		UserId:    userID,
		Balance:   decimal.Zero,
		Reserved:  decimal.Zero,
		UpdatedAt: time.Now().UTC(),
	}
}

// Available is the part of the balance that can still be reserved.
func (b *Balance) Available() decimal.Decimal {
	return b.Balance.Sub(b.Reserved)
}

// Reserve earmarks amount. It fails without mutation when amount is not
// positive or exceeds the available funds.
func (b *Balance) Reserve(amount decimal.Decimal) bool {
	if !amount.IsPositive() {
		return false
	}
	if b.Available().LessThan(amount) {
		return false
	}
	b.Reserved = b.Reserved.Add(amount)
	b.touch()
	return true
}

// DebitReserved permanently removes a previously reserved amount.
// The balance is floored at zero.
func (b *Balance) DebitReserved(amount decimal.Decimal) bool {
	if !amount.IsPositive() {
		return false
	}
	if b.Reserved.LessThan(amount) {
		return false
	}
	b.Reserved = b.Reserved.Sub(amount)
	b.Balance = decimal.Max(decimal.Zero, b.Balance.Sub(amount))
	b.touch()
	return true
}

// Release returns a reserved amount to the available funds.
func (b *Balance) Release(amount decimal.Decimal) bool {
	if !amount.IsPositive() {
		return false
	}
	if b.Reserved.LessThan(amount) {
		return false
	}
	b.Reserved = b.Reserved.Sub(amount)
	b.touch()
	return true
}

// Credit adds funds. Non-positive amounts are ignored.
func (b *Balance) Credit(amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	b.Balance = b.Balance.Add(amount)
	b.touch()
}

// Compensate undoes a payment's hold on the ledger according to the phase
// the payment reached: a reservation is released, a debit is credited back.
func (b *Balance) Compensate(phase PaymentPhase, amount decimal.Decimal) bool {
	if phase == PhaseDebited {
		b.Credit(amount)
		return true
	}
	return b.Release(amount)
}

func (b *Balance) touch() {
	b.Version++
	b.UpdatedAt = time.Now().UTC()
}

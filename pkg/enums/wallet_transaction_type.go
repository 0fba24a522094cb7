package enums

import "fmt"

// WalletTransactionType classifies an append-only ledger entry.
type WalletTransactionType string

const (
	WalletTransactionDeposit WalletTransactionType = "DEPOSIT"
	WalletTransactionPayment WalletTransactionType = "PAYMENT"
	WalletTransactionRefund  WalletTransactionType = "REFUND"
)

var validWalletTransactionTypes = []WalletTransactionType{
	WalletTransactionDeposit,
	WalletTransactionPayment,
	WalletTransactionRefund,
}

// String implements fmt.Stringer.
func (w WalletTransactionType) String() string {
	return string(w)
}

// IsValid reports whether the value is a known WalletTransactionType.
func (w WalletTransactionType) IsValid() bool {
	for _, candidate := range validWalletTransactionTypes {
		if candidate == w {
			return true
		}
	}
	return false
}

// IsDebit reports whether entries of this type take money out of the wallet.
func (w WalletTransactionType) IsDebit() bool {
	return w == WalletTransactionPayment
}

// ParseWalletTransactionType converts raw input into a WalletTransactionType.
func ParseWalletTransactionType(value string) (WalletTransactionType, error) {
	for _, candidate := range validWalletTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid wallet transaction type %q", value)
}

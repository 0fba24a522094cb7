package enums

import "fmt"

// PaymentPurpose distinguishes the deposit from the final settlement of an order.
type PaymentPurpose string

const (
	PaymentPurposeDeposit PaymentPurpose = "DEPOSIT"
	PaymentPurposeFinal   PaymentPurpose = "FINAL"
)

var validPaymentPurposes = []PaymentPurpose{
	PaymentPurposeDeposit,
	PaymentPurposeFinal,
}

func (p PaymentPurpose) String() string {
	return string(p)
}

func (p PaymentPurpose) IsValid() bool {
	for _, candidate := range validPaymentPurposes {
		if candidate == p {
			return true
		}
	}
	return false
}

func ParsePaymentPurpose(value string) (PaymentPurpose, error) {
	for _, candidate := range validPaymentPurposes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment purpose %q", value)
}

package orders

import "github.com/shopspring/decimal"

var (
	depositRate = decimal.RequireFromString("0.10")
	hundred     = decimal.NewFromInt(100)
)

// Price is the stored breakdown of an order.
type Price struct {
	Base     decimal.Decimal `json:"basePrice"`
	Discount decimal.Decimal `json:"promotionDiscount"`
	Total    decimal.Decimal `json:"totalPrice"`
	Deposit  decimal.Decimal `json:"depositAmount"`
	Final    decimal.Decimal `json:"finalAmount"`
}

// Quote computes the price once at creation. Amounts round half-up to two
// decimals; the deposit never exceeds the total.
func Quote(base, discountPercent decimal.Decimal) Price {
	discount := base.Mul(discountPercent).Div(hundred).Round(2)
	total := base.Sub(discount)
	deposit := total.Mul(depositRate).Round(2)
	return Price{
		Base:     base,
		Discount: discount,
		Total:    total,
		Deposit:  deposit,
		Final:    total.Sub(deposit),
	}
}

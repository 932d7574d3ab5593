package model

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// SettlementCurrency is the single currency every NAV is expressed in.
const SettlementCurrency = money.USD

// FormatMoney renders amount in the currency's conventional format,
// rounded to the currency's minor unit (e.g. "$10,238.20").
func FormatMoney(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return amount.StringFixed(2) + " " + currency
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(minor, currency).Display()
}

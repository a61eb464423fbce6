package models

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// Money is an amount in the school's currency. It always travels as a
// string with exactly two decimals, e.g. "-5.00".
type Money struct {
	decimal.Decimal
}

// MoneyOf rounds d to cents
func MoneyOf(d decimal.Decimal) Money {
	return Money{d.Round(2)}
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(m.StringFixed(2))), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	return m.Decimal.UnmarshalJSON(data)
}

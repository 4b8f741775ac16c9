// Package money holds decimal amounts that must come back from the database
// exactly as they were written.
package money

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Scale is the largest number of fractional digits a stored amount may carry
const Scale = 8

// Amount is a decimal persisted without loss. Postgres keeps it in a fixed
// scale numeric column. sqlite has no exact numeric storage (NUMERIC affinity
// turns "123.456789" into a float64), so there it is kept as text and
// compared through CAST in queries.
type Amount struct {
	decimal.Decimal
}

// New wraps a decimal
func New(d decimal.Decimal) Amount {
	return Amount{Decimal: d}
}

// NewFromInt returns a whole amount
func NewFromInt(v int64) Amount {
	return Amount{Decimal: decimal.NewFromInt(v)}
}

// RequireFromString parses s and panics when it is not a number
func RequireFromString(s string) Amount {
	return Amount{Decimal: decimal.RequireFromString(s)}
}

// GormDBDataType picks the column type per dialect
func (Amount) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "numeric(38,8)"
	}
	return "text"
}

// HasScale reports whether d has at most places fractional digits
func HasScale(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Truncate(places))
}

// Numeric wraps a column so sqlite compares and sums it as a number
func Numeric(column string) string {
	return "CAST(" + column + " AS NUMERIC)"
}

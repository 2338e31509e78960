package services

import (
	"time"

	"github.com/shopspring/decimal"

	"circulation/internal/models"
)

// ─── Fine Calculation Constants ───────────────────────────────────────────────

const (
	// BorrowPeriodDays is the number of days a student may keep a book.
	BorrowPeriodDays = 14

	// Day is the unit overdue time is counted in.
	Day = 24 * time.Hour

	// finePerDay is the fine, in currency units, charged per started day overdue.
	finePerDay = 2
)

// DueDate returns the due instant for a loan issued at issuedAt.
func DueDate(issuedAt time.Time) time.Time {
	return issuedAt.AddDate(0, 0, BorrowPeriodDays)
}

// DaysOverdue counts started days between dueDate and asOf. Any overage,
// however small, counts as a full day. Returns 0 when asOf is not after dueDate.
func DaysOverdue(dueDate, asOf time.Time) int64 {
	if !asOf.After(dueDate) {
		return 0
	}
	late := asOf.Sub(dueDate)
	days := int64(late / Day)
	if late%Day != 0 {
		days++
	}
	return days
}

// CalculateFine is the single fine formula used both when a book is returned
// and when a current fine is projected for display.
func CalculateFine(dueDate, asOf time.Time) decimal.Decimal {
	return decimal.NewFromInt(finePerDay * DaysOverdue(dueDate, asOf))
}

// CurrentFine is the fine owed on a record as of asOf: the persisted fine
// once returned, the running fine while borrowed.
func CurrentFine(record *models.BorrowRecord, asOf time.Time) decimal.Decimal {
	if record.Status == models.BorrowStatusReturned {
		return record.Fine
	}
	return CalculateFine(record.DueDate, asOf)
}

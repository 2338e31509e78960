package services

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"circulation/internal/models"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// ListQuery selects one page of the ledger. Status may be Borrowed,
// Returned, Overdue (derived) or empty for all records.
type ListQuery struct {
	Page   int
	Limit  int
	Status models.BorrowStatus
}

func (q ListQuery) normalized() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = defaultPageLimit
	}
	if q.Limit > maxPageLimit {
		q.Limit = maxPageLimit
	}
	return q
}

type BorrowPage struct {
	Records     []models.BorrowRecord `json:"data"`
	Count       int                   `json:"count"`
	Total       int64                 `json:"total"`
	Pages       int                   `json:"pages"`
	CurrentPage int                   `json:"current_page"`
}

// BorrowView is a ledger record with the fine owed on it right now.
type BorrowView struct {
	models.BorrowRecord
	CurrentFine decimal.Decimal `json:"current_fine"`
}

type MyBorrowed struct {
	Records   []BorrowView    `json:"data"`
	Count     int             `json:"count"`
	TotalFine decimal.Decimal `json:"total_fine"`
}

type OverdueView struct {
	models.BorrowRecord
	DaysOverdue    int64           `json:"days_overdue"`
	CalculatedFine decimal.Decimal `json:"calculated_fine"`
}

type NewBook struct {
	Title       string
	Author      string
	ISBN        string
	TotalCopies int
	CourseID    *uuid.UUID
}

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func init() {
	// Fines are rendered as JSON numbers; the SPA does arithmetic on them.
	decimal.MarshalJSONWithoutQuotes = true
}

type Role string

const (
	RoleAdministrator Role = "Administrator"
	RoleStudent       Role = "Student"
)

type BorrowStatus string

const (
	BorrowStatusBorrowed BorrowStatus = "Borrowed"
	BorrowStatusReturned BorrowStatus = "Returned"

	// BorrowStatusOverdue is accepted as a list filter but never stored.
	// Overdue-ness is derived from due_date at read time.
	BorrowStatusOverdue BorrowStatus = "Overdue"
)

// Principal is the authenticated caller handed to the services by the
// HTTP boundary. The services trust it and only assert the role.
type Principal struct {
	SubjectID uuid.UUID
	Role      Role
}

// User is owned by the identity provider; this service only reads it.
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Email     string    `gorm:"size:255;not null;uniqueIndex" json:"email"`
	Role      Role      `gorm:"size:32;not null;index" json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

type Book struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Title           string     `gorm:"size:255;not null" json:"title"`
	Author          string     `gorm:"size:255;not null" json:"author"`
	ISBN            string     `gorm:"column:isbn;size:32;not null;uniqueIndex" json:"isbn"`
	CourseID        *uuid.UUID `gorm:"type:uuid;index" json:"course_id,omitempty"`
	TotalCopies     int        `gorm:"not null;check:chk_books_total,total_copies >= 0" json:"total_copies"`
	AvailableCopies int        `gorm:"not null;index;check:chk_books_available,available_copies >= 0 AND available_copies <= total_copies" json:"available_copies"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (b *Book) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// CopiesOut is the number of copies currently lent.
func (b *Book) CopiesOut() int {
	return b.TotalCopies - b.AvailableCopies
}

// BorrowRecord is one issue event in the ledger. It is created Borrowed and
// closed exactly once, on return.
type BorrowRecord struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	StudentID  uuid.UUID       `gorm:"type:uuid;not null;index" json:"student_id"`
	Student    *User           `gorm:"foreignKey:StudentID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"student,omitempty"`
	BookID     uuid.UUID       `gorm:"type:uuid;not null;index" json:"book_id"`
	Book       *Book           `gorm:"foreignKey:BookID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"book,omitempty"`
	IssueDate  time.Time       `gorm:"not null;index" json:"issue_date"`
	DueDate    time.Time       `gorm:"not null;index" json:"due_date"`
	ReturnDate *time.Time      `json:"return_date"`
	Fine       decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"fine"`
	Status     BorrowStatus    `gorm:"size:16;not null;index" json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (r *BorrowRecord) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// IsActive reports whether the loan is still open.
func (r *BorrowRecord) IsActive() bool {
	return r.Status == BorrowStatusBorrowed
}

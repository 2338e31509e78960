package repositories

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"circulation/internal/models"
)

// BorrowFilter narrows ledger listings. Zero values mean "no constraint".
type BorrowFilter struct {
	StudentID *uuid.UUID
	Status    models.BorrowStatus
	// DueBefore keeps only records whose due_date is strictly earlier.
	DueBefore *time.Time
}

type UserRepository interface {
	Create(db *gorm.DB, user *models.User) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.User, error)
}

type BookRepository interface {
	Create(db *gorm.DB, book *models.Book) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.Book, error)
	GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Book, error)
	DecrementAvailable(db *gorm.DB, bookID uuid.UUID) (bool, error)
	IncrementAvailable(db *gorm.DB, bookID uuid.UUID) (bool, error)
	SetCopies(db *gorm.DB, bookID uuid.UUID, total, available int) error
}

type BorrowRepository interface {
	Create(db *gorm.DB, record *models.BorrowRecord) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.BorrowRecord, error)
	GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.BorrowRecord, error)
	GetWithDetails(db *gorm.DB, id uuid.UUID) (*models.BorrowRecord, error)
	FindActive(db *gorm.DB, studentID, bookID uuid.UUID) (*models.BorrowRecord, error)
	MarkReturned(db *gorm.DB, id uuid.UUID, returnedAt time.Time, fine decimal.Decimal) (bool, error)
	List(db *gorm.DB, filter BorrowFilter, order string, offset, limit int) ([]models.BorrowRecord, error)
	Count(db *gorm.DB, filter BorrowFilter) (int64, error)
}

// concrete implementations

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(db *gorm.DB, user *models.User) error {
	if db == nil {
		db = r.db
	}
	return db.Create(user).Error
}

func (r *userRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.User, error) {
	if db == nil {
		db = r.db
	}
	var user models.User
	if err := db.First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

type bookRepository struct {
	db *gorm.DB
}

func NewBookRepository(db *gorm.DB) BookRepository {
	return &bookRepository{db: db}
}

func (r *bookRepository) Create(db *gorm.DB, book *models.Book) error {
	if db == nil {
		db = r.db
	}
	return db.Create(book).Error
}

func (r *bookRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.Book, error) {
	if db == nil {
		db = r.db
	}
	var book models.Book
	if err := db.First(&book, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

// GetByIDForUpdate locks the book row until the surrounding transaction ends.
// SQLite ignores the locking clause; it serialises writers itself.
func (r *bookRepository) GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Book, error) {
	if db == nil {
		db = r.db
	}
	var book models.Book
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&book, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// DecrementAvailable takes one copy out of circulation. It reports false,
// without error, when no copy was available.
func (r *bookRepository) DecrementAvailable(db *gorm.DB, bookID uuid.UUID) (bool, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Book{}).
		Where("id = ? AND available_copies > 0", bookID).
		UpdateColumn("available_copies", gorm.Expr("available_copies - 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// IncrementAvailable puts one copy back. It reports false, without error,
// when the counter already equals total_copies.
func (r *bookRepository) IncrementAvailable(db *gorm.DB, bookID uuid.UUID) (bool, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Book{}).
		Where("id = ? AND available_copies < total_copies", bookID).
		UpdateColumn("available_copies", gorm.Expr("available_copies + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *bookRepository) SetCopies(db *gorm.DB, bookID uuid.UUID, total, available int) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.Book{}).
		Where("id = ?", bookID).
		Updates(map[string]interface{}{
			"total_copies":     total,
			"available_copies": available,
		}).Error
}

type borrowRepository struct {
	db *gorm.DB
}

func NewBorrowRepository(db *gorm.DB) BorrowRepository {
	return &borrowRepository{db: db}
}

func (r *borrowRepository) Create(db *gorm.DB, record *models.BorrowRecord) error {
	if db == nil {
		db = r.db
	}
	return db.Omit(clause.Associations).Create(record).Error
}

func (r *borrowRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.BorrowRecord, error) {
	if db == nil {
		db = r.db
	}
	var record models.BorrowRecord
	if err := db.First(&record, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *borrowRepository) GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.BorrowRecord, error) {
	if db == nil {
		db = r.db
	}
	var record models.BorrowRecord
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&record, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// GetWithDetails loads the record with student and book summaries.
func (r *borrowRepository) GetWithDetails(db *gorm.DB, id uuid.UUID) (*models.BorrowRecord, error) {
	if db == nil {
		db = r.db
	}
	var record models.BorrowRecord
	err := withDetails(db).First(&record, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *borrowRepository) FindActive(db *gorm.DB, studentID, bookID uuid.UUID) (*models.BorrowRecord, error) {
	if db == nil {
		db = r.db
	}
	var record models.BorrowRecord
	err := db.
		Where("student_id = ? AND book_id = ? AND status = ?", studentID, bookID, models.BorrowStatusBorrowed).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// MarkReturned closes an open record. It reports false, without error, when
// the record was no longer Borrowed.
func (r *borrowRepository) MarkReturned(db *gorm.DB, id uuid.UUID, returnedAt time.Time, fine decimal.Decimal) (bool, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.BorrowRecord{}).
		Where("id = ? AND status = ?", id, models.BorrowStatusBorrowed).
		Updates(map[string]interface{}{
			"return_date": returnedAt,
			"fine":        fine,
			"status":      models.BorrowStatusReturned,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *borrowRepository) List(db *gorm.DB, filter BorrowFilter, order string, offset, limit int) ([]models.BorrowRecord, error) {
	if db == nil {
		db = r.db
	}
	q := withDetails(applyFilter(db.Model(&models.BorrowRecord{}), filter)).Order(order)
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var records []models.BorrowRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *borrowRepository) Count(db *gorm.DB, filter BorrowFilter) (int64, error) {
	if db == nil {
		db = r.db
	}
	var total int64
	if err := applyFilter(db.Model(&models.BorrowRecord{}), filter).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func applyFilter(q *gorm.DB, filter BorrowFilter) *gorm.DB {
	if filter.StudentID != nil {
		q = q.Where("student_id = ?", *filter.StudentID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.DueBefore != nil {
		q = q.Where("due_date < ?", *filter.DueBefore)
	}
	return q
}

func withDetails(q *gorm.DB) *gorm.DB {
	return q.
		Preload("Student", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "name", "email", "role")
		}).
		Preload("Book", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "title", "author", "isbn", "total_copies", "available_copies")
		})
}

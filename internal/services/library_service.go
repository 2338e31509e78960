package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"circulation/internal/models"
	"circulation/internal/repositories"
)

const instrumentationName = "circulation/internal/services"

// ─── Service Interface ────────────────────────────────────────────────────────

// LibraryService is the borrow/return/fine policy engine plus the catalog
// edits that share its availability counter. Every operation takes the
// caller's Principal and asserts the role it needs.
type LibraryService interface {
	IssueBook(ctx context.Context, actor models.Principal, studentID, bookID uuid.UUID) (*models.BorrowRecord, error)
	SelfBorrow(ctx context.Context, actor models.Principal, bookID uuid.UUID) (*models.BorrowRecord, error)
	ReturnBook(ctx context.Context, actor models.Principal, recordID uuid.UUID) (*models.BorrowRecord, error)

	ListBorrowed(ctx context.Context, actor models.Principal, q ListQuery) (*BorrowPage, error)
	ListMyBorrowed(ctx context.Context, actor models.Principal) (*MyBorrowed, error)
	ListOverdue(ctx context.Context, actor models.Principal) ([]OverdueView, error)

	CreateBook(ctx context.Context, actor models.Principal, in NewBook) (*models.Book, error)
	GetBook(ctx context.Context, bookID uuid.UUID) (*models.Book, error)
	UpdateTotalCopies(ctx context.Context, actor models.Principal, bookID uuid.UUID, totalCopies int) (*models.Book, error)
}

// Option customises a LibraryService.
type Option func(*libraryService)

func WithLogger(log *slog.Logger) Option {
	return func(s *libraryService) { s.log = log }
}

// WithMeterProvider records the service counters on mp instead of the
// global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *libraryService) { s.meters = mp }
}

// WithClock replaces time.Now, mostly for tests that need to travel past a due date.
func WithClock(now func() time.Time) Option {
	return func(s *libraryService) { s.clock = now }
}

// ─── Implementation ───────────────────────────────────────────────────────────

type libraryService struct {
	db         *gorm.DB
	userRepo   repositories.UserRepository
	bookRepo   repositories.BookRepository
	borrowRepo repositories.BorrowRepository

	bookLocks *keyedMutex
	clock     func() time.Time
	log       *slog.Logger
	meters    metric.MeterProvider

	tracer   trace.Tracer
	issued   metric.Int64Counter
	returned metric.Int64Counter
	fined    metric.Int64Counter
}

// NewLibraryService wires up all dependencies and returns a LibraryService.
func NewLibraryService(
	db *gorm.DB,
	userRepo repositories.UserRepository,
	bookRepo repositories.BookRepository,
	borrowRepo repositories.BorrowRepository,
	opts ...Option,
) LibraryService {
	s := &libraryService{
		db:         db,
		userRepo:   userRepo,
		bookRepo:   bookRepo,
		borrowRepo: borrowRepo,
		bookLocks:  newKeyedMutex(),
		clock:      time.Now,
		log:        slog.Default(),
		meters:     otel.GetMeterProvider(),
		tracer:     otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}

	meter := s.meters.Meter(instrumentationName)
	s.issued = s.counter(meter, "library.books.issued", "Books issued to students")
	s.returned = s.counter(meter, "library.books.returned", "Books returned")
	s.fined = s.counter(meter, "library.fines.assessed", "Fine units assessed on return")
	return s
}

func (s *libraryService) counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		s.log.Warn("metric instrument unavailable", "name", name, "err", err)
		return noop.Int64Counter{}
	}
	return c
}

// now is UTC at the precision postgres keeps, so the values handed back to
// callers equal the ones read back later.
func (s *libraryService) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// ─── Issue ────────────────────────────────────────────────────────────────────

// IssueBook lends a book to a student on an administrator's behalf.
func (s *libraryService) IssueBook(ctx context.Context, actor models.Principal, studentID, bookID uuid.UUID) (*models.BorrowRecord, error) {
	if err := requireRole(actor, models.RoleAdministrator); err != nil {
		s.log.Warn("IssueBook: rejected", "actor", actor.SubjectID, "role", actor.Role)
		return nil, err
	}
	return s.issue(ctx, "IssueBook", studentID, bookID)
}

// SelfBorrow lends a book to the calling student.
func (s *libraryService) SelfBorrow(ctx context.Context, actor models.Principal, bookID uuid.UUID) (*models.BorrowRecord, error) {
	if err := requireRole(actor, models.RoleStudent); err != nil {
		s.log.Warn("SelfBorrow: rejected", "actor", actor.SubjectID, "role", actor.Role)
		return nil, err
	}
	return s.issue(ctx, "SelfBorrow", actor.SubjectID, bookID)
}

// issue implements the transactional issue flow.
//
// Steps (all in one transaction, under the book's lock):
//  1. Student must exist with the Student role.
//  2. Book must exist; its row is locked (FOR UPDATE).
//  3. At least one copy must be available.
//  4. The student must not already hold an active loan of the book.
//  5. Insert the Borrowed record, due BorrowPeriodDays later.
//  6. Decrement available_copies; if that finds no copy the insert is rolled back.
func (s *libraryService) issue(ctx context.Context, op string, studentID, bookID uuid.UUID) (*models.BorrowRecord, error) {
	ctx, span := s.tracer.Start(ctx, "library.issue", trace.WithAttributes(
		attribute.String("op", op),
		attribute.String("student.id", studentID.String()),
		attribute.String("book.id", bookID.String()),
	))
	defer span.End()

	unlock := s.bookLocks.Lock(bookID)
	defer unlock()

	var issued *models.BorrowRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		student, err := s.userRepo.GetByID(tx, studentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrStudentNotFound
			}
			return fmt.Errorf("load student: %w", err)
		}
		if student.Role != models.RoleStudent {
			return ErrStudentNotFound
		}

		book, err := s.bookRepo.GetByIDForUpdate(tx, bookID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return fmt.Errorf("load book: %w", err)
		}
		if book.AvailableCopies <= 0 {
			return ErrBookUnavailable
		}

		if _, err := s.borrowRepo.FindActive(tx, studentID, bookID); err == nil {
			return ErrAlreadyBorrowed
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check active borrow: %w", err)
		}

		now := s.now()
		record := &models.BorrowRecord{
			StudentID: studentID,
			BookID:    bookID,
			IssueDate: now,
			DueDate:   DueDate(now),
			Fine:      decimal.Zero,
			Status:    models.BorrowStatusBorrowed,
		}
		if err := s.borrowRepo.Create(tx, record); err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyBorrowed
			}
			return fmt.Errorf("create borrow record: %w", err)
		}

		taken, err := s.bookRepo.DecrementAvailable(tx, bookID)
		if err != nil {
			return fmt.Errorf("decrement available copies: %w", err)
		}
		if !taken {
			return ErrBookUnavailable
		}

		issued, err = s.borrowRepo.GetWithDetails(tx, record.ID)
		if err != nil {
			return fmt.Errorf("reload borrow record: %w", err)
		}
		return nil
	})
	if err != nil {
		s.fail(span, op, err, "student", studentID, "book", bookID)
		return nil, err
	}

	s.issued.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	span.SetAttributes(attribute.String("record.id", issued.ID.String()))
	s.log.Info(op+": book issued",
		"record", issued.ID, "student", studentID, "book", bookID,
		"due", issued.DueDate.Format(time.DateOnly))
	return issued, nil
}

// ─── Return ───────────────────────────────────────────────────────────────────

// ReturnBook implements the transactional return flow.
//
// Steps (all in one transaction, under the book's lock):
//  1. Lock the record row (FOR UPDATE) and guard against double-return.
//  2. Compute the fine (see CalculateFine).
//  3. Mark the record Returned; the update only matches a Borrowed row.
//  4. Put the copy back (capped at total_copies).
func (s *libraryService) ReturnBook(ctx context.Context, actor models.Principal, recordID uuid.UUID) (*models.BorrowRecord, error) {
	if err := requireRole(actor, models.RoleAdministrator); err != nil {
		s.log.Warn("ReturnBook: rejected", "actor", actor.SubjectID, "role", actor.Role)
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "library.return", trace.WithAttributes(
		attribute.String("record.id", recordID.String()),
	))
	defer span.End()

	existing, err := s.borrowRepo.GetByID(s.db.WithContext(ctx), recordID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = ErrBorrowNotFound
		} else {
			err = fmt.Errorf("load borrow record: %w", err)
		}
		s.fail(span, "ReturnBook", err, "record", recordID)
		return nil, err
	}

	unlock := s.bookLocks.Lock(existing.BookID)
	defer unlock()

	var returned *models.BorrowRecord
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.borrowRepo.GetByIDForUpdate(tx, recordID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBorrowNotFound
			}
			return fmt.Errorf("lock borrow record: %w", err)
		}
		if !record.IsActive() {
			return ErrAlreadyReturned
		}

		now := s.now()
		fine := CalculateFine(record.DueDate, now)

		closed, err := s.borrowRepo.MarkReturned(tx, record.ID, now, fine)
		if err != nil {
			return fmt.Errorf("mark returned: %w", err)
		}
		if !closed {
			return ErrAlreadyReturned
		}

		restored, err := s.bookRepo.IncrementAvailable(tx, record.BookID)
		if err != nil {
			return fmt.Errorf("increment available copies: %w", err)
		}
		if !restored {
			s.log.Warn("ReturnBook: available copies already at total, not incremented",
				"record", record.ID, "book", record.BookID)
		}

		returned, err = s.borrowRepo.GetWithDetails(tx, record.ID)
		if err != nil {
			return fmt.Errorf("reload borrow record: %w", err)
		}
		return nil
	})
	if err != nil {
		s.fail(span, "ReturnBook", err, "record", recordID)
		return nil, err
	}

	s.returned.Add(ctx, 1)
	if returned.Fine.IsPositive() {
		s.fined.Add(ctx, returned.Fine.IntPart())
	}
	span.SetAttributes(attribute.String("fine", returned.Fine.String()))
	s.log.Info("ReturnBook: book returned",
		"record", returned.ID, "student", returned.StudentID, "book", returned.BookID,
		"fine", returned.Fine.String())
	return returned, nil
}

// ─── Queries ──────────────────────────────────────────────────────────────────

// ListBorrowed returns one page of the ledger, newest issue first.
func (s *libraryService) ListBorrowed(ctx context.Context, actor models.Principal, q ListQuery) (*BorrowPage, error) {
	if err := requireRole(actor, models.RoleAdministrator); err != nil {
		return nil, err
	}
	q = q.normalized()

	var filter repositories.BorrowFilter
	switch q.Status {
	case "":
	case models.BorrowStatusBorrowed, models.BorrowStatusReturned:
		filter.Status = q.Status
	case models.BorrowStatusOverdue:
		now := s.now()
		filter.Status = models.BorrowStatusBorrowed
		filter.DueBefore = &now
	default:
		return nil, ErrInvalidStatus
	}

	db := s.db.WithContext(ctx)
	total, err := s.borrowRepo.Count(db, filter)
	if err != nil {
		return nil, fmt.Errorf("count borrow records: %w", err)
	}
	records, err := s.borrowRepo.List(db, filter, "issue_date DESC", (q.Page-1)*q.Limit, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("list borrow records: %w", err)
	}

	return &BorrowPage{
		Records:     records,
		Count:       len(records),
		Total:       total,
		Pages:       int(math.Ceil(float64(total) / float64(q.Limit))),
		CurrentPage: q.Page,
	}, nil
}

// ListMyBorrowed returns every record of the calling student with the fine
// owed on each as of now.
func (s *libraryService) ListMyBorrowed(ctx context.Context, actor models.Principal) (*MyBorrowed, error) {
	if err := requireRole(actor, models.RoleStudent); err != nil {
		return nil, err
	}
	studentID := actor.SubjectID
	records, err := s.borrowRepo.List(s.db.WithContext(ctx),
		repositories.BorrowFilter{StudentID: &studentID}, "issue_date DESC", 0, 0)
	if err != nil {
		return nil, fmt.Errorf("list borrow records: %w", err)
	}

	now := s.now()
	out := &MyBorrowed{Records: make([]BorrowView, 0, len(records)), TotalFine: decimal.Zero}
	for i := range records {
		fine := CurrentFine(&records[i], now)
		out.Records = append(out.Records, BorrowView{BorrowRecord: records[i], CurrentFine: fine})
		out.TotalFine = out.TotalFine.Add(fine)
	}
	out.Count = len(out.Records)
	return out, nil
}

// ListOverdue returns every open loan past its due date, oldest first.
func (s *libraryService) ListOverdue(ctx context.Context, actor models.Principal) ([]OverdueView, error) {
	if err := requireRole(actor, models.RoleAdministrator); err != nil {
		return nil, err
	}
	now := s.now()
	records, err := s.borrowRepo.List(s.db.WithContext(ctx), repositories.BorrowFilter{
		Status:    models.BorrowStatusBorrowed,
		DueBefore: &now,
	}, "due_date ASC", 0, 0)
	if err != nil {
		return nil, fmt.Errorf("list overdue records: %w", err)
	}

	out := make([]OverdueView, 0, len(records))
	for _, r := range records {
		out = append(out, OverdueView{
			BorrowRecord:   r,
			DaysOverdue:    DaysOverdue(r.DueDate, now),
			CalculatedFine: CalculateFine(r.DueDate, now),
		})
	}
	return out, nil
}

// ─── Catalog ──────────────────────────────────────────────────────────────────

// CreateBook adds a title with all of its copies available.
func (s *libraryService) CreateBook(ctx context.Context, actor models.Principal, in NewBook) (*models.Book, error) {
	if err := requireRole(actor, models.RoleAdministrator); err != nil {
		return nil, err
	}
	in.Title, in.Author, in.ISBN = strings.TrimSpace(in.Title), strings.TrimSpace(in.Author), strings.TrimSpace(in.ISBN)
	if in.Title == "" || in.Author == "" || in.ISBN == "" {
		return nil, ErrInvalidBook
	}
	if in.TotalCopies < 0 {
		return nil, ErrInvalidCopies
	}

	book := &models.Book{
		Title:           in.Title,
		Author:          in.Author,
		ISBN:            in.ISBN,
		CourseID:        in.CourseID,
		TotalCopies:     in.TotalCopies,
		AvailableCopies: in.TotalCopies,
	}
	if err := s.bookRepo.Create(s.db.WithContext(ctx), book); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateISBN
		}
		s.log.Error("CreateBook: failed to create book record", "isbn", in.ISBN, "err", err)
		return nil, fmt.Errorf("create book: %w", err)
	}
	s.log.Info("CreateBook: created book", "book", book.ID, "title", book.Title, "copies", book.TotalCopies)
	return book, nil
}

func (s *libraryService) GetBook(ctx context.Context, bookID uuid.UUID) (*models.Book, error) {
	book, err := s.bookRepo.GetByID(s.db.WithContext(ctx), bookID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("load book: %w", err)
	}
	return book, nil
}

// UpdateTotalCopies changes a book's copy count. Availability becomes the new
// total less the copies out, floored at zero.
func (s *libraryService) UpdateTotalCopies(ctx context.Context, actor models.Principal, bookID uuid.UUID, totalCopies int) (*models.Book, error) {
	if err := requireRole(actor, models.RoleAdministrator); err != nil {
		return nil, err
	}
	if totalCopies < 0 {
		return nil, ErrInvalidCopies
	}

	ctx, span := s.tracer.Start(ctx, "library.update_copies", trace.WithAttributes(
		attribute.String("book.id", bookID.String()),
		attribute.Int("total_copies", totalCopies),
	))
	defer span.End()

	unlock := s.bookLocks.Lock(bookID)
	defer unlock()

	var updated *models.Book
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		book, err := s.bookRepo.GetByIDForUpdate(tx, bookID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return fmt.Errorf("load book: %w", err)
		}

		available := max(0, totalCopies-book.CopiesOut())
		if err := s.bookRepo.SetCopies(tx, bookID, totalCopies, available); err != nil {
			return fmt.Errorf("set copies: %w", err)
		}
		updated, err = s.bookRepo.GetByID(tx, bookID)
		return err
	})
	if err != nil {
		s.fail(span, "UpdateTotalCopies", err, "book", bookID)
		return nil, err
	}
	s.log.Info("UpdateTotalCopies: copies changed", "book", bookID,
		"total", updated.TotalCopies, "available", updated.AvailableCopies)
	return updated, nil
}

// fail records err on the span and logs it: WARN for domain rejections,
// ERROR for everything else.
func (s *libraryService) fail(span trace.Span, op string, err error, args ...any) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	args = append(args, "err", err)
	if KindOf(err) != "" {
		s.log.Warn(op+": rejected", args...)
		return
	}
	s.log.Error(op+": transaction failed", args...)
}

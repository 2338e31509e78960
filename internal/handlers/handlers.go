package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"circulation/internal/auth"
	"circulation/internal/models"
	"circulation/internal/services"
)

type LibraryHandler struct {
	svc services.LibraryService
	db  *gorm.DB
	log *slog.Logger
}

// RegisterRoutes mounts the API under /api behind bearer authentication and
// a public /health probe. db may be nil, in which case /health skips the ping.
func RegisterRoutes(r *gin.Engine, svc services.LibraryService, db *gorm.DB, secret []byte, log *slog.Logger) {
	h := &LibraryHandler{svc: svc, db: db, log: log}

	r.GET("/health", h.health)

	api := r.Group("/api", auth.Authenticate(secret))

	// Administrator endpoints
	api.POST("/borrow", h.issueBook)
	api.POST("/return/:transactionId", h.returnBook)
	api.GET("/borrowed", h.listBorrowed)
	api.GET("/borrowed/overdue", h.listOverdue)
	api.POST("/books", h.createBook)
	api.PATCH("/books/:id/copies", h.updateCopies)

	// Student endpoints
	api.POST("/borrow/self", h.selfBorrow)
	api.GET("/borrowed/my-books", h.listMyBorrowed)

	// General endpoints
	api.GET("/books/:id", h.getBook)
}

type issueRequest struct {
	StudentID string `json:"student_id" binding:"required,uuid"`
	BookID    string `json:"book_id" binding:"required,uuid"`
}

func (h *LibraryHandler) issueBook(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	record, err := h.svc.IssueBook(c.Request.Context(), principal(c),
		uuid.MustParse(req.StudentID), uuid.MustParse(req.BookID))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "Book issued successfully",
		"data":    record,
	})
}

type selfBorrowRequest struct {
	BookID string `json:"book_id" binding:"required,uuid"`
}

func (h *LibraryHandler) selfBorrow(c *gin.Context) {
	var req selfBorrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	record, err := h.svc.SelfBorrow(c.Request.Context(), principal(c), uuid.MustParse(req.BookID))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "Book issued successfully",
		"data":    record,
	})
}

func (h *LibraryHandler) returnBook(c *gin.Context) {
	recordID, err := uuid.Parse(c.Param("transactionId"))
	if err != nil {
		badRequest(c, "invalid transaction id")
		return
	}

	record, err := h.svc.ReturnBook(c.Request.Context(), principal(c), recordID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	msg := "Book returned successfully"
	if record.Fine.IsPositive() {
		msg += ". Fine: $" + record.Fine.String()
	}
	c.JSON(http.StatusOK, gin.H{
		"message": msg,
		"data":    record,
	})
}

type listQuery struct {
	Page   int    `form:"page"`
	Limit  int    `form:"limit"`
	Status string `form:"status"`
}

func (h *LibraryHandler) listBorrowed(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}

	page, err := h.svc.ListBorrowed(c.Request.Context(), principal(c), services.ListQuery{
		Page:   q.Page,
		Limit:  q.Limit,
		Status: models.BorrowStatus(q.Status),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *LibraryHandler) listMyBorrowed(c *gin.Context) {
	mine, err := h.svc.ListMyBorrowed(c.Request.Context(), principal(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, mine)
}

func (h *LibraryHandler) listOverdue(c *gin.Context) {
	overdue, err := h.svc.ListOverdue(c.Request.Context(), principal(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  overdue,
		"count": len(overdue),
	})
}

type createBookRequest struct {
	Title       string  `json:"title" binding:"required"`
	Author      string  `json:"author" binding:"required"`
	ISBN        string  `json:"isbn" binding:"required,max=32"`
	TotalCopies int     `json:"total_copies" binding:"min=0"`
	CourseID    *string `json:"course_id" binding:"omitempty,uuid"`
}

func (h *LibraryHandler) createBook(c *gin.Context) {
	var req createBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	in := services.NewBook{
		Title:       req.Title,
		Author:      req.Author,
		ISBN:        req.ISBN,
		TotalCopies: req.TotalCopies,
	}
	if req.CourseID != nil {
		id := uuid.MustParse(*req.CourseID)
		in.CourseID = &id
	}

	book, err := h.svc.CreateBook(c.Request.Context(), principal(c), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, book)
}

func (h *LibraryHandler) getBook(c *gin.Context) {
	bookID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid book id")
		return
	}

	book, err := h.svc.GetBook(c.Request.Context(), bookID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

type updateCopiesRequest struct {
	TotalCopies *int `json:"total_copies" binding:"required,min=0"`
}

func (h *LibraryHandler) updateCopies(c *gin.Context) {
	bookID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid book id")
		return
	}
	var req updateCopiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	book, err := h.svc.UpdateTotalCopies(c.Request.Context(), principal(c), bookID, *req.TotalCopies)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (h *LibraryHandler) health(c *gin.Context) {
	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			h.log.Error("health: database unreachable", "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// principal is always present behind auth.Authenticate.
func principal(c *gin.Context) models.Principal {
	p, _ := auth.PrincipalFrom(c)
	return p
}

var kindStatus = map[services.Kind]int{
	services.KindNotFound:    http.StatusNotFound,
	services.KindUnavailable: http.StatusUnprocessableEntity,
	services.KindConflict:    http.StatusConflict,
	services.KindForbidden:   http.StatusForbidden,
	services.KindInvalid:     http.StatusBadRequest,
}

func (h *LibraryHandler) writeError(c *gin.Context, err error) {
	var de *services.Error
	if errors.As(err, &de) {
		status, ok := kindStatus[de.Kind()]
		if !ok {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": de.Error(), "code": string(de.Kind())})
		return
	}
	h.log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(),
		"request_id", c.GetString(requestIDKey), "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error", "code": "INTERNAL"})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": string(services.KindInvalid)})
}

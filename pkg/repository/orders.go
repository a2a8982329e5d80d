package repository

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/example/bookshop/pkg/errs"
	"github.com/example/bookshop/pkg/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderFilter narrows a listing by case-insensitive substring match. Zero
// value means no filtering.
type OrderFilter struct {
	Email     string
	BookTitle string
}

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Insert durably persists a new order. The ID and creation time are assigned
// here, never taken from the caller. There is no update path.
func (r *OrderRepository) Insert(ctx context.Context, order *models.Order) error {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	order.CreatedAt = time.Now()

	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return &errs.PersistenceError{Op: "insert order", Cause: err}
	}
	return nil
}

// List returns matching orders newest first. MySQL's default collation makes
// LIKE case-insensitive, which is exactly the filter contract.
func (r *OrderRepository) List(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{})
	if filter.Email != "" {
		query = query.Where("email LIKE ?", "%"+filter.Email+"%")
	}
	if filter.BookTitle != "" {
		query = query.Where("book_title LIKE ?", "%"+filter.BookTitle+"%")
	}

	var orders []models.Order
	if err := query.Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, &errs.PersistenceError{Op: "list orders", Cause: err}
	}
	return orders, nil
}

// ExportCSV writes every order as CSV, newest first, with a fixed header row.
func (r *OrderRepository) ExportCSV(ctx context.Context, w io.Writer) error {
	orders, err := r.List(ctx, OrderFilter{})
	if err != nil {
		return err
	}
	return WriteOrdersCSV(w, orders)
}

// WriteOrdersCSV renders orders into the export column set. Split out from
// ExportCSV so the row format can be exercised without a database.
func WriteOrdersCSV(w io.Writer, orders []models.Order) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"name", "email", "bookTitle", "amount", "date"}); err != nil {
		return err
	}
	for _, o := range orders {
		row := []string{
			o.Name,
			o.Email,
			o.BookTitle,
			strconv.FormatInt(o.Amount, 10),
			o.CreatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

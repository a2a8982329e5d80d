package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"time"

	"github.com/example/bookshop/pkg/errs"
	"github.com/example/bookshop/pkg/models"
	"gorm.io/gorm"
)

type NewsletterRepository struct {
	db *gorm.DB
}

func NewNewsletterRepository(db *gorm.DB) *NewsletterRepository {
	return &NewsletterRepository{db: db}
}

// Insert records a signup. A duplicate email trips the unique index and comes
// back as a ConflictError; the first row is never overwritten.
func (r *NewsletterRepository) Insert(ctx context.Context, signup *models.NewsletterSignup) error {
	signup.CreatedAt = time.Now()

	if err := r.db.WithContext(ctx).Create(signup).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &errs.ConflictError{Msg: "email already subscribed"}
		}
		return &errs.PersistenceError{Op: "insert newsletter signup", Cause: err}
	}
	return nil
}

func (r *NewsletterRepository) List(ctx context.Context) ([]models.NewsletterSignup, error) {
	var signups []models.NewsletterSignup
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&signups).Error; err != nil {
		return nil, &errs.PersistenceError{Op: "list newsletter signups", Cause: err}
	}
	return signups, nil
}

func (r *NewsletterRepository) ExportCSV(ctx context.Context, w io.Writer) error {
	signups, err := r.List(ctx)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"email", "ip", "date"}); err != nil {
		return err
	}
	for _, s := range signups {
		if err := cw.Write([]string{s.Email, s.IP, s.CreatedAt.Format(time.RFC3339)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

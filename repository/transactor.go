package repository

import (
	"context"

	"gorm.io/gorm"
)

// Repositories is the set of repositories bound to one transaction.
type Repositories struct {
	Payments      PaymentRepository
	Enrollments   EnrollmentRepository
	DiscountCodes DiscountCodeRepository
}

// Transactor runs fn atomically. Returning an error from fn rolls back.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(repos Repositories) error) error
}

type GormTransactor struct {
	db *gorm.DB
}

func NewGormTransactor(db *gorm.DB) Transactor {
	return &GormTransactor{db: db}
}

func (t *GormTransactor) WithinTransaction(ctx context.Context, fn func(repos Repositories) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(Repositories{
			Payments:      NewGormPaymentRepository(tx),
			Enrollments:   NewGormEnrollmentRepository(tx),
			DiscountCodes: NewGormDiscountCodeRepository(tx),
		})
	})
}

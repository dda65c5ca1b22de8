package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/models"

	"gorm.io/gorm"
)

var ErrPaymentNotFound = errors.New("payment not found")

// PaymentRepository defines the interface for payment data access.
type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	FindByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	MarkSucceeded(ctx context.Context, orderID, gatewayOrderID, gatewayPaymentID string, completedAt time.Time) (bool, error)
	ListSucceededMissingEnrollments(ctx context.Context, limit int) ([]models.Payment, error)
}

// GormPaymentRepository implements PaymentRepository using GORM.
type GormPaymentRepository struct {
	db *gorm.DB
}

// NewGormPaymentRepository creates a new GormPaymentRepository.
func NewGormPaymentRepository(db *gorm.DB) PaymentRepository {
	return &GormPaymentRepository{db: db}
}

func (r *GormPaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *GormPaymentRepository) FindByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("find payment %s: %w", orderID, err)
	}
	return &p, nil
}

// MarkSucceeded moves a pending payment to success. It returns false without
// error when the row was not pending, leaving completed_at untouched.
func (r *GormPaymentRepository) MarkSucceeded(ctx context.Context, orderID, gatewayOrderID, gatewayPaymentID string, completedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("order_id = ? AND status = ?", orderID, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":              models.PaymentStatusSuccess,
			"razorpay_order_id":   gatewayOrderID,
			"razorpay_payment_id": gatewayPaymentID,
			"completed_at":        completedAt,
		})
	if result.Error != nil {
		return false, fmt.Errorf("mark payment %s succeeded: %w", orderID, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// missingEnrollmentClause matches payments with at least one purchased
// course the student has no enrollment row for, whichever order created it.
const missingEnrollmentClause = `EXISTS (
	SELECT 1 FROM jsonb_array_elements_text(
		CASE WHEN jsonb_typeof(payments.metadata->'course_ids') = 'array'
			THEN payments.metadata->'course_ids' ELSE '[]'::jsonb END
	) AS c(course_id)
	WHERE NOT EXISTS (
		SELECT 1 FROM enrollments e
		WHERE e.student_id = payments.user_id AND e.course_id = c.course_id
	)
)`

// ListSucceededMissingEnrollments finds paid orders whose purchased courses
// were never all written as enrollments.
func (r *GormPaymentRepository) ListSucceededMissingEnrollments(ctx context.Context, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("status = ?", models.PaymentStatusSuccess).
		Where(missingEnrollmentClause).
		Order("completed_at ASC").
		Limit(limit).
		Find(&payments).Error
	if err != nil {
		return nil, fmt.Errorf("list unreconciled payments: %w", err)
	}
	return payments, nil
}

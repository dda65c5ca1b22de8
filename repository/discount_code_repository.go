package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"checkout-service/models"

	"gorm.io/gorm"
)

var ErrDiscountCodeNotFound = errors.New("discount code not found")

// DiscountCodeRepository defines the interface for discount code data access.
type DiscountCodeRepository interface {
	Create(ctx context.Context, code *models.DiscountCode) error
	FindByCode(ctx context.Context, code string) (*models.DiscountCode, error)
	Redeem(ctx context.Context, code string) (bool, error)
	Deactivate(ctx context.Context, code string) error
	FindAll(ctx context.Context, page, limit int) ([]models.DiscountCode, int64, error)
}

// GormDiscountCodeRepository implements DiscountCodeRepository using GORM.
type GormDiscountCodeRepository struct {
	db *gorm.DB
}

// NewGormDiscountCodeRepository creates a new GormDiscountCodeRepository.
func NewGormDiscountCodeRepository(db *gorm.DB) DiscountCodeRepository {
	return &GormDiscountCodeRepository{db: db}
}

func (r *GormDiscountCodeRepository) Create(ctx context.Context, code *models.DiscountCode) error {
	return r.db.WithContext(ctx).Create(code).Error
}

// FindByCode looks a code up case-insensitively, active or not.
func (r *GormDiscountCodeRepository) FindByCode(ctx context.Context, code string) (*models.DiscountCode, error) {
	var dc models.DiscountCode
	err := r.db.WithContext(ctx).
		Where("LOWER(code) = ?", strings.ToLower(code)).
		First(&dc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDiscountCodeNotFound
		}
		return nil, fmt.Errorf("find discount code: %w", err)
	}
	return &dc, nil
}

// Redeem consumes one use of the code. It reports false when the cap was
// already reached, the check and the increment happening in one statement.
func (r *GormDiscountCodeRepository) Redeem(ctx context.Context, code string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.DiscountCode{}).
		Where("LOWER(code) = ? AND (max_uses IS NULL OR times_used < max_uses)", strings.ToLower(code)).
		UpdateColumn("times_used", gorm.Expr("times_used + 1"))
	if result.Error != nil {
		return false, fmt.Errorf("redeem discount code: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *GormDiscountCodeRepository) Deactivate(ctx context.Context, code string) error {
	result := r.db.WithContext(ctx).
		Model(&models.DiscountCode{}).
		Where("LOWER(code) = ?", strings.ToLower(code)).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDiscountCodeNotFound
	}
	return nil
}

// FindAll retrieves paginated discount codes, newest first.
func (r *GormDiscountCodeRepository) FindAll(ctx context.Context, page, limit int) ([]models.DiscountCode, int64, error) {
	var codes []models.DiscountCode
	var total int64

	query := r.db.WithContext(ctx).Model(&models.DiscountCode{})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.
		Offset(offset).
		Limit(limit).
		Order("created_at DESC").
		Find(&codes).Error; err != nil {
		return nil, 0, err
	}

	return codes, total, nil
}

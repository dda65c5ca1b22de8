package models

import (
	"time"

	"github.com/google/uuid"
)

// DiscountCode is an administrator-managed promo code redeemable at checkout.
type DiscountCode struct {
	ID              uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Code            string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"code"`
	Description     string     `gorm:"type:text" json:"description"`
	DiscountPercent *float64   `gorm:"type:numeric(5,2)" json:"discount_percent"`
	DiscountAmount  *float64   `gorm:"type:numeric(10,2)" json:"discount_amount"`
	IsActive        bool       `gorm:"not null" json:"is_active"`
	ValidFrom       *time.Time `json:"valid_from"`
	ValidUntil      *time.Time `json:"valid_until"`
	MaxUses         *int       `json:"max_uses"` // nil = unlimited
	TimesUsed       int        `gorm:"not null;default:0" json:"times_used"`
	CourseID        *string    `gorm:"type:varchar(64);index" json:"course_id"` // nil = every course
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// CreateDiscountCodeRequest is the admin payload for a new discount code.
type CreateDiscountCodeRequest struct {
	Code            string     `json:"code" binding:"required,min=3,max=64"`
	Description     string     `json:"description"`
	DiscountPercent *float64   `json:"discount_percent" binding:"omitempty,gt=0"`
	DiscountAmount  *float64   `json:"discount_amount" binding:"omitempty,gt=0"`
	ValidFrom       *time.Time `json:"valid_from"`
	ValidUntil      *time.Time `json:"valid_until"`
	MaxUses         *int       `json:"max_uses" binding:"omitempty,gt=0"`
	CourseID        *string    `json:"course_id"`
}

// ValidatePromoCodeRequest is the public promo check payload.
type ValidatePromoCodeRequest struct {
	Code     string `json:"code"`
	CourseID string `json:"course_id"`
}

// ValidatePromoCodeResponse carries the verdict and, when valid, the discount terms.
type ValidatePromoCodeResponse struct {
	Valid           bool       `json:"valid"`
	Message         string     `json:"message"`
	ID              *uuid.UUID `json:"id,omitempty"`
	Code            string     `json:"code,omitempty"`
	Description     string     `json:"description,omitempty"`
	DiscountPercent *float64   `json:"discount_percent,omitempty"`
	DiscountAmount  *float64   `json:"discount_amount,omitempty"`
	CourseID        *string    `json:"course_id,omitempty"`
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
)

const GatewayRazorpay = "razorpay"

// Payment is created pending at checkout and finalized once by signature verification.
type Payment struct {
	ID                uuid.UUID                           `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID           string                              `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_id"`
	UserID            string                              `gorm:"type:varchar(64);index;not null" json:"user_id"`
	AmountINR         float64                             `gorm:"column:amount_inr;type:numeric(10,2);not null" json:"amount_inr"`
	DiscountAmount    float64                             `gorm:"type:numeric(10,2);not null;default:0" json:"discount_amount"`
	FinalAmount       float64                             `gorm:"type:numeric(10,2);not null" json:"final_amount"`
	Status            PaymentStatus                       `gorm:"type:varchar(20);not null;index" json:"status"`
	PaymentGateway    string                              `gorm:"type:varchar(32);not null" json:"payment_gateway"`
	RazorpayOrderID   *string                             `gorm:"type:varchar(64);index" json:"razorpay_order_id"`
	RazorpayPaymentID *string                             `gorm:"type:varchar(64)" json:"razorpay_payment_id"`
	CompletedAt       *time.Time                          `json:"completed_at"`
	Metadata          datatypes.JSONType[PaymentMetadata] `gorm:"type:jsonb" json:"metadata"`
	CreatedAt         time.Time                           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time                           `gorm:"autoUpdateTime" json:"updated_at"`
}

// PaymentMetadata is the free-form checkout context stored alongside a payment.
type PaymentMetadata struct {
	Customer  CustomerInfo `json:"customer"`
	PromoCode string       `json:"promo_code,omitempty"`
	CourseIDs []string     `json:"course_ids"`
}

type CustomerInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// CheckoutCourse is one line of a checkout; Price is in rupees.
type CheckoutCourse struct {
	ID    string  `json:"id"`
	Price float64 `json:"price"`
}

type CheckoutRequest struct {
	UserID    string           `json:"userId"`
	Courses   []CheckoutCourse `json:"courses"`
	PromoCode string           `json:"promo_code"`
	Customer  CustomerInfo     `json:"customer"`
}

type CheckoutResponse struct {
	OrderID         string  `json:"orderId"`
	RazorpayOrderID string  `json:"razorpay_order_id"`
	KeyID           string  `json:"key_id"`
	Amount          float64 `json:"amount"`
	DiscountAmount  float64 `json:"discount_amount"`
	FinalAmount     float64 `json:"final_amount"`
	Currency        string  `json:"currency"`
}

// PurchasedCourse is a course line in the verification callback. Extra fields are ignored.
type PurchasedCourse struct {
	ID string `json:"id"`
}

// VerifyPaymentRequest mirrors the gateway callback relayed by the client.
type VerifyPaymentRequest struct {
	RazorpayOrderID   string            `json:"razorpay_order_id"`
	RazorpayPaymentID string            `json:"razorpay_payment_id"`
	RazorpaySignature string            `json:"razorpay_signature"`
	OrderID           string            `json:"orderId"`
	UserID            string            `json:"userId"`
	Courses           []PurchasedCourse `json:"courses"`
}

type VerifyPaymentResponse struct {
	Verified bool   `json:"verified"`
	Message  string `json:"message"`
}

// FinalizeJob is everything needed to finish an already-authenticated payment.
// It is also the body of reconcile queue messages.
type FinalizeJob struct {
	OrderID           string   `json:"order_id"`
	UserID            string   `json:"user_id"`
	RazorpayOrderID   string   `json:"razorpay_order_id"`
	RazorpayPaymentID string   `json:"razorpay_payment_id"`
	CourseIDs         []string `json:"course_ids"`
}

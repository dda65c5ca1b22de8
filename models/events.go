package models

import "time"

const (
	EventPaymentVerified   = "payment.verified"
	EventPaymentRejected   = "payment.rejected"
	EventEnrollmentCreated = "enrollment_created"
)

// PaymentEvent is written to Kafka after every verification attempt.
type PaymentEvent struct {
	Type              string    `json:"type"`
	OrderID           string    `json:"order_id"`
	UserID            string    `json:"user_id"`
	RazorpayOrderID   string    `json:"razorpay_order_id"`
	RazorpayPaymentID string    `json:"razorpay_payment_id,omitempty"`
	Status            string    `json:"status"`
	Replayed          bool      `json:"replayed,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// EnrollmentCreatedEvent is published to SNS once enrollments are committed.
type EnrollmentCreatedEvent struct {
	EventType string    `json:"event_type"`
	OrderID   string    `json:"order_id"`
	StudentID string    `json:"student_id"`
	CourseIDs []string  `json:"course_ids"`
	ExpiresAt time.Time `json:"expires_at"`
	Timestamp time.Time `json:"timestamp"`
}

// Receipt is the content of the post-purchase email.
type Receipt struct {
	CustomerName   string
	OrderID        string
	PaymentID      string
	CourseIDs      []string
	Amount         float64
	DiscountAmount float64
	FinalAmount    float64
	PromoCode      string
	ExpiresAt      time.Time
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// EnrollmentValidity is how long a purchased course stays accessible.
const EnrollmentValidity = 365 * 24 * time.Hour

// Enrollment grants a student access to a course until ExpiresAt.
// (StudentID, CourseID) is unique; writes go through an upsert on that pair.
type Enrollment struct {
	ID             uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	StudentID      string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_enrollments_student_course,priority:1" json:"student_id"`
	CourseID       string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_enrollments_student_course,priority:2" json:"course_id"`
	IsActive       bool      `gorm:"not null" json:"is_active"`
	ExpiresAt      time.Time `gorm:"not null" json:"expires_at"`
	PaymentOrderID string    `gorm:"type:varchar(64);index" json:"payment_order_id"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

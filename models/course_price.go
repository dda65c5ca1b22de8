package models

import "time"

// CoursePrice is the amount checkout charges for a course, in rupees.
// Courses without an active row cannot be bought.
type CoursePrice struct {
	CourseID  string    `gorm:"type:varchar(64);primaryKey" json:"course_id"`
	PriceINR  float64   `gorm:"column:price_inr;type:numeric(10,2);not null" json:"price_inr"`
	IsActive  bool      `gorm:"not null" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SetCoursePriceRequest is the admin payload for PUT /admin/course-prices/:courseId.
type SetCoursePriceRequest struct {
	PriceINR float64 `json:"price_inr" binding:"required,gt=0"`
	IsActive *bool   `json:"is_active"`
}

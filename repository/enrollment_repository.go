package repository

import (
	"context"
	"fmt"
	"time"

	"checkout-service/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnrollmentRepository defines the interface for enrollment data access.
type EnrollmentRepository interface {
	UpsertBatch(ctx context.Context, enrollments []models.Enrollment) error
	InsertMissing(ctx context.Context, enrollments []models.Enrollment) error
	FindActiveByStudent(ctx context.Context, studentID string, now time.Time) ([]models.Enrollment, error)
}

// GormEnrollmentRepository implements EnrollmentRepository using GORM.
type GormEnrollmentRepository struct {
	db *gorm.DB
}

// NewGormEnrollmentRepository creates a new GormEnrollmentRepository.
func NewGormEnrollmentRepository(db *gorm.DB) EnrollmentRepository {
	return &GormEnrollmentRepository{db: db}
}

// UpsertBatch writes all rows in one statement. An existing
// (student_id, course_id) pair is reactivated and keeps the later of its
// current and new expiry. payment_order_id always names the order that
// first created the pair.
func (r *GormEnrollmentRepository) UpsertBatch(ctx context.Context, enrollments []models.Enrollment) error {
	if len(enrollments) == 0 {
		return nil
	}
	updates := append(clause.AssignmentColumns([]string{"is_active", "updated_at"}), clause.Assignment{
		Column: clause.Column{Name: "expires_at"},
		Value:  gorm.Expr("GREATEST(enrollments.expires_at, excluded.expires_at)"),
	})
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "student_id"}, {Name: "course_id"}},
			DoUpdates: updates,
		}).
		Create(&enrollments).Error
	if err != nil {
		return fmt.Errorf("upsert enrollments: %w", err)
	}
	return nil
}

// InsertMissing writes only the pairs that do not exist yet. Existing rows
// are left exactly as they are.
func (r *GormEnrollmentRepository) InsertMissing(ctx context.Context, enrollments []models.Enrollment) error {
	if len(enrollments) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "student_id"}, {Name: "course_id"}},
			DoNothing: true,
		}).
		Create(&enrollments).Error
	if err != nil {
		return fmt.Errorf("insert missing enrollments: %w", err)
	}
	return nil
}

func (r *GormEnrollmentRepository) FindActiveByStudent(ctx context.Context, studentID string, now time.Time) ([]models.Enrollment, error) {
	var enrollments []models.Enrollment
	err := r.db.WithContext(ctx).
		Where("student_id = ? AND is_active = ? AND expires_at > ?", studentID, true, now).
		Order("created_at DESC").
		Find(&enrollments).Error
	if err != nil {
		return nil, err
	}
	return enrollments, nil
}

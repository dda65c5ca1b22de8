package repository

import (
	"context"
	"fmt"

	"checkout-service/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CoursePriceRepository defines the interface for course price data access.
type CoursePriceRepository interface {
	FindActivePrices(ctx context.Context, courseIDs []string) (map[string]float64, error)
	Save(ctx context.Context, price *models.CoursePrice) error
}

// GormCoursePriceRepository implements CoursePriceRepository using GORM.
type GormCoursePriceRepository struct {
	db *gorm.DB
}

// NewGormCoursePriceRepository creates a new GormCoursePriceRepository.
func NewGormCoursePriceRepository(db *gorm.DB) CoursePriceRepository {
	return &GormCoursePriceRepository{db: db}
}

// FindActivePrices returns the price of every requested course that is on
// sale. Unknown and inactive courses are absent from the map.
func (r *GormCoursePriceRepository) FindActivePrices(ctx context.Context, courseIDs []string) (map[string]float64, error) {
	prices := make(map[string]float64, len(courseIDs))
	if len(courseIDs) == 0 {
		return prices, nil
	}
	var rows []models.CoursePrice
	err := r.db.WithContext(ctx).
		Where("course_id IN ? AND is_active = ?", courseIDs, true).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find course prices: %w", err)
	}
	for _, row := range rows {
		prices[row.CourseID] = row.PriceINR
	}
	return prices, nil
}

func (r *GormCoursePriceRepository) Save(ctx context.Context, price *models.CoursePrice) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "course_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"price_inr", "is_active", "updated_at"}),
		}).
		Create(price).Error
	if err != nil {
		return fmt.Errorf("save course price %s: %w", price.CourseID, err)
	}
	return nil
}

package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"checkout-service/models"
	aws_pkg "checkout-service/pkg/aws"
	"checkout-service/repository"

	"go.uber.org/zap"
)

// ServiceError represents a typed error with an HTTP status code.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	return e.Message
}

// MetricsRecorder is the subset of the CloudWatch client the services use.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
	RecordValue(ctx context.Context, metricName string, value float64, dimensions map[string]string) error
}

const metricTimeout = 5 * time.Second

// emitMetric records off the request goroutine with its own timeout.
func emitMetric(m MetricsRecorder, record func(ctx context.Context, m MetricsRecorder) error) {
	if m == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricTimeout)
		defer cancel()
		_ = record(ctx, m)
	}()
}

const (
	msgPromoRequired      = "Promo code is required"
	msgPromoInvalid       = "Invalid promo code"
	msgPromoInactive      = "This promo code is no longer active"
	msgPromoNotYetValid   = "This promo code is not yet valid"
	msgPromoExpired       = "This promo code has expired"
	msgPromoUsageLimit    = "This promo code has reached its usage limit"
	msgPromoWrongCourse   = "This promo code is not applicable to this course"
	msgPromoApplied       = "Promo code applied successfully!"
	msgPromoLookupFailure = "Failed to validate promo code"
)

// PromoService defines promo code validation and administration.
type PromoService interface {
	ValidatePromoCode(ctx context.Context, req *models.ValidatePromoCodeRequest) (*models.ValidatePromoCodeResponse, *ServiceError)
	CreateDiscountCode(ctx context.Context, req *models.CreateDiscountCodeRequest) (*models.DiscountCode, *ServiceError)
	GetDiscountCode(ctx context.Context, code string) (*models.DiscountCode, *ServiceError)
	DeactivateDiscountCode(ctx context.Context, code string) *ServiceError
	ListDiscountCodes(ctx context.Context, page, limit int) ([]models.DiscountCode, int64, *ServiceError)
}

type promoServiceImpl struct {
	repo         repository.DiscountCodeRepository
	metrics      MetricsRecorder
	storeTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// NewPromoService creates a new PromoService. metrics may be nil.
func NewPromoService(
	repo repository.DiscountCodeRepository,
	metrics MetricsRecorder,
	storeTimeout time.Duration,
	logger *zap.Logger,
) PromoService {
	return &promoServiceImpl{
		repo:         repo,
		metrics:      metrics,
		storeTimeout: storeTimeout,
		logger:       logger,
		now:          time.Now,
	}
}

// ValidatePromoCode is read-only: times_used is only consumed once the payment is verified.
func (s *promoServiceImpl) ValidatePromoCode(ctx context.Context, req *models.ValidatePromoCodeRequest) (*models.ValidatePromoCodeResponse, *ServiceError) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, &ServiceError{StatusCode: 400, Message: msgPromoRequired}
	}

	ctx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	dc, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrDiscountCodeNotFound) {
			s.recordVerdict(false, "not_found")
			return &models.ValidatePromoCodeResponse{Valid: false, Message: msgPromoInvalid}, nil
		}
		s.logger.Error("Promo code lookup failed", zap.String("code", code), zap.Error(err))
		return nil, &ServiceError{StatusCode: 500, Message: msgPromoLookupFailure}
	}

	if reason, msg := checkDiscountCode(dc, strings.TrimSpace(req.CourseID), s.now()); reason != "" {
		s.recordVerdict(false, reason)
		return &models.ValidatePromoCodeResponse{Valid: false, Message: msg}, nil
	}

	s.recordVerdict(true, "")
	id := dc.ID
	return &models.ValidatePromoCodeResponse{
		Valid:           true,
		Message:         msgPromoApplied,
		ID:              &id,
		Code:            dc.Code,
		Description:     dc.Description,
		DiscountPercent: dc.DiscountPercent,
		DiscountAmount:  dc.DiscountAmount,
		CourseID:        dc.CourseID,
	}, nil
}

// checkDiscountCode applies the eligibility rules in order and returns the
// first failing rule, or "" when the code is usable.
func checkDiscountCode(dc *models.DiscountCode, courseID string, now time.Time) (reason, message string) {
	switch {
	case !dc.IsActive:
		return "inactive", msgPromoInactive
	case dc.ValidFrom != nil && now.Before(*dc.ValidFrom):
		return "not_yet_valid", msgPromoNotYetValid
	case dc.ValidUntil != nil && now.After(*dc.ValidUntil):
		return "expired", msgPromoExpired
	case dc.MaxUses != nil && dc.TimesUsed >= *dc.MaxUses:
		return "usage_limit", msgPromoUsageLimit
	case dc.CourseID != nil && courseID != "" && *dc.CourseID != courseID:
		return "wrong_course", msgPromoWrongCourse
	}
	return "", ""
}

func (s *promoServiceImpl) recordVerdict(valid bool, reason string) {
	name := aws_pkg.MetricPromoValidated
	dims := map[string]string{"Service": "checkout-service"}
	if !valid {
		name = aws_pkg.MetricPromoRejected
		dims["Reason"] = reason
	}
	emitMetric(s.metrics, func(ctx context.Context, m MetricsRecorder) error {
		return m.RecordCount(ctx, name, dims)
	})
}

func (s *promoServiceImpl) CreateDiscountCode(ctx context.Context, req *models.CreateDiscountCodeRequest) (*models.DiscountCode, *ServiceError) {
	if (req.DiscountPercent == nil) == (req.DiscountAmount == nil) {
		return nil, &ServiceError{StatusCode: 400, Message: "Exactly one of discount_percent or discount_amount is required"}
	}
	if req.DiscountPercent != nil && *req.DiscountPercent > 100 {
		return nil, &ServiceError{StatusCode: 400, Message: "Percentage discount cannot exceed 100"}
	}
	if req.ValidFrom != nil && req.ValidUntil != nil && req.ValidUntil.Before(*req.ValidFrom) {
		return nil, &ServiceError{StatusCode: 400, Message: "valid_until must be after valid_from"}
	}

	dc := &models.DiscountCode{
		Code:            strings.ToUpper(strings.TrimSpace(req.Code)),
		Description:     req.Description,
		DiscountPercent: req.DiscountPercent,
		DiscountAmount:  req.DiscountAmount,
		IsActive:        true,
		ValidFrom:       req.ValidFrom,
		ValidUntil:      req.ValidUntil,
		MaxUses:         req.MaxUses,
		CourseID:        req.CourseID,
	}

	ctx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := s.repo.Create(ctx, dc); err != nil {
		if strings.Contains(err.Error(), "duplicate") || strings.Contains(err.Error(), "unique") {
			return nil, &ServiceError{StatusCode: 409, Message: "Discount code already exists"}
		}
		s.logger.Error("Failed to create discount code", zap.Error(err))
		return nil, &ServiceError{StatusCode: 500, Message: "Failed to create discount code"}
	}

	s.logger.Info("Discount code created", zap.String("code", dc.Code))
	return dc, nil
}

func (s *promoServiceImpl) GetDiscountCode(ctx context.Context, code string) (*models.DiscountCode, *ServiceError) {
	ctx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	dc, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrDiscountCodeNotFound) {
			return nil, &ServiceError{StatusCode: 404, Message: "Discount code not found"}
		}
		s.logger.Error("Failed to get discount code", zap.String("code", code), zap.Error(err))
		return nil, &ServiceError{StatusCode: 500, Message: "Failed to get discount code"}
	}
	return dc, nil
}

func (s *promoServiceImpl) DeactivateDiscountCode(ctx context.Context, code string) *ServiceError {
	ctx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := s.repo.Deactivate(ctx, code); err != nil {
		if errors.Is(err, repository.ErrDiscountCodeNotFound) {
			return &ServiceError{StatusCode: 404, Message: "Discount code not found"}
		}
		s.logger.Error("Failed to deactivate discount code", zap.String("code", code), zap.Error(err))
		return &ServiceError{StatusCode: 500, Message: "Failed to deactivate discount code"}
	}

	s.logger.Info("Discount code deactivated", zap.String("code", code))
	return nil
}

func (s *promoServiceImpl) ListDiscountCodes(ctx context.Context, page, limit int) ([]models.DiscountCode, int64, *ServiceError) {
	ctx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	codes, total, err := s.repo.FindAll(ctx, page, limit)
	if err != nil {
		s.logger.Error("Failed to list discount codes", zap.Error(err))
		return nil, 0, &ServiceError{StatusCode: 500, Message: "Failed to list discount codes"}
	}
	return codes, total, nil
}

// withStoreTimeout bounds a group of store calls. A zero timeout leaves ctx as is.
func withStoreTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

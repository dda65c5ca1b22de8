package services

import (
	"context"
	"encoding/json"
	"time"

	"checkout-service/models"
	aws_pkg "checkout-service/pkg/aws"
	"checkout-service/repository"

	"go.uber.org/zap"
)

// EnrollmentService serves enrollment reads and repairs enrollments that a
// verified payment failed to write.
type EnrollmentService interface {
	ListActiveEnrollments(ctx context.Context, studentID string) ([]models.Enrollment, *ServiceError)
	Sweep(ctx context.Context, limit int) (int, *ServiceError)
	HandleReconcileMessage(ctx context.Context, body string) error
}

type enrollmentServiceImpl struct {
	payments     PaymentService
	paymentRepo  repository.PaymentRepository
	enrollments  repository.EnrollmentRepository
	metrics      MetricsRecorder
	storeTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// NewEnrollmentService creates a new EnrollmentService.
func NewEnrollmentService(
	payments PaymentService,
	paymentRepo repository.PaymentRepository,
	enrollments repository.EnrollmentRepository,
	metrics MetricsRecorder,
	storeTimeout time.Duration,
	logger *zap.Logger,
) EnrollmentService {
	return &enrollmentServiceImpl{
		payments:     payments,
		paymentRepo:  paymentRepo,
		enrollments:  enrollments,
		metrics:      metrics,
		storeTimeout: storeTimeout,
		logger:       logger,
		now:          time.Now,
	}
}

func (s *enrollmentServiceImpl) ListActiveEnrollments(ctx context.Context, studentID string) ([]models.Enrollment, *ServiceError) {
	ctx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	rows, err := s.enrollments.FindActiveByStudent(ctx, studentID, s.now())
	if err != nil {
		s.logger.Error("Failed to list enrollments", zap.String("student_id", studentID), zap.Error(err))
		return nil, &ServiceError{StatusCode: 500, Message: "Failed to list enrollments"}
	}
	return rows, nil
}

// Sweep finds successful payments with purchased courses the student is not
// enrolled in and writes only those pairs, from the course list captured at
// checkout. Existing enrollments are never touched.
func (s *enrollmentServiceImpl) Sweep(ctx context.Context, limit int) (int, *ServiceError) {
	ctx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	payments, err := s.paymentRepo.ListSucceededMissingEnrollments(ctx, limit)
	if err != nil {
		s.logger.Error("Reconcile sweep failed to list payments", zap.Error(err))
		return 0, &ServiceError{StatusCode: 500, Message: "Failed to reconcile enrollments"}
	}

	repaired := 0
	for _, p := range payments {
		courseIDs := p.Metadata.Data().CourseIDs
		if len(courseIDs) == 0 {
			s.logger.Warn("Paid order has no recorded courses; skipping", zap.String("order_id", p.OrderID))
			continue
		}
		if err := s.enrollments.InsertMissing(ctx, buildEnrollments(p.UserID, p.OrderID, courseIDs, s.now())); err != nil {
			s.logger.Error("Failed to repair enrollments", zap.String("order_id", p.OrderID), zap.Error(err))
			continue
		}
		repaired++
		dims := serviceDimensions(nil)
		emitMetric(s.metrics, func(ctx context.Context, m MetricsRecorder) error {
			return m.RecordCount(ctx, aws_pkg.MetricReconcileRepaired, dims)
		})
		s.logger.Info("Enrollments repaired", zap.String("order_id", p.OrderID), zap.Strings("course_ids", courseIDs))
	}
	return repaired, nil
}

// HandleReconcileMessage re-drives a verified finalize job from the queue.
// Returning nil deletes the message; jobs that can never succeed are dropped.
func (s *enrollmentServiceImpl) HandleReconcileMessage(ctx context.Context, body string) error {
	var job models.FinalizeJob
	if err := json.Unmarshal([]byte(body), &job); err != nil || job.OrderID == "" {
		s.logger.Error("Dropping malformed reconcile message", zap.String("body", body), zap.Error(err))
		return nil
	}

	if _, err := s.payments.FinalizePayment(ctx, &job); err != nil {
		if !isRetriable(err) {
			s.logger.Warn("Dropping unrecoverable reconcile job", zap.String("order_id", job.OrderID), zap.Error(err))
			return nil
		}
		return err
	}

	s.logger.Info("Reconcile job completed", zap.String("order_id", job.OrderID))
	return nil
}

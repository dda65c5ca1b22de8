package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"checkout-service/models"
	aws_pkg "checkout-service/pkg/aws"
	"checkout-service/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

var (
	ErrSignatureMismatch = errors.New("payment signature mismatch")
	ErrMissingSecret     = errors.New("razorpay key secret is not configured")
	ErrPaymentNotPending = errors.New("payment is not pending")
	ErrPaymentMismatch   = errors.New("verification request does not match the payment")
)

const (
	msgVerified             = "Payment verified and enrollment created"
	msgVerificationFailed   = "Payment verification failed"
	minChargeablePaise      = 100
	defaultCheckoutCurrency = "INR"
)

// PaymentEventPublisher emits payment lifecycle events (Kafka in production).
type PaymentEventPublisher interface {
	SendPaymentEvent(ctx context.Context, event models.PaymentEvent) error
}

// ReconcileQueue accepts finalize jobs that must be retried out of band.
type ReconcileQueue interface {
	SendMessage(ctx context.Context, body string) error
}

// PaymentService defines checkout creation and gateway callback verification.
type PaymentService interface {
	CreateCheckout(ctx context.Context, req *models.CheckoutRequest) (*models.CheckoutResponse, *ServiceError)
	VerifyPayment(ctx context.Context, req *models.VerifyPaymentRequest) (*models.VerifyPaymentResponse, *ServiceError)
	FinalizePayment(ctx context.Context, job *models.FinalizeJob) (*FinalizeResult, error)
	SetCoursePrice(ctx context.Context, courseID string, req *models.SetCoursePriceRequest) (*models.CoursePrice, *ServiceError)
}

// FinalizeResult describes a committed finalization.
type FinalizeResult struct {
	Payment      *models.Payment
	Transitioned bool // false when the payment was already successful (replay)
	CourseIDs    []string
	ExpiresAt    time.Time
}

// PaymentDeps wires a PaymentService. Publishers, queue and mailer are optional.
type PaymentDeps struct {
	Transactor   repository.Transactor
	Payments     repository.PaymentRepository
	CoursePrices repository.CoursePriceRepository
	Promo        PromoService
	Gateway      PaymentGateway
	Events       PaymentEventPublisher
	SNS          aws_pkg.SNSPublisher
	SNSTopicArn  string
	Queue        ReconcileQueue
	Mailer       ReceiptMailer
	Metrics      MetricsRecorder
	KeyID        string
	KeySecret    string
	StoreTimeout time.Duration
	Logger       *zap.Logger
}

type paymentServiceImpl struct {
	PaymentDeps
	now func() time.Time
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(deps PaymentDeps) PaymentService {
	return &paymentServiceImpl{PaymentDeps: deps, now: time.Now}
}

// CreateCheckout prices the cart, applies an optional promo code and opens a
// Razorpay order backed by a pending Payment row.
func (s *paymentServiceImpl) CreateCheckout(ctx context.Context, req *models.CheckoutRequest) (*models.CheckoutResponse, *ServiceError) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, &ServiceError{StatusCode: 400, Message: "userId is required"}
	}
	if len(req.Courses) == 0 {
		return nil, &ServiceError{StatusCode: 400, Message: "At least one course is required"}
	}

	courseIDs := make([]string, 0, len(req.Courses))
	seen := make(map[string]bool, len(req.Courses))
	for _, c := range req.Courses {
		id := strings.TrimSpace(c.ID)
		if id == "" || c.Price < 0 {
			return nil, &ServiceError{StatusCode: 400, Message: "Every course needs an id and a valid price"}
		}
		if seen[id] {
			return nil, &ServiceError{StatusCode: 400, Message: "Duplicate course in checkout"}
		}
		seen[id] = true
		courseIDs = append(courseIDs, id)
	}

	prices, svcErr := s.priceCourses(ctx, req.Courses, courseIDs)
	if svcErr != nil {
		return nil, svcErr
	}
	var total float64
	for _, id := range courseIDs {
		total += prices[id]
	}
	total = roundRupees(total)

	var discount float64
	promoCode := strings.TrimSpace(req.PromoCode)
	if promoCode != "" {
		verdict, svcErr := s.Promo.ValidatePromoCode(ctx, &models.ValidatePromoCodeRequest{Code: promoCode})
		if svcErr != nil {
			return nil, svcErr
		}
		if !verdict.Valid {
			return nil, &ServiceError{StatusCode: 400, Message: verdict.Message}
		}
		base := total
		if verdict.CourseID != nil {
			if !seen[*verdict.CourseID] {
				return nil, &ServiceError{StatusCode: 400, Message: msgPromoWrongCourse}
			}
			base = prices[*verdict.CourseID]
		}
		discount = ComputeDiscount(base, verdict.DiscountPercent, verdict.DiscountAmount)
		promoCode = verdict.Code
	}

	final := roundRupees(total - discount)
	amountPaise := int64(math.Round(final * 100))
	if amountPaise < minChargeablePaise {
		return nil, &ServiceError{StatusCode: 400, Message: "Order total after discount must be at least ₹1"}
	}

	orderID := "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:16])

	gatewayOrderID, err := s.Gateway.CreateOrder(ctx, orderID, amountPaise, map[string]interface{}{
		"order_id": orderID,
		"user_id":  req.UserID,
	})
	if err != nil {
		s.Logger.Error("Failed to create gateway order", zap.String("order_id", orderID), zap.Error(err))
		return nil, &ServiceError{StatusCode: 502, Message: "Failed to create payment order"}
	}

	payment := &models.Payment{
		OrderID:         orderID,
		UserID:          req.UserID,
		AmountINR:       total,
		DiscountAmount:  discount,
		FinalAmount:     final,
		Status:          models.PaymentStatusPending,
		PaymentGateway:  models.GatewayRazorpay,
		RazorpayOrderID: &gatewayOrderID,
		Metadata: datatypes.NewJSONType(models.PaymentMetadata{
			Customer:  req.Customer,
			PromoCode: promoCode,
			CourseIDs: courseIDs,
		}),
	}

	storeCtx, cancel := withStoreTimeout(ctx, s.StoreTimeout)
	defer cancel()
	if err := s.Payments.Create(storeCtx, payment); err != nil {
		s.Logger.Error("Failed to persist pending payment", zap.String("order_id", orderID), zap.Error(err))
		return nil, &ServiceError{StatusCode: 500, Message: "Failed to create payment"}
	}

	s.Logger.Info("Checkout created",
		zap.String("order_id", orderID),
		zap.String("razorpay_order_id", gatewayOrderID),
		zap.Float64("final_amount", final),
	)

	return &models.CheckoutResponse{
		OrderID:         orderID,
		RazorpayOrderID: gatewayOrderID,
		KeyID:           s.KeyID,
		Amount:          total,
		DiscountAmount:  discount,
		FinalAmount:     final,
		Currency:        defaultCheckoutCurrency,
	}, nil
}

// priceCourses looks up catalog prices. A price sent by the client is only
// compared against the catalog, never charged.
func (s *paymentServiceImpl) priceCourses(ctx context.Context, courses []models.CheckoutCourse, courseIDs []string) (map[string]float64, *ServiceError) {
	storeCtx, cancel := withStoreTimeout(ctx, s.StoreTimeout)
	defer cancel()

	prices, err := s.CoursePrices.FindActivePrices(storeCtx, courseIDs)
	if err != nil {
		s.Logger.Error("Failed to load course prices", zap.Strings("course_ids", courseIDs), zap.Error(err))
		return nil, &ServiceError{StatusCode: 500, Message: "Failed to price checkout"}
	}
	for _, c := range courses {
		id := strings.TrimSpace(c.ID)
		price, ok := prices[id]
		if !ok {
			return nil, &ServiceError{StatusCode: 400, Message: fmt.Sprintf("Course %s is not available for purchase", id)}
		}
		if c.Price > 0 && math.Abs(c.Price-price) >= 0.005 {
			s.Logger.Warn("Checkout price does not match catalog",
				zap.String("course_id", id), zap.Float64("client_price", c.Price), zap.Float64("catalog_price", price))
			return nil, &ServiceError{StatusCode: 400, Message: "Course price has changed, please refresh and try again"}
		}
	}
	return prices, nil
}

// SetCoursePrice creates or replaces the catalog price of a course.
func (s *paymentServiceImpl) SetCoursePrice(ctx context.Context, courseID string, req *models.SetCoursePriceRequest) (*models.CoursePrice, *ServiceError) {
	courseID = strings.TrimSpace(courseID)
	if courseID == "" {
		return nil, &ServiceError{StatusCode: 400, Message: "courseId is required"}
	}
	if req.PriceINR <= 0 {
		return nil, &ServiceError{StatusCode: 400, Message: "price_inr must be positive"}
	}
	price := &models.CoursePrice{CourseID: courseID, PriceINR: roundRupees(req.PriceINR), IsActive: true}
	if req.IsActive != nil {
		price.IsActive = *req.IsActive
	}

	ctx, cancel := withStoreTimeout(ctx, s.StoreTimeout)
	defer cancel()
	if err := s.CoursePrices.Save(ctx, price); err != nil {
		s.Logger.Error("Failed to save course price", zap.String("course_id", courseID), zap.Error(err))
		return nil, &ServiceError{StatusCode: 500, Message: "Failed to save course price"}
	}

	s.Logger.Info("Course price updated",
		zap.String("course_id", courseID),
		zap.Float64("price_inr", price.PriceINR),
		zap.Bool("is_active", price.IsActive),
	)
	return price, nil
}

// ComputeDiscount applies a percentage when present, else a flat amount,
// never exceeding base.
func ComputeDiscount(base float64, percent, amount *float64) float64 {
	var d float64
	switch {
	case percent != nil:
		d = base * (*percent / 100)
	case amount != nil:
		d = *amount
	}
	if d > base {
		d = base
	}
	if d < 0 {
		d = 0
	}
	return roundRupees(d)
}

func roundRupees(v float64) float64 {
	return math.Round(v*100) / 100
}

// VerifyPayment authenticates the gateway callback and finalizes the order.
func (s *paymentServiceImpl) VerifyPayment(ctx context.Context, req *models.VerifyPaymentRequest) (*models.VerifyPaymentResponse, *ServiceError) {
	if s.KeySecret == "" {
		s.Logger.Error("Cannot verify payment", zap.Error(ErrMissingSecret))
		return nil, &ServiceError{StatusCode: 500, Message: "Payment gateway is not configured"}
	}
	if req.OrderID == "" || req.UserID == "" || req.RazorpayOrderID == "" || req.RazorpayPaymentID == "" {
		return nil, &ServiceError{StatusCode: 400, Message: "Missing required payment fields"}
	}
	if !VerifyPaymentSignature(s.KeySecret, req.RazorpayOrderID, req.RazorpayPaymentID, req.RazorpaySignature) {
		s.Logger.Warn("Payment signature mismatch",
			zap.String("order_id", req.OrderID),
			zap.String("razorpay_order_id", req.RazorpayOrderID),
			zap.String("razorpay_payment_id", req.RazorpayPaymentID),
		)
		s.recordCount(aws_pkg.MetricPaymentFailed, map[string]string{"Reason": "signature_mismatch"})
		s.publishPaymentEvent(ctx, models.PaymentEvent{
			Type:              models.EventPaymentRejected,
			OrderID:           req.OrderID,
			UserID:            req.UserID,
			RazorpayOrderID:   req.RazorpayOrderID,
			RazorpayPaymentID: req.RazorpayPaymentID,
			Status:            "rejected",
		})
		return nil, &ServiceError{StatusCode: 400, Message: msgVerificationFailed}
	}

	job := &models.FinalizeJob{
		OrderID:           req.OrderID,
		UserID:            req.UserID,
		RazorpayOrderID:   req.RazorpayOrderID,
		RazorpayPaymentID: req.RazorpayPaymentID,
		CourseIDs:         uniqueCourseIDs(req.Courses),
	}

	if _, err := s.FinalizePayment(ctx, job); err != nil {
		s.Logger.Error("Payment finalization failed", zap.String("order_id", job.OrderID), zap.Error(err))
		if isRetriable(err) {
			s.enqueueReconcile(job)
		}
		return nil, finalizeServiceError(err)
	}

	return &models.VerifyPaymentResponse{Verified: true, Message: msgVerified}, nil
}

// FinalizePayment marks the payment successful and writes its enrollments in
// one transaction. The caller must already have authenticated the job.
// Enrollments are granted for the courses recorded at checkout; the job may
// name a subset of them but nothing else. Replaying a finished job only
// restores enrollment rows that are missing.
func (s *paymentServiceImpl) FinalizePayment(ctx context.Context, job *models.FinalizeJob) (*FinalizeResult, error) {
	storeCtx, cancel := withStoreTimeout(ctx, s.StoreTimeout)
	defer cancel()

	now := s.now()
	result := &FinalizeResult{ExpiresAt: now.Add(models.EnrollmentValidity)}

	err := s.Transactor.WithinTransaction(storeCtx, func(repos repository.Repositories) error {
		payment, err := repos.Payments.FindByOrderID(storeCtx, job.OrderID)
		if err != nil {
			return err
		}
		if payment.UserID != job.UserID {
			return ErrPaymentMismatch
		}
		if payment.RazorpayOrderID != nil && *payment.RazorpayOrderID != "" && *payment.RazorpayOrderID != job.RazorpayOrderID {
			return ErrPaymentMismatch
		}
		courseIDs, err := purchasedCourses(payment, job.CourseIDs)
		if err != nil {
			return err
		}
		result.CourseIDs = courseIDs

		switch payment.Status {
		case models.PaymentStatusFailed:
			return ErrPaymentNotPending
		case models.PaymentStatusPending:
			ok, err := repos.Payments.MarkSucceeded(storeCtx, job.OrderID, job.RazorpayOrderID, job.RazorpayPaymentID, now)
			if err != nil {
				return err
			}
			if ok {
				result.Transitioned = true
				payment.Status = models.PaymentStatusSuccess
				payment.RazorpayOrderID = &job.RazorpayOrderID
				payment.RazorpayPaymentID = &job.RazorpayPaymentID
				payment.CompletedAt = &now
			} else {
				// A concurrent verification got there first.
				current, err := repos.Payments.FindByOrderID(storeCtx, job.OrderID)
				if err != nil {
					return err
				}
				if current.Status != models.PaymentStatusSuccess {
					return ErrPaymentNotPending
				}
				payment = current
			}
		}

		if result.Transitioned {
			if code := payment.Metadata.Data().PromoCode; code != "" {
				redeemed, err := repos.DiscountCodes.Redeem(storeCtx, code)
				if err != nil {
					return err
				}
				if !redeemed {
					s.Logger.Warn("Promo code cap reached before redemption; order already paid",
						zap.String("order_id", job.OrderID), zap.String("code", code))
				}
			}
		}

		if len(courseIDs) == 0 {
			s.Logger.Warn("Paid order has no courses to enroll", zap.String("order_id", job.OrderID))
		}
		rows := buildEnrollments(payment.UserID, job.OrderID, courseIDs, now)
		if result.Transitioned {
			err = repos.Enrollments.UpsertBatch(storeCtx, rows)
		} else {
			err = repos.Enrollments.InsertMissing(storeCtx, rows)
		}
		if err != nil {
			return err
		}

		result.Payment = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterFinalize(ctx, job, result)
	return result, nil
}

func buildEnrollments(studentID, orderID string, courseIDs []string, now time.Time) []models.Enrollment {
	expiresAt := now.Add(models.EnrollmentValidity)
	rows := make([]models.Enrollment, 0, len(courseIDs))
	for _, courseID := range courseIDs {
		rows = append(rows, models.Enrollment{
			ID:             uuid.New(),
			StudentID:      studentID,
			CourseID:       courseID,
			IsActive:       true,
			ExpiresAt:      expiresAt,
			PaymentOrderID: orderID,
		})
	}
	return rows
}

// purchasedCourses returns the course list stored at checkout, rejecting any
// requested course outside it. Payments without a stored list use the request.
func purchasedCourses(payment *models.Payment, requested []string) ([]string, error) {
	paid := payment.Metadata.Data().CourseIDs
	if len(paid) == 0 {
		return requested, nil
	}
	allowed := make(map[string]bool, len(paid))
	for _, id := range paid {
		allowed[id] = true
	}
	for _, id := range requested {
		if !allowed[id] {
			return nil, fmt.Errorf("%w: course %s was not purchased", ErrPaymentMismatch, id)
		}
	}
	return paid, nil
}

func uniqueCourseIDs(courses []models.PurchasedCourse) []string {
	ids := make([]string, 0, len(courses))
	seen := make(map[string]bool, len(courses))
	for _, c := range courses {
		id := strings.TrimSpace(c.ID)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

func isRetriable(err error) bool {
	return !errors.Is(err, repository.ErrPaymentNotFound) &&
		!errors.Is(err, ErrPaymentNotPending) &&
		!errors.Is(err, ErrPaymentMismatch)
}

func finalizeServiceError(err error) *ServiceError {
	switch {
	case errors.Is(err, ErrPaymentMismatch):
		return &ServiceError{StatusCode: 400, Message: msgVerificationFailed}
	case errors.Is(err, repository.ErrPaymentNotFound):
		return &ServiceError{StatusCode: 500, Message: "Payment record not found"}
	case errors.Is(err, ErrPaymentNotPending):
		return &ServiceError{StatusCode: 500, Message: "Payment is no longer pending"}
	case errors.Is(err, context.DeadlineExceeded):
		return &ServiceError{StatusCode: 500, Message: "Payment verification timed out, please retry"}
	default:
		return &ServiceError{StatusCode: 500, Message: "Failed to finalize payment, please retry"}
	}
}

// afterFinalize fans out notifications. None of them can fail the payment.
func (s *paymentServiceImpl) afterFinalize(ctx context.Context, job *models.FinalizeJob, result *FinalizeResult) {
	s.publishPaymentEvent(ctx, models.PaymentEvent{
		Type:              models.EventPaymentVerified,
		OrderID:           job.OrderID,
		UserID:            job.UserID,
		RazorpayOrderID:   job.RazorpayOrderID,
		RazorpayPaymentID: job.RazorpayPaymentID,
		Status:            string(models.PaymentStatusSuccess),
		Replayed:          !result.Transitioned,
	})

	if !result.Transitioned {
		s.Logger.Info("Payment already finalized; missing enrollments restored", zap.String("order_id", job.OrderID))
		return
	}

	s.recordCount(aws_pkg.MetricPaymentSucceeded, nil)
	s.recordValue(aws_pkg.MetricEnrollmentsCreated, float64(len(result.CourseIDs)))
	s.publishEnrollmentCreated(ctx, job.OrderID, job.UserID, result.CourseIDs, result.ExpiresAt)

	meta := result.Payment.Metadata.Data()
	if s.Mailer != nil && meta.Customer.Email != "" {
		receipt := models.Receipt{
			CustomerName:   meta.Customer.Name,
			OrderID:        job.OrderID,
			PaymentID:      job.RazorpayPaymentID,
			CourseIDs:      result.CourseIDs,
			Amount:         result.Payment.AmountINR,
			DiscountAmount: result.Payment.DiscountAmount,
			FinalAmount:    result.Payment.FinalAmount,
			PromoCode:      meta.PromoCode,
			ExpiresAt:      result.ExpiresAt,
		}
		go func(to string) {
			mctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.Mailer.SendReceipt(mctx, to, receipt); err != nil {
				s.Logger.Warn("Failed to send receipt", zap.String("order_id", receipt.OrderID), zap.Error(err))
			}
		}(meta.Customer.Email)
	}

	s.Logger.Info("Payment verified",
		zap.String("order_id", job.OrderID),
		zap.String("razorpay_payment_id", job.RazorpayPaymentID),
		zap.Strings("course_ids", result.CourseIDs),
	)
}

func (s *paymentServiceImpl) publishPaymentEvent(ctx context.Context, event models.PaymentEvent) {
	if s.Events == nil {
		return
	}
	event.Timestamp = s.now().UTC()
	if err := s.Events.SendPaymentEvent(ctx, event); err != nil {
		s.Logger.Warn("Failed to publish payment event", zap.String("type", event.Type), zap.Error(err))
	}
}

// publishEnrollmentCreated publishes an enrollment_created event to SNS.
func (s *paymentServiceImpl) publishEnrollmentCreated(ctx context.Context, orderID, studentID string, courseIDs []string, expiresAt time.Time) {
	if s.SNS == nil || s.SNSTopicArn == "" {
		s.Logger.Warn("SNS client not configured, skipping enrollment_created event")
		return
	}

	event := models.EnrollmentCreatedEvent{
		EventType: models.EventEnrollmentCreated,
		OrderID:   orderID,
		StudentID: studentID,
		CourseIDs: courseIDs,
		ExpiresAt: expiresAt,
		Timestamp: s.now().UTC(),
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		s.Logger.Error("Failed to marshal enrollment_created event", zap.Error(err))
		return
	}

	if err := s.SNS.Publish(ctx, s.SNSTopicArn, eventBytes); err != nil {
		s.Logger.Error("Failed to publish enrollment_created event", zap.Error(err))
		return
	}
}

// enqueueReconcile hands a verified job to the reconcile queue. It uses its
// own context since the request context may be the one that timed out.
func (s *paymentServiceImpl) enqueueReconcile(job *models.FinalizeJob) {
	if s.Queue == nil {
		s.Logger.Warn("Reconcile queue not configured; client retry required", zap.String("order_id", job.OrderID))
		return
	}
	body, err := json.Marshal(job)
	if err != nil {
		s.Logger.Error("Failed to marshal reconcile job", zap.Error(err))
		return
	}
	qctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Queue.SendMessage(qctx, string(body)); err != nil {
		s.Logger.Error("Failed to enqueue reconcile job", zap.String("order_id", job.OrderID), zap.Error(err))
		return
	}
	s.Logger.Info("Reconcile job enqueued", zap.String("order_id", job.OrderID))
}

func (s *paymentServiceImpl) recordCount(name string, extra map[string]string) {
	dims := serviceDimensions(extra)
	emitMetric(s.Metrics, func(ctx context.Context, m MetricsRecorder) error {
		return m.RecordCount(ctx, name, dims)
	})
}

func (s *paymentServiceImpl) recordValue(name string, value float64) {
	dims := serviceDimensions(nil)
	emitMetric(s.Metrics, func(ctx context.Context, m MetricsRecorder) error {
		return m.RecordValue(ctx, name, value, dims)
	})
}

func serviceDimensions(extra map[string]string) map[string]string {
	dims := map[string]string{"Service": "checkout-service"}
	for k, v := range extra {
		dims[k] = v
	}
	return dims
}

package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"checkout-service/models"
	aws_pkg "checkout-service/pkg/aws"
	"checkout-service/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const testSecret = "test_secret"

type paymentFixture struct {
	svc         services.PaymentService
	promo       services.PromoService
	payments    *mockPaymentRepo
	enrollments *mockEnrollmentRepo
	codes       *mockDiscountRepo
	prices      *mockCoursePriceRepo
	gateway     *mockGateway
	events      *mockEventPublisher
	sns         *mockSNSPublisher
	queue       *mockQueue
	metrics     *mockMetrics
	mailer      *mockMailer
}

func newPaymentFixture(secret string) *paymentFixture {
	f := &paymentFixture{
		payments:    newMockPaymentRepo(),
		enrollments: newMockEnrollmentRepo(),
		codes:       newMockDiscountRepo(),
		prices:      &mockCoursePriceRepo{prices: map[string]float64{"C1": 1000, "C2": 400}},
		gateway:     &mockGateway{orderID: "order_RZP001"},
		events:      &mockEventPublisher{},
		sns:         &mockSNSPublisher{},
		queue:       &mockQueue{},
		metrics:     newMockMetrics(),
		mailer:      &mockMailer{sent: make(chan sentReceipt, 4)},
	}
	f.payments.enrollments = f.enrollments
	logger := zap.NewNop()
	f.promo = services.NewPromoService(f.codes, f.metrics, time.Second, logger)
	f.svc = services.NewPaymentService(services.PaymentDeps{
		Transactor:   &mockTransactor{payments: f.payments, enrollments: f.enrollments, codes: f.codes},
		Payments:     f.payments,
		CoursePrices: f.prices,
		Promo:        f.promo,
		Gateway:      f.gateway,
		Events:       f.events,
		SNS:          f.sns,
		SNSTopicArn:  "arn:aws:sns:ap-south-1:000000000000:enrollment-events",
		Queue:        f.queue,
		Mailer:       f.mailer,
		Metrics:      f.metrics,
		KeyID:        "rzp_test_key",
		KeySecret:    secret,
		StoreTimeout: time.Second,
		Logger:       logger,
	})
	return f
}

func (f *paymentFixture) seedPending(orderID, userID, gatewayOrderID, promoCode string, courseIDs ...string) {
	f.payments.payments[orderID] = &models.Payment{
		OrderID:         orderID,
		UserID:          userID,
		AmountINR:       1000,
		FinalAmount:     1000,
		Status:          models.PaymentStatusPending,
		PaymentGateway:  models.GatewayRazorpay,
		RazorpayOrderID: strPtr(gatewayOrderID),
		Metadata: datatypes.NewJSONType(models.PaymentMetadata{
			Customer:  models.CustomerInfo{Name: "Asha", Email: "asha@example.com"},
			PromoCode: promoCode,
			CourseIDs: courseIDs,
		}),
	}
}

func signedRequest(orderID, userID, gatewayOrderID, gatewayPaymentID string, courseIDs ...string) *models.VerifyPaymentRequest {
	req := &models.VerifyPaymentRequest{
		RazorpayOrderID:   gatewayOrderID,
		RazorpayPaymentID: gatewayPaymentID,
		RazorpaySignature: services.SignPayment(testSecret, gatewayOrderID, gatewayPaymentID),
		OrderID:           orderID,
		UserID:            userID,
	}
	for _, id := range courseIDs {
		req.Courses = append(req.Courses, models.PurchasedCourse{ID: id})
	}
	return req
}

// --- VerifyPayment ---

func TestVerifyPayment_Success(t *testing.T) {
	f := newPaymentFixture(testSecret)
	dc := f.codes.add(activeCode("SAVE20", floatPtr(20), nil))
	f.seedPending("ORD123", "U1", "ORD_RZP_123", "SAVE20", "C1")

	req := signedRequest("ORD123", "U1", "ORD_RZP_123", "PAY456", "C1")
	require.Equal(t, "10cacfae3d805fddd240ba67af83b8cf4865946c864c3ab39741b4f75cb34117", req.RazorpaySignature)

	before := time.Now()
	resp, svcErr := f.svc.VerifyPayment(context.Background(), req)
	require.Nil(t, svcErr)
	assert.True(t, resp.Verified)
	assert.Equal(t, "Payment verified and enrollment created", resp.Message)

	p := f.payments.payments["ORD123"]
	assert.Equal(t, models.PaymentStatusSuccess, p.Status)
	assert.Equal(t, "PAY456", *p.RazorpayPaymentID)
	require.NotNil(t, p.CompletedAt)
	assert.WithinDuration(t, before, *p.CompletedAt, time.Minute)

	e, ok := f.enrollments.rows["U1/C1"]
	require.True(t, ok)
	assert.True(t, e.IsActive)
	assert.Equal(t, "ORD123", e.PaymentOrderID)
	assert.WithinDuration(t, before.Add(365*24*time.Hour), e.ExpiresAt, time.Minute)

	assert.Equal(t, 1, dc.TimesUsed)
	assert.Equal(t, []string{models.EventPaymentVerified}, f.events.types())
	assert.False(t, f.events.events[0].Replayed)
	assert.Len(t, f.sns.published, 1)
	waitForCount(t, f.metrics, aws_pkg.MetricPaymentSucceeded, 1)
	assert.Eventually(t, func() bool { return f.metrics.value(aws_pkg.MetricEnrollmentsCreated) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.queue.bodies)

	var event models.EnrollmentCreatedEvent
	require.NoError(t, json.Unmarshal(f.sns.published[0], &event))
	assert.Equal(t, "enrollment_created", event.EventType)
	assert.Equal(t, []string{"C1"}, event.CourseIDs)

	select {
	case sent := <-f.mailer.sent:
		assert.Equal(t, "asha@example.com", sent.to)
		assert.Equal(t, "ORD123", sent.receipt.OrderID)
		assert.Equal(t, "SAVE20", sent.receipt.PromoCode)
	case <-time.After(2 * time.Second):
		t.Fatal("receipt was not sent")
	}
}

func TestVerifyPayment_CorruptedSignature(t *testing.T) {
	f := newPaymentFixture(testSecret)
	dc := f.codes.add(activeCode("SAVE20", floatPtr(20), nil))
	f.seedPending("ORD123", "U1", "ORD_RZP_123", "SAVE20", "C1")

	req := signedRequest("ORD123", "U1", "ORD_RZP_123", "PAY456", "C1")
	req.RazorpaySignature = "0" + req.RazorpaySignature[1:]

	resp, svcErr := f.svc.VerifyPayment(context.Background(), req)
	assert.Nil(t, resp)
	require.NotNil(t, svcErr)
	assert.Equal(t, 400, svcErr.StatusCode)
	assert.Equal(t, "Payment verification failed", svcErr.Message)

	assert.Equal(t, models.PaymentStatusPending, f.payments.payments["ORD123"].Status)
	assert.Equal(t, 0, f.payments.markCalls)
	assert.Empty(t, f.enrollments.rows)
	assert.Equal(t, 0, f.enrollments.upsertCalls)
	assert.Equal(t, 0, dc.TimesUsed)
	assert.Equal(t, []string{models.EventPaymentRejected}, f.events.types())
	waitForCount(t, f.metrics, aws_pkg.MetricPaymentFailed, 1)
	assert.Empty(t, f.queue.bodies)
}

func TestVerifyPayment_SignedWithOtherSecret(t *testing.T) {
	f := newPaymentFixture("another_secret")
	f.seedPending("ORD123", "U1", "ORD_RZP_123", "", "C1")

	_, svcErr := f.svc.VerifyPayment(context.Background(), signedRequest("ORD123", "U1", "ORD_RZP_123", "PAY456", "C1"))
	require.NotNil(t, svcErr)
	assert.Equal(t, 400, svcErr.StatusCode)
	assert.Empty(t, f.enrollments.rows)
}

func TestVerifyPayment_IdempotentReplay(t *testing.T) {
	f := newPaymentFixture(testSecret)
	dc := f.codes.add(activeCode("SAVE20", floatPtr(20), nil))
	f.seedPending("ORD123", "U1", "ORD_RZP_123", "SAVE20", "C1", "C2")
	req := signedRequest("ORD123", "U1", "ORD_RZP_123", "PAY456", "C1", "C2")

	_, svcErr := f.svc.VerifyPayment(context.Background(), req)
	require.Nil(t, svcErr)
	firstCompletedAt := *f.payments.payments["ORD123"].CompletedAt
	firstExpiry := f.enrollments.rows["U1/C1"].ExpiresAt

	time.Sleep(20 * time.Millisecond)
	resp, svcErr := f.svc.VerifyPayment(context.Background(), req)
	require.Nil(t, svcErr)
	assert.True(t, resp.Verified)

	p := f.payments.payments["ORD123"]
	assert.Equal(t, models.PaymentStatusSuccess, p.Status)
	assert.Equal(t, firstCompletedAt, *p.CompletedAt)
	assert.Len(t, f.enrollments.rows, 2)
	assert.Equal(t, 1, f.payments.markCalls)
	assert.Equal(t, 1, dc.TimesUsed)
	assert.Len(t, f.sns.published, 1)
	waitForCount(t, f.metrics, aws_pkg.MetricPaymentSucceeded, 1)
	assert.Equal(t, firstExpiry, f.enrollments.rows["U1/C1"].ExpiresAt)
	assert.Equal(t, "ORD123", f.enrollments.rows["U1/C1"].PaymentOrderID)
	assert.Equal(t, 1, f.enrollments.upsertCalls)
	assert.Equal(t, 1, f.enrollments.insertCalls)

	require.Len(t, f.events.events, 2)
	assert.True(t, f.events.events[1].Replayed)
}

func TestVerifyPayment_DuplicateCoursesCollapse(t *testing.T) {
	f := newPaymentFixture(testSecret)
	f.seedPending("ORD123", "U1", "ORD_RZP_123", "", "C1")

	_, svcErr := f.svc.VerifyPayment(context.Background(), signedRequest("ORD123", "U1", "ORD_RZP_123", "PAY456", "C1", "C1", " C1 "))
	require.Nil(t, svcErr)
	assert.Len(t, f.enrollments.rows, 1)
}

func TestVerifyPayment_MissingSecret(t *testing.T) {
	f := newPaymentFixture("")
	f.seedPending("ORD123", "U1", "ORD_RZP_123", "", "C1")

	_, svcErr := f.svc.VerifyPayment(context.Background(), signedRequest("ORD123", "U1", "ORD_RZP_123", "PAY456", "C1"))
	require.NotNil(t, svcErr)
	assert.Equal(t, 500, svcErr.StatusCode)
	assert.Equal(t, models.PaymentStatusPending, f.payments.payments["ORD123"].Status)
	assert.Empty(t, f.enrollments.rows)
}

func TestVerifyPayment_InvalidRequest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(req *models.VerifyPaymentRequest)
	}{
		{"missing order id", func(req *models.VerifyPaymentRequest) { req.OrderID = "" }},
		{"missing user id", func(req *models.VerifyPaymentRequest) { req.UserID = "" }},
		{"missing gateway order", func(req *models.VerifyPaymentRequest) { req.RazorpayOrderID = "" }},
		{"missing gateway payment", func(req *models.VerifyPaymentRequest) { req.RazorpayPaymentID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPaymentFixture(testSecret)
			f.seedPending("ORD123", "U1", "ORD_RZP_123", "", "C1")
			req := signedRequest("ORD123", "U1", "ORD_RZP_123", "PAY456", "C1")
			tt.mutate(req)

			_, svcErr := f.svc.VerifyPayment(context.Background(), req)
			require.NotNil(t, svcErr)
			assert.Equal(t, 400, svcErr.StatusCode)
			assert.Equal(t, 0, f.payments.markCalls)
		})
	}
}

func TestVerifyPayment_WithoutCoursesEnrollsPurchasedCourses(t *testing.T) {
	f := newPaymentFixture(testSecret)
	f.seedPending("ORD123", "U1", "ORD_RZP_123", "", "C1", "C2")

	resp, svcErr := f.svc.VerifyPayment(context.Background(), signedRequest("ORD123", "U1", "ORD_RZP_123", "PAY456"))
	require.Nil(t, svcErr)
	assert.True(t, resp.Verified)
	assert.Equal(t, models.PaymentStatusSuccess, f.payments.payments["ORD123"].Status)
	assert.Contains(t, f.enrollments.rows, "U1/C1")
	assert.Contains(t, f.enrollments.rows, "U1/C2")

	var event models.EnrollmentCreatedEvent
	require.Len(t, f.sns.published, 1)
	require.NoError(t, json.Unmarshal(f.sns.published[0], &event))
	assert.Equal(t, []string{"C1", "C2"}, event.CourseIDs)
}

func TestVerifyPayment_UnpurchasedCourseIsRejected(t *testing.T) {
	f := newPaymentFixture(testSecret)
	f.seedPending("ORD123", "U1", "ORD_RZP_123", "", "C1")

	_, svcErr := f.svc.VerifyPayment(context.Background(), signedRequest("ORD123", "U1", "ORD_RZP_123", "PAY456", "C1", "PREMIUM_C9"))
	require.NotNil(t, svcErr)
	assert.Equal(t, 400, svcErr.StatusCode)
	assert.Equal(t, "Payment verification failed", svcErr.Message)
	assert.Equal(t, models.PaymentStatusPending, f.payments.payments["ORD123"].Status)
	assert.Empty(t, f.enrollments.rows)
	assert.Empty(t, f.queue.bodies)
}

func TestVerifyPayment_ReplayCannotAddCourses(t *testing.T) {
	f := newPaymentFixture(testSecret)
	f.seedPending("ORD123", "U1", "ORD_RZP_123", "", "C1")

	_, svcErr := f.svc.VerifyPayment(context.Background(), signedRequest("ORD123", "U1", "ORD_RZP_123", "PAY456", "C1"))
	require.Nil(t, svcErr)

	_, svcErr = f.svc.VerifyPayment(context.Background(), signedRequest("ORD123", "U1", "ORD_RZP_123", "PAY456", "C1", "PREMIUM_C9"))
	require.NotNil(t, svcErr)
	assert.Equal(t, 400, svcErr.StatusCode)
	assert.NotContains(t, f.enrollments.rows, "U1/PREMIUM_C9")
	assert.Len(t, f.enrollments.rows, 1)
	assert.Empty(t, f.queue.bodies)
}

func TestVerifyPayment_RenewalExtendsButKeepsOrigin(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name       string
		existing   time.Time
		wantLonger bool
	}{
		{"expiring soon is extended", now.Add(30 * 24 * time.Hour), true},
		{"later expiry is kept", now.Add(500 * 24 * time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPaymentFixture(testSecret)
			f.enrollments.rows["U1/C1"] = models.Enrollment{
				StudentID:      "U1",
				CourseID:       "C1",
				IsActive:       true,
				ExpiresAt:      tt.existing,
				PaymentOrderID: "ORD-A",
			}
			f.seedPending("ORD-B", "U1", "ORD_RZP_B", "", "C1")

			_, svcErr := f.svc.VerifyPayment(context.Background(), signedRequest("ORD-B", "U1", "ORD_RZP_B", "PAY_B", "C1"))
			require.Nil(t, svcErr)

			e := f.enrollments.rows["U1/C1"]
			assert.Equal(t, "ORD-A", e.PaymentOrderID)
			if tt.wantLonger {
				assert.WithinDuration(t, now.Add(models.EnrollmentValidity), e.ExpiresAt, time.Minute)
			} else {
				assert.Equal(t, tt.existing, e.ExpiresAt)
			}
		})
	}
}

func TestVerifyPayment_PaymentNotFound(t *testing.T) {
	f := newPaymentFixture(testSecret)

	_, svcErr := f.svc.VerifyPayment(context.Background(), signedRequest("ORD404", "U1", "ORD_RZP_404", "PAY456", "C1"))
	require.NotNil(t, svcErr)
	assert.Equal(t, 500, svcErr.StatusCode)
	assert.Equal(t, "Payment record not found", svcErr.Message)
	assert.Empty(t, f.enrollments.rows)
	assert.Empty(t, f.queue.bodies)
}

func TestVerifyPayment_FailedPaymentIsNotReopened(t *testing.T) {
	f := newPaymentFixture(testSecret)
	f.seedPending("ORD123", "U1", "ORD_RZP_123", "", "C1")
	f.payments.payments["ORD123"].Status = models.PaymentStatusFailed

	_, svcErr := f.svc.VerifyPayment(context.Background(), signedRequest("ORD123", "U1", "ORD_RZP_123", "PAY456", "C1"))
	require.NotNil(t, svcErr)
	assert.Equal(t, 500, svcErr.StatusCode)
	assert.Equal(t, models.PaymentStatusFailed, f.payments.payments["ORD123"].Status)
	assert.Empty(t, f.enrollments.rows)
	assert.Empty(t, f.queue.bodies)
}

func TestVerifyPayment_OwnershipMismatch(t *testing.T) {
	tests := []struct {
		name string
		req  *models.VerifyPaymentRequest
	}{
		{"other user", signedRequest("ORD123", "U2", "ORD_RZP_123", "PAY456", "C1")},
		{"other gateway order", signedRequest("ORD123", "U1", "ORD_RZP_999", "PAY456", "C1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPaymentFixture(testSecret)
			f.seedPending("ORD123", "U1", "ORD_RZP_123", "", "C1")

			_, svcErr := f.svc.VerifyPayment(context.Background(), tt.req)
			require.NotNil(t, svcErr)
			assert.Equal(t, 400, svcErr.StatusCode)
			assert.Equal(t, "Payment verification failed", svcErr.Message)
			assert.Equal(t, models.PaymentStatusPending, f.payments.payments["ORD123"].Status)
			assert.Empty(t, f.enrollments.rows)
		})
	}
}

func TestVerifyPayment_EnrollmentFailureRollsBackAndEnqueues(t *testing.T) {
	f := newPaymentFixture(testSecret)
	dc := f.codes.add(activeCode("SAVE20", floatPtr(20), nil))
	f.seedPending("ORD123", "U1", "ORD_RZP_123", "SAVE20", "C1")
	f.enrollments.upsertErr = errors.New("connection reset by peer")

	_, svcErr := f.svc.VerifyPayment(context.Background(), signedRequest("ORD123", "U1", "ORD_RZP_123", "PAY456", "C1"))
	require.NotNil(t, svcErr)
	assert.Equal(t, 500, svcErr.StatusCode)

	p := f.payments.payments["ORD123"]
	assert.Equal(t, models.PaymentStatusPending, p.Status)
	assert.Nil(t, p.CompletedAt)
	assert.Equal(t, 0, dc.TimesUsed)
	assert.Empty(t, f.sns.published)

	require.Len(t, f.queue.bodies, 1)
	var job models.FinalizeJob
	require.NoError(t, json.Unmarshal([]byte(f.queue.bodies[0]), &job))
	assert.Equal(t, "ORD123", job.OrderID)
	assert.Equal(t, "PAY456", job.RazorpayPaymentID)
	assert.Equal(t, []string{"C1"}, job.CourseIDs)
}

func TestVerifyPayment_ExhaustedPromoStillFinalizes(t *testing.T) {
	f := newPaymentFixture(testSecret)
	dc := f.codes.add(activeCode("LAST", floatPtr(20), nil))
	dc.MaxUses = intPtr(1)
	dc.TimesUsed = 1
	f.seedPending("ORD123", "U1", "ORD_RZP_123", "LAST", "C1")

	resp, svcErr := f.svc.VerifyPayment(context.Background(), signedRequest("ORD123", "U1", "ORD_RZP_123", "PAY456", "C1"))
	require.Nil(t, svcErr)
	assert.True(t, resp.Verified)
	assert.Equal(t, 1, dc.TimesUsed)
	assert.Len(t, f.enrollments.rows, 1)
}

func TestVerifyPayment_OptionalCollaboratorsAbsent(t *testing.T) {
	payments := newMockPaymentRepo()
	enrollments := newMockEnrollmentRepo()
	codes := newMockDiscountRepo()
	logger := zap.NewNop()
	svc := services.NewPaymentService(services.PaymentDeps{
		Transactor: &mockTransactor{payments: payments, enrollments: enrollments, codes: codes},
		Payments:   payments,
		Promo:      services.NewPromoService(codes, nil, 0, logger),
		Gateway:    &mockGateway{orderID: "order_X"},
		KeySecret:  testSecret,
		Logger:     logger,
	})
	payments.payments["ORD123"] = &models.Payment{
		OrderID:         "ORD123",
		UserID:          "U1",
		Status:          models.PaymentStatusPending,
		RazorpayOrderID: strPtr("ORD_RZP_123"),
	}

	resp, svcErr := svc.VerifyPayment(context.Background(), signedRequest("ORD123", "U1", "ORD_RZP_123", "PAY456", "C1"))
	require.Nil(t, svcErr)
	assert.True(t, resp.Verified)
	assert.Len(t, enrollments.rows, 1)
}

// --- CreateCheckout ---

func TestCreateCheckout_WithPromoThenVerify(t *testing.T) {
	f := newPaymentFixture(testSecret)
	dc := f.codes.add(activeCode("SAVE20", floatPtr(20), nil))

	resp, svcErr := f.svc.CreateCheckout(context.Background(), &models.CheckoutRequest{
		UserID:    "U1",
		Courses:   []models.CheckoutCourse{{ID: "C1", Price: 1000}},
		PromoCode: "save20",
		Customer:  models.CustomerInfo{Name: "Asha", Email: "asha@example.com"},
	})
	require.Nil(t, svcErr)
	assert.Regexp(t, `^ORD-[0-9A-F]{16}$`, resp.OrderID)
	assert.Equal(t, "order_RZP001", resp.RazorpayOrderID)
	assert.Equal(t, "rzp_test_key", resp.KeyID)
	assert.Equal(t, 1000.0, resp.Amount)
	assert.Equal(t, 200.0, resp.DiscountAmount)
	assert.Equal(t, 800.0, resp.FinalAmount)
	assert.Equal(t, "INR", resp.Currency)
	assert.Equal(t, int64(80000), f.gateway.amountPaise)
	assert.Equal(t, resp.OrderID, f.gateway.receipt)

	p := f.payments.payments[resp.OrderID]
	require.NotNil(t, p)
	assert.Equal(t, models.PaymentStatusPending, p.Status)
	assert.Equal(t, "SAVE20", p.Metadata.Data().PromoCode)
	assert.Equal(t, []string{"C1"}, p.Metadata.Data().CourseIDs)
	assert.Equal(t, 0, dc.TimesUsed)

	verify := signedRequest(resp.OrderID, "U1", resp.RazorpayOrderID, "pay_1", "C1")
	vresp, svcErr := f.svc.VerifyPayment(context.Background(), verify)
	require.Nil(t, svcErr)
	assert.True(t, vresp.Verified)
	assert.Equal(t, 1, dc.TimesUsed)
	assert.Contains(t, f.enrollments.rows, "U1/C1")
}

func TestCreateCheckout_Pricing(t *testing.T) {
	tests := []struct {
		name     string
		prices   map[string]float64
		code     *models.DiscountCode
		courses  []models.CheckoutCourse
		discount float64
		final    float64
	}{
		{
			name:     "no promo",
			prices:   map[string]float64{"C1": 499.5, "C2": 500.5},
			courses:  []models.CheckoutCourse{{ID: "C1"}, {ID: "C2", Price: 500.5}},
			discount: 0,
			final:    1000,
		},
		{
			name:     "flat amount",
			code:     activeCode("FLAT300", nil, floatPtr(300)),
			courses:  []models.CheckoutCourse{{ID: "C1", Price: 1000}},
			discount: 300,
			final:    700,
		},
		{
			name: "course scoped percent",
			code: func() *models.DiscountCode {
				dc := activeCode("HALFC2", floatPtr(50), nil)
				dc.CourseID = strPtr("C2")
				return dc
			}(),
			courses:  []models.CheckoutCourse{{ID: "C1", Price: 1000}, {ID: "C2", Price: 400}},
			discount: 200,
			final:    1200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPaymentFixture(testSecret)
			if tt.prices != nil {
				f.prices.prices = tt.prices
			}
			req := &models.CheckoutRequest{UserID: "U1", Courses: tt.courses}
			if tt.code != nil {
				f.codes.add(tt.code)
				req.PromoCode = tt.code.Code
			}

			resp, svcErr := f.svc.CreateCheckout(context.Background(), req)
			require.Nil(t, svcErr)
			assert.Equal(t, tt.discount, resp.DiscountAmount)
			assert.Equal(t, tt.final, resp.FinalAmount)
		})
	}
}

func TestCreateCheckout_Rejections(t *testing.T) {
	expired := activeCode("OLD", floatPtr(10), nil)
	expired.ValidUntil = timePtr(time.Now().Add(-time.Hour))
	scoped := activeCode("ONLYC9", floatPtr(10), nil)
	scoped.CourseID = strPtr("C9")
	free := activeCode("FREE", floatPtr(100), nil)

	tests := []struct {
		name    string
		code    *models.DiscountCode
		req     models.CheckoutRequest
		status  int
		message string
	}{
		{
			name:   "missing user",
			req:    models.CheckoutRequest{Courses: []models.CheckoutCourse{{ID: "C1"}}},
			status: 400,
		},
		{
			name:   "no courses",
			req:    models.CheckoutRequest{UserID: "U1"},
			status: 400,
		},
		{
			name:   "duplicate course",
			req:    models.CheckoutRequest{UserID: "U1", Courses: []models.CheckoutCourse{{ID: "C1"}, {ID: "C1"}}},
			status: 400,
		},
		{
			name:   "negative price",
			req:    models.CheckoutRequest{UserID: "U1", Courses: []models.CheckoutCourse{{ID: "C1", Price: -5}}},
			status: 400,
		},
		{
			name:    "course not in catalog",
			req:     models.CheckoutRequest{UserID: "U1", Courses: []models.CheckoutCourse{{ID: "C1"}, {ID: "PREMIUM_C9"}}},
			status:  400,
			message: "Course PREMIUM_C9 is not available for purchase",
		},
		{
			name:    "client price below catalog",
			req:     models.CheckoutRequest{UserID: "U1", Courses: []models.CheckoutCourse{{ID: "C1", Price: 1}}},
			status:  400,
			message: "Course price has changed, please refresh and try again",
		},
		{
			name:    "unknown promo",
			req:     models.CheckoutRequest{UserID: "U1", Courses: []models.CheckoutCourse{{ID: "C1"}}, PromoCode: "NOPE"},
			status:  400,
			message: "Invalid promo code",
		},
		{
			name:    "expired promo",
			code:    expired,
			req:     models.CheckoutRequest{UserID: "U1", Courses: []models.CheckoutCourse{{ID: "C1"}}, PromoCode: "OLD"},
			status:  400,
			message: "This promo code has expired",
		},
		{
			name:    "scoped promo for course not in cart",
			code:    scoped,
			req:     models.CheckoutRequest{UserID: "U1", Courses: []models.CheckoutCourse{{ID: "C1"}}, PromoCode: "ONLYC9"},
			status:  400,
			message: "This promo code is not applicable to this course",
		},
		{
			name:   "total below minimum charge",
			code:   free,
			req:    models.CheckoutRequest{UserID: "U1", Courses: []models.CheckoutCourse{{ID: "C1"}}, PromoCode: "FREE"},
			status: 400,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPaymentFixture(testSecret)
			if tt.code != nil {
				f.codes.add(tt.code)
			}
			req := tt.req

			resp, svcErr := f.svc.CreateCheckout(context.Background(), &req)
			assert.Nil(t, resp)
			require.NotNil(t, svcErr)
			assert.Equal(t, tt.status, svcErr.StatusCode)
			if tt.message != "" {
				assert.Equal(t, tt.message, svcErr.Message)
			}
			assert.Empty(t, f.payments.payments)
		})
	}
}

func TestCreateCheckout_GatewayError(t *testing.T) {
	f := newPaymentFixture(testSecret)
	f.gateway.err = errors.New("razorpay: 503")

	resp, svcErr := f.svc.CreateCheckout(context.Background(), &models.CheckoutRequest{
		UserID:  "U1",
		Courses: []models.CheckoutCourse{{ID: "C1"}},
	})
	assert.Nil(t, resp)
	require.NotNil(t, svcErr)
	assert.Equal(t, 502, svcErr.StatusCode)
	assert.Empty(t, f.payments.payments)
}

func TestCreateCheckout_ChargesCatalogPrice(t *testing.T) {
	f := newPaymentFixture(testSecret)
	f.prices.prices["C1"] = 1499

	resp, svcErr := f.svc.CreateCheckout(context.Background(), &models.CheckoutRequest{
		UserID:  "U1",
		Courses: []models.CheckoutCourse{{ID: "C1"}},
	})
	require.Nil(t, svcErr)
	assert.Equal(t, 1499.0, resp.FinalAmount)
	assert.Equal(t, int64(149900), f.gateway.amountPaise)
}

func TestCreateCheckout_CatalogError(t *testing.T) {
	f := newPaymentFixture(testSecret)
	f.prices.findErr = errors.New("connection refused")

	resp, svcErr := f.svc.CreateCheckout(context.Background(), &models.CheckoutRequest{
		UserID:  "U1",
		Courses: []models.CheckoutCourse{{ID: "C1"}},
	})
	assert.Nil(t, resp)
	require.NotNil(t, svcErr)
	assert.Equal(t, 500, svcErr.StatusCode)
	assert.Empty(t, f.payments.payments)
}

// --- SetCoursePrice ---

func TestSetCoursePrice(t *testing.T) {
	f := newPaymentFixture(testSecret)

	price, svcErr := f.svc.SetCoursePrice(context.Background(), " C7 ", &models.SetCoursePriceRequest{PriceINR: 799.999})
	require.Nil(t, svcErr)
	assert.Equal(t, "C7", price.CourseID)
	assert.Equal(t, 800.0, price.PriceINR)
	assert.True(t, price.IsActive)
	assert.Equal(t, 800.0, f.prices.prices["C7"])

	inactive := false
	_, svcErr = f.svc.SetCoursePrice(context.Background(), "C7", &models.SetCoursePriceRequest{PriceINR: 800, IsActive: &inactive})
	require.Nil(t, svcErr)
	assert.NotContains(t, f.prices.prices, "C7")

	_, svcErr = f.svc.CreateCheckout(context.Background(), &models.CheckoutRequest{UserID: "U1", Courses: []models.CheckoutCourse{{ID: "C7"}}})
	require.NotNil(t, svcErr)
	assert.Equal(t, 400, svcErr.StatusCode)
}

func TestSetCoursePrice_Errors(t *testing.T) {
	f := newPaymentFixture(testSecret)

	_, svcErr := f.svc.SetCoursePrice(context.Background(), " ", &models.SetCoursePriceRequest{PriceINR: 100})
	require.NotNil(t, svcErr)
	assert.Equal(t, 400, svcErr.StatusCode)

	_, svcErr = f.svc.SetCoursePrice(context.Background(), "C1", &models.SetCoursePriceRequest{PriceINR: -1})
	require.NotNil(t, svcErr)
	assert.Equal(t, 400, svcErr.StatusCode)

	f.prices.saveErr = errors.New("connection refused")
	_, svcErr = f.svc.SetCoursePrice(context.Background(), "C1", &models.SetCoursePriceRequest{PriceINR: 100})
	require.NotNil(t, svcErr)
	assert.Equal(t, 500, svcErr.StatusCode)
}

func TestComputeDiscount(t *testing.T) {
	tests := []struct {
		name    string
		base    float64
		percent *float64
		amount  *float64
		want    float64
	}{
		{"percent", 1000, floatPtr(20), nil, 200},
		{"percent rounds to paise", 99.99, floatPtr(33), nil, 33},
		{"flat", 1000, nil, floatPtr(250), 250},
		{"flat capped at base", 100, nil, floatPtr(250), 100},
		{"percent preferred over flat", 1000, floatPtr(10), floatPtr(500), 100},
		{"neither", 1000, nil, nil, 0},
		{"full percent", 499, floatPtr(100), nil, 499},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, services.ComputeDiscount(tt.base, tt.percent, tt.amount))
		})
	}
}

package services_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"checkout-service/models"
	"checkout-service/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// --- Mock DiscountCodeRepository ---

type mockDiscountRepo struct {
	codes   map[string]*models.DiscountCode
	findErr error
}

func newMockDiscountRepo() *mockDiscountRepo {
	return &mockDiscountRepo{codes: make(map[string]*models.DiscountCode)}
}

func (m *mockDiscountRepo) add(dc *models.DiscountCode) *models.DiscountCode {
	if dc.ID == uuid.Nil {
		dc.ID = uuid.New()
	}
	m.codes[strings.ToLower(dc.Code)] = dc
	return dc
}

func (m *mockDiscountRepo) Create(_ context.Context, dc *models.DiscountCode) error {
	if _, ok := m.codes[strings.ToLower(dc.Code)]; ok {
		return errors.New(`ERROR: duplicate key value violates unique constraint "idx_discount_codes_code"`)
	}
	m.add(dc)
	return nil
}

func (m *mockDiscountRepo) FindByCode(_ context.Context, code string) (*models.DiscountCode, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	dc, ok := m.codes[strings.ToLower(code)]
	if !ok {
		return nil, repository.ErrDiscountCodeNotFound
	}
	return dc, nil
}

func (m *mockDiscountRepo) Redeem(_ context.Context, code string) (bool, error) {
	dc, ok := m.codes[strings.ToLower(code)]
	if !ok || (dc.MaxUses != nil && dc.TimesUsed >= *dc.MaxUses) {
		return false, nil
	}
	dc.TimesUsed++
	return true, nil
}

func (m *mockDiscountRepo) Deactivate(_ context.Context, code string) error {
	dc, ok := m.codes[strings.ToLower(code)]
	if !ok {
		return repository.ErrDiscountCodeNotFound
	}
	dc.IsActive = false
	return nil
}

func (m *mockDiscountRepo) FindAll(_ context.Context, _, _ int) ([]models.DiscountCode, int64, error) {
	var result []models.DiscountCode
	for _, dc := range m.codes {
		result = append(result, *dc)
	}
	return result, int64(len(result)), nil
}

// --- Mock PaymentRepository ---

type mockPaymentRepo struct {
	payments    map[string]*models.Payment
	enrollments *mockEnrollmentRepo
	markCalls   int
	findErr     error
}

func newMockPaymentRepo() *mockPaymentRepo {
	return &mockPaymentRepo{payments: make(map[string]*models.Payment)}
}

func (m *mockPaymentRepo) Create(_ context.Context, p *models.Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.payments[p.OrderID] = p
	return nil
}

func (m *mockPaymentRepo) FindByOrderID(_ context.Context, orderID string) (*models.Payment, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	p, ok := m.payments[orderID]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPaymentRepo) MarkSucceeded(_ context.Context, orderID, gatewayOrderID, gatewayPaymentID string, completedAt time.Time) (bool, error) {
	m.markCalls++
	p, ok := m.payments[orderID]
	if !ok || p.Status != models.PaymentStatusPending {
		return false, nil
	}
	p.Status = models.PaymentStatusSuccess
	p.RazorpayOrderID = &gatewayOrderID
	p.RazorpayPaymentID = &gatewayPaymentID
	p.CompletedAt = &completedAt
	return true, nil
}

func (m *mockPaymentRepo) ListSucceededMissingEnrollments(_ context.Context, _ int) ([]models.Payment, error) {
	var out []models.Payment
	for _, p := range m.payments {
		if p.Status != models.PaymentStatusSuccess {
			continue
		}
		for _, courseID := range p.Metadata.Data().CourseIDs {
			if _, ok := m.enrollments.rows[p.UserID+"/"+courseID]; !ok {
				out = append(out, *p)
				break
			}
		}
	}
	return out, nil
}

// --- Mock EnrollmentRepository ---

// mockEnrollmentRepo fails both writes with upsertErr when it is set.
type mockEnrollmentRepo struct {
	rows        map[string]models.Enrollment
	upsertErr   error
	upsertCalls int
	insertCalls int
}

func newMockEnrollmentRepo() *mockEnrollmentRepo {
	return &mockEnrollmentRepo{rows: make(map[string]models.Enrollment)}
}

func (m *mockEnrollmentRepo) UpsertBatch(_ context.Context, enrollments []models.Enrollment) error {
	m.upsertCalls++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for _, e := range enrollments {
		key := e.StudentID + "/" + e.CourseID
		if existing, ok := m.rows[key]; ok {
			existing.IsActive = e.IsActive
			if e.ExpiresAt.After(existing.ExpiresAt) {
				existing.ExpiresAt = e.ExpiresAt
			}
			m.rows[key] = existing
			continue
		}
		m.rows[key] = e
	}
	return nil
}

func (m *mockEnrollmentRepo) InsertMissing(_ context.Context, enrollments []models.Enrollment) error {
	m.insertCalls++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for _, e := range enrollments {
		key := e.StudentID + "/" + e.CourseID
		if _, ok := m.rows[key]; !ok {
			m.rows[key] = e
		}
	}
	return nil
}

func (m *mockEnrollmentRepo) FindActiveByStudent(_ context.Context, studentID string, now time.Time) ([]models.Enrollment, error) {
	var out []models.Enrollment
	for _, e := range m.rows {
		if e.StudentID == studentID && e.IsActive && e.ExpiresAt.After(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- Mock CoursePriceRepository ---

type mockCoursePriceRepo struct {
	prices  map[string]float64
	findErr error
	saveErr error
	saved   []models.CoursePrice
}

func (m *mockCoursePriceRepo) FindActivePrices(_ context.Context, courseIDs []string) (map[string]float64, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	out := make(map[string]float64, len(courseIDs))
	for _, id := range courseIDs {
		if price, ok := m.prices[id]; ok {
			out[id] = price
		}
	}
	return out, nil
}

func (m *mockCoursePriceRepo) Save(_ context.Context, price *models.CoursePrice) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, *price)
	if price.IsActive {
		m.prices[price.CourseID] = price.PriceINR
	} else {
		delete(m.prices, price.CourseID)
	}
	return nil
}

// --- Mock Transactor ---

// mockTransactor restores payment and discount code state when fn fails.
type mockTransactor struct {
	payments    *mockPaymentRepo
	enrollments *mockEnrollmentRepo
	codes       *mockDiscountRepo
}

func (m *mockTransactor) WithinTransaction(_ context.Context, fn func(repository.Repositories) error) error {
	paymentSnap := make(map[string]models.Payment, len(m.payments.payments))
	for k, p := range m.payments.payments {
		paymentSnap[k] = *p
	}
	codeSnap := make(map[string]int, len(m.codes.codes))
	for k, dc := range m.codes.codes {
		codeSnap[k] = dc.TimesUsed
	}

	err := fn(repository.Repositories{
		Payments:      m.payments,
		Enrollments:   m.enrollments,
		DiscountCodes: m.codes,
	})
	if err != nil {
		for k, p := range paymentSnap {
			restored := p
			m.payments.payments[k] = &restored
		}
		for k, used := range codeSnap {
			m.codes.codes[k].TimesUsed = used
		}
	}
	return err
}

// --- Mock collaborators ---

type mockGateway struct {
	orderID     string
	err         error
	amountPaise int64
	receipt     string
}

func (m *mockGateway) CreateOrder(_ context.Context, receipt string, amountPaise int64, _ map[string]interface{}) (string, error) {
	m.receipt = receipt
	m.amountPaise = amountPaise
	if m.err != nil {
		return "", m.err
	}
	return m.orderID, nil
}

type mockEventPublisher struct {
	mu     sync.Mutex
	events []models.PaymentEvent
}

func (m *mockEventPublisher) SendPaymentEvent(_ context.Context, event models.PaymentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockEventPublisher) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

type mockSNSPublisher struct {
	published [][]byte
}

func (m *mockSNSPublisher) Publish(_ context.Context, _ string, message []byte) error {
	m.published = append(m.published, message)
	return nil
}

type mockQueue struct {
	bodies []string
}

func (m *mockQueue) SendMessage(_ context.Context, body string) error {
	m.bodies = append(m.bodies, body)
	return nil
}

type mockMetrics struct {
	mu     sync.Mutex
	counts map[string]int
	values map[string]float64
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{counts: make(map[string]int), values: make(map[string]float64)}
}

func (m *mockMetrics) RecordCount(_ context.Context, name string, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name]++
	return nil
}

func (m *mockMetrics) RecordValue(_ context.Context, name string, value float64, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] += value
	return nil
}

func (m *mockMetrics) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

func (m *mockMetrics) value(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[name]
}

// waitForCount waits for metrics recorded off the request goroutine.
func waitForCount(t *testing.T, m *mockMetrics, name string, want int) {
	t.Helper()
	assert.Eventually(t, func() bool { return m.count(name) == want }, time.Second, 5*time.Millisecond,
		"metric %s never reached %d", name, want)
}

type sentReceipt struct {
	to      string
	receipt models.Receipt
}

type mockMailer struct {
	sent chan sentReceipt
}

func (m *mockMailer) SendReceipt(_ context.Context, to string, r models.Receipt) error {
	m.sent <- sentReceipt{to: to, receipt: r}
	return nil
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int { return &v }
func strPtr(v string) *string { return &v }
func timePtr(t time.Time) *time.Time { return &t }

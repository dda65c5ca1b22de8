package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"checkout-service/database"
	aws_pkg "checkout-service/pkg/aws"
	"checkout-service/services"

	"github.com/joho/godotenv"
)

const (
	dbSecretName       = "checkout/DB_CREDENTIALS"
	razorpaySecretName = "checkout/RAZORPAY_CREDENTIALS"
)

// Config holds all configuration for the checkout service.
type Config struct {
	Env            string
	Port           string
	AllowedOrigins []string
	StoreTimeout   time.Duration
	RequestTimeout time.Duration

	Database database.Config

	RazorpayKeyID     string
	RazorpayKeySecret string

	KafkaBrokers          []string
	KafkaPaymentTopic     string
	EnrollmentSNSTopicARN string
	ReconcileQueueURL     string
	ReconcileInterval     time.Duration

	UseSecretsManager   bool
	CloudWatchEnabled   bool
	CloudWatchNamespace string
	CloudWatchLogGroup  string

	SMTP services.SMTPConfig
}

// SecretSource resolves a JSON secret into key/value pairs.
type SecretSource interface {
	GetSecretMap(ctx context.Context, name string) (map[string]string, error)
}

// LoadConfig reads a .env file if present, then the environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	smtpPort, err := strconv.Atoi(getEnv("SMTP_PORT", "587"))
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
	}
	storeTimeout, err := time.ParseDuration(getEnv("STORE_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid STORE_TIMEOUT: %w", err)
	}
	requestTimeout, err := time.ParseDuration(getEnv("REQUEST_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
	}
	reconcileInterval, err := time.ParseDuration(getEnv("RECONCILE_INTERVAL", "0s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RECONCILE_INTERVAL: %w", err)
	}

	cfg := &Config{
		Env:            getEnv("ENV", "development"),
		Port:           getEnv("PORT", "8091"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),
		StoreTimeout:   storeTimeout,
		RequestTimeout: requestTimeout,
		Database: database.Config{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			User:     os.Getenv("POSTGRES_USER"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			DBName:   os.Getenv("POSTGRES_DB"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			TimeZone: getEnv("POSTGRES_TIMEZONE", "Asia/Kolkata"),
		},
		RazorpayKeyID:         os.Getenv("RAZORPAY_KEY_ID"),
		RazorpayKeySecret:     os.Getenv("RAZORPAY_KEY_SECRET"),
		KafkaBrokers:          splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaPaymentTopic:     getEnv("KAFKA_PAYMENT_TOPIC", "payment-events"),
		EnrollmentSNSTopicARN: os.Getenv("ENROLLMENT_SNS_TOPIC_ARN"),
		ReconcileQueueURL:     os.Getenv("RECONCILE_QUEUE_URL"),
		ReconcileInterval:     reconcileInterval,
		UseSecretsManager:     os.Getenv("AWS_USE_SECRETS") == "true",
		CloudWatchEnabled:     os.Getenv("CLOUDWATCH_ENABLED") == "true",
		CloudWatchNamespace:   getEnv("CLOUDWATCH_NAMESPACE", "Checkout"),
		CloudWatchLogGroup:    os.Getenv("CLOUDWATCH_LOG_GROUP"),
		SMTP: services.SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     smtpPort,
			Username: os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASS"),
			From:     os.Getenv("EMAIL_FROM"),
		},
	}
	return cfg, nil
}

// ApplySecrets overrides database and Razorpay credentials with the values
// stored in Secrets Manager. Missing secrets keep the environment values.
func (c *Config) ApplySecrets(ctx context.Context, src SecretSource) {
	if m, err := src.GetSecretMap(ctx, dbSecretName); err == nil {
		overrideIfSet(&c.Database.User, m["POSTGRES_USER"])
		overrideIfSet(&c.Database.Password, m["POSTGRES_PASSWORD"])
		overrideIfSet(&c.Database.DBName, m["POSTGRES_DB"])
		overrideIfSet(&c.Database.Host, m["POSTGRES_HOST"])
		overrideIfSet(&c.Database.Port, m["POSTGRES_PORT"])
	}
	if m, err := src.GetSecretMap(ctx, razorpaySecretName); err == nil {
		overrideIfSet(&c.RazorpayKeyID, m["RAZORPAY_KEY_ID"])
		overrideIfSet(&c.RazorpayKeySecret, m["RAZORPAY_KEY_SECRET"])
	}
}

// Validate fails on settings the service cannot start without. A missing
// Razorpay secret is not one of them: verification reports it per request.
func (c *Config) Validate() error {
	db := c.Database
	if db.User == "" || db.Password == "" || db.DBName == "" || db.Host == "" {
		return fmt.Errorf("database config incomplete")
	}
	return nil
}

func loadSecrets(ctx context.Context, cfg *Config) error {
	awsCfg, err := aws_pkg.LoadAWSConfig(ctx)
	if err != nil {
		return err
	}
	cfg.ApplySecrets(ctx, aws_pkg.NewSecretsClient(awsCfg))
	return nil
}

func overrideIfSet(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

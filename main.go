package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkout-service/controllers"
	"checkout-service/database"
	"checkout-service/kafka"
	"checkout-service/logger"
	"checkout-service/middleware"
	"checkout-service/models"
	aws_pkg "checkout-service/pkg/aws"
	"checkout-service/repository"
	"checkout-service/routes"
	"checkout-service/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const serviceName = "checkout-service"

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		panic("config load failed: " + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- AWS setup ---
	awsCfg, awsErr := aws_pkg.LoadAWSConfig(ctx)

	// --- Logger ---
	var cwWriter *aws_pkg.CloudWatchLogsClient
	if cfg.CloudWatchEnabled && awsErr == nil {
		cwWriter, err = aws_pkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.CloudWatchLogGroup, serviceName)
		if err != nil {
			os.Stderr.WriteString("cloudwatch logs disabled: " + err.Error() + "\n")
		}
	}
	var log *zap.Logger
	if cwWriter != nil {
		log, err = logger.New(cfg.Env, cwWriter)
	} else {
		log, err = logger.New(cfg.Env, nil)
	}
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	if awsErr != nil {
		log.Warn("AWS config unavailable; SNS, SQS, secrets and metrics disabled", zap.Error(awsErr))
	}

	if cfg.UseSecretsManager {
		if err := loadSecrets(ctx, cfg); err != nil {
			log.Warn("Secrets Manager override failed; using environment", zap.Error(err))
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}
	if cfg.RazorpayKeySecret == "" {
		log.Error("RAZORPAY_KEY_SECRET is not set; payment verification will fail")
	}

	// --- Database ---
	db, err := database.Connect(cfg.Database, log, &models.DiscountCode{}, &models.Payment{}, &models.Enrollment{}, &models.CoursePrice{})
	if err != nil {
		log.Fatal("DB connection failed", zap.Error(err))
	}

	// --- Messaging ---
	var (
		metricsClient *aws_pkg.MetricsClient
		snsClient     aws_pkg.SNSPublisher
		reconcileQ    *aws_pkg.SQSQueue
	)
	if awsErr == nil {
		metricsClient = aws_pkg.NewMetricsClient(awsCfg, cfg.CloudWatchNamespace, cfg.CloudWatchEnabled)
		snsClient = aws_pkg.NewSNSClient(awsCfg)
		if cfg.ReconcileQueueURL != "" {
			reconcileQ = aws_pkg.NewSQSQueue(awsCfg, cfg.ReconcileQueueURL, log)
		}
	}

	var producer *kafka.PaymentEventProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = kafka.NewPaymentEventProducer(cfg.KafkaBrokers, cfg.KafkaPaymentTopic, log)
	}

	// --- Dependency injection ---
	discountRepo := repository.NewGormDiscountCodeRepository(db)
	paymentRepo := repository.NewGormPaymentRepository(db)
	enrollmentRepo := repository.NewGormEnrollmentRepository(db)
	coursePriceRepo := repository.NewGormCoursePriceRepository(db)
	transactor := repository.NewGormTransactor(db)

	var metrics services.MetricsRecorder
	if metricsClient != nil {
		metrics = metricsClient
	}

	promoService := services.NewPromoService(discountRepo, metrics, cfg.StoreTimeout, log)

	deps := services.PaymentDeps{
		Transactor:   transactor,
		Payments:     paymentRepo,
		CoursePrices: coursePriceRepo,
		Promo:        promoService,
		Gateway:      services.NewRazorpayGateway(cfg.RazorpayKeyID, cfg.RazorpayKeySecret),
		SNS:          snsClient,
		SNSTopicArn:  cfg.EnrollmentSNSTopicARN,
		Metrics:      metrics,
		KeyID:        cfg.RazorpayKeyID,
		KeySecret:    cfg.RazorpayKeySecret,
		StoreTimeout: cfg.StoreTimeout,
		Logger:       log,
	}
	if producer != nil {
		deps.Events = producer
	}
	if reconcileQ != nil {
		deps.Queue = reconcileQ
	}
	if mailer := services.NewSMTPReceiptMailer(cfg.SMTP); mailer != nil {
		deps.Mailer = mailer
	}
	paymentService := services.NewPaymentService(deps)
	enrollmentService := services.NewEnrollmentService(paymentService, paymentRepo, enrollmentRepo, metrics, cfg.StoreTimeout, log)

	promoController := controllers.NewPromoController(promoService)
	paymentController := controllers.NewPaymentController(paymentService)
	enrollmentController := controllers.NewEnrollmentController(enrollmentService)

	// --- HTTP router ---
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.MetricsMiddleware(metricsClient, serviceName))
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	limiter := middleware.NewRateLimiter(rate.Every(time.Minute/60), 20, 5*time.Minute)
	go limiter.RunCleanup(ctx.Done())

	routes.RegisterPublicRoutes(r, promoController, paymentController, middleware.RateLimitMiddleware(limiter))
	routes.RegisterEnrollmentRoutes(r, enrollmentController)
	routes.RegisterAdminRoutes(r, promoController, paymentController, enrollmentController)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK", "service": serviceName})
	})

	// --- Background reconciliation ---
	if reconcileQ != nil {
		go func() {
			if err := reconcileQ.StartPolling(ctx, enrollmentService.HandleReconcileMessage); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Reconcile consumer stopped", zap.Error(err))
			}
		}()
	}
	if cfg.ReconcileInterval > 0 {
		go runPeriodicSweep(ctx, enrollmentService, cfg.ReconcileInterval, log)
	}

	// --- HTTP server ---
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info("Checkout Service started", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	<-ctx.Done()
	log.Info("Initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", zap.Error(err))
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Error("Kafka producer close error", zap.Error(err))
		}
	}
	if err := database.Close(db); err != nil {
		log.Error("Database close error", zap.Error(err))
	}

	log.Info("Checkout Service stopped gracefully")
}

func runPeriodicSweep(ctx context.Context, svc services.EnrollmentService, every time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			repaired, svcErr := svc.Sweep(ctx, 100)
			if svcErr != nil {
				log.Warn("Periodic reconcile sweep failed", zap.String("error", svcErr.Message))
				continue
			}
			if repaired > 0 {
				log.Info("Periodic reconcile sweep repaired orders", zap.Int("repaired", repaired))
			}
		}
	}
}

package routes

import (
	"checkout-service/controllers"
	"checkout-service/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterPublicRoutes wires the browser-facing checkout endpoints. Callers
// are anonymous here; the payment signature is the authenticity gate.
func RegisterPublicRoutes(r *gin.Engine, pc *controllers.PromoController, payc *controllers.PaymentController, limiter gin.HandlerFunc) {
	public := r.Group("")
	public.Use(limiter)

	public.POST("/promo-codes/validate", pc.ValidatePromoCode)
	public.POST("/payments/checkout", payc.CreateCheckout)
	public.POST("/payments/verify", payc.VerifyPayment)
}

// RegisterEnrollmentRoutes wires routes that need a gateway-authenticated caller.
func RegisterEnrollmentRoutes(r *gin.Engine, ec *controllers.EnrollmentController) {
	enrollments := r.Group("/enrollments")
	enrollments.Use(middleware.AuthMiddleware())
	enrollments.GET("/:userId", ec.ListEnrollments)
}

// RegisterAdminRoutes sets up discount code and course price management and reconciliation.
func RegisterAdminRoutes(r *gin.Engine, pc *controllers.PromoController, payc *controllers.PaymentController, ec *controllers.EnrollmentController) {
	admin := r.Group("/admin")
	admin.Use(middleware.AuthMiddleware(), middleware.AdminOnly())

	admin.POST("/discount-codes", pc.CreateDiscountCode)
	admin.GET("/discount-codes", pc.ListDiscountCodes)
	admin.GET("/discount-codes/:code", pc.GetDiscountCode)
	admin.DELETE("/discount-codes/:code", pc.DeactivateDiscountCode)

	admin.PUT("/course-prices/:courseId", payc.SetCoursePrice)

	admin.POST("/reconcile", ec.Reconcile)
}

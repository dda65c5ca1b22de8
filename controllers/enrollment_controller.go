package controllers

import (
	"net/http"
	"strconv"

	"checkout-service/middleware"
	"checkout-service/services"

	"github.com/gin-gonic/gin"
)

type EnrollmentController struct {
	enrollmentService services.EnrollmentService
}

func NewEnrollmentController(enrollmentService services.EnrollmentService) *EnrollmentController {
	return &EnrollmentController{enrollmentService: enrollmentService}
}

// ListEnrollments handles GET /enrollments/:userId. Students may only read their own.
func (ec *EnrollmentController) ListEnrollments(ctx *gin.Context) {
	studentID := ctx.Param("userId")
	callerID, err := middleware.GetUserID(ctx)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	if callerID != studentID && !middleware.IsAdmin(ctx) {
		ctx.JSON(http.StatusForbidden, gin.H{"error": "Cannot view another user's enrollments"})
		return
	}

	rows, svcErr := ec.enrollmentService.ListActiveEnrollments(ctx.Request.Context(), studentID)
	if svcErr != nil {
		ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"enrollments": rows})
}

// Reconcile handles POST /admin/reconcile?limit=N.
func (ec *EnrollmentController) Reconcile(ctx *gin.Context) {
	limit := 100
	if l, err := strconv.Atoi(ctx.Query("limit")); err == nil && l > 0 {
		limit = min(l, 1000)
	}

	repaired, svcErr := ec.enrollmentService.Sweep(ctx.Request.Context(), limit)
	if svcErr != nil {
		ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"repaired": repaired})
}

package controllers

import (
	"net/http"
	"strconv"

	"checkout-service/models"
	"checkout-service/services"

	"github.com/gin-gonic/gin"
)

// PromoController handles promo code validation and discount code administration.
type PromoController struct {
	promoService services.PromoService
}

// NewPromoController creates a new PromoController.
func NewPromoController(promoService services.PromoService) *PromoController {
	return &PromoController{promoService: promoService}
}

// ValidatePromoCode handles POST /promo-codes/validate.
// Negative verdicts are 200 with valid=false; only bad input and failures are errors.
func (pc *PromoController) ValidatePromoCode(ctx *gin.Context) {
	var req models.ValidatePromoCodeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"valid": false, "message": "Promo code is required"})
		return
	}

	resp, svcErr := pc.promoService.ValidatePromoCode(ctx.Request.Context(), &req)
	if svcErr != nil {
		ctx.JSON(svcErr.StatusCode, gin.H{"valid": false, "message": svcErr.Message})
		return
	}

	ctx.JSON(http.StatusOK, resp)
}

// CreateDiscountCode handles POST /admin/discount-codes.
func (pc *PromoController) CreateDiscountCode(ctx *gin.Context) {
	var req models.CreateDiscountCodeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	dc, svcErr := pc.promoService.CreateDiscountCode(ctx.Request.Context(), &req)
	if svcErr != nil {
		ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"discount_code": dc})
}

// GetDiscountCode handles GET /admin/discount-codes/:code.
func (pc *PromoController) GetDiscountCode(ctx *gin.Context) {
	dc, svcErr := pc.promoService.GetDiscountCode(ctx.Request.Context(), ctx.Param("code"))
	if svcErr != nil {
		ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"discount_code": dc})
}

// DeactivateDiscountCode handles DELETE /admin/discount-codes/:code.
func (pc *PromoController) DeactivateDiscountCode(ctx *gin.Context) {
	if svcErr := pc.promoService.DeactivateDiscountCode(ctx.Request.Context(), ctx.Param("code")); svcErr != nil {
		ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "Discount code deactivated"})
}

// ListDiscountCodes handles GET /admin/discount-codes.
func (pc *PromoController) ListDiscountCodes(ctx *gin.Context) {
	page, limit := parsePaginationParams(ctx)

	codes, total, svcErr := pc.promoService.ListDiscountCodes(ctx.Request.Context(), page, limit)
	if svcErr != nil {
		ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}

	totalPages := (total + int64(limit) - 1) / int64(limit)
	ctx.JSON(http.StatusOK, gin.H{
		"discount_codes": codes,
		"meta": gin.H{
			"page":        page,
			"limit":       limit,
			"total":       total,
			"total_pages": totalPages,
			"has_more":    total > int64(page*limit),
		},
	})
}

// parsePaginationParams reads page and limit, defaulting to 1 and 10 and capping limit at 100.
func parsePaginationParams(ctx *gin.Context) (int, int) {
	const maxLimit = 100

	page, limit := 1, 10
	if p, err := strconv.Atoi(ctx.Query("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(ctx.Query("limit")); err == nil && l > 0 {
		limit = min(l, maxLimit)
	}
	return page, limit
}

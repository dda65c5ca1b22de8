package services

import (
	"context"
	"fmt"

	"github.com/razorpay/razorpay-go"
)

// PaymentGateway creates the gateway-side order the client pays against.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, receipt string, amountPaise int64, notes map[string]interface{}) (string, error)
}

// RazorpayGateway wraps the Razorpay orders API.
type RazorpayGateway struct {
	client *razorpay.Client
}

func NewRazorpayGateway(keyID, keySecret string) *RazorpayGateway {
	return &RazorpayGateway{client: razorpay.NewClient(keyID, keySecret)}
}

func (g *RazorpayGateway) CreateOrder(ctx context.Context, receipt string, amountPaise int64, notes map[string]interface{}) (string, error) {
	// razorpay-go has no context support; at least honour a cancellation that already happened.
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data := map[string]interface{}{
		"amount":   amountPaise,
		"currency": "INR",
		"receipt":  receipt,
		"notes":    notes,
	}

	resp, err := g.client.Order.Create(data, nil)
	if err != nil {
		return "", fmt.Errorf("error creating razorpay order: %w", err)
	}

	id, ok := resp["id"].(string)
	if !ok || id == "" {
		return "", fmt.Errorf("razorpay order response has no id")
	}
	return id, nil
}

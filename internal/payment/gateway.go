// Package payment turns gateway payment callbacks into confirmed
// bookings.  Orders are opened through a Gateway, callbacks are verified
// by HMAC signature, and every verification outcome is recorded in a
// Ledger so duplicate callbacks get the same answer.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/iliyamo/train-seat-booking/internal/apperr"
)

// Gateway is the external payment provider.
type Gateway interface {
	// KeyID is the public key the checkout widget needs.
	KeyID() string
	// CreateOrder opens an order for amountMinor and returns its id.
	// Transport failures wrap apperr.ErrGatewayUnavailable.
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (string, error)
	// VerifySignature checks the signature the checkout widget returned.
	VerifySignature(ctx context.Context, orderID, paymentID, signature string) (bool, error)
}

// HMACGateway issues order ids locally and verifies callbacks with
// HMAC-SHA256 over "orderID|paymentID" keyed by the shared secret, the
// scheme used by hosted checkout widgets.
type HMACGateway struct {
	keyID  string
	secret []byte
}

func NewHMACGateway(keyID, secret string) *HMACGateway {
	return &HMACGateway{keyID: keyID, secret: []byte(secret)}
}

func (g *HMACGateway) KeyID() string { return g.keyID }

func (g *HMACGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("create order %s: %w", receipt, apperr.ErrGatewayUnavailable)
	}
	if amountMinor <= 0 {
		return "", fmt.Errorf("create order %s: amount must be positive", receipt)
	}
	return "order_" + strings.ReplaceAll(uuid.NewString(), "-", ""), nil
}

func (g *HMACGateway) VerifySignature(_ context.Context, orderID, paymentID, signature string) (bool, error) {
	want := Sign(g.secret, orderID, paymentID)
	got, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(signature)))
	if err != nil {
		return false, nil
	}
	return hmac.Equal(got, want), nil
}

// Sign computes the raw callback signature.  SignHex is its hex form.
func Sign(secret []byte, orderID, paymentID string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(orderID + "|" + paymentID))
	return mac.Sum(nil)
}

// SignHex returns the hex signature a gateway would send for the pair.
func SignHex(secret, orderID, paymentID string) string {
	return hex.EncodeToString(Sign([]byte(secret), orderID, paymentID))
}

package gateway

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Simulated is a deterministic stand-in for a real provider. Invoices whose
// UUID ends in an even hex digit are approved, the rest are declined.
type Simulated struct {
	// Latency delays every charge, honouring context cancellation.
	Latency time.Duration

	// FailureHook, when set, is consulted first. A non-nil error is returned
	// as a transient fault.
	FailureHook func(req ChargeRequest) error
}

// NewSimulated creates a Simulated gateway with the given latency.
func NewSimulated(latency time.Duration) *Simulated {
	return &Simulated{Latency: latency}
}

// Make sure we conform to the interface
var _ Gateway = (*Simulated)(nil)

func (g *Simulated) Charge(ctx context.Context, req ChargeRequest) (Outcome, error) {
	if g.Latency > 0 {
		timer := time.NewTimer(g.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Outcome{}, fmt.Errorf("failed to reach provider: %w", ctx.Err())
		case <-timer.C:
		}
	}

	if g.FailureHook != nil {
		if err := g.FailureHook(req); err != nil {
			return Outcome{}, err
		}
	}

	ref := newProviderReference()
	if approves(req.InvoiceID) {
		slog.Info("simulated provider approved charge", "invoiceId", req.InvoiceID, "attempt", req.Attempt)
		return Outcome{Result: Approved, ProviderReference: ref, Message: "OK"}, nil
	}

	slog.Warn("simulated provider declined charge", "invoiceId", req.InvoiceID, "attempt", req.Attempt)
	return Outcome{Result: Declined, ProviderReference: ref, Message: "Simulated failure"}, nil
}

// approves looks at the last hex digit of the invoice UUID. Ids that are not
// UUIDs count as digit zero.
func approves(invoiceID string) bool {
	id, err := uuid.Parse(invoiceID)
	if err != nil {
		return true
	}
	digits := strings.ReplaceAll(id.String(), "-", "")
	val, err := strconv.ParseUint(digits[len(digits)-1:], 16, 8)
	if err != nil {
		return true
	}
	return val%2 == 0
}

func newProviderReference() string {
	id := uuid.New()
	return "sim-" + hex.EncodeToString(id[:])
}

// Package settlement splits a room's fare across its participants and places
// manual-capture holds for each head, capturing once the ride completes.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/example/taxipool/internal/models"
)

const defaultCurrency = "krw"

// Gateway is the payment provider surface the service needs.
type Gateway interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, holdID string) error
	Cancel(ctx context.Context, holdID string) error
}

// StripeGateway places holds as manual-capture PaymentIntents.
type StripeGateway struct{}

// NewStripeGateway initializes the stripe client with the STRIPE_API_KEY env var.
func NewStripeGateway() *StripeGateway {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	return &StripeGateway{}
}

func (g *StripeGateway) Hold(ctx context.Context, amount int64, currency, customerID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

func (g *StripeGateway) Capture(ctx context.Context, holdID string) error {
	_, err := paymentintent.Capture(holdID, nil)
	return err
}

func (g *StripeGateway) Cancel(ctx context.Context, holdID string) error {
	_, err := paymentintent.Cancel(holdID, nil)
	return err
}

// OfflineGateway simulates holds locally for environments without a payment
// provider, such as the bundled mock backend.
type OfflineGateway struct {
	mu   sync.Mutex
	seq  int
	open map[string]bool
}

func NewOfflineGateway() *OfflineGateway {
	return &OfflineGateway{open: map[string]bool{}}
}

func (g *OfflineGateway) Hold(ctx context.Context, amount int64, currency, customerID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	id := fmt.Sprintf("offline-hold-%d", g.seq)
	g.open[id] = true
	return id, nil
}

func (g *OfflineGateway) Capture(ctx context.Context, holdID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open[holdID] {
		return fmt.Errorf("unknown hold %s", holdID)
	}
	delete(g.open, holdID)
	return nil
}

func (g *OfflineGateway) Cancel(ctx context.Context, holdID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open[holdID] {
		return fmt.Errorf("unknown hold %s", holdID)
	}
	delete(g.open, holdID)
	return nil
}

// PerHead splits total across heads, rounding up so the pool never comes up
// short. Zero or negative heads yield zero.
func PerHead(total int64, heads int) int64 {
	if heads <= 0 || total <= 0 {
		return 0
	}
	return (total + int64(heads) - 1) / int64(heads)
}

// Service coordinates per-head holds for a room.
type Service struct {
	gateway  Gateway
	currency string
	logger   *slog.Logger

	mu sync.Mutex
	// holds tracks outstanding hold ids per room so completion can capture them.
	holds map[string][]string
}

func NewService(gateway Gateway, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gateway:  gateway,
		currency: defaultCurrency,
		logger:   logger,
		holds:    map[string][]string{},
	}
}

// HoldFare places one hold per participant for an equal share of totalFare.
// On any failure the already-placed holds are cancelled and the whole
// operation reports failure; partial collection is never left standing.
func (s *Service) HoldFare(ctx context.Context, roomID string, totalFare int64, participants []models.RoomParticipant) (*models.HoldResult, error) {
	if len(participants) == 0 {
		return nil, fmt.Errorf("room %s has no participants to collect from", roomID)
	}
	perHead := PerHead(totalFare, len(participants))
	if perHead <= 0 {
		return nil, fmt.Errorf("room %s has no fare to collect", roomID)
	}

	placed := make([]string, 0, len(participants))
	for _, p := range participants {
		holdID, err := s.gateway.Hold(ctx, perHead, s.currency, p.ID)
		if err != nil {
			for _, id := range placed {
				if cancelErr := s.gateway.Cancel(ctx, id); cancelErr != nil {
					s.logger.Warn("failed to release hold", "room_id", roomID, "hold_id", id, "error", cancelErr)
				}
			}
			return nil, fmt.Errorf("hold for participant %s: %w", p.ID, err)
		}
		placed = append(placed, holdID)
	}

	s.mu.Lock()
	s.holds[roomID] = placed
	s.mu.Unlock()
	s.logger.Info("fare held", "room_id", roomID, "per_head", perHead, "participants", len(placed))
	return &models.HoldResult{PerHead: perHead, CollectedFrom: len(placed)}, nil
}

// CaptureRoom finalizes every outstanding hold for the room. Capture errors
// are collected but do not stop the remaining captures.
func (s *Service) CaptureRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	holds := s.holds[roomID]
	delete(s.holds, roomID)
	s.mu.Unlock()

	var firstErr error
	for _, id := range holds {
		if err := s.gateway.Capture(ctx, id); err != nil {
			s.logger.Warn("capture failed", "room_id", roomID, "hold_id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ReleaseRoom cancels every outstanding hold for the room, for rides that
// ended without completing.
func (s *Service) ReleaseRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	holds := s.holds[roomID]
	delete(s.holds, roomID)
	s.mu.Unlock()

	var firstErr error
	for _, id := range holds {
		if err := s.gateway.Cancel(ctx, id); err != nil {
			s.logger.Warn("release failed", "room_id", roomID, "hold_id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

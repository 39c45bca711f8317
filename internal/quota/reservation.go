package quota

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/kurogate/kuro/internal/authn"
)

// ReservationStatus tracks a concurrency slot's lifecycle.
type ReservationStatus string

const (
	ReservationHeld     ReservationStatus = "held"
	ReservationConsumed ReservationStatus = "consumed"
	ReservationReleased ReservationStatus = "released"
)

// reservation is one held concurrency slot for a single in-flight request.
type reservation struct {
	id     string
	userID string
	status ReservationStatus
}

// ConcurrencyLedger enforces each tier's maximum concurrent in-flight
// requests via a reserve/consume/release ledger, the same three-phase shape
// the gateway uses elsewhere for any shared, exhaustible resource: a slot is
// reserved before work starts, consumed on completion, or released back to
// the pool if the request never starts or fails early.
type ConcurrencyLedger struct {
	mu           sync.Mutex
	inFlight     map[string]int // userID -> count of held reservations
	reservations map[string]*reservation
}

// NewConcurrencyLedger constructs an empty ledger.
func NewConcurrencyLedger() *ConcurrencyLedger {
	return &ConcurrencyLedger{
		inFlight:     make(map[string]int),
		reservations: make(map[string]*reservation),
	}
}

// Reserve attempts to claim one concurrency slot for userID at tier. It
// returns the reservation id on success, or an error if the tier's
// concurrency ceiling is already saturated.
func (l *ConcurrencyLedger) Reserve(userID string, tier authn.Tier) (string, error) {
	limits := limitsFor(tier)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inFlight[userID] >= limits.maxConcurrent {
		return "", fmt.Errorf("quota: concurrency limit reached (%d/%d)", l.inFlight[userID], limits.maxConcurrent)
	}

	id := uuid.New().String()
	l.reservations[id] = &reservation{id: id, userID: userID, status: ReservationHeld}
	l.inFlight[userID]++
	return id, nil
}

// Consume marks a reservation as completed and frees its slot.
func (l *ConcurrencyLedger) Consume(id string) error {
	return l.finish(id, ReservationConsumed)
}

// Release frees a reservation's slot without marking it consumed — used
// when a request aborts before completing.
func (l *ConcurrencyLedger) Release(id string) error {
	return l.finish(id, ReservationReleased)
}

func (l *ConcurrencyLedger) finish(id string, status ReservationStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[id]
	if !ok {
		return fmt.Errorf("quota: unknown reservation %q", id)
	}
	if r.status != ReservationHeld {
		return fmt.Errorf("quota: reservation %q already %s", id, r.status)
	}
	r.status = status
	l.inFlight[r.userID]--
	if l.inFlight[r.userID] <= 0 {
		delete(l.inFlight, r.userID)
	}
	delete(l.reservations, id)
	return nil
}

// InFlight returns the current concurrency count for a user (test/metrics
// helper).
func (l *ConcurrencyLedger) InFlight(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight[userID]
}

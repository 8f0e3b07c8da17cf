// internal/purchase/record.go
package purchase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/barkprotocol/token-sale-dapp/internal/blockchain"
	"github.com/barkprotocol/token-sale-dapp/internal/sale"
)

// Status is the lifecycle of a reservation after the purchase call returned.
type Status string

const (
	// StatusPending: reserved, payload handed out, broadcast not reported.
	StatusPending Status = "pending"
	// StatusFailed: building failed and the reservation was compensated.
	StatusFailed Status = "failed"
	// StatusCompensated: the buyer reported a failed broadcast.
	StatusCompensated Status = "compensated"
)

// Record is what the service remembers about a reservation.
type Record struct {
	ID        uuid.UUID
	Buyer     solana.PublicKey
	Quote     sale.Quote
	BaseUnits uint64
	Status    Status
	Rebuilds  int
	// Issued is the chain state of the latest payload handed out. It is zero
	// until a payload leaves the service.
	Issued    blockchain.BlockRef
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists purchase records. Issue, Transition and CountRebuild only
// act on pending records, so a reservation is compensated at most once.
type Store interface {
	Create(ctx context.Context, rec Record) error
	// Get returns sale.ErrPurchaseNotFound for unknown ids.
	Get(ctx context.Context, id uuid.UUID) (Record, error)
	// Issue stores the chain state of a payload handed out for a pending
	// record.
	Issue(ctx context.Context, id uuid.UUID, ref blockchain.BlockRef) error
	// Transition moves a pending record to status while issued is still its
	// latest blockhash. It returns sale.ErrPurchaseNotPending for settled
	// records and sale.ErrPayloadStillValid when a newer payload was issued.
	Transition(ctx context.Context, id uuid.UUID, issued solana.Hash, status Status) error
	// Reopen moves a record in status from back to pending.
	Reopen(ctx context.Context, id uuid.UUID, from Status) error
	// CountRebuild increments the rebuild counter of a pending record while it
	// stays within limit and returns the new count.
	CountRebuild(ctx context.Context, id uuid.UUID, limit int) (int, error)
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[uuid.UUID]Record),
		now:     time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, sale.NewError(sale.ErrPurchaseNotFound, id.String(), nil)
	}
	return rec, nil
}

func (s *MemoryStore) Issue(_ context.Context, id uuid.UUID, ref blockchain.BlockRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.pending(id)
	if err != nil {
		return err
	}
	rec.Issued = ref
	rec.UpdatedAt = s.now().UTC()
	s.records[id] = rec
	return nil
}

func (s *MemoryStore) Transition(_ context.Context, id uuid.UUID, issued solana.Hash, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.pending(id)
	if err != nil {
		return err
	}
	if rec.Issued.Blockhash != issued {
		return sale.NewError(sale.ErrPayloadStillValid, id.String(), nil)
	}
	rec.Status = status
	rec.UpdatedAt = s.now().UTC()
	s.records[id] = rec
	return nil
}

func (s *MemoryStore) Reopen(_ context.Context, id uuid.UUID, from Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return sale.NewError(sale.ErrPurchaseNotFound, id.String(), nil)
	}
	if rec.Status != from {
		return fmt.Errorf("purchase %s is %s, not %s", id, rec.Status, from)
	}
	rec.Status = StatusPending
	rec.UpdatedAt = s.now().UTC()
	s.records[id] = rec
	return nil
}

func (s *MemoryStore) CountRebuild(_ context.Context, id uuid.UUID, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.pending(id)
	if err != nil {
		return rec.Rebuilds, err
	}
	if rec.Rebuilds >= limit {
		return rec.Rebuilds, sale.NewError(sale.ErrRebuildLimit, id.String(), nil)
	}
	rec.Rebuilds++
	rec.UpdatedAt = s.now().UTC()
	s.records[id] = rec
	return rec.Rebuilds, nil
}

// pending loads a record that must still be pending. Callers hold mu.
func (s *MemoryStore) pending(id uuid.UUID) (Record, error) {
	rec, ok := s.records[id]
	if !ok {
		return Record{}, sale.NewError(sale.ErrPurchaseNotFound, id.String(), nil)
	}
	if rec.Status != StatusPending {
		return rec, sale.NewError(sale.ErrPurchaseNotPending, id.String(), nil)
	}
	return rec, nil
}

var _ Store = (*MemoryStore)(nil)

// internal/purchase/service.go
package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/barkprotocol/token-sale-dapp/internal/events"
	"github.com/barkprotocol/token-sale-dapp/internal/oracle"
	"github.com/barkprotocol/token-sale-dapp/internal/pricing"
	"github.com/barkprotocol/token-sale-dapp/internal/sale"
	"github.com/barkprotocol/token-sale-dapp/internal/transaction"
)

// State is a step of a single purchase attempt.
type State int

const (
	Quoting State = iota
	Validating
	Reserving
	Building
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Quoting:
		return "quoting"
	case Validating:
		return "validating"
	case Reserving:
		return "reserving"
	case Building:
		return "building"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// PriceSource hands out the latest oracle snapshot.
type PriceSource interface {
	Latest() (oracle.Snapshot, bool)
}

// Builder assembles unsigned transactions.
type Builder interface {
	Build(ctx context.Context, payer, recipient solana.PublicKey, amount uint64, currency sale.Currency) (*transaction.Payload, error)
	BuildTokenDelivery(ctx context.Context, treasury, buyer solana.PublicKey, tokens uint64) (*transaction.Payload, error)
}

// ChainState tells whether an issued payload can still land.
type ChainState interface {
	IsBlockhashValid(ctx context.Context, hash solana.Hash) (bool, error)
}

// Publisher receives purchase events.
type Publisher interface {
	Publish(event events.Event) error
}

// Result is the successful outcome of a purchase or rebuild.
type Result struct {
	PurchaseID uuid.UUID            `json:"purchaseId"`
	Quote      sale.Quote           `json:"quote"`
	Payload    *transaction.Payload `json:"payload"`
}

// Service runs purchases end to end: quote, validate, reserve, build.
type Service struct {
	cfg     sale.Config
	prices  PriceSource
	engine  *pricing.Engine
	ledger  *sale.Ledger
	builder Builder
	chain   ChainState
	store   Store
	bus     Publisher
	logger  *zap.Logger

	now         func() time.Time
	maxRebuilds int
	retryDelay  time.Duration
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithPublisher(bus Publisher) Option     { return func(s *Service) { s.bus = bus } }
func WithStore(store Store) Option           { return func(s *Service) { s.store = store } }

// WithMaxRebuilds bounds how often a pending purchase may be rebuilt.
func WithMaxRebuilds(n int) Option { return func(s *Service) { s.maxRebuilds = n } }

// WithRetryDelay sets the pause before rebuilding an expired payload.
func WithRetryDelay(d time.Duration) Option { return func(s *Service) { s.retryDelay = d } }

func NewService(cfg sale.Config, prices PriceSource, engine *pricing.Engine, ledger *sale.Ledger, builder Builder, chain ChainState, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		cfg:         cfg,
		prices:      prices,
		engine:      engine,
		ledger:      ledger,
		builder:     builder,
		chain:       chain,
		store:       NewMemoryStore(),
		logger:      logger.Named("purchase"),
		now:         time.Now,
		maxRebuilds: 1,
		retryDelay:  200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Purchase prices and reserves req and returns an unsigned payment payload.
// Once the reservation is taken, any later failure compensates it before
// returning.
func (s *Service) Purchase(ctx context.Context, req sale.PurchaseRequest) (result *Result, err error) {
	id := uuid.New()
	log := s.logger.With(zap.String("purchase_id", id.String()))
	state := Quoting
	reserved := false
	var quote sale.Quote

	defer func() {
		if r := recover(); r != nil {
			log.Error("Purchase panicked", zap.Any("panic", r), zap.Stringer("state", state))
			err = sale.NewError(sale.ErrTransferAssemblyFailed, "purchase", fmt.Errorf("panic: %v", r))
			result = nil
			if reserved {
				s.compensate(context.WithoutCancel(ctx), log, id, req.Buyer, quote, StatusFailed, err)
			}
		}
	}()

	enter := func(next State) {
		state = next
		log.Debug("Purchase state", zap.Stringer("state", next))
	}
	fail := func(err error) (*Result, error) {
		log.Debug("Purchase failed",
			zap.Stringer("state", state),
			zap.Error(err))
		state = Failed
		s.publish(events.PurchaseEvent{
			BaseEvent:   events.NewBaseEvent(events.PurchaseFailed),
			PurchaseID:  id.String(),
			Buyer:       req.Buyer.String(),
			Currency:    req.Currency.String(),
			TokenAmount: req.TokenAmount,
			Reason:      sale.UserMessage(err),
		})
		return nil, err
	}

	enter(Quoting)
	now := s.now()
	stage := sale.CurrentStage(now, s.cfg)
	if !stage.Active() {
		return fail(sale.NewError(sale.ErrSaleInactive, stage.String(), nil))
	}
	quote, err = s.engine.Quote(stage, req, s.snapshot())
	if err != nil {
		return fail(err)
	}

	enter(Validating)
	if err := s.ledger.Validate(ctx, req.TokenAmount); err != nil {
		return fail(err)
	}
	units, err := s.engine.BaseUnits(quote.TotalCost, req.Currency)
	if err != nil {
		return fail(err)
	}

	enter(Reserving)
	if err := s.ledger.Reserve(ctx, req.TokenAmount); err != nil {
		return fail(err)
	}
	reserved = true

	rec := Record{
		ID:        id,
		Buyer:     req.Buyer,
		Quote:     quote,
		BaseUnits: units,
		Status:    StatusPending,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	if err := s.store.Create(ctx, rec); err != nil {
		s.compensate(context.WithoutCancel(ctx), log, id, req.Buyer, quote, "", err)
		return fail(fmt.Errorf("store purchase: %w", err))
	}
	s.publish(events.PurchaseEvent{
		BaseEvent:   events.NewBaseEvent(events.PurchaseReserved),
		PurchaseID:  id.String(),
		Buyer:       req.Buyer.String(),
		Currency:    req.Currency.String(),
		TokenAmount: req.TokenAmount,
		TotalCost:   quote.TotalCost,
	})

	enter(Building)
	started := time.Now()
	payload, err := s.build(ctx, log, rec)
	if err == nil {
		err = s.issue(ctx, id, payload)
	}
	if err != nil {
		s.compensate(context.WithoutCancel(ctx), log, id, req.Buyer, quote, StatusFailed, err)
		return fail(err)
	}

	enter(Done)
	s.publish(events.PurchaseEvent{
		BaseEvent:   events.NewBaseEvent(events.PurchaseBuilt),
		PurchaseID:  id.String(),
		Buyer:       req.Buyer.String(),
		Currency:    req.Currency.String(),
		TokenAmount: req.TokenAmount,
		TotalCost:   quote.TotalCost,
		Duration:    time.Since(started),
	})
	log.Info("Purchase prepared",
		zap.String("buyer", req.Buyer.String()),
		zap.Uint64("tokens", req.TokenAmount),
		zap.String("cost", pricing.FormatCost(quote.TotalCost)),
		zap.Stringer("currency", req.Currency),
		zap.Stringer("stage", stage))

	return &Result{PurchaseID: id, Quote: quote, Payload: payload}, nil
}

// Rebuild issues a fresh payload for a pending purchase without reserving
// again. A failed rebuild leaves the purchase pending with its reservation,
// since the payload handed out before may still land.
func (s *Service) Rebuild(ctx context.Context, id uuid.UUID) (*Result, error) {
	log := s.logger.With(zap.String("purchase_id", id.String()))

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.CountRebuild(ctx, id, s.maxRebuilds); err != nil {
		return nil, err
	}

	payload, err := s.build(ctx, log, rec)
	if err != nil {
		log.Warn("Rebuild failed, reservation kept", zap.Error(err))
		return nil, err
	}
	if err := s.issue(ctx, id, payload); err != nil {
		return nil, err
	}
	log.Info("Purchase rebuilt", zap.String("blockhash", payload.RecentBlockhash))
	return &Result{PurchaseID: id, Quote: rec.Quote, Payload: payload}, nil
}

// ReportBroadcastFailure returns the reservation of a pending purchase whose
// signed transaction never landed. The latest payload handed out must no
// longer be accepted by the cluster; until then sale.ErrPayloadStillValid is
// returned. It succeeds at most once per purchase.
func (s *Service) ReportBroadcastFailure(ctx context.Context, id uuid.UUID) error {
	log := s.logger.With(zap.String("purchase_id", id.String()))

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != StatusPending {
		return sale.NewError(sale.ErrPurchaseNotPending, id.String(), nil)
	}
	if err := s.ensureExpired(ctx, rec); err != nil {
		return err
	}
	if err := s.store.Transition(ctx, id, rec.Issued.Blockhash, StatusCompensated); err != nil {
		return err
	}
	if err := s.ledger.Compensate(ctx, rec.Quote.TokenAmount); err != nil {
		log.Error("Compensation after broadcast failure failed", zap.Error(err))
		s.reopen(ctx, log, id, StatusCompensated)
		return err
	}
	s.publish(events.PurchaseEvent{
		BaseEvent:   events.NewBaseEvent(events.PurchaseCompensated),
		PurchaseID:  id.String(),
		Buyer:       rec.Buyer.String(),
		Currency:    rec.Quote.Currency.String(),
		TokenAmount: rec.Quote.TokenAmount,
		Reason:      "broadcast failed",
	})
	log.Info("Broadcast failure compensated", zap.Uint64("tokens", rec.Quote.TokenAmount))
	return nil
}

// Delivery builds the transfer of the purchased tokens from the sale wallet
// to the buyer, for the sale wallet's signer.
func (s *Service) Delivery(ctx context.Context, id uuid.UUID) (*transaction.Payload, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusPending {
		return nil, sale.NewError(sale.ErrPurchaseNotPending, id.String(), nil)
	}
	return s.builder.BuildTokenDelivery(ctx, s.cfg.ReceivingAddress, rec.Buyer, rec.Quote.TokenAmount)
}

// Get returns the stored record of a purchase.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	return s.store.Get(ctx, id)
}

// ensureExpired fails unless the payload issued for rec can no longer land.
// The latest payload outlives every earlier one.
func (s *Service) ensureExpired(ctx context.Context, rec Record) error {
	if rec.Issued.Blockhash.IsZero() {
		return nil
	}
	if s.chain == nil {
		return sale.NewError(sale.ErrChainUnavailable, "cancel", errors.New("no chain client"))
	}
	valid, err := s.chain.IsBlockhashValid(ctx, rec.Issued.Blockhash)
	if err != nil {
		return sale.NewError(sale.ErrChainUnavailable, "cancel", err)
	}
	if valid {
		return sale.NewError(sale.ErrPayloadStillValid, rec.ID.String(), nil)
	}
	return nil
}

// issue records the chain state of a payload before it is handed out.
func (s *Service) issue(ctx context.Context, id uuid.UUID, payload *transaction.Payload) error {
	ref, err := payload.BlockRef()
	if err != nil {
		return sale.NewError(sale.ErrTransferAssemblyFailed, "issue", err)
	}
	if err := s.store.Issue(ctx, id, ref); err != nil {
		return err
	}
	return nil
}

// reopen puts a record back to pending after its compensation failed, so the
// release can be attempted again.
func (s *Service) reopen(ctx context.Context, log *zap.Logger, id uuid.UUID, from Status) {
	if err := s.store.Reopen(context.WithoutCancel(ctx), id, from); err != nil {
		log.Error("Failed to reopen purchase", zap.String("from", string(from)), zap.Error(err))
	}
}

// build runs the Building step, rebuilding once when the chain state expired.
func (s *Service) build(ctx context.Context, log *zap.Logger, rec Record) (*transaction.Payload, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (*transaction.Payload, error) {
		attempt++
		payload, err := s.builder.Build(ctx, rec.Buyer, s.cfg.ReceivingAddress, rec.BaseUnits, rec.Quote.Currency)
		if err == nil {
			return payload, nil
		}
		if errors.Is(err, sale.ErrChainStateExpired) {
			log.Warn("Chain state expired while building", zap.Int("attempt", attempt), zap.Error(err))
			return nil, err
		}
		return nil, backoff.Permanent(err)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.retryDelay)),
		backoff.WithMaxTries(2),
	)
}

// compensate releases a reservation and, when status is set, marks the
// record with it. Errors are logged; the original failure is what the caller
// reports.
func (s *Service) compensate(ctx context.Context, log *zap.Logger, id uuid.UUID, buyer solana.PublicKey, quote sale.Quote, status Status, cause error) {
	if status != "" {
		if err := s.store.Transition(ctx, id, solana.Hash{}, status); err != nil && !errors.Is(err, sale.ErrPurchaseNotFound) {
			log.Warn("Purchase already settled, skipping compensation", zap.Error(err))
			return
		}
	}
	if err := s.ledger.Compensate(ctx, quote.TokenAmount); err != nil {
		log.Error("Compensation failed", zap.Error(err), zap.NamedError("cause", cause))
		if status != "" {
			s.reopen(ctx, log, id, status)
		}
		return
	}
	s.publish(events.PurchaseEvent{
		BaseEvent:   events.NewBaseEvent(events.PurchaseCompensated),
		PurchaseID:  id.String(),
		Buyer:       buyer.String(),
		Currency:    quote.Currency.String(),
		TokenAmount: quote.TokenAmount,
		Reason:      cause.Error(),
	})
}

func (s *Service) snapshot() *oracle.Snapshot {
	if s.prices == nil {
		return nil
	}
	snap, ok := s.prices.Latest()
	if !ok {
		return nil
	}
	return &snap
}

func (s *Service) publish(e events.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(e); err != nil {
		s.logger.Debug("Event not published", zap.String("event_type", string(e.Type())), zap.Error(err))
	}
}

package settlement

import (
	"errors"
	"fmt"
	"math/bits"
	"time"

	"bestoffer/core/events"
)

var (
	errNilState = errors.New("settlement engine: state not configured")
)

// engineState is the narrow persistence and token-transfer surface the engine
// requires. The production implementation is core/state.Manager; tests supply
// an in-memory mock. WithUnit must apply all writes performed by fn as a
// single atomic unit and discard them when fn fails.
type engineState interface {
	WithUnit(fn func() error) error

	ConfigGet() (*Config, bool, error)
	ConfigPut(*Config) error
	TreasuryGet() (*Treasury, bool, error)
	TreasuryPut(*Treasury) error

	IntentGet(addr [32]byte) (*Intent, bool, error)
	IntentPut(*Intent) error
	OfferGet(addr [32]byte) (*Offer, bool, error)
	OfferPut(*Offer) error

	DeliveryInfoGet(intent [32]byte) (*DeliveryInfo, bool, error)
	DeliveryInfoPut(intent [32]byte, info *DeliveryInfo) error
	TrackingGet(intent [32]byte) (*TrackingDetails, bool, error)
	TrackingPut(intent [32]byte, details *TrackingDetails) error

	TokenDecimals(symbol string) (uint8, bool, error)
	Balance(addr [20]byte, symbol string) (uint64, error)
	Transfer(from, to [20]byte, symbol string, amount uint64, decimals uint8) error
}

// Engine composes the settlement ledgers, the escrow vault and the token
// collaborator into the boundary operations. Every operation is a single
// atomic unit of work: either all of its mutations commit or none do.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a settlement engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt *events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadConfig() (*Config, error) {
	cfg, ok, err := e.state.ConfigGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("settlement: config not initialised: %w", ErrNotFound)
	}
	return cfg, nil
}

func (e *Engine) loadIntent(addr [32]byte) (*Intent, error) {
	intent, ok, err := e.state.IntentGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("settlement: intent %x: %w", addr, ErrNotFound)
	}
	return intent, nil
}

func (e *Engine) loadOffer(addr [32]byte) (*Offer, error) {
	offer, ok, err := e.state.OfferGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("settlement: offer %x: %w", addr, ErrNotFound)
	}
	return offer, nil
}

func (e *Engine) tokenDecimals(symbol string) (uint8, error) {
	decimals, ok, err := e.state.TokenDecimals(symbol)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("settlement: token %s not registered: %w", symbol, ErrNotFound)
	}
	return decimals, nil
}

// InitConfig creates the singleton platform configuration. Counters start at
// zero and ids are assigned from the pre-increment counter value.
func (e *Engine) InitConfig(admin [20]byte, feeBps uint16) (*Config, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if feeBps > MaxFeeBps {
		return nil, fmt.Errorf("settlement: fee bps out of range: %d", feeBps)
	}
	var created *Config
	err := e.state.WithUnit(func() error {
		_, ok, err := e.state.ConfigGet()
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("settlement: config: %w", ErrAlreadyExists)
		}
		cfg := &Config{Admin: admin, FeeBps: feeBps}
		if err := e.state.ConfigPut(cfg); err != nil {
			return err
		}
		created = cfg.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// InitTreasury creates the singleton treasury record. The treasury is a pure
// receive-only custodial account; its funds accrue at TreasuryAuthority.
func (e *Engine) InitTreasury(admin [20]byte) (*Treasury, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var created *Treasury
	err := e.state.WithUnit(func() error {
		_, ok, err := e.state.TreasuryGet()
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("settlement: treasury: %w", ErrAlreadyExists)
		}
		treasury := &Treasury{Admin: admin}
		if err := e.state.TreasuryPut(treasury); err != nil {
			return err
		}
		created = treasury.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreateIntent publishes a new buying intent for the caller. The id is
// assigned from the config counter, which is incremented exactly once per
// successful creation and never rolled back across committed units.
func (e *Engine) CreateIntent(buyer [20]byte, gtin uint64, productName, countryCode, stateCode string, quantity uint16) (*Intent, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var created *Intent
	err := e.state.WithUnit(func() error {
		cfg, err := e.loadConfig()
		if err != nil {
			return err
		}
		intent, err := SanitizeIntent(&Intent{
			ID:                  cfg.IntentCounter,
			Buyer:               buyer,
			GTIN:                gtin,
			ProductName:         productName,
			ShippingCountryCode: countryCode,
			ShippingStateCode:   stateCode,
			Quantity:            quantity,
			State:               IntentPublished,
			CreatedAt:           e.now(),
		})
		if err != nil {
			return err
		}
		cfg.IntentCounter++
		if err := e.state.ConfigPut(cfg); err != nil {
			return err
		}
		if err := e.state.IntentPut(intent); err != nil {
			return err
		}
		created = intent.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.emit(NewIntentCreatedEvent(created))
	return created, nil
}

// CreateOffer publishes a seller offer against an open intent.
func (e *Engine) CreateOffer(seller [20]byte, intentRef [32]byte, url string, publicPrice, offerPrice, shippingPrice uint64, token string) (*Offer, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var created *Offer
	err := e.state.WithUnit(func() error {
		cfg, err := e.loadConfig()
		if err != nil {
			return err
		}
		intent, err := e.loadIntent(intentRef)
		if err != nil {
			return err
		}
		if intent.State != IntentPublished {
			return fmt.Errorf("settlement: intent is %s, offers require published: %w", intent.State, ErrInvalidState)
		}
		offer, err := SanitizeOffer(&Offer{
			ID:            cfg.OfferCounter,
			Intent:        intentRef,
			Seller:        seller,
			URL:           url,
			PublicPrice:   publicPrice,
			OfferPrice:    offerPrice,
			ShippingPrice: shippingPrice,
			Token:         token,
			State:         OfferPublished,
			CreatedAt:     e.now(),
		})
		if err != nil {
			return err
		}
		if _, err := e.tokenDecimals(offer.Token); err != nil {
			return err
		}
		cfg.OfferCounter++
		if err := e.state.ConfigPut(cfg); err != nil {
			return err
		}
		if err := e.state.OfferPut(offer); err != nil {
			return err
		}
		created = offer.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.emit(NewOfferCreatedEvent(created))
	return created, nil
}

// AcceptOffer confirms the intent against a single offer, records the
// write-once encrypted delivery payload and escrows the offer price in the
// intent's vault. The deposit runs last: a funding failure unwinds the
// confirmation and the delivery record in the same unit of work.
func (e *Engine) AcceptOffer(buyer [20]byte, offerRef [32]byte, info *DeliveryInfo) (*Intent, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var (
		confirmed *Intent
		accepted  *Offer
	)
	err := e.state.WithUnit(func() error {
		offer, err := e.loadOffer(offerRef)
		if err != nil {
			return err
		}
		intent, err := e.loadIntent(offer.Intent)
		if err != nil {
			return err
		}
		if intent.Buyer != buyer {
			return fmt.Errorf("settlement: only the intent buyer may accept an offer: %w", ErrUnauthorized)
		}
		if intent.State != IntentPublished {
			return fmt.Errorf("settlement: intent is %s, acceptance requires published: %w", intent.State, ErrInvalidState)
		}
		if intent.HasAcceptedOffer() {
			return fmt.Errorf("settlement: intent already carries an accepted offer: %w", ErrInvalidState)
		}
		if offer.State != OfferPublished {
			return fmt.Errorf("settlement: offer is %s, acceptance requires published: %w", offer.State, ErrInvalidState)
		}
		intent.State = IntentConfirmed
		intent.AcceptedOffer = offerRef
		if err := e.state.IntentPut(intent); err != nil {
			return err
		}
		offer.State = OfferAccepted
		if err := e.state.OfferPut(offer); err != nil {
			return err
		}
		intentAddr := intent.Address()
		if _, ok, err := e.state.DeliveryInfoGet(intentAddr); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("settlement: delivery info for intent %x: %w", intentAddr, ErrAlreadyExists)
		}
		sanitized, err := SanitizeDeliveryInfo(info)
		if err != nil {
			return err
		}
		if err := e.state.DeliveryInfoPut(intentAddr, sanitized); err != nil {
			return err
		}
		decimals, err := e.tokenDecimals(offer.Token)
		if err != nil {
			return err
		}
		if err := e.state.Transfer(buyer, VaultAuthority(intentAddr), offer.Token, offer.OfferPrice, decimals); err != nil {
			return err
		}
		confirmed = intent.Clone()
		accepted = offer.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.emit(NewOfferAcceptedEvent(accepted))
	return confirmed, nil
}

// CreateTracking records the write-once shipment metadata and moves the
// intent to shipped. Only the seller of the accepted offer may call it, and
// only while the intent is confirmed.
func (e *Engine) CreateTracking(seller [20]byte, intentRef [32]byte, details *TrackingDetails) (*Intent, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var shipped *Intent
	err := e.state.WithUnit(func() error {
		intent, err := e.loadIntent(intentRef)
		if err != nil {
			return err
		}
		// The write-once guard fires before any state or authorization
		// check, so a replay of a recorded intent always reports the
		// existing record.
		if _, ok, err := e.state.TrackingGet(intentRef); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("settlement: tracking details for intent %x: %w", intentRef, ErrAlreadyExists)
		}
		if intent.State != IntentConfirmed {
			return fmt.Errorf("settlement: intent is %s, tracking requires confirmed: %w", intent.State, ErrInvalidState)
		}
		if !intent.HasAcceptedOffer() {
			return fmt.Errorf("settlement: intent has no accepted offer: %w", ErrInvalidState)
		}
		offer, err := e.loadOffer(intent.AcceptedOffer)
		if err != nil {
			return err
		}
		if offer.Seller != seller {
			return fmt.Errorf("settlement: only the accepted offer's seller may record tracking: %w", ErrUnauthorized)
		}
		sanitized, err := SanitizeTrackingDetails(details)
		if err != nil {
			return err
		}
		if err := e.state.TrackingPut(intentRef, sanitized); err != nil {
			return err
		}
		intent.State = IntentShipped
		if err := e.state.IntentPut(intent); err != nil {
			return err
		}
		shipped = intent.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.emit(NewIntentShippedEvent(shipped))
	return shipped, nil
}

// AcceptDelivery fulfils the intent, marks the accepted offer delivered and
// pays the vault out: the platform fee share goes to the treasury and the
// remainder to the seller. The payout reads the current vault balance rather
// than the original offer price so any balance drift still drains the vault
// to exactly zero. Both legs are authorized by the vault authority derived
// from the intent record, not by a participant key.
func (e *Engine) AcceptDelivery(buyer [20]byte, intentRef [32]byte) (*Intent, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var (
		fulfilled    *Intent
		fee          uint64
		sellerAmount uint64
	)
	err := e.state.WithUnit(func() error {
		cfg, err := e.loadConfig()
		if err != nil {
			return err
		}
		if _, ok, err := e.state.TreasuryGet(); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("settlement: treasury not initialised: %w", ErrNotFound)
		}
		intent, err := e.loadIntent(intentRef)
		if err != nil {
			return err
		}
		if intent.Buyer != buyer {
			return fmt.Errorf("settlement: only the intent buyer may accept delivery: %w", ErrUnauthorized)
		}
		if intent.State != IntentShipped {
			return fmt.Errorf("settlement: intent is %s, delivery acceptance requires shipped: %w", intent.State, ErrInvalidState)
		}
		if !intent.HasAcceptedOffer() {
			return fmt.Errorf("settlement: intent has no accepted offer: %w", ErrInvalidState)
		}
		offer, err := e.loadOffer(intent.AcceptedOffer)
		if err != nil {
			return err
		}
		if offer.State != OfferAccepted {
			return fmt.Errorf("settlement: offer is %s, delivery requires accepted: %w", offer.State, ErrInvalidState)
		}
		decimals, err := e.tokenDecimals(offer.Token)
		if err != nil {
			return err
		}
		vault := VaultAuthority(intentRef)
		balance, err := e.state.Balance(vault, offer.Token)
		if err != nil {
			return err
		}
		fee, sellerAmount, err = splitPayout(balance, cfg.FeeBps)
		if err != nil {
			return err
		}
		if fee > 0 {
			if err := e.state.Transfer(vault, TreasuryAuthority(), offer.Token, fee, decimals); err != nil {
				return err
			}
		}
		if sellerAmount > 0 {
			if err := e.state.Transfer(vault, offer.Seller, offer.Token, sellerAmount, decimals); err != nil {
				return err
			}
		}
		intent.State = IntentFulfilled
		if err := e.state.IntentPut(intent); err != nil {
			return err
		}
		offer.State = OfferDelivered
		if err := e.state.OfferPut(offer); err != nil {
			return err
		}
		fulfilled = intent.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.emit(NewIntentFulfilledEvent(fulfilled, fee, sellerAmount))
	return fulfilled, nil
}

// CancelIntent withdraws a published intent. Only the buyer may cancel, and
// only before an offer has been accepted.
func (e *Engine) CancelIntent(buyer [20]byte, intentRef [32]byte) (*Intent, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var cancelled *Intent
	err := e.state.WithUnit(func() error {
		intent, err := e.loadIntent(intentRef)
		if err != nil {
			return err
		}
		if intent.Buyer != buyer {
			return fmt.Errorf("settlement: only the intent buyer may cancel: %w", ErrUnauthorized)
		}
		if intent.State != IntentPublished {
			return fmt.Errorf("settlement: intent is %s, cancellation requires published: %w", intent.State, ErrInvalidState)
		}
		intent.State = IntentCancelled
		if err := e.state.IntentPut(intent); err != nil {
			return err
		}
		cancelled = intent.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.emit(NewIntentCancelledEvent(cancelled))
	return cancelled, nil
}

// CancelOffer withdraws a published offer. Only its seller may cancel.
func (e *Engine) CancelOffer(seller [20]byte, offerRef [32]byte) (*Offer, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var cancelled *Offer
	err := e.state.WithUnit(func() error {
		offer, err := e.loadOffer(offerRef)
		if err != nil {
			return err
		}
		if offer.Seller != seller {
			return fmt.Errorf("settlement: only the offer seller may cancel: %w", ErrUnauthorized)
		}
		if offer.State != OfferPublished {
			return fmt.Errorf("settlement: offer is %s, cancellation requires published: %w", offer.State, ErrInvalidState)
		}
		offer.State = OfferCancelled
		if err := e.state.OfferPut(offer); err != nil {
			return err
		}
		cancelled = offer.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.emit(NewOfferCancelledEvent(cancelled))
	return cancelled, nil
}

// splitPayout computes the fee and seller shares of the vault balance using
// checked arithmetic. fee + sellerAmount == balance holds exactly.
func splitPayout(balance uint64, feeBps uint16) (fee, sellerAmount uint64, err error) {
	hi, lo := bits.Mul64(balance, uint64(feeBps))
	if hi != 0 {
		return 0, 0, fmt.Errorf("settlement: fee computation overflows: %w", ErrNumericalOverflow)
	}
	fee = lo / 10_000
	if fee > balance {
		return 0, 0, fmt.Errorf("settlement: fee exceeds vault balance: %w", ErrNumericalOverflow)
	}
	return fee, balance - fee, nil
}

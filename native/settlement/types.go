package settlement

import (
	"fmt"
	"strings"
)

// IntentState represents the lifecycle states of a buying intent.
type IntentState uint8

const (
	IntentPublished IntentState = iota
	IntentCancelled
	IntentConfirmed
	IntentShipped
	IntentFulfilled
	// IntentDisputed is defined by the data model but no transition into or
	// out of it exists yet; the engine never produces it. Kept so stored
	// records using it remain decodable once dispute handling lands.
	IntentDisputed
)

// OfferState represents the lifecycle states of a seller offer.
type OfferState uint8

const (
	OfferPublished OfferState = iota
	OfferAccepted
	OfferDelivered
	OfferCancelled
)

// Field ceilings carried over from the on-chain account layout. String caps
// are expressed in characters; encrypted blob caps in bytes (worst-case UTF-8
// expansion of the plaintext cap plus the crypto_box authentication tag).
const (
	MaxProductNameChars  = 100
	MaxCountryCodeChars  = 2
	MaxStateCodeChars    = 3
	MaxOfferURLChars     = 255
	MaxCarrierNameChars  = 100
	MaxTrackingURLChars  = 255
	MaxTrackingCodeChars = 255

	MaxEncryptedNameBytes        = 416 // 100 chars x 4 + 16
	MaxEncryptedAddressBytes     = 616 // 150 chars x 4 + 16
	MaxEncryptedPostalCodeBytes  = 216 // 50 chars x 4 + 16
	MaxEncryptedCountryCodeBytes = 24  // 2 chars x 4 + 16
	MaxEncryptedStateCodeBytes   = 28  // 3 chars x 4 + 16
)

// DefaultFeeBps is the platform fee applied when the admin does not override
// it at initialisation time.
const DefaultFeeBps uint16 = 100

// MaxFeeBps bounds the platform fee rate; 10_000 bps is 100%.
const MaxFeeBps uint16 = 10_000

// Config is the singleton platform configuration. The counters are strictly
// increasing and never reused: ids are assigned from the pre-increment value,
// so the first intent and offer both carry id 0.
type Config struct {
	Admin         [20]byte
	FeeBps        uint16
	IntentCounter uint64
	OfferCounter  uint64
}

// Clone returns a copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Treasury is the singleton custodial account receiving the platform fee
// share of every payout.
type Treasury struct {
	Admin [20]byte
}

// Clone returns a copy of the treasury record.
func (t *Treasury) Clone() *Treasury {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}

// Intent captures a buyer's standing request to purchase a described product.
// All fields except State and AcceptedOffer are immutable after creation.
// AcceptedOffer transitions exactly once, from the zero address to the
// accepted offer's address, while the intent is still published.
type Intent struct {
	ID                  uint64
	Buyer               [20]byte
	GTIN                uint64
	ProductName         string
	ShippingCountryCode string
	ShippingStateCode   string // optional; empty when unused
	Quantity            uint16
	AcceptedOffer       [32]byte // zero until an offer is accepted
	State               IntentState
	CreatedAt           int64
}

// Clone returns a copy of the intent so callers can safely mutate the result
// without affecting the stored instance.
func (i *Intent) Clone() *Intent {
	if i == nil {
		return nil
	}
	clone := *i
	return &clone
}

// Address returns the deterministic record address of the intent.
func (i *Intent) Address() [32]byte {
	return IntentAddress(i.Buyer, i.ID)
}

// HasAcceptedOffer reports whether an offer has been accepted against the
// intent.
func (i *Intent) HasAcceptedOffer() bool {
	return i.AcceptedOffer != ([32]byte{})
}

// Offer is a seller's bid against an intent. Only State mutates after
// creation.
type Offer struct {
	ID            uint64
	Intent        [32]byte
	Seller        [20]byte
	URL           string
	PublicPrice   uint64
	OfferPrice    uint64
	ShippingPrice uint64
	Token         string
	State         OfferState
	CreatedAt     int64
}

// Clone returns a copy of the offer.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	return &clone
}

// Address returns the deterministic record address of the offer.
func (o *Offer) Address() [32]byte {
	return OfferAddress(o.Intent, o.Seller, o.ID)
}

// Valid reports whether the intent state value is within the supported range.
func (s IntentState) Valid() bool {
	switch s {
	case IntentPublished, IntentCancelled, IntentConfirmed, IntentShipped, IntentFulfilled, IntentDisputed:
		return true
	default:
		return false
	}
}

// Valid reports whether the offer state value is within the supported range.
func (s OfferState) Valid() bool {
	switch s {
	case OfferPublished, OfferAccepted, OfferDelivered, OfferCancelled:
		return true
	default:
		return false
	}
}

func (s IntentState) String() string {
	switch s {
	case IntentPublished:
		return "published"
	case IntentCancelled:
		return "cancelled"
	case IntentConfirmed:
		return "confirmed"
	case IntentShipped:
		return "shipped"
	case IntentFulfilled:
		return "fulfilled"
	case IntentDisputed:
		return "disputed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

func (s OfferState) String() string {
	switch s {
	case OfferPublished:
		return "published"
	case OfferAccepted:
		return "accepted"
	case OfferDelivered:
		return "delivered"
	case OfferCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// NormalizeToken canonicalises a settlement token symbol. Registration
// against the token ledger is checked separately by the engine.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("settlement: token symbol must not be empty")
	}
	return trimmed, nil
}

// SanitizeConfig validates the supplied config, returning a cloned instance.
func SanitizeConfig(c *Config) (*Config, error) {
	if c == nil {
		return nil, fmt.Errorf("settlement: nil config")
	}
	if c.FeeBps > MaxFeeBps {
		return nil, fmt.Errorf("settlement: fee bps out of range: %d", c.FeeBps)
	}
	return c.Clone(), nil
}

// SanitizeIntent validates field bounds and state of the supplied intent,
// returning a cloned instance with trimmed string fields. The function does
// not mutate the original value.
func SanitizeIntent(i *Intent) (*Intent, error) {
	if i == nil {
		return nil, fmt.Errorf("settlement: nil intent")
	}
	clone := i.Clone()
	clone.ProductName = strings.TrimSpace(clone.ProductName)
	clone.ShippingCountryCode = strings.ToUpper(strings.TrimSpace(clone.ShippingCountryCode))
	clone.ShippingStateCode = strings.ToUpper(strings.TrimSpace(clone.ShippingStateCode))
	if clone.ProductName == "" {
		return nil, fmt.Errorf("settlement: product name must not be empty")
	}
	if len([]rune(clone.ProductName)) > MaxProductNameChars {
		return nil, fmt.Errorf("settlement: product name exceeds %d characters", MaxProductNameChars)
	}
	if clone.ShippingCountryCode == "" || len(clone.ShippingCountryCode) > MaxCountryCodeChars {
		return nil, fmt.Errorf("settlement: invalid shipping country code %q", clone.ShippingCountryCode)
	}
	if len(clone.ShippingStateCode) > MaxStateCodeChars {
		return nil, fmt.Errorf("settlement: shipping state code exceeds %d characters", MaxStateCodeChars)
	}
	if clone.Quantity == 0 {
		return nil, fmt.Errorf("settlement: quantity must be positive")
	}
	if !clone.State.Valid() {
		return nil, fmt.Errorf("settlement: invalid intent state: %d", clone.State)
	}
	return clone, nil
}

// SanitizeOffer validates field bounds and state of the supplied offer,
// returning a cloned instance with a canonical token symbol.
func SanitizeOffer(o *Offer) (*Offer, error) {
	if o == nil {
		return nil, fmt.Errorf("settlement: nil offer")
	}
	clone := o.Clone()
	clone.URL = strings.TrimSpace(clone.URL)
	if clone.URL == "" {
		return nil, fmt.Errorf("settlement: offer url must not be empty")
	}
	if len([]rune(clone.URL)) > MaxOfferURLChars {
		return nil, fmt.Errorf("settlement: offer url exceeds %d characters", MaxOfferURLChars)
	}
	if clone.OfferPrice == 0 {
		return nil, fmt.Errorf("settlement: offer price must be positive")
	}
	token, err := NormalizeToken(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if !clone.State.Valid() {
		return nil, fmt.Errorf("settlement: invalid offer state: %d", clone.State)
	}
	return clone, nil
}

package settlement

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"testing"

	"bestoffer/core/events"
)

type mockState struct {
	config   *Config
	treasury *Treasury
	intents  map[[32]byte]*Intent
	offers   map[[32]byte]*Offer
	delivery map[[32]byte]*DeliveryInfo
	tracking map[[32]byte]*TrackingDetails
	tokens   map[string]uint8
	balances map[string]map[[20]byte]uint64
}

func newMockState() *mockState {
	return &mockState{
		intents:  make(map[[32]byte]*Intent),
		offers:   make(map[[32]byte]*Offer),
		delivery: make(map[[32]byte]*DeliveryInfo),
		tracking: make(map[[32]byte]*TrackingDetails),
		tokens:   map[string]uint8{"USDT": 6},
		balances: make(map[string]map[[20]byte]uint64),
	}
}

func (m *mockState) snapshot() *mockState {
	clone := &mockState{
		config:   m.config.Clone(),
		treasury: m.treasury.Clone(),
		intents:  make(map[[32]byte]*Intent, len(m.intents)),
		offers:   make(map[[32]byte]*Offer, len(m.offers)),
		delivery: make(map[[32]byte]*DeliveryInfo, len(m.delivery)),
		tracking: make(map[[32]byte]*TrackingDetails, len(m.tracking)),
		tokens:   make(map[string]uint8, len(m.tokens)),
		balances: make(map[string]map[[20]byte]uint64, len(m.balances)),
	}
	for k, v := range m.intents {
		clone.intents[k] = v.Clone()
	}
	for k, v := range m.offers {
		clone.offers[k] = v.Clone()
	}
	for k, v := range m.delivery {
		clone.delivery[k] = v.Clone()
	}
	for k, v := range m.tracking {
		clone.tracking[k] = v.Clone()
	}
	for k, v := range m.tokens {
		clone.tokens[k] = v
	}
	for token, accounts := range m.balances {
		copied := make(map[[20]byte]uint64, len(accounts))
		for addr, amount := range accounts {
			copied[addr] = amount
		}
		clone.balances[token] = copied
	}
	return clone
}

func (m *mockState) restore(from *mockState) {
	m.config = from.config
	m.treasury = from.treasury
	m.intents = from.intents
	m.offers = from.offers
	m.delivery = from.delivery
	m.tracking = from.tracking
	m.tokens = from.tokens
	m.balances = from.balances
}

func (m *mockState) WithUnit(fn func() error) error {
	saved := m.snapshot()
	if err := fn(); err != nil {
		m.restore(saved)
		return err
	}
	return nil
}

func (m *mockState) ConfigGet() (*Config, bool, error) {
	if m.config == nil {
		return nil, false, nil
	}
	return m.config.Clone(), true, nil
}

func (m *mockState) ConfigPut(cfg *Config) error {
	sanitized, err := SanitizeConfig(cfg)
	if err != nil {
		return err
	}
	m.config = sanitized
	return nil
}

func (m *mockState) TreasuryGet() (*Treasury, bool, error) {
	if m.treasury == nil {
		return nil, false, nil
	}
	return m.treasury.Clone(), true, nil
}

func (m *mockState) TreasuryPut(t *Treasury) error {
	m.treasury = t.Clone()
	return nil
}

func (m *mockState) IntentGet(addr [32]byte) (*Intent, bool, error) {
	intent, ok := m.intents[addr]
	if !ok {
		return nil, false, nil
	}
	return intent.Clone(), true, nil
}

func (m *mockState) IntentPut(intent *Intent) error {
	sanitized, err := SanitizeIntent(intent)
	if err != nil {
		return err
	}
	m.intents[sanitized.Address()] = sanitized
	return nil
}

func (m *mockState) OfferGet(addr [32]byte) (*Offer, bool, error) {
	offer, ok := m.offers[addr]
	if !ok {
		return nil, false, nil
	}
	return offer.Clone(), true, nil
}

func (m *mockState) OfferPut(offer *Offer) error {
	sanitized, err := SanitizeOffer(offer)
	if err != nil {
		return err
	}
	m.offers[sanitized.Address()] = sanitized
	return nil
}

func (m *mockState) DeliveryInfoGet(intent [32]byte) (*DeliveryInfo, bool, error) {
	info, ok := m.delivery[intent]
	if !ok {
		return nil, false, nil
	}
	return info.Clone(), true, nil
}

func (m *mockState) DeliveryInfoPut(intent [32]byte, info *DeliveryInfo) error {
	sanitized, err := SanitizeDeliveryInfo(info)
	if err != nil {
		return err
	}
	m.delivery[intent] = sanitized
	return nil
}

func (m *mockState) TrackingGet(intent [32]byte) (*TrackingDetails, bool, error) {
	details, ok := m.tracking[intent]
	if !ok {
		return nil, false, nil
	}
	return details.Clone(), true, nil
}

func (m *mockState) TrackingPut(intent [32]byte, details *TrackingDetails) error {
	sanitized, err := SanitizeTrackingDetails(details)
	if err != nil {
		return err
	}
	m.tracking[intent] = sanitized
	return nil
}

func (m *mockState) TokenDecimals(symbol string) (uint8, bool, error) {
	decimals, ok := m.tokens[symbol]
	return decimals, ok, nil
}

func (m *mockState) Balance(addr [20]byte, symbol string) (uint64, error) {
	accounts, ok := m.balances[symbol]
	if !ok {
		return 0, nil
	}
	return accounts[addr], nil
}

func (m *mockState) setBalance(addr [20]byte, symbol string, amount uint64) {
	accounts, ok := m.balances[symbol]
	if !ok {
		accounts = make(map[[20]byte]uint64)
		m.balances[symbol] = accounts
	}
	accounts[addr] = amount
}

func (m *mockState) Transfer(from, to [20]byte, symbol string, amount uint64, decimals uint8) error {
	registered, ok := m.tokens[symbol]
	if !ok {
		return fmt.Errorf("mock: token %s not registered", symbol)
	}
	if registered != decimals {
		return fmt.Errorf("mock: decimal mismatch for %s", symbol)
	}
	if amount == 0 {
		return nil
	}
	fromBalance, _ := m.Balance(from, symbol)
	if fromBalance < amount {
		return fmt.Errorf("mock: account short %d: %w", amount-fromBalance, ErrInsufficientFunds)
	}
	toBalance, _ := m.Balance(to, symbol)
	m.setBalance(from, symbol, fromBalance-amount)
	m.setBalance(to, symbol, toBalance+amount)
	return nil
}

type capturedEmitter struct {
	events []*events.Event
}

func (c *capturedEmitter) Emit(evt *events.Event) {
	c.events = append(c.events, evt)
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func newTestEngine(t *testing.T) (*Engine, *mockState) {
	t.Helper()
	state := newMockState()
	engine := NewEngine()
	engine.SetState(state)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	return engine, state
}

func testDeliveryInfo() *DeliveryInfo {
	return &DeliveryInfo{
		Nonce:                [24]byte{0x01},
		BuyerEphemeralPubKey: [32]byte{0x02},
		EncryptedLastName:    bytes.Repeat([]byte{0xAA}, 48),
		EncryptedFirstName:   bytes.Repeat([]byte{0xAB}, 48),
		EncryptedAddress1:    bytes.Repeat([]byte{0xAC}, 64),
		EncryptedCity:        bytes.Repeat([]byte{0xAD}, 32),
		EncryptedPostalCode:  bytes.Repeat([]byte{0xAE}, 24),
		EncryptedCountryCode: bytes.Repeat([]byte{0xAF}, 18),
	}
}

func testTracking() *TrackingDetails {
	return &TrackingDetails{
		CarrierName:  "DHL",
		TrackingURL:  "https://dhl.example/track/XYZ",
		TrackingCode: "XYZ123",
	}
}

func initPlatform(t *testing.T, engine *Engine, feeBps uint16) {
	t.Helper()
	admin := newTestAddress(0x10)
	if _, err := engine.InitConfig(admin, feeBps); err != nil {
		t.Fatalf("InitConfig: %v", err)
	}
	if _, err := engine.InitTreasury(admin); err != nil {
		t.Fatalf("InitTreasury: %v", err)
	}
}

func TestInitConfigRejectsDuplicateAndBadFee(t *testing.T) {
	engine, _ := newTestEngine(t)
	admin := newTestAddress(0x10)
	if _, err := engine.InitConfig(admin, 10_001); err == nil {
		t.Fatalf("expected fee bps above 10000 to be rejected")
	}
	if _, err := engine.InitConfig(admin, DefaultFeeBps); err != nil {
		t.Fatalf("InitConfig: %v", err)
	}
	if _, err := engine.InitConfig(admin, DefaultFeeBps); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists on re-init, got %v", err)
	}
	if _, err := engine.InitTreasury(admin); err != nil {
		t.Fatalf("InitTreasury: %v", err)
	}
	if _, err := engine.InitTreasury(admin); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists on treasury re-init, got %v", err)
	}
}

func TestCreateIntentAssignsMonotonicIDs(t *testing.T) {
	engine, state := newTestEngine(t)
	initPlatform(t, engine, DefaultFeeBps)
	buyer := newTestAddress(0x01)
	const n = 5
	seen := make(map[uint64]bool)
	for i := 0; i < n; i++ {
		intent, err := engine.CreateIntent(buyer, 111, "Widget", "DE", "", 1)
		if err != nil {
			t.Fatalf("CreateIntent #%d: %v", i, err)
		}
		if seen[intent.ID] {
			t.Fatalf("id %d issued twice", intent.ID)
		}
		seen[intent.ID] = true
		if intent.ID != uint64(i) {
			t.Fatalf("expected id %d, got %d", i, intent.ID)
		}
		if intent.State != IntentPublished {
			t.Fatalf("expected published state, got %s", intent.State)
		}
	}
	if state.config.IntentCounter != n {
		t.Fatalf("expected counter %d, got %d", n, state.config.IntentCounter)
	}
}

func TestCreateIntentValidation(t *testing.T) {
	engine, _ := newTestEngine(t)
	initPlatform(t, engine, DefaultFeeBps)
	buyer := newTestAddress(0x01)
	if _, err := engine.CreateIntent(buyer, 111, "", "DE", "", 1); err == nil {
		t.Fatalf("expected empty product name to be rejected")
	}
	if _, err := engine.CreateIntent(buyer, 111, "Widget", "DEU", "", 1); err == nil {
		t.Fatalf("expected three character country code to be rejected")
	}
	if _, err := engine.CreateIntent(buyer, 111, "Widget", "US", "CALI", 1); err == nil {
		t.Fatalf("expected oversized state code to be rejected")
	}
	if _, err := engine.CreateIntent(buyer, 111, "Widget", "DE", "", 0); err == nil {
		t.Fatalf("expected zero quantity to be rejected")
	}
}

func TestCreateOfferRequiresPublishedIntent(t *testing.T) {
	engine, _ := newTestEngine(t)
	initPlatform(t, engine, DefaultFeeBps)
	buyer := newTestAddress(0x01)
	seller := newTestAddress(0x02)

	var missing [32]byte
	missing[0] = 0xFF
	if _, err := engine.CreateOffer(seller, missing, "https://shop.example/w", 100, 90, 5, "USDT"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing intent, got %v", err)
	}

	intent, err := engine.CreateIntent(buyer, 111, "Widget", "DE", "", 1)
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if _, err := engine.CancelIntent(buyer, intent.Address()); err != nil {
		t.Fatalf("CancelIntent: %v", err)
	}
	if _, err := engine.CreateOffer(seller, intent.Address(), "https://shop.example/w", 100, 90, 5, "USDT"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState against cancelled intent, got %v", err)
	}
}

func TestCreateOfferRejectsUnregisteredToken(t *testing.T) {
	engine, _ := newTestEngine(t)
	initPlatform(t, engine, DefaultFeeBps)
	buyer := newTestAddress(0x01)
	seller := newTestAddress(0x02)
	intent, err := engine.CreateIntent(buyer, 111, "Widget", "DE", "", 1)
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if _, err := engine.CreateOffer(seller, intent.Address(), "https://shop.example/w", 100, 90, 5, "DOGE"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unregistered token, got %v", err)
	}
}

func setupAcceptedFlow(t *testing.T, engine *Engine, state *mockState) (buyer, seller [20]byte, intentAddr, offerAddr [32]byte) {
	t.Helper()
	buyer = newTestAddress(0x01)
	seller = newTestAddress(0x02)
	intent, err := engine.CreateIntent(buyer, 111, "Widget", "DE", "", 1)
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	intentAddr = intent.Address()
	offer, err := engine.CreateOffer(seller, intentAddr, "https://shop.example/w", 1_100_000, 1_000_000, 50_000, "USDT")
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	offerAddr = offer.Address()
	state.setBalance(buyer, "USDT", 2_000_000)
	if _, err := engine.AcceptOffer(buyer, offerAddr, testDeliveryInfo()); err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}
	return buyer, seller, intentAddr, offerAddr
}

func TestAcceptOfferTransitionsAndDeposits(t *testing.T) {
	engine, state := newTestEngine(t)
	initPlatform(t, engine, DefaultFeeBps)
	buyer, _, intentAddr, offerAddr := setupAcceptedFlow(t, engine, state)

	intent := state.intents[intentAddr]
	if intent.State != IntentConfirmed {
		t.Fatalf("expected confirmed intent, got %s", intent.State)
	}
	if intent.AcceptedOffer != offerAddr {
		t.Fatalf("accepted offer reference not recorded")
	}
	if state.offers[offerAddr].State != OfferAccepted {
		t.Fatalf("expected accepted offer, got %s", state.offers[offerAddr].State)
	}
	if _, ok := state.delivery[intentAddr]; !ok {
		t.Fatalf("delivery info not recorded")
	}
	vaultBalance, _ := state.Balance(VaultAuthority(intentAddr), "USDT")
	if vaultBalance != 1_000_000 {
		t.Fatalf("expected vault balance 1000000, got %d", vaultBalance)
	}
	buyerBalance, _ := state.Balance(buyer, "USDT")
	if buyerBalance != 1_000_000 {
		t.Fatalf("expected buyer balance 1000000, got %d", buyerBalance)
	}
}

func TestAcceptOfferTwiceFailsWithInvalidState(t *testing.T) {
	engine, state := newTestEngine(t)
	initPlatform(t, engine, DefaultFeeBps)
	buyer, seller, intentAddr, offerAddr := setupAcceptedFlow(t, engine, state)

	if _, err := engine.AcceptOffer(buyer, offerAddr, testDeliveryInfo()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second acceptance, got %v", err)
	}

	// A competing offer against the same intent must also be rejected.
	competing := &Offer{
		ID:         99,
		Intent:     intentAddr,
		Seller:     seller,
		URL:        "https://shop.example/other",
		OfferPrice: 500_000,
		Token:      "USDT",
		State:      OfferPublished,
	}
	if err := state.OfferPut(competing); err != nil {
		t.Fatalf("OfferPut: %v", err)
	}
	if _, err := engine.AcceptOffer(buyer, competing.Address(), testDeliveryInfo()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for competing offer, got %v", err)
	}
}

func TestAcceptOfferUnauthorizedCaller(t *testing.T) {
	engine, state := newTestEngine(t)
	initPlatform(t, engine, DefaultFeeBps)
	buyer := newTestAddress(0x01)
	seller := newTestAddress(0x02)
	stranger := newTestAddress(0x03)
	intent, err := engine.CreateIntent(buyer, 111, "Widget", "DE", "", 1)
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	offer, err := engine.CreateOffer(seller, intent.Address(), "https://shop.example/w", 100, 90, 5, "USDT")
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	state.setBalance(stranger, "USDT", 1_000_000)
	if _, err := engine.AcceptOffer(stranger, offer.Address(), testDeliveryInfo()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAcceptOfferInsufficientFundsUnwindsEverything(t *testing.T) {
	engine, state := newTestEngine(t)
	initPlatform(t, engine, DefaultFeeBps)
	buyer := newTestAddress(0x01)
	seller := newTestAddress(0x02)
	intent, err := engine.CreateIntent(buyer, 111, "Widget", "DE", "", 1)
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	offer, err := engine.CreateOffer(seller, intent.Address(), "https://shop.example/w", 1_100_000, 1_000_000, 50_000, "USDT")
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	state.setBalance(buyer, "USDT", 999_999)

	_, err = engine.AcceptOffer(buyer, offer.Address(), testDeliveryInfo())
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	// The deposit runs last; its failure must unwind the confirmation and
	// the delivery record committed earlier in the same call.
	if state.intents[intent.Address()].State != IntentPublished {
		t.Fatalf("intent state not unwound: %s", state.intents[intent.Address()].State)
	}
	if state.intents[intent.Address()].HasAcceptedOffer() {
		t.Fatalf("accepted offer reference not unwound")
	}
	if state.offers[offer.Address()].State != OfferPublished {
		t.Fatalf("offer state not unwound: %s", state.offers[offer.Address()].State)
	}
	if _, ok := state.delivery[intent.Address()]; ok {
		t.Fatalf("delivery info not unwound")
	}
}

func TestDeliveryInfoIsWriteOnce(t *testing.T) {
	engine, state := newTestEngine(t)
	initPlatform(t, engine, DefaultFeeBps)
	buyer := newTestAddress(0x01)
	seller := newTestAddress(0x02)
	intent, err := engine.CreateIntent(buyer, 111, "Widget", "DE", "", 1)
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	offer, err := engine.CreateOffer(seller, intent.Address(), "https://shop.example/w", 100, 90, 5, "USDT")
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	// Pre-existing payload at the intent's delivery address blocks acceptance.
	if err := state.DeliveryInfoPut(intent.Address(), testDeliveryInfo()); err != nil {
		t.Fatalf("DeliveryInfoPut: %v", err)
	}
	state.setBalance(buyer, "USDT", 1_000_000)
	if _, err := engine.AcceptOffer(buyer, offer.Address(), testDeliveryInfo()); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestCreateTrackingGuardsAndTransitions(t *testing.T) {
	engine, state := newTestEngine(t)
	initPlatform(t, engine, DefaultFeeBps)
	buyer, seller, intentAddr, _ := setupAcceptedFlow(t, engine, state)

	stranger := newTestAddress(0x04)
	if _, err := engine.CreateTracking(stranger, intentAddr, testTracking()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-seller, got %v", err)
	}
	if _, err := engine.CreateTracking(buyer, intentAddr, testTracking()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for buyer, got %v", err)
	}

	shipped, err := engine.CreateTracking(seller, intentAddr, testTracking())
	if err != nil {
		t.Fatalf("CreateTracking: %v", err)
	}
	if shipped.State != IntentShipped {
		t.Fatalf("expected shipped intent, got %s", shipped.State)
	}
	if _, ok := state.tracking[intentAddr]; !ok {
		t.Fatalf("tracking details not recorded")
	}

	// Write-once: a replay for the same intent reports the existing record,
	// regardless of the state the first call moved the intent into.
	if _, err := engine.CreateTracking(seller, intentAddr, testTracking()); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists on second tracking call, got %v", err)
	}
}

func TestCreateTrackingIsWriteOnce(t *testing.T) {
	engine, state := newTestEngine(t)
	initPlatform(t, engine, DefaultFeeBps)
	_, seller, intentAddr, _ := setupAcceptedFlow(t, engine, state)

	if _, err := engine.CreateTracking(seller, intentAddr, testTracking()); err != nil {
		t.Fatalf("CreateTracking: %v", err)
	}
	if _, err := engine.CreateTracking(seller, intentAddr, testTracking()); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists on replay, got %v", err)
	}
	// The existence of the record wins over every later guard: even a
	// caller who is not the accepted seller sees the same failure.
	stranger := newTestAddress(0x04)
	if _, err := engine.CreateTracking(stranger, intentAddr, testTracking()); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists for replay by stranger, got %v", err)
	}
}

func TestCreateTrackingRequiresConfirmedIntent(t *testing.T) {
	engine, _ := newTestEngine(t)
	initPlatform(t, engine, DefaultFeeBps)
	buyer := newTestAddress(0x01)
	seller := newTestAddress(0x02)
	intent, err := engine.CreateIntent(buyer, 111, "Widget", "DE", "", 1)
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if _, err := engine.CreateTracking(seller, intent.Address(), testTracking()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for published intent, got %v", err)
	}
}

func TestAcceptDeliveryRequiresShippedIntent(t *testing.T) {
	engine, state := newTestEngine(t)
	initPlatform(t, engine, DefaultFeeBps)
	buyer, _, intentAddr, _ := setupAcceptedFlow(t, engine, state)

	if _, err := engine.AcceptDelivery(buyer, intentAddr); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState before shipment, got %v", err)
	}
}

func TestAcceptDeliveryPaysOutFeeSplit(t *testing.T) {
	engine, state := newTestEngine(t)
	initPlatform(t, engine, DefaultFeeBps)
	emitter := &capturedEmitter{}
	engine.SetEmitter(emitter)
	buyer, seller, intentAddr, offerAddr := setupAcceptedFlow(t, engine, state)

	if _, err := engine.CreateTracking(seller, intentAddr, testTracking()); err != nil {
		t.Fatalf("CreateTracking: %v", err)
	}
	stranger := newTestAddress(0x05)
	if _, err := engine.AcceptDelivery(stranger, intentAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	fulfilled, err := engine.AcceptDelivery(buyer, intentAddr)
	if err != nil {
		t.Fatalf("AcceptDelivery: %v", err)
	}
	if fulfilled.State != IntentFulfilled {
		t.Fatalf("expected fulfilled intent, got %s", fulfilled.State)
	}
	if state.offers[offerAddr].State != OfferDelivered {
		t.Fatalf("expected delivered offer, got %s", state.offers[offerAddr].State)
	}
	vaultBalance, _ := state.Balance(VaultAuthority(intentAddr), "USDT")
	if vaultBalance != 0 {
		t.Fatalf("vault must drain to zero, got %d", vaultBalance)
	}
	treasuryBalance, _ := state.Balance(TreasuryAuthority(), "USDT")
	if treasuryBalance != 10_000 {
		t.Fatalf("expected treasury fee 10000, got %d", treasuryBalance)
	}
	sellerBalance, _ := state.Balance(seller, "USDT")
	if sellerBalance != 990_000 {
		t.Fatalf("expected seller amount 990000, got %d", sellerBalance)
	}

	var fulfilledEvent bool
	for _, evt := range emitter.events {
		if evt.Type == EventTypeIntentFulfilled {
			fulfilledEvent = true
			if evt.Attributes["fee"] != "10000" || evt.Attributes["sellerAmount"] != "990000" {
				t.Fatalf("unexpected payout attributes: %v", evt.Attributes)
			}
		}
	}
	if !fulfilledEvent {
		t.Fatalf("fulfilled event not emitted")
	}

	// The flow is terminal: accepting again must fail on state.
	if _, err := engine.AcceptDelivery(buyer, intentAddr); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after fulfilment, got %v", err)
	}
}

func TestPayoutReadsCurrentVaultBalance(t *testing.T) {
	engine, state := newTestEngine(t)
	initPlatform(t, engine, 250)
	buyer, seller, intentAddr, _ := setupAcceptedFlow(t, engine, state)
	if _, err := engine.CreateTracking(seller, intentAddr, testTracking()); err != nil {
		t.Fatalf("CreateTracking: %v", err)
	}
	// Drift the vault balance after deposit; payout must split what is
	// actually there, not the original offer price.
	vault := VaultAuthority(intentAddr)
	current, _ := state.Balance(vault, "USDT")
	state.setBalance(vault, "USDT", current+60)

	if _, err := engine.AcceptDelivery(buyer, intentAddr); err != nil {
		t.Fatalf("AcceptDelivery: %v", err)
	}
	balance := uint64(1_000_060)
	wantFee := balance * 250 / 10_000
	treasuryBalance, _ := state.Balance(TreasuryAuthority(), "USDT")
	if treasuryBalance != wantFee {
		t.Fatalf("expected fee %d, got %d", wantFee, treasuryBalance)
	}
	sellerBalance, _ := state.Balance(seller, "USDT")
	if sellerBalance != balance-wantFee {
		t.Fatalf("expected seller amount %d, got %d", balance-wantFee, sellerBalance)
	}
	vaultBalance, _ := state.Balance(vault, "USDT")
	if vaultBalance != 0 {
		t.Fatalf("vault must drain to zero, got %d", vaultBalance)
	}
}

func TestPayoutOverflowLeavesVaultUntouched(t *testing.T) {
	engine, state := newTestEngine(t)
	initPlatform(t, engine, 10_000)
	buyer, seller, intentAddr, _ := setupAcceptedFlow(t, engine, state)
	if _, err := engine.CreateTracking(seller, intentAddr, testTracking()); err != nil {
		t.Fatalf("CreateTracking: %v", err)
	}
	vault := VaultAuthority(intentAddr)
	state.setBalance(vault, "USDT", math.MaxUint64)

	_, err := engine.AcceptDelivery(buyer, intentAddr)
	if !errors.Is(err, ErrNumericalOverflow) {
		t.Fatalf("expected ErrNumericalOverflow, got %v", err)
	}
	vaultBalance, _ := state.Balance(vault, "USDT")
	if vaultBalance != math.MaxUint64 {
		t.Fatalf("vault balance changed on failed payout")
	}
	if state.intents[intentAddr].State != IntentShipped {
		t.Fatalf("intent state changed on failed payout: %s", state.intents[intentAddr].State)
	}
}

func TestSplitPayoutIdentity(t *testing.T) {
	cases := []struct {
		balance uint64
		feeBps  uint16
	}{
		{0, 0},
		{1, 1},
		{999, 10_000},
		{1_000_000, 100},
		{1_000_000, 9_999},
		{12_345_678_901, 33},
		{math.MaxUint64 / 10_000, 10_000},
	}
	for _, tc := range cases {
		fee, sellerAmount, err := splitPayout(tc.balance, tc.feeBps)
		if err != nil {
			t.Fatalf("splitPayout(%d, %d): %v", tc.balance, tc.feeBps, err)
		}
		if fee+sellerAmount != tc.balance {
			t.Fatalf("splitPayout(%d, %d): %d + %d != balance", tc.balance, tc.feeBps, fee, sellerAmount)
		}
		if fee != tc.balance*uint64(tc.feeBps)/10_000 {
			t.Fatalf("splitPayout(%d, %d): fee %d not floor of product", tc.balance, tc.feeBps, fee)
		}
	}
	if _, _, err := splitPayout(math.MaxUint64, 2); !errors.Is(err, ErrNumericalOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestCancelOfferGuards(t *testing.T) {
	engine, state := newTestEngine(t)
	initPlatform(t, engine, DefaultFeeBps)
	buyer := newTestAddress(0x01)
	seller := newTestAddress(0x02)
	intent, err := engine.CreateIntent(buyer, 111, "Widget", "DE", "", 1)
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	offer, err := engine.CreateOffer(seller, intent.Address(), "https://shop.example/w", 100, 90, 5, "USDT")
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if _, err := engine.CancelOffer(buyer, offer.Address()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	cancelled, err := engine.CancelOffer(seller, offer.Address())
	if err != nil {
		t.Fatalf("CancelOffer: %v", err)
	}
	if cancelled.State != OfferCancelled {
		t.Fatalf("expected cancelled offer, got %s", cancelled.State)
	}
	state.setBalance(buyer, "USDT", 1_000_000)
	if _, err := engine.AcceptOffer(buyer, offer.Address(), testDeliveryInfo()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState accepting cancelled offer, got %v", err)
	}
}

func TestEndToEndSettlementScenario(t *testing.T) {
	engine, state := newTestEngine(t)
	admin := newTestAddress(0x10)
	if _, err := engine.InitConfig(admin, 100); err != nil {
		t.Fatalf("InitConfig: %v", err)
	}
	if _, err := engine.InitTreasury(admin); err != nil {
		t.Fatalf("InitTreasury: %v", err)
	}
	buyer := newTestAddress(0x01)
	seller := newTestAddress(0x02)
	state.setBalance(buyer, "USDT", 1_000_000)

	intent, err := engine.CreateIntent(buyer, 111, "Mechanical Keyboard", "DE", "", 1)
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	offer, err := engine.CreateOffer(seller, intent.Address(), "https://shop.example/kbd", 1_200_000, 1_000_000, 0, "USDT")
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if _, err := engine.AcceptOffer(buyer, offer.Address(), testDeliveryInfo()); err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}
	if _, err := engine.CreateTracking(seller, intent.Address(), testTracking()); err != nil {
		t.Fatalf("CreateTracking: %v", err)
	}
	fulfilled, err := engine.AcceptDelivery(buyer, intent.Address())
	if err != nil {
		t.Fatalf("AcceptDelivery: %v", err)
	}

	if fulfilled.State != IntentFulfilled {
		t.Fatalf("expected fulfilled intent, got %s", fulfilled.State)
	}
	if state.offers[offer.Address()].State != OfferDelivered {
		t.Fatalf("expected delivered offer")
	}
	treasuryBalance, _ := state.Balance(TreasuryAuthority(), "USDT")
	if treasuryBalance != 10_000 {
		t.Fatalf("expected fee 10000, got %d", treasuryBalance)
	}
	sellerBalance, _ := state.Balance(seller, "USDT")
	if sellerBalance != 990_000 {
		t.Fatalf("expected seller 990000, got %d", sellerBalance)
	}
	vaultBalance, _ := state.Balance(VaultAuthority(intent.Address()), "USDT")
	if vaultBalance != 0 {
		t.Fatalf("expected empty vault, got %d", vaultBalance)
	}
	buyerBalance, _ := state.Balance(buyer, "USDT")
	if buyerBalance != 0 {
		t.Fatalf("expected drained buyer, got %d", buyerBalance)
	}
}

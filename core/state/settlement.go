package state

import (
	"fmt"

	"bestoffer/native/settlement"
)

// Record namespaces. The record address already encodes the seed-label tuple
// of the entity; the prefix keeps record bytes apart from balances and token
// metadata in the flat keyspace.
var (
	recordPrefix = []byte("record")
)

func recordKey(addr [32]byte) []byte {
	return kvKey(recordPrefix, addr[:])
}

type storedConfig struct {
	Admin         [20]byte
	FeeBps        uint16
	IntentCounter uint64
	OfferCounter  uint64
}

type storedTreasury struct {
	Admin [20]byte
}

type storedIntent struct {
	ID                  uint64
	Buyer               [20]byte
	GTIN                uint64
	ProductName         string
	ShippingCountryCode string
	ShippingStateCode   string
	Quantity            uint16
	AcceptedOffer       [32]byte
	State               uint8
	CreatedAt           uint64
}

type storedOffer struct {
	ID            uint64
	Intent        [32]byte
	Seller        [20]byte
	URL           string
	PublicPrice   uint64
	OfferPrice    uint64
	ShippingPrice uint64
	Token         string
	State         uint8
	CreatedAt     uint64
}

type storedDeliveryInfo struct {
	Nonce                [24]byte
	BuyerEphemeralPubKey [32]byte
	EncryptedLastName    []byte
	EncryptedFirstName   []byte
	EncryptedAddress1    []byte
	EncryptedAddress2    []byte
	EncryptedCity        []byte
	EncryptedPostalCode  []byte
	EncryptedCountryCode []byte
	EncryptedStateCode   []byte
}

type storedTracking struct {
	CarrierName  string
	TrackingURL  string
	TrackingCode string
}

// ConfigPut persists the singleton platform configuration.
func (m *Manager) ConfigPut(cfg *settlement.Config) error {
	sanitized, err := settlement.SanitizeConfig(cfg)
	if err != nil {
		return err
	}
	stored := &storedConfig{
		Admin:         sanitized.Admin,
		FeeBps:        sanitized.FeeBps,
		IntentCounter: sanitized.IntentCounter,
		OfferCounter:  sanitized.OfferCounter,
	}
	return m.kvPut(recordKey(settlement.ConfigAddress()), stored)
}

// ConfigGet loads the singleton platform configuration.
func (m *Manager) ConfigGet() (*settlement.Config, bool, error) {
	stored := new(storedConfig)
	ok, err := m.kvGet(recordKey(settlement.ConfigAddress()), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &settlement.Config{
		Admin:         stored.Admin,
		FeeBps:        stored.FeeBps,
		IntentCounter: stored.IntentCounter,
		OfferCounter:  stored.OfferCounter,
	}, true, nil
}

// TreasuryPut persists the singleton treasury record.
func (m *Manager) TreasuryPut(t *settlement.Treasury) error {
	if t == nil {
		return fmt.Errorf("state: nil treasury")
	}
	return m.kvPut(recordKey(settlement.TreasuryAddress()), &storedTreasury{Admin: t.Admin})
}

// TreasuryGet loads the singleton treasury record.
func (m *Manager) TreasuryGet() (*settlement.Treasury, bool, error) {
	stored := new(storedTreasury)
	ok, err := m.kvGet(recordKey(settlement.TreasuryAddress()), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &settlement.Treasury{Admin: stored.Admin}, true, nil
}

// IntentPut persists an intent under its deterministic address.
func (m *Manager) IntentPut(intent *settlement.Intent) error {
	sanitized, err := settlement.SanitizeIntent(intent)
	if err != nil {
		return err
	}
	stored := &storedIntent{
		ID:                  sanitized.ID,
		Buyer:               sanitized.Buyer,
		GTIN:                sanitized.GTIN,
		ProductName:         sanitized.ProductName,
		ShippingCountryCode: sanitized.ShippingCountryCode,
		ShippingStateCode:   sanitized.ShippingStateCode,
		Quantity:            sanitized.Quantity,
		AcceptedOffer:       sanitized.AcceptedOffer,
		State:               uint8(sanitized.State),
		CreatedAt:           uint64(sanitized.CreatedAt),
	}
	return m.kvPut(recordKey(sanitized.Address()), stored)
}

// IntentGet loads the intent stored at the supplied address.
func (m *Manager) IntentGet(addr [32]byte) (*settlement.Intent, bool, error) {
	stored := new(storedIntent)
	ok, err := m.kvGet(recordKey(addr), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	intent := &settlement.Intent{
		ID:                  stored.ID,
		Buyer:               stored.Buyer,
		GTIN:                stored.GTIN,
		ProductName:         stored.ProductName,
		ShippingCountryCode: stored.ShippingCountryCode,
		ShippingStateCode:   stored.ShippingStateCode,
		Quantity:            stored.Quantity,
		AcceptedOffer:       stored.AcceptedOffer,
		State:               settlement.IntentState(stored.State),
		CreatedAt:           int64(stored.CreatedAt),
	}
	if !intent.State.Valid() {
		return nil, false, fmt.Errorf("state: corrupt intent state %d at %x", stored.State, addr)
	}
	return intent, true, nil
}

// OfferPut persists an offer under its deterministic address.
func (m *Manager) OfferPut(offer *settlement.Offer) error {
	sanitized, err := settlement.SanitizeOffer(offer)
	if err != nil {
		return err
	}
	stored := &storedOffer{
		ID:            sanitized.ID,
		Intent:        sanitized.Intent,
		Seller:        sanitized.Seller,
		URL:           sanitized.URL,
		PublicPrice:   sanitized.PublicPrice,
		OfferPrice:    sanitized.OfferPrice,
		ShippingPrice: sanitized.ShippingPrice,
		Token:         sanitized.Token,
		State:         uint8(sanitized.State),
		CreatedAt:     uint64(sanitized.CreatedAt),
	}
	return m.kvPut(recordKey(sanitized.Address()), stored)
}

// OfferGet loads the offer stored at the supplied address.
func (m *Manager) OfferGet(addr [32]byte) (*settlement.Offer, bool, error) {
	stored := new(storedOffer)
	ok, err := m.kvGet(recordKey(addr), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	offer := &settlement.Offer{
		ID:            stored.ID,
		Intent:        stored.Intent,
		Seller:        stored.Seller,
		URL:           stored.URL,
		PublicPrice:   stored.PublicPrice,
		OfferPrice:    stored.OfferPrice,
		ShippingPrice: stored.ShippingPrice,
		Token:         stored.Token,
		State:         settlement.OfferState(stored.State),
		CreatedAt:     int64(stored.CreatedAt),
	}
	if !offer.State.Valid() {
		return nil, false, fmt.Errorf("state: corrupt offer state %d at %x", stored.State, addr)
	}
	return offer, true, nil
}

// DeliveryInfoPut persists the write-once delivery payload for an intent. The
// write-once guard lives in the engine; the manager stores what it is given.
func (m *Manager) DeliveryInfoPut(intent [32]byte, info *settlement.DeliveryInfo) error {
	sanitized, err := settlement.SanitizeDeliveryInfo(info)
	if err != nil {
		return err
	}
	stored := &storedDeliveryInfo{
		Nonce:                sanitized.Nonce,
		BuyerEphemeralPubKey: sanitized.BuyerEphemeralPubKey,
		EncryptedLastName:    sanitized.EncryptedLastName,
		EncryptedFirstName:   sanitized.EncryptedFirstName,
		EncryptedAddress1:    sanitized.EncryptedAddress1,
		EncryptedAddress2:    sanitized.EncryptedAddress2,
		EncryptedCity:        sanitized.EncryptedCity,
		EncryptedPostalCode:  sanitized.EncryptedPostalCode,
		EncryptedCountryCode: sanitized.EncryptedCountryCode,
		EncryptedStateCode:   sanitized.EncryptedStateCode,
	}
	return m.kvPut(recordKey(settlement.DeliveryInfoAddress(intent)), stored)
}

// DeliveryInfoGet loads the delivery payload recorded for an intent.
func (m *Manager) DeliveryInfoGet(intent [32]byte) (*settlement.DeliveryInfo, bool, error) {
	stored := new(storedDeliveryInfo)
	ok, err := m.kvGet(recordKey(settlement.DeliveryInfoAddress(intent)), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &settlement.DeliveryInfo{
		Nonce:                stored.Nonce,
		BuyerEphemeralPubKey: stored.BuyerEphemeralPubKey,
		EncryptedLastName:    stored.EncryptedLastName,
		EncryptedFirstName:   stored.EncryptedFirstName,
		EncryptedAddress1:    stored.EncryptedAddress1,
		EncryptedAddress2:    stored.EncryptedAddress2,
		EncryptedCity:        stored.EncryptedCity,
		EncryptedPostalCode:  stored.EncryptedPostalCode,
		EncryptedCountryCode: stored.EncryptedCountryCode,
		EncryptedStateCode:   stored.EncryptedStateCode,
	}, true, nil
}

// TrackingPut persists the write-once tracking details for an intent.
func (m *Manager) TrackingPut(intent [32]byte, details *settlement.TrackingDetails) error {
	sanitized, err := settlement.SanitizeTrackingDetails(details)
	if err != nil {
		return err
	}
	stored := &storedTracking{
		CarrierName:  sanitized.CarrierName,
		TrackingURL:  sanitized.TrackingURL,
		TrackingCode: sanitized.TrackingCode,
	}
	return m.kvPut(recordKey(settlement.TrackingAddress(intent)), stored)
}

// TrackingGet loads the tracking details recorded for an intent.
func (m *Manager) TrackingGet(intent [32]byte) (*settlement.TrackingDetails, bool, error) {
	stored := new(storedTracking)
	ok, err := m.kvGet(recordKey(settlement.TrackingAddress(intent)), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &settlement.TrackingDetails{
		CarrierName:  stored.CarrierName,
		TrackingURL:  stored.TrackingURL,
		TrackingCode: stored.TrackingCode,
	}, true, nil
}

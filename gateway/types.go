package gateway

import (
	"encoding/hex"
	"fmt"
	"strings"

	"bestoffer/native/settlement"
)

type initConfigRequest struct {
	FeeBps uint16 `json:"feeBps"`
}

type createIntentRequest struct {
	GTIN        uint64 `json:"gtin"`
	ProductName string `json:"productName"`
	CountryCode string `json:"countryCode"`
	StateCode   string `json:"stateCode,omitempty"`
	Quantity    uint16 `json:"quantity"`
}

type createOfferRequest struct {
	Intent        string `json:"intent"`
	URL           string `json:"url"`
	PublicPrice   uint64 `json:"publicPrice"`
	OfferPrice    uint64 `json:"offerPrice"`
	ShippingPrice uint64 `json:"shippingPrice"`
	Token         string `json:"token"`
}

type acceptOfferRequest struct {
	Nonce                string `json:"nonce"`
	BuyerEphemeralPubKey string `json:"buyerEphemeralPubKey"`
	EncryptedLastName    []byte `json:"encryptedLastName"`
	EncryptedFirstName   []byte `json:"encryptedFirstName"`
	EncryptedAddress1    []byte `json:"encryptedAddress1"`
	EncryptedAddress2    []byte `json:"encryptedAddress2,omitempty"`
	EncryptedCity        []byte `json:"encryptedCity"`
	EncryptedPostalCode  []byte `json:"encryptedPostalCode"`
	EncryptedCountryCode []byte `json:"encryptedCountryCode"`
	EncryptedStateCode   []byte `json:"encryptedStateCode,omitempty"`
}

func (r *acceptOfferRequest) deliveryInfo() (*settlement.DeliveryInfo, error) {
	info := &settlement.DeliveryInfo{
		EncryptedLastName:    r.EncryptedLastName,
		EncryptedFirstName:   r.EncryptedFirstName,
		EncryptedAddress1:    r.EncryptedAddress1,
		EncryptedAddress2:    r.EncryptedAddress2,
		EncryptedCity:        r.EncryptedCity,
		EncryptedPostalCode:  r.EncryptedPostalCode,
		EncryptedCountryCode: r.EncryptedCountryCode,
		EncryptedStateCode:   r.EncryptedStateCode,
	}
	nonce, err := decodeHex(r.Nonce, len(info.Nonce))
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	copy(info.Nonce[:], nonce)
	pub, err := decodeHex(r.BuyerEphemeralPubKey, len(info.BuyerEphemeralPubKey))
	if err != nil {
		return nil, fmt.Errorf("buyerEphemeralPubKey: %w", err)
	}
	copy(info.BuyerEphemeralPubKey[:], pub)
	return info, nil
}

type createTrackingRequest struct {
	CarrierName  string `json:"carrierName"`
	TrackingURL  string `json:"trackingUrl"`
	TrackingCode string `json:"trackingCode"`
}

type configResponse struct {
	Admin         string `json:"admin"`
	FeeBps        uint16 `json:"feeBps"`
	IntentCounter uint64 `json:"intentCounter"`
	OfferCounter  uint64 `json:"offerCounter"`
}

type treasuryResponse struct {
	Admin     string `json:"admin"`
	Authority string `json:"authority"`
}

type intentResponse struct {
	Address        string `json:"address"`
	ID             uint64 `json:"id"`
	Buyer          string `json:"buyer"`
	GTIN           uint64 `json:"gtin"`
	ProductName    string `json:"productName"`
	CountryCode    string `json:"countryCode"`
	StateCode      string `json:"stateCode,omitempty"`
	Quantity       uint16 `json:"quantity"`
	AcceptedOffer  string `json:"acceptedOffer,omitempty"`
	State          string `json:"state"`
	VaultAuthority string `json:"vaultAuthority"`
	CreatedAt      int64  `json:"createdAt"`
}

type offerResponse struct {
	Address       string `json:"address"`
	ID            uint64 `json:"id"`
	Intent        string `json:"intent"`
	Seller        string `json:"seller"`
	URL           string `json:"url"`
	PublicPrice   uint64 `json:"publicPrice"`
	OfferPrice    uint64 `json:"offerPrice"`
	ShippingPrice uint64 `json:"shippingPrice"`
	Token         string `json:"token"`
	State         string `json:"state"`
	CreatedAt     int64  `json:"createdAt"`
}

type trackingResponse struct {
	CarrierName  string `json:"carrierName"`
	TrackingURL  string `json:"trackingUrl"`
	TrackingCode string `json:"trackingCode"`
}

type vaultResponse struct {
	Authority string `json:"authority"`
	Token     string `json:"token"`
	Balance   uint64 `json:"balance"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func encodeConfig(cfg *settlement.Config) configResponse {
	return configResponse{
		Admin:         encodeAddr20(cfg.Admin),
		FeeBps:        cfg.FeeBps,
		IntentCounter: cfg.IntentCounter,
		OfferCounter:  cfg.OfferCounter,
	}
}

func encodeIntent(intent *settlement.Intent) intentResponse {
	addr := intent.Address()
	resp := intentResponse{
		Address:        encodeAddr32(addr),
		ID:             intent.ID,
		Buyer:          encodeAddr20(intent.Buyer),
		GTIN:           intent.GTIN,
		ProductName:    intent.ProductName,
		CountryCode:    intent.ShippingCountryCode,
		StateCode:      intent.ShippingStateCode,
		Quantity:       intent.Quantity,
		State:          intent.State.String(),
		VaultAuthority: encodeAddr20(settlement.VaultAuthority(addr)),
		CreatedAt:      intent.CreatedAt,
	}
	if intent.HasAcceptedOffer() {
		resp.AcceptedOffer = encodeAddr32(intent.AcceptedOffer)
	}
	return resp
}

func encodeOffer(offer *settlement.Offer) offerResponse {
	return offerResponse{
		Address:       encodeAddr32(offer.Address()),
		ID:            offer.ID,
		Intent:        encodeAddr32(offer.Intent),
		Seller:        encodeAddr20(offer.Seller),
		URL:           offer.URL,
		PublicPrice:   offer.PublicPrice,
		OfferPrice:    offer.OfferPrice,
		ShippingPrice: offer.ShippingPrice,
		Token:         offer.Token,
		State:         offer.State.String(),
		CreatedAt:     offer.CreatedAt,
	}
}

func encodeAddr20(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func encodeAddr32(addr [32]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func decodeHex(raw string, want int) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	if len(decoded) != want {
		return nil, fmt.Errorf("expected %d bytes, got %d", want, len(decoded))
	}
	return decoded, nil
}

func decodeAddr20(raw string) ([20]byte, error) {
	var addr [20]byte
	decoded, err := decodeHex(raw, len(addr))
	if err != nil {
		return addr, err
	}
	copy(addr[:], decoded)
	return addr, nil
}

func decodeAddr32(raw string) ([32]byte, error) {
	var addr [32]byte
	decoded, err := decodeHex(raw, len(addr))
	if err != nil {
		return addr, err
	}
	copy(addr[:], decoded)
	return addr, nil
}

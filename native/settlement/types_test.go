package settlement

import (
	"bytes"
	"strings"
	"testing"
)

func validIntent() *Intent {
	return &Intent{
		ID:                  7,
		Buyer:               newTestAddress(0x01),
		GTIN:                4_006_381_333_931,
		ProductName:         "Widget",
		ShippingCountryCode: "us",
		ShippingStateCode:   "ca",
		Quantity:            2,
		State:               IntentPublished,
	}
}

func TestSanitizeIntentNormalises(t *testing.T) {
	intent := validIntent()
	intent.ProductName = "  Widget  "
	sanitized, err := SanitizeIntent(intent)
	if err != nil {
		t.Fatalf("SanitizeIntent: %v", err)
	}
	if sanitized.ProductName != "Widget" {
		t.Fatalf("product name not trimmed: %q", sanitized.ProductName)
	}
	if sanitized.ShippingCountryCode != "US" || sanitized.ShippingStateCode != "CA" {
		t.Fatalf("codes not upper-cased: %q %q", sanitized.ShippingCountryCode, sanitized.ShippingStateCode)
	}
	if intent.ProductName != "  Widget  " {
		t.Fatalf("original mutated")
	}
}

func TestSanitizeIntentRejectsOversizedFields(t *testing.T) {
	intent := validIntent()
	intent.ProductName = strings.Repeat("x", MaxProductNameChars+1)
	if _, err := SanitizeIntent(intent); err == nil {
		t.Fatalf("expected oversized product name to be rejected")
	}
	intent = validIntent()
	intent.State = IntentState(42)
	if _, err := SanitizeIntent(intent); err == nil {
		t.Fatalf("expected invalid state to be rejected")
	}
}

func TestSanitizeOfferRejectsBadValues(t *testing.T) {
	offer := &Offer{
		ID:         1,
		Seller:     newTestAddress(0x02),
		URL:        "https://shop.example/w",
		OfferPrice: 100,
		Token:      " usdt ",
		State:      OfferPublished,
	}
	sanitized, err := SanitizeOffer(offer)
	if err != nil {
		t.Fatalf("SanitizeOffer: %v", err)
	}
	if sanitized.Token != "USDT" {
		t.Fatalf("token not normalised: %q", sanitized.Token)
	}
	offer.OfferPrice = 0
	if _, err := SanitizeOffer(offer); err == nil {
		t.Fatalf("expected zero offer price to be rejected")
	}
	offer.OfferPrice = 100
	offer.URL = strings.Repeat("u", MaxOfferURLChars+1)
	if _, err := SanitizeOffer(offer); err == nil {
		t.Fatalf("expected oversized url to be rejected")
	}
}

func TestSanitizeDeliveryInfoCaps(t *testing.T) {
	info := testDeliveryInfo()
	sanitized, err := SanitizeDeliveryInfo(info)
	if err != nil {
		t.Fatalf("SanitizeDeliveryInfo: %v", err)
	}
	if &sanitized.EncryptedLastName[0] == &info.EncryptedLastName[0] {
		t.Fatalf("blobs not cloned")
	}

	info = testDeliveryInfo()
	info.EncryptedLastName = bytes.Repeat([]byte{0x01}, MaxEncryptedNameBytes+1)
	if _, err := SanitizeDeliveryInfo(info); err == nil {
		t.Fatalf("expected oversized lastname to be rejected, not truncated")
	}

	info = testDeliveryInfo()
	info.EncryptedAddress1 = nil
	if _, err := SanitizeDeliveryInfo(info); err == nil {
		t.Fatalf("expected missing required field to be rejected")
	}

	// Optional sub-fields may be entirely absent, but are still capped.
	info = testDeliveryInfo()
	info.EncryptedAddress2 = nil
	info.EncryptedStateCode = nil
	if _, err := SanitizeDeliveryInfo(info); err != nil {
		t.Fatalf("optional fields absent: %v", err)
	}
	info.EncryptedStateCode = bytes.Repeat([]byte{0x01}, MaxEncryptedStateCodeBytes+1)
	if _, err := SanitizeDeliveryInfo(info); err == nil {
		t.Fatalf("expected oversized state code to be rejected")
	}
}

func TestSanitizeTrackingDetails(t *testing.T) {
	details := &TrackingDetails{CarrierName: " DHL ", TrackingURL: "https://dhl.example/t", TrackingCode: "X1"}
	sanitized, err := SanitizeTrackingDetails(details)
	if err != nil {
		t.Fatalf("SanitizeTrackingDetails: %v", err)
	}
	if sanitized.CarrierName != "DHL" {
		t.Fatalf("carrier not trimmed: %q", sanitized.CarrierName)
	}
	details.CarrierName = ""
	if _, err := SanitizeTrackingDetails(details); err == nil {
		t.Fatalf("expected empty carrier to be rejected")
	}
	details.CarrierName = "DHL"
	details.TrackingCode = strings.Repeat("c", MaxTrackingCodeChars+1)
	if _, err := SanitizeTrackingDetails(details); err == nil {
		t.Fatalf("expected oversized tracking code to be rejected")
	}
}

func TestAddressDerivationIsDeterministicAndDistinct(t *testing.T) {
	buyer := newTestAddress(0x01)
	seller := newTestAddress(0x02)
	intentA := IntentAddress(buyer, 0)
	intentB := IntentAddress(buyer, 1)
	if intentA == intentB {
		t.Fatalf("distinct ids must derive distinct addresses")
	}
	if intentA != IntentAddress(buyer, 0) {
		t.Fatalf("derivation not deterministic")
	}
	if IntentAddress(seller, 0) == intentA {
		t.Fatalf("distinct buyers must derive distinct addresses")
	}
	offerA := OfferAddress(intentA, seller, 0)
	if offerA == OfferAddress(intentA, seller, 1) {
		t.Fatalf("distinct offer ids must derive distinct addresses")
	}
	if VaultAuthority(intentA) == VaultAuthority(intentB) {
		t.Fatalf("distinct intents must derive distinct vault authorities")
	}
	if VaultAuthority(intentA) == TreasuryAuthority() {
		t.Fatalf("vault authority must not collide with treasury authority")
	}
}

package settlement

import (
	"fmt"
	"strings"
)

// DeliveryInfo is the write-once, end-to-end encrypted delivery payload
// recorded when the buyer accepts an offer. The core never decrypts the
// blobs; it only enforces per-field byte ceilings and write-once semantics.
// AddressLine2 and StateCode are optional and may be entirely absent.
type DeliveryInfo struct {
	Nonce                [24]byte
	BuyerEphemeralPubKey [32]byte
	EncryptedLastName    []byte
	EncryptedFirstName   []byte
	EncryptedAddress1    []byte
	EncryptedAddress2    []byte // optional
	EncryptedCity        []byte
	EncryptedPostalCode  []byte
	EncryptedCountryCode []byte
	EncryptedStateCode   []byte // optional
}

// Clone returns a deep copy of the delivery payload.
func (d *DeliveryInfo) Clone() *DeliveryInfo {
	if d == nil {
		return nil
	}
	clone := *d
	clone.EncryptedLastName = append([]byte(nil), d.EncryptedLastName...)
	clone.EncryptedFirstName = append([]byte(nil), d.EncryptedFirstName...)
	clone.EncryptedAddress1 = append([]byte(nil), d.EncryptedAddress1...)
	clone.EncryptedAddress2 = append([]byte(nil), d.EncryptedAddress2...)
	clone.EncryptedCity = append([]byte(nil), d.EncryptedCity...)
	clone.EncryptedPostalCode = append([]byte(nil), d.EncryptedPostalCode...)
	clone.EncryptedCountryCode = append([]byte(nil), d.EncryptedCountryCode...)
	clone.EncryptedStateCode = append([]byte(nil), d.EncryptedStateCode...)
	return &clone
}

// SanitizeDeliveryInfo validates the payload against the field ceilings,
// returning a cloned instance. Oversized input is rejected outright, never
// truncated.
func SanitizeDeliveryInfo(d *DeliveryInfo) (*DeliveryInfo, error) {
	if d == nil {
		return nil, fmt.Errorf("settlement: nil delivery info")
	}
	clone := d.Clone()
	required := []struct {
		name string
		blob []byte
		max  int
	}{
		{"lastname", clone.EncryptedLastName, MaxEncryptedNameBytes},
		{"firstname", clone.EncryptedFirstName, MaxEncryptedNameBytes},
		{"address line 1", clone.EncryptedAddress1, MaxEncryptedAddressBytes},
		{"city", clone.EncryptedCity, MaxEncryptedNameBytes},
		{"postal code", clone.EncryptedPostalCode, MaxEncryptedPostalCodeBytes},
		{"country code", clone.EncryptedCountryCode, MaxEncryptedCountryCodeBytes},
	}
	for _, field := range required {
		if len(field.blob) == 0 {
			return nil, fmt.Errorf("settlement: encrypted %s must not be empty", field.name)
		}
		if len(field.blob) > field.max {
			return nil, fmt.Errorf("settlement: encrypted %s exceeds %d bytes", field.name, field.max)
		}
	}
	if len(clone.EncryptedAddress2) > MaxEncryptedAddressBytes {
		return nil, fmt.Errorf("settlement: encrypted address line 2 exceeds %d bytes", MaxEncryptedAddressBytes)
	}
	if len(clone.EncryptedStateCode) > MaxEncryptedStateCodeBytes {
		return nil, fmt.Errorf("settlement: encrypted state code exceeds %d bytes", MaxEncryptedStateCodeBytes)
	}
	return clone, nil
}

// TrackingDetails is the write-once shipment metadata recorded by the seller
// of the accepted offer.
type TrackingDetails struct {
	CarrierName  string
	TrackingURL  string
	TrackingCode string
}

// Clone returns a copy of the tracking details.
func (t *TrackingDetails) Clone() *TrackingDetails {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}

// SanitizeTrackingDetails validates the tracking fields, returning a cloned
// instance with trimmed values.
func SanitizeTrackingDetails(t *TrackingDetails) (*TrackingDetails, error) {
	if t == nil {
		return nil, fmt.Errorf("settlement: nil tracking details")
	}
	clone := t.Clone()
	clone.CarrierName = strings.TrimSpace(clone.CarrierName)
	clone.TrackingURL = strings.TrimSpace(clone.TrackingURL)
	clone.TrackingCode = strings.TrimSpace(clone.TrackingCode)
	if clone.CarrierName == "" {
		return nil, fmt.Errorf("settlement: carrier name must not be empty")
	}
	if len([]rune(clone.CarrierName)) > MaxCarrierNameChars {
		return nil, fmt.Errorf("settlement: carrier name exceeds %d characters", MaxCarrierNameChars)
	}
	if clone.TrackingURL == "" || len([]rune(clone.TrackingURL)) > MaxTrackingURLChars {
		return nil, fmt.Errorf("settlement: invalid tracking url")
	}
	if clone.TrackingCode == "" || len([]rune(clone.TrackingCode)) > MaxTrackingCodeChars {
		return nil, fmt.Errorf("settlement: invalid tracking code")
	}
	return clone, nil
}

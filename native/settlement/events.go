package settlement

import (
	"encoding/hex"
	"strconv"

	"bestoffer/core/events"
)

const (
	EventTypeIntentCreated   = "settlement.intent.created"
	EventTypeIntentCancelled = "settlement.intent.cancelled"
	EventTypeIntentShipped   = "settlement.intent.shipped"
	EventTypeIntentFulfilled = "settlement.intent.fulfilled"
	EventTypeOfferCreated    = "settlement.offer.created"
	EventTypeOfferAccepted   = "settlement.offer.accepted"
	EventTypeOfferCancelled  = "settlement.offer.cancelled"
)

// NewIntentCreatedEvent returns the canonical payload for a newly published
// buying intent.
func NewIntentCreatedEvent(i *Intent) *events.Event {
	return newIntentEvent(EventTypeIntentCreated, i)
}

// NewIntentCancelledEvent returns the payload emitted when a buyer withdraws
// a published intent.
func NewIntentCancelledEvent(i *Intent) *events.Event {
	return newIntentEvent(EventTypeIntentCancelled, i)
}

// NewIntentShippedEvent returns the payload emitted when tracking details are
// recorded and the intent moves to shipped.
func NewIntentShippedEvent(i *Intent) *events.Event {
	return newIntentEvent(EventTypeIntentShipped, i)
}

// NewIntentFulfilledEvent returns the payload emitted when delivery is
// accepted and the vault pays out.
func NewIntentFulfilledEvent(i *Intent, fee, sellerAmount uint64) *events.Event {
	evt := newIntentEvent(EventTypeIntentFulfilled, i)
	if i != nil {
		evt.Attributes["fee"] = strconv.FormatUint(fee, 10)
		evt.Attributes["sellerAmount"] = strconv.FormatUint(sellerAmount, 10)
	}
	return evt
}

// NewOfferCreatedEvent returns the canonical payload for a newly published
// offer.
func NewOfferCreatedEvent(o *Offer) *events.Event {
	return newOfferEvent(EventTypeOfferCreated, o)
}

// NewOfferAcceptedEvent returns the payload emitted when the buyer accepts an
// offer and funds the vault.
func NewOfferAcceptedEvent(o *Offer) *events.Event {
	return newOfferEvent(EventTypeOfferAccepted, o)
}

// NewOfferCancelledEvent returns the payload emitted when a seller withdraws
// a published offer.
func NewOfferCancelledEvent(o *Offer) *events.Event {
	return newOfferEvent(EventTypeOfferCancelled, o)
}

func newIntentEvent(eventType string, i *Intent) *events.Event {
	attrs := make(map[string]string)
	if i == nil {
		return &events.Event{Type: eventType, Attributes: attrs}
	}
	addr := i.Address()
	attrs["intent"] = hex.EncodeToString(addr[:])
	attrs["id"] = strconv.FormatUint(i.ID, 10)
	attrs["buyer"] = hex.EncodeToString(i.Buyer[:])
	attrs["gtin"] = strconv.FormatUint(i.GTIN, 10)
	attrs["quantity"] = strconv.FormatUint(uint64(i.Quantity), 10)
	attrs["state"] = i.State.String()
	if i.HasAcceptedOffer() {
		attrs["acceptedOffer"] = hex.EncodeToString(i.AcceptedOffer[:])
	}
	return &events.Event{Type: eventType, Attributes: attrs}
}

func newOfferEvent(eventType string, o *Offer) *events.Event {
	attrs := make(map[string]string)
	if o == nil {
		return &events.Event{Type: eventType, Attributes: attrs}
	}
	addr := o.Address()
	attrs["offer"] = hex.EncodeToString(addr[:])
	attrs["id"] = strconv.FormatUint(o.ID, 10)
	attrs["intent"] = hex.EncodeToString(o.Intent[:])
	attrs["seller"] = hex.EncodeToString(o.Seller[:])
	attrs["token"] = o.Token
	attrs["offerPrice"] = strconv.FormatUint(o.OfferPrice, 10)
	attrs["shippingPrice"] = strconv.FormatUint(o.ShippingPrice, 10)
	attrs["state"] = o.State.String()
	return &events.Event{Type: eventType, Attributes: attrs}
}

package gateway

import (
	"log/slog"
	"strconv"

	"bestoffer/core/events"
	"bestoffer/native/settlement"
)

// payoutObserver is the slice of the metrics registry fed from engine events.
type payoutObserver interface {
	IncVaultDeposit()
	ObservePayout(fee uint64)
}

// settlementEmitter bridges engine events into the structured log and the
// prometheus registry. Escrow deposits are counted from accepted offers and
// payouts from fulfilled intents, whose event payload carries the fee share.
type settlementEmitter struct {
	logger   *slog.Logger
	observer payoutObserver
}

func (e *settlementEmitter) Emit(evt *events.Event) {
	if evt == nil {
		return
	}
	attrs := make([]any, 0, 2*len(evt.Attributes)+2)
	attrs = append(attrs, "type", evt.Type)
	for key, value := range evt.Attributes {
		attrs = append(attrs, key, value)
	}
	e.logger.Info("settlement event", attrs...)

	if e.observer == nil {
		return
	}
	switch evt.Type {
	case settlement.EventTypeOfferAccepted:
		e.observer.IncVaultDeposit()
	case settlement.EventTypeIntentFulfilled:
		fee, err := strconv.ParseUint(evt.Attributes["fee"], 10, 64)
		if err != nil {
			e.logger.Error("parse fee attribute", "event", evt.Type, "error", err)
			return
		}
		e.observer.ObservePayout(fee)
	}
}

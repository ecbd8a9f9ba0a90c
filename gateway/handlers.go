package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"bestoffer/native/settlement"
)

const headerActorAddress = "X-Actor-Address"

func (s *Server) handleInitConfig(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	var req initConfigRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	cfg, err := s.engine.InitConfig(actor, req.FeeBps)
	if err != nil {
		s.writeEngineError(w, "init_config", err)
		return
	}
	s.metrics.ObserveOperation("init_config", "ok")
	s.writeJSON(w, http.StatusCreated, encodeConfig(cfg))
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, ok, err := s.records.ConfigGet()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, settlement.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, encodeConfig(cfg))
}

func (s *Server) handleInitTreasury(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	treasury, err := s.engine.InitTreasury(actor)
	if err != nil {
		s.writeEngineError(w, "init_treasury", err)
		return
	}
	s.metrics.ObserveOperation("init_treasury", "ok")
	s.writeJSON(w, http.StatusCreated, treasuryResponse{
		Admin:     encodeAddr20(treasury.Admin),
		Authority: encodeAddr20(settlement.TreasuryAuthority()),
	})
}

func (s *Server) handleGetTreasury(w http.ResponseWriter, r *http.Request) {
	treasury, ok, err := s.records.TreasuryGet()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, settlement.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, treasuryResponse{
		Admin:     encodeAddr20(treasury.Admin),
		Authority: encodeAddr20(settlement.TreasuryAuthority()),
	})
}

func (s *Server) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	var req createIntentRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	intent, err := s.engine.CreateIntent(actor, req.GTIN, req.ProductName, req.CountryCode, req.StateCode, req.Quantity)
	if err != nil {
		s.writeEngineError(w, "create_intent", err)
		return
	}
	s.metrics.ObserveOperation("create_intent", "ok")
	s.writeJSON(w, http.StatusCreated, encodeIntent(intent))
}

func (s *Server) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.recordAddr(w, r)
	if !ok {
		return
	}
	intent, found, err := s.records.IntentGet(addr)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, settlement.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, encodeIntent(intent))
}

func (s *Server) handleCancelIntent(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	addr, ok := s.recordAddr(w, r)
	if !ok {
		return
	}
	intent, err := s.engine.CancelIntent(actor, addr)
	if err != nil {
		s.writeEngineError(w, "cancel_intent", err)
		return
	}
	s.metrics.ObserveOperation("cancel_intent", "ok")
	s.writeJSON(w, http.StatusOK, encodeIntent(intent))
}

func (s *Server) handleCreateOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	var req createOfferRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	intentAddr, err := decodeAddr32(req.Intent)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("intent: %w", err))
		return
	}
	offer, err := s.engine.CreateOffer(actor, intentAddr, req.URL, req.PublicPrice, req.OfferPrice, req.ShippingPrice, req.Token)
	if err != nil {
		s.writeEngineError(w, "create_offer", err)
		return
	}
	s.metrics.ObserveOperation("create_offer", "ok")
	s.writeJSON(w, http.StatusCreated, encodeOffer(offer))
}

func (s *Server) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.recordAddr(w, r)
	if !ok {
		return
	}
	offer, found, err := s.records.OfferGet(addr)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, settlement.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, encodeOffer(offer))
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	addr, ok := s.recordAddr(w, r)
	if !ok {
		return
	}
	var req acceptOfferRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	info, err := req.deliveryInfo()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	intent, err := s.engine.AcceptOffer(actor, addr, info)
	if err != nil {
		s.writeEngineError(w, "accept_offer", err)
		return
	}
	s.metrics.ObserveOperation("accept_offer", "ok")
	s.writeJSON(w, http.StatusOK, encodeIntent(intent))
}

func (s *Server) handleCancelOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	addr, ok := s.recordAddr(w, r)
	if !ok {
		return
	}
	offer, err := s.engine.CancelOffer(actor, addr)
	if err != nil {
		s.writeEngineError(w, "cancel_offer", err)
		return
	}
	s.metrics.ObserveOperation("cancel_offer", "ok")
	s.writeJSON(w, http.StatusOK, encodeOffer(offer))
}

func (s *Server) handleCreateTracking(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	addr, ok := s.recordAddr(w, r)
	if !ok {
		return
	}
	var req createTrackingRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	intent, err := s.engine.CreateTracking(actor, addr, &settlement.TrackingDetails{
		CarrierName:  req.CarrierName,
		TrackingURL:  req.TrackingURL,
		TrackingCode: req.TrackingCode,
	})
	if err != nil {
		s.writeEngineError(w, "create_tracking", err)
		return
	}
	s.metrics.ObserveOperation("create_tracking", "ok")
	s.writeJSON(w, http.StatusOK, encodeIntent(intent))
}

func (s *Server) handleGetTracking(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.recordAddr(w, r)
	if !ok {
		return
	}
	tracking, found, err := s.records.TrackingGet(addr)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, settlement.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, trackingResponse{
		CarrierName:  tracking.CarrierName,
		TrackingURL:  tracking.TrackingURL,
		TrackingCode: tracking.TrackingCode,
	})
}

func (s *Server) handleAcceptDelivery(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	addr, ok := s.recordAddr(w, r)
	if !ok {
		return
	}
	intent, err := s.engine.AcceptDelivery(actor, addr)
	if err != nil {
		s.writeEngineError(w, "accept_delivery", err)
		return
	}
	s.metrics.ObserveOperation("accept_delivery", "ok")
	s.writeJSON(w, http.StatusOK, encodeIntent(intent))
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.recordAddr(w, r)
	if !ok {
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	normalized, err := settlement.NormalizeToken(token)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	authority := settlement.VaultAuthority(addr)
	balance, err := s.records.Balance(authority, normalized)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, vaultResponse{
		Authority: encodeAddr20(authority),
		Token:     normalized,
		Balance:   balance,
	})
}

func (s *Server) actor(w http.ResponseWriter, r *http.Request) ([20]byte, bool) {
	raw := strings.TrimSpace(r.Header.Get(headerActorAddress))
	if raw == "" {
		s.writeError(w, http.StatusUnauthorized, fmt.Errorf("missing %s header", headerActorAddress))
		return [20]byte{}, false
	}
	addr, err := decodeAddr20(raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("%s: %w", headerActorAddress, err))
		return [20]byte{}, false
	}
	return addr, true
}

func (s *Server) recordAddr(w http.ResponseWriter, r *http.Request) ([32]byte, bool) {
	addr, err := decodeAddr32(chi.URLParam(r, "addr"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("addr: %w", err))
		return [32]byte{}, false
	}
	return addr, true
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
		return false
	}
	return true
}

func (s *Server) writeEngineError(w http.ResponseWriter, operation string, err error) {
	result := "error"
	if errors.Is(err, settlement.ErrUnauthorized) {
		result = "unauthorized"
	} else if errors.Is(err, settlement.ErrInvalidState) {
		result = "invalid_state"
	}
	s.metrics.ObserveOperation(operation, result)
	s.writeError(w, statusForError(err), err)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

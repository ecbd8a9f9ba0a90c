package state

import (
	"fmt"
	"math/bits"
	"sort"
	"strings"

	"bestoffer/native/settlement"
)

var (
	tokenPrefix   = []byte("token")
	tokenListName = []byte("token-list")
	balancePrefix = []byte("balance")
)

// ErrTokenExists is returned by RegisterToken for an already registered
// symbol. Callers replaying a static token list at boot treat it as benign.
var ErrTokenExists = fmt.Errorf("state: token already registered")

// TokenMetadata describes a registered settlement token. Decimals is the
// declared decimal count every transfer of the token must match exactly.
type TokenMetadata struct {
	Symbol   string
	Name     string
	Decimals uint8
}

func tokenMetadataKey(symbol string) []byte {
	return kvKey(tokenPrefix, []byte(symbol))
}

func tokenListKey() []byte {
	return kvKey(tokenPrefix, tokenListName)
}

func balanceKey(addr [20]byte, symbol string) []byte {
	return kvKey(balancePrefix, []byte(symbol), addr[:])
}

func (m *Manager) loadTokenList() ([]string, error) {
	var list []string
	ok, err := m.kvGet(tokenListKey(), &list)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []string{}, nil
	}
	return list, nil
}

// RegisterToken stores the metadata for a settlement token and records it in
// the token index. Symbols are canonicalised to upper case.
func (m *Manager) RegisterToken(symbol, name string, decimals uint8) error {
	normalized, err := settlement.NormalizeToken(symbol)
	if err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("state: token %s: name must not be empty", normalized)
	}
	existing := new(TokenMetadata)
	if ok, err := m.kvGet(tokenMetadataKey(normalized), existing); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("state: token %s: %w", normalized, ErrTokenExists)
	}
	list, err := m.loadTokenList()
	if err != nil {
		return err
	}
	list = append(list, normalized)
	sort.Strings(list)
	if err := m.kvPut(tokenListKey(), list); err != nil {
		return err
	}
	return m.kvPut(tokenMetadataKey(normalized), &TokenMetadata{
		Symbol:   normalized,
		Name:     name,
		Decimals: decimals,
	})
}

// Token retrieves metadata for a registered token.
func (m *Manager) Token(symbol string) (*TokenMetadata, bool, error) {
	normalized, err := settlement.NormalizeToken(symbol)
	if err != nil {
		return nil, false, err
	}
	meta := new(TokenMetadata)
	ok, err := m.kvGet(tokenMetadataKey(normalized), meta)
	if err != nil || !ok {
		return nil, false, err
	}
	return meta, true, nil
}

// TokenDecimals reports the declared decimal count of a registered token.
func (m *Manager) TokenDecimals(symbol string) (uint8, bool, error) {
	meta, ok, err := m.Token(symbol)
	if err != nil || !ok {
		return 0, false, err
	}
	return meta.Decimals, true, nil
}

// TokenList returns all registered token symbols in sorted order.
func (m *Manager) TokenList() ([]string, error) {
	return m.loadTokenList()
}

// SetBalance stores an account balance for the provided token. Intended for
// genesis funding and tests; regular movement goes through Transfer.
func (m *Manager) SetBalance(addr [20]byte, symbol string, amount uint64) error {
	normalized, err := settlement.NormalizeToken(symbol)
	if err != nil {
		return err
	}
	if _, ok, err := m.Token(normalized); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("state: token %s not registered", normalized)
	}
	return m.kvPut(balanceKey(addr, normalized), amount)
}

// Balance retrieves a token balance for the provided account. Unknown
// accounts hold zero.
func (m *Manager) Balance(addr [20]byte, symbol string) (uint64, error) {
	normalized, err := settlement.NormalizeToken(symbol)
	if err != nil {
		return 0, err
	}
	var amount uint64
	ok, err := m.kvGet(balanceKey(addr, normalized), &amount)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return amount, nil
}

// Transfer moves amount of the token between custodial accounts. The caller
// declares the token's decimal count; a mismatch against the registry is a
// protocol-level integrity fault rather than a user error. Underfunded
// transfers fail with the settlement insufficient-funds sentinel and zero
// amounts are a no-op.
func (m *Manager) Transfer(from, to [20]byte, symbol string, amount uint64, decimals uint8) error {
	normalized, err := settlement.NormalizeToken(symbol)
	if err != nil {
		return err
	}
	meta, ok, err := m.Token(normalized)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("state: token %s not registered", normalized)
	}
	if meta.Decimals != decimals {
		return fmt.Errorf("state: token %s decimal mismatch: declared %d, registered %d", normalized, decimals, meta.Decimals)
	}
	if amount == 0 {
		return nil
	}
	if from == to {
		return fmt.Errorf("state: self transfer not allowed")
	}
	fromBalance, err := m.Balance(from, normalized)
	if err != nil {
		return err
	}
	if fromBalance < amount {
		return fmt.Errorf("state: account %x holds %d %s, needs %d: %w", from, fromBalance, normalized, amount, settlement.ErrInsufficientFunds)
	}
	toBalance, err := m.Balance(to, normalized)
	if err != nil {
		return err
	}
	newToBalance, carry := bits.Add64(toBalance, amount, 0)
	if carry != 0 {
		return fmt.Errorf("state: credit overflows account %x: %w", to, settlement.ErrNumericalOverflow)
	}
	if err := m.kvPut(balanceKey(from, normalized), fromBalance-amount); err != nil {
		return err
	}
	return m.kvPut(balanceKey(to, normalized), newToBalance)
}

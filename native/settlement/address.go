package settlement

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Record addresses are derived deterministically from fixed seed labels plus
// the entity's natural key, so record existence at an address doubles as a
// uniqueness check. Custodial authorities (vault, treasury) are 20-byte
// accounts derived the same way: they have no private key, and presenting the
// derivation is the only way to move their funds.
var (
	configSeed   = []byte("config")
	treasurySeed = []byte("treasury")
	intentSeed   = []byte("buy_intent")
	offerSeed    = []byte("offer")
	deliverySeed = []byte("delivery_info")
	trackingSeed = []byte("tracking_details")
	vaultSeed    = []byte("vault")
)

func leUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

// ConfigAddress returns the address of the singleton config record.
func ConfigAddress() [32]byte {
	return ethcrypto.Keccak256Hash(configSeed)
}

// TreasuryAddress returns the address of the singleton treasury record.
func TreasuryAddress() [32]byte {
	return ethcrypto.Keccak256Hash(treasurySeed)
}

// IntentAddress returns the record address for the intent keyed by its buyer
// and counter-assigned id.
func IntentAddress(buyer [20]byte, id uint64) [32]byte {
	return ethcrypto.Keccak256Hash(intentSeed, buyer[:], leUint64(id))
}

// OfferAddress returns the record address for the offer keyed by its parent
// intent, seller and counter-assigned id.
func OfferAddress(intent [32]byte, seller [20]byte, id uint64) [32]byte {
	return ethcrypto.Keccak256Hash(offerSeed, intent[:], seller[:], leUint64(id))
}

// DeliveryInfoAddress returns the record address for the write-once delivery
// payload scoped to an intent.
func DeliveryInfoAddress(intent [32]byte) [32]byte {
	return ethcrypto.Keccak256Hash(deliverySeed, intent[:])
}

// TrackingAddress returns the record address for the write-once tracking
// details scoped to an intent.
func TrackingAddress(intent [32]byte) [32]byte {
	return ethcrypto.Keccak256Hash(trackingSeed, intent[:])
}

// VaultAuthority returns the custodial account holding the escrowed payment
// for an intent. The authority is derived from the intent record, not from
// any participant key, so neither buyer nor seller can unilaterally control
// disbursement.
func VaultAuthority(intent [32]byte) [20]byte {
	hash := ethcrypto.Keccak256(vaultSeed, intent[:])
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

// TreasuryAuthority returns the custodial account receiving the platform fee
// share of every payout.
func TreasuryAuthority() [20]byte {
	hash := ethcrypto.Keccak256(vaultSeed, treasurySeed)
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

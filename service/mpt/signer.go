package mpt

import (
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sablefin/mintd/service/xrpl"
)

// Signer signs ledger transactions for one account. The orchestrator signs
// custodial transactions directly; non-custodial holders sign externally
// and come back through ConfirmAuthorization.
type Signer interface {
	// Address is the ledger account this signer controls.
	Address() string

	// Sign fills SigningPubKey and TxnSignature on the transaction and
	// returns the signed blob plus its computed transaction hash.
	Sign(tx xrpl.Tx) (blob string, hash string, err error)
}

// Keyring resolves signers for custodial identities. An address the keyring
// knows is, by definition, custodial.
type Keyring interface {
	SignerFor(address string) (Signer, bool)
}

// StaticKeyring is a fixed address-to-signer map.
type StaticKeyring map[string]Signer

// SignerFor returns the signer for an address, if custodied.
func (k StaticKeyring) SignerFor(address string) (Signer, bool) {
	s, ok := k[address]
	return s, ok
}

// Add registers a signer under its own address.
func (k StaticKeyring) Add(s Signer) {
	k[s.Address()] = s
}

// signedTxHashPrefix is the ledger's hash prefix for signed transactions.
const signedTxHashPrefix = "TXN\x00"

// LocalSigner signs with an ed25519 key held in memory. Ed25519 public keys
// are carried with the "ED" prefix per the ledger's key encoding.
type LocalSigner struct {
	address string
	pub     ed25519.PublicKey
	priv    ed25519.PrivateKey
}

// NewLocalSigner creates a signer for the given account from a 32-byte
// ed25519 seed.
func NewLocalSigner(address string, seed []byte) (*LocalSigner, error) {
	if address == "" {
		return nil, fmt.Errorf("signer address is required")
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &LocalSigner{
		address: address,
		pub:     priv.Public().(ed25519.PublicKey),
		priv:    priv,
	}, nil
}

// NewLocalSignerFromHex creates a signer from a hex-encoded seed, as loaded
// from configuration.
func NewLocalSignerFromHex(address, seedHex string) (*LocalSigner, error) {
	seed, err := hex.DecodeString(strings.TrimPrefix(seedHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid seed hex: %w", err)
	}
	return NewLocalSigner(address, seed)
}

// Address returns the account this signer controls.
func (s *LocalSigner) Address() string { return s.address }

// Sign serializes the transaction, signs it, and returns the hex blob and
// transaction hash (sha512-half over the prefixed blob).
func (s *LocalSigner) Sign(tx xrpl.Tx) (string, string, error) {
	base := tx.Base()
	if base.Account != s.address {
		return "", "", fmt.Errorf("signer for %s cannot sign transaction from %s", s.address, base.Account)
	}

	base.SigningPubKey = "ED" + strings.ToUpper(hex.EncodeToString(s.pub))
	base.TxnSignature = ""

	unsigned, err := json.Marshal(tx)
	if err != nil {
		return "", "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	sig := ed25519.Sign(s.priv, unsigned)
	base.TxnSignature = strings.ToUpper(hex.EncodeToString(sig))

	signed, err := json.Marshal(tx)
	if err != nil {
		return "", "", fmt.Errorf("failed to serialize signed transaction: %w", err)
	}

	blob := strings.ToUpper(hex.EncodeToString(signed))
	return blob, TxHash(signed), nil
}

// TxHash computes the transaction hash for a signed serialization: the
// first half of SHA-512 over the prefixed bytes, hex-encoded.
func TxHash(signed []byte) string {
	h := sha512.Sum512(append([]byte(signedTxHashPrefix), signed...))
	return strings.ToUpper(hex.EncodeToString(h[:32]))
}

// Package eip712 authenticates intents: it rebuilds the EIP-712 digest a
// user signed and checks that ECDSA recovery yields the declared sender.
package eip712

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/mantlenetworkio/relayer/types"
)

var (
	ErrStaleSignature     = errors.New("signature timestamp too old")
	ErrBadNonce           = errors.New("user nonce not above last accepted")
	ErrBadSignature       = errors.New("signature does not match sender")
	ErrMalformedSignature = errors.New("malformed signature")
)

var DefaultConfig = Config{
	Name:            "MantleRelayer",
	Version:         "1",
	MaxSignatureAge: 5 * time.Minute,
}

type Config struct {
	Name              string        // EIP-712 domain name
	Version           string        // EIP-712 domain version
	ChainID           *big.Int      // EIP-712 domain chain id
	VerifyingContract common.Address
	MaxSignatureAge   time.Duration // exclusive upper bound on signature age
}

func (c *Config) String() string {
	return fmt.Sprintf("Name: %s, Version: %s, ChainID: %v, VerifyingContract: %s, MaxSignatureAge: %v",
		c.Name, c.Version, c.ChainID, c.VerifyingContract, c.MaxSignatureAge)
}

// intentType is the typed-data schema covering every intent field,
// including the submission timestamp.
var intentType = []apitypes.Type{
	{Name: "sender", Type: "address"},
	{Name: "target", Type: "address"},
	{Name: "calldata", Type: "bytes"},
	{Name: "value", Type: "uint256"},
	{Name: "gasLimit", Type: "uint256"},
	{Name: "maxFeePerGas", Type: "uint256"},
	{Name: "maxPriorityFeePerGas", Type: "uint256"},
	{Name: "nonce", Type: "uint256"},
	{Name: "timestamp", Type: "uint256"},
}

// Verifier checks intent signatures under a fixed EIP-712 domain. It keeps
// an in-memory high-water mark of the accepted user nonce per sender; the
// durable replay state is owned by the replay guard, which must be
// consulted separately before admission.
type Verifier struct {
	config Config
	domain apitypes.TypedDataDomain

	mu        sync.Mutex
	lastNonce map[common.Address]uint64
}

func NewVerifier(config Config) *Verifier {
	return &Verifier{
		config: config,
		domain: apitypes.TypedDataDomain{
			Name:              config.Name,
			Version:           config.Version,
			ChainId:           (*math.HexOrDecimal256)(config.ChainID),
			VerifyingContract: config.VerifyingContract.Hex(),
		},
		lastNonce: make(map[common.Address]uint64),
	}
}

// Verify authenticates the intent. On success the sender's high-water
// nonce is advanced; on any failure no state changes.
func (v *Verifier) Verify(intent *types.Intent) error {
	err := v.verify(intent)
	if err != nil {
		rejectedMeter.Mark(1)
	} else {
		verifiedMeter.Mark(1)
	}
	return err
}

func (v *Verifier) verify(intent *types.Intent) error {
	if age := time.Since(intent.Timestamp); age >= v.config.MaxSignatureAge {
		return fmt.Errorf("%w: age %v", ErrStaleSignature, age.Round(time.Second))
	}
	if err := checkSignatureShape(intent); err != nil {
		return err
	}

	v.mu.Lock()
	last := v.lastNonce[intent.Sender]
	v.mu.Unlock()
	if intent.Nonce <= last {
		return fmt.Errorf("%w: nonce %d, last accepted %d", ErrBadNonce, intent.Nonce, last)
	}

	digest, err := v.Digest(intent)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	recovered, err := recoverSigner(digest, intent.R, intent.S, intent.V)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if recovered != intent.Sender {
		return fmt.Errorf("%w: recovered %s", ErrBadSignature, recovered.Hex())
	}

	v.mu.Lock()
	if intent.Nonce > v.lastNonce[intent.Sender] {
		v.lastNonce[intent.Sender] = intent.Nonce
	}
	v.mu.Unlock()
	return nil
}

// LastNonce returns the highest user nonce accepted for the sender.
func (v *Verifier) LastNonce(sender common.Address) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastNonce[sender]
}

// Digest computes keccak256(0x19 ‖ 0x01 ‖ domainSeparator ‖ structHash)
// over the intent fields.
func (v *Verifier) Digest(intent *types.Intent) (common.Hash, error) {
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Intent": intentType,
		},
		PrimaryType: "Intent",
		Domain:      v.domain,
		Message: apitypes.TypedDataMessage{
			"sender":               intent.Sender.Hex(),
			"target":               intent.Target.Hex(),
			"calldata":             hexutil.Encode(intent.Calldata),
			"value":                (*math.HexOrDecimal256)(intent.Value),
			"gasLimit":             (*math.HexOrDecimal256)(new(big.Int).SetUint64(intent.GasLimit)),
			"maxFeePerGas":         (*math.HexOrDecimal256)(intent.GasFeeCap),
			"maxPriorityFeePerGas": (*math.HexOrDecimal256)(intent.GasTipCap),
			"nonce":                (*math.HexOrDecimal256)(new(big.Int).SetUint64(intent.Nonce)),
			"timestamp":            (*math.HexOrDecimal256)(big.NewInt(intent.Timestamp.Unix())),
		},
	}
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(hash), nil
}

func checkSignatureShape(intent *types.Intent) error {
	if intent.R == nil || intent.S == nil ||
		intent.R.Sign() == 0 || intent.S.Sign() == 0 {
		return fmt.Errorf("%w: zero r or s", ErrMalformedSignature)
	}
	if intent.V != 27 && intent.V != 28 && intent.V < 35 {
		return fmt.Errorf("%w: v = %d", ErrMalformedSignature, intent.V)
	}
	return nil
}

// recoverSigner runs ECDSA recovery on the digest. v is accepted in the
// legacy {27, 28} form or EIP-155 encoded (>= 35).
func recoverSigner(digest common.Hash, r, s *big.Int, v uint64) (common.Address, error) {
	var recID byte
	switch {
	case v == 27 || v == 28:
		recID = byte(v - 27)
	case v >= 35:
		recID = byte((v - 35) % 2)
	default:
		return common.Address{}, fmt.Errorf("invalid v: %d", v)
	}

	sig := make([]byte, crypto.SignatureLength)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:64])
	sig[64] = recID

	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

package eip712

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mantlenetworkio/relayer/types"
)

// SignIntent computes the digest of the intent under the verifier's domain
// and fills in its signature fields. The relayer never signs intents in
// production; this exists for client tooling and tests.
func (v *Verifier) SignIntent(intent *types.Intent, key *ecdsa.PrivateKey) error {
	digest, err := v.Digest(intent)
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return err
	}
	intent.R = new(big.Int).SetBytes(sig[:32])
	intent.S = new(big.Int).SetBytes(sig[32:64])
	intent.V = uint64(sig[64]) + 27
	return nil
}

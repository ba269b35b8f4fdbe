package swap

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// SecretSize is the byte length of the hashlock preimage.
const SecretSize = 32

// Commitment pairs a random secret with its one-way hash. The hash is public;
// the secret stays with the swap record until the claim step reveals it.
type Commitment struct {
	Secret     []byte
	SecretHash common.Hash
}

// GenerateCommitment draws a fresh secret from the operating system's secure
// random source and digests it with SHA-256. A failing entropy source is a
// hard error; there is no fallback to a weaker generator.
func GenerateCommitment() (Commitment, error) {
	secret := make([]byte, SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return Commitment{}, fmt.Errorf("%w: %v", ErrInsufficientEntropy, err)
	}
	return Commitment{Secret: secret, SecretHash: common.Hash(sha256.Sum256(secret))}, nil
}

// VerifySecret reports whether the supplied preimage matches the hashlock.
func VerifySecret(secret []byte, hash common.Hash) bool {
	if len(secret) != SecretSize {
		return false
	}
	return common.Hash(sha256.Sum256(secret)) == hash
}

// DeriveTimelocks computes the claim deadline and the later refund deadline.
// Both are strictly in the future relative to now.
func DeriveTimelocks(nowSeconds, claimWindowSeconds, refundBufferSeconds int64) (timelock, refundTimelock int64, err error) {
	if claimWindowSeconds <= 0 {
		return 0, 0, invalidField("claimWindow", "must be positive")
	}
	if refundBufferSeconds < 0 {
		return 0, 0, invalidField("refundBuffer", "must not be negative")
	}
	timelock = nowSeconds + claimWindowSeconds
	refundTimelock = timelock + refundBufferSeconds
	return timelock, refundTimelock, nil
}

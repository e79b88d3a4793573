package signature

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ChainSafe/gossamer/lib/crypto/sr25519"
	"github.com/rs/zerolog/log"
	"github.com/vedhavyas/go-subkey"
)

// NewVerifier returns a stateless signature verifier.
func NewVerifier() *Verifier {
	return &Verifier{}
}

func (v *Verifier) Verify(message, signature, ss58Address string) (bool, error) {
	return Verify(message, signature, ss58Address)
}

// Verify checks an sr25519 signature against the public key recovered
// from an SS58 address. The signature must be 0x-prefixed hex over 64
// bytes, matching what Provider.Sign produces.
func Verify(message, signature, ss58Address string) (bool, error) {
	if !strings.HasPrefix(signature, "0x") {
		log.Error().Msg("signature missing 0x prefix")
		return false, fmt.Errorf("signature does not start with '0x'")
	}

	sigBytes, err := hex.DecodeString(signature[2:])
	if err != nil {
		log.Error().Err(err).Msg("signature hex decode failed")
		return false, fmt.Errorf("decode signature hex: %w", err)
	}

	if len(sigBytes) != 64 {
		log.Error().Int("got", len(sigBytes)).Msg("signature is not 64 bytes")
		return false, fmt.Errorf(
			"invalid signature length: expected 64 bytes, got %d",
			len(sigBytes),
		)
	}

	// The SS58 address encodes the public key directly.
	_, pubKeyBytes, err := subkey.SS58Decode(ss58Address)
	if err != nil {
		log.Error().Err(err).Msg("ss58 address decode failed")
		return false, fmt.Errorf("decode ss58 address: %w", err)
	}

	publicKey, err := sr25519.NewPublicKey(pubKeyBytes)
	if err != nil {
		log.Error().Err(err).Msg("public key construction failed")
		return false, fmt.Errorf("build public key: %w", err)
	}

	ok, err := publicKey.Verify([]byte(message), sigBytes)
	if err != nil {
		return ok, err
	}

	return ok, nil
}

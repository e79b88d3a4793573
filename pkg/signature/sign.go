package signature

import (
	"encoding/hex"
	"fmt"

	"github.com/ChainSafe/gossamer/lib/crypto/sr25519"
	"github.com/rs/zerolog/log"
)

// NewProvider wraps an sr25519 keypair as a signing provider.
func NewProvider(keypair *sr25519.Keypair) (*Provider, error) {
	return &Provider{
		keypair: keypair,
	}, nil
}

// Sign returns the sr25519 signature of message as a 0x-prefixed hex
// string, the format the axon signature headers carry.
func (p *Provider) Sign(message string) (string, error) {
	if p.keypair == nil {
		return "", fmt.Errorf("private key not initialized")
	}

	signature, err := p.keypair.Sign([]byte(message))
	if err != nil {
		log.Error().Err(err).Msg("message signing failed")
		return "", fmt.Errorf("sign message: %w", err)
	}

	return "0x" + hex.EncodeToString(signature), nil
}

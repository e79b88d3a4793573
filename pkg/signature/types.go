package signature

import "github.com/ChainSafe/gossamer/lib/crypto/sr25519"

const (
	// SubstrateNetworkId is the generic substrate SS58 prefix.
	SubstrateNetworkId = 42

	DefaultBittensorDir  = "~/.bittensor"
	DefaultWalletColdkey = "default"
)

// SignatureVerifier checks a signature against a message and the SS58
// address of its claimed signer.
type SignatureVerifier interface {
	Verify(message, signature, ss58Address string) (bool, error)
}

type Verifier struct{}

// SignatureProvider signs messages with the local hotkey.
type SignatureProvider interface {
	Sign(message string) (string, error)
}

type Provider struct {
	keypair *sr25519.Keypair
}

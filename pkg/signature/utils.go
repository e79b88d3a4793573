package signature

import (
	"github.com/ChainSafe/gossamer/lib/crypto/sr25519"
	"github.com/vedhavyas/go-subkey"
)

// ToSs58Address encodes a keypair's public key under the substrate
// network prefix.
func ToSs58Address(keypair *sr25519.Keypair) string {
	return subkey.SS58Encode(
		keypair.Public().Encode(),
		SubstrateNetworkId,
	)
}

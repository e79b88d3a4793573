// Smoke test for wallet signing: signs a message with the configured
// hotkey and verifies it against the derived ss58 address.
package main

import (
	"log"
	"os"

	"github.com/tensorplex-labs/sensei/pkg/signature"
)

func main() {
	coldkey := os.Getenv("WALLET_COLDKEY")
	if coldkey == "" {
		coldkey = "default"
	}
	hotkey := os.Getenv("WALLET_HOTKEY")
	if hotkey == "" {
		hotkey = "default"
	}

	keypair, err := signature.LoadKeypairFromHotkey(coldkey, hotkey)
	if err != nil {
		log.Fatalf("Failed to load keypair: %v", err)
	}
	address := signature.ToSs58Address(keypair)
	log.Printf("Address: %s", address)

	provider, err := signature.NewProvider(keypair)
	if err != nil {
		log.Fatalf("Failed to create signature provider: %v", err)
	}

	message := "Hello, world!"
	if len(os.Args) > 1 {
		message = os.Args[1]
	}

	sig, err := provider.Sign(message)
	if err != nil {
		log.Fatalf("Failed to sign message: %v", err)
	}
	log.Printf("Signature: %s", sig)

	ok, err := signature.Verify(message, sig, address)
	if err != nil {
		log.Fatalf("Failed to verify signature: %v", err)
	}
	log.Println("Signature valid:", ok)
}

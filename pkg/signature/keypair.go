package signature

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/ChainSafe/gossamer/lib/crypto/sr25519"
	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"

	"github.com/sethvargo/go-envconfig"

	"github.com/tensorplex-labs/sensei/internal/config"
)

// LoadMnemonic reads the secretPhrase field from a bittensor hotkey
// file. A leading ~ expands to the current user's home directory.
func LoadMnemonic(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		usr, err := user.Current()
		if err != nil {
			return "", fmt.Errorf("current user: %w", err)
		}
		path = filepath.Join(usr.HomeDir, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Error().
			Err(err).
			Str("path", path).
			Msg("keypair file unreadable")
		return "", fmt.Errorf("read keypair file: %w", err)
	}

	var result map[string]interface{}
	if err := sonic.Unmarshal(data, &result); err != nil {
		log.Error().
			Err(err).
			Str("path", path).
			Msg("keypair file is not valid json")
		return "", fmt.Errorf("parse keypair json: %w", err)
	}

	seed, ok := result["secretPhrase"]
	if !ok {
		log.Error().
			Str("path", path).
			Msg("keypair file has no secretPhrase field")
		return "", fmt.Errorf("secretPhrase not found in JSON")
	}

	seedPhrase, ok := seed.(string)
	if !ok {
		log.Error().
			Str("path", path).
			Msg("secretPhrase field is not a string")
		return "", fmt.Errorf("secretPhrase is not a string")
	}

	return seedPhrase, nil
}

// LoadKeypairFromHotkey resolves the wallet layout bittensor uses
// (<dir>/wallets/<coldkey>/hotkeys/<hotkey>) and derives the sr25519
// keypair from the stored mnemonic.
func LoadKeypairFromHotkey(coldkeyName, hotkeyName string) (*sr25519.Keypair, error) {
	ctx := context.Background()
	var envCfg config.WalletEnvConfig
	if err := envconfig.Process(ctx, &envCfg); err != nil {
		log.Fatal().Err(err).Msg("wallet environment processing failed")
	}

	bittensorDir := envCfg.BittensorDir
	if bittensorDir == "" {
		bittensorDir = DefaultBittensorDir
		log.Debug().
			Str("default", DefaultBittensorDir).
			Msg("BITTENSOR_DIR not set, using default")
	}

	path := bittensorDir + "/wallets/" + coldkeyName + "/hotkeys/" + hotkeyName
	log.Debug().
		Str("path", path).
		Str("hotkey_name", hotkeyName).
		Msg("loading keypair")

	mnemonic, err := LoadMnemonic(path)
	if err != nil {
		return nil, fmt.Errorf("load seed phrase: %w", err)
	}

	keypair, err := sr25519.NewKeypairFromMnenomic(mnemonic, "")
	if err != nil {
		log.Error().
			Err(err).
			Str("path", path).
			Str("hotkey_name", hotkeyName).
			Msg("keypair derivation from seed phrase failed")
		return nil, fmt.Errorf("derive keypair from seed phrase: %w", err)
	}

	return keypair, nil
}

package kami

// FindAxonByHotkey returns the axon advertised by the given hotkey, or nil.
func FindAxonByHotkey(metagraph *SubnetMetagraph, hotkey string) *AxonInfo {
	for i, currHotkey := range metagraph.Hotkeys {
		if currHotkey == hotkey {
			axon := metagraph.Axons[i]
			return &axon
		}
	}
	return nil
}

// GetHotkey resolves the node's own hotkey address from the keyring pair.
func GetHotkey(k *Kami) (string, error) {
	keyringPair, err := k.GetKeyringPair()
	if err != nil {
		return "", err
	}
	return keyringPair.Data.KeyringPair.Address, nil
}

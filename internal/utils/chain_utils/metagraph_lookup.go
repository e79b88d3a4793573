package chainutils

import "github.com/tensorplex-labs/sensei/internal/kami"

// UIDForHotkey returns the positional index of a hotkey within the
// metagraph snapshot. Indexes are only stable within one snapshot.
func UIDForHotkey(metagraph *kami.SubnetMetagraph, hotkey string) (int, bool) {
	for uid, h := range metagraph.Hotkeys {
		if h == hotkey {
			return uid, true
		}
	}
	return -1, false
}

func GetColdkeyForHotkey(metagraph *kami.SubnetMetagraph, hotkey string) string {
	uid, ok := UIDForHotkey(metagraph, hotkey)
	if !ok || uid >= len(metagraph.Coldkeys) {
		return ""
	}
	return metagraph.Coldkeys[uid]
}

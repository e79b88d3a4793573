package signature

import (
	"testing"
)

// A signature captured from a live wallet, pinned so Verify keeps
// accepting what the chain ecosystem produces.
const (
	pinnedMessage   = "I solemnly swear that I am up to some good. Hotkey: 5Eq1FDc9oz1tTm4MqGLdH4ajgz9eMgQ5To812axojN121DiQ"
	pinnedSignature = "0x8ee4ce50165f23b739ec55c2beeafcd273685819c32470df26b0641d15593d3b08b8aef7c391f01e7c2e34c2ee12b80df0c4b615cc0d0966be0dc81192bbc286"
	pinnedAddress   = "5Eq1FDc9oz1tTm4MqGLdH4ajgz9eMgQ5To812axojN121DiQ"
)

func TestVerifyPinnedSignature(t *testing.T) {
	ok, err := Verify(pinnedMessage, pinnedSignature, pinnedAddress)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Error("pinned signature rejected")
	}
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	cases := []struct {
		name      string
		signature string
		address   string
	}{
		{
			name:      "no 0x prefix",
			signature: pinnedSignature[2:],
			address:   pinnedAddress,
		},
		{
			name:      "truncated signature",
			signature: pinnedSignature[:66],
			address:   pinnedAddress,
		},
		{
			name:      "bad ss58 address",
			signature: pinnedSignature,
			address:   "not-an-address",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := Verify(pinnedMessage, tc.signature, tc.address)
			if err == nil {
				t.Error("expected an error")
			}
			if ok {
				t.Error("malformed input verified")
			}
		})
	}
}

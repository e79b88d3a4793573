package chainutils

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// GetExternalIP asks a public echo service for this host's external
// IPv4 address. Used when no axon IP is configured explicitly.
func GetExternalIP() (net.IP, error) {
	client := http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "https://api.ipify.org", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Error().Err(err).Msg("external ip lookup failed")
		return nil, fmt.Errorf("query external ip: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("response body close failed")
		}
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error().Err(err).Msg("external ip response unreadable")
		return nil, fmt.Errorf("read ip response: %w", err)
	}

	ipStr := string(b)
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return nil, fmt.Errorf("invalid ip returned: %s", ipStr)
	}
	ip = ip.To4()
	if ip == nil {
		return nil, fmt.Errorf("non-ipv4 address returned: %s", ipStr)
	}

	return ip, nil
}

// IPv4ToInt packs an IPv4 address into the big-endian uint32 the chain
// stores axon addresses as.
func IPv4ToInt(ip net.IP) (uint32, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return 0, fmt.Errorf("not an ipv4 address")
	}
	return binary.BigEndian.Uint32(ip4), nil
}

// GetExternalIPInt combines GetExternalIP and IPv4ToInt.
func GetExternalIPInt() (uint32, error) {
	ip, err := GetExternalIP()
	if err != nil {
		return 0, err
	}
	return IPv4ToInt(ip)
}

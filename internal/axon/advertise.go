package axon

import (
	"fmt"
	"net"

	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/sensei/internal/config"
	"github.com/tensorplex-labs/sensei/internal/kami"
	chainutils "github.com/tensorplex-labs/sensei/internal/utils/chain_utils"
)

const (
	axonVersion = 1
	ipTypeV4    = 4
	protocolV4  = 4
)

// ChainRegistrar posts axon records to the chain.
type ChainRegistrar interface {
	ServeAxon(params kami.ServeAxonParams) (kami.ExtrinsicHashResponse, error)
}

// Advertiser republishes the axon endpoint on chain so the metagraph
// carries a reachable address for this hotkey.
type Advertiser struct {
	chain  ChainRegistrar
	cfg    *config.AxonEnvConfig
	netuid int
}

func NewAdvertiser(chain ChainRegistrar, cfg *config.AxonEnvConfig, netuid int) *Advertiser {
	return &Advertiser{
		chain:  chain,
		cfg:    cfg,
		netuid: netuid,
	}
}

// Advertise publishes the axon host and port. An empty configured IP
// falls back to external address discovery.
func (a *Advertiser) Advertise() error {
	var ipInt int
	if a.cfg != nil && a.cfg.AxonIP != "" {
		ip := net.ParseIP(a.cfg.AxonIP)
		if ip == nil {
			return fmt.Errorf("invalid axon ip %q", a.cfg.AxonIP)
		}
		v, err := chainutils.IPv4ToInt(ip)
		if err != nil {
			return fmt.Errorf("axon ip: %w", err)
		}
		ipInt = int(v)
	} else {
		v, err := chainutils.GetExternalIPInt()
		if err != nil {
			return fmt.Errorf("discover external ip: %w", err)
		}
		ipInt = int(v)
	}

	port := DefaultPort
	if a.cfg != nil && a.cfg.AxonPort != 0 {
		port = a.cfg.AxonPort
	}

	res, err := a.chain.ServeAxon(kami.ServeAxonParams{
		Version:  axonVersion,
		IP:       ipInt,
		Port:     port,
		IPType:   ipTypeV4,
		Netuid:   a.netuid,
		Protocol: protocolV4,
	})
	if err != nil {
		return fmt.Errorf("serve axon: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("serve axon rejected: %v", res.Error)
	}

	log.Info().
		Str("extrinsic", res.Data).
		Int("port", port).
		Int("netuid", a.netuid).
		Msg("axon advertised on chain")
	return nil
}

// Package provider builds upstream WebSocket/HTTP endpoints for named
// third-party RPC providers. It is a pure string-template layer: no
// network calls, no validation beyond "do we know this provider/chain".
package provider

import (
	"errors"
	"fmt"

	"github.com/chainrelay/mempool-gateway/internal/constants"
)

// ErrUnsupportedChain is returned when a provider has no known endpoint
// template for the requested chain id.
var ErrUnsupportedChain = errors.New("provider: unsupported chain")

// ErrUnsupportedProvider is returned for a provider name outside the
// known registry.
var ErrUnsupportedProvider = errors.New("provider: unsupported provider")

// ErrCustomRequiresURL is returned when the "custom" provider is used
// without a caller-supplied URL to short-circuit to.
var ErrCustomRequiresURL = errors.New("provider: custom provider requires an explicit url")

// Endpoint is the resolved upstream address pair for one chain.
type Endpoint struct {
	WSURL   string
	HTTPURL string
}

type template struct {
	wsURLFmt   string
	httpURLFmt string
	// chainSubdomains maps a chain id to the provider's subdomain/network
	// path segment. A chain absent from this map is unsupported.
	chainSubdomains map[uint64]string
}

var registry = map[string]template{
	constants.ProviderAlchemy: {
		wsURLFmt:   "wss://%s.g.alchemy.com/v2/%s",
		httpURLFmt: "https://%s.g.alchemy.com/v2/%s",
		chainSubdomains: map[uint64]string{
			1:     "eth-mainnet",
			11155111: "eth-sepolia",
			137:   "polygon-mainnet",
			80001: "polygon-mumbai",
			42161: "arb-mainnet",
			10:    "opt-mainnet",
			8453:  "base-mainnet",
		},
	},
	constants.ProviderInfura: {
		wsURLFmt:   "wss://%s.infura.io/ws/v3/%s",
		httpURLFmt: "https://%s.infura.io/v3/%s",
		chainSubdomains: map[uint64]string{
			1:        "mainnet",
			11155111: "sepolia",
			137:      "polygon-mainnet",
			42161:    "arbitrum-mainnet",
			10:       "optimism-mainnet",
		},
	},
}

// EndpointFor builds the wsUrl/httpUrl pair for a named provider, chain
// id, and credential. The "custom" provider is not resolvable this way;
// callers of a custom provider must already have a caller-supplied URL
// and should not reach this function.
func EndpointFor(providerName string, chainID uint64, apiKey string) (Endpoint, error) {
	if providerName == constants.ProviderCustom {
		return Endpoint{}, ErrCustomRequiresURL
	}

	tmpl, ok := registry[providerName]
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: %q", ErrUnsupportedProvider, providerName)
	}

	subdomain, ok := tmpl.chainSubdomains[chainID]
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: provider %q does not support chain %d", ErrUnsupportedChain, providerName, chainID)
	}

	return Endpoint{
		WSURL:   fmt.Sprintf(tmpl.wsURLFmt, subdomain, apiKey),
		HTTPURL: fmt.Sprintf(tmpl.httpURLFmt, subdomain, apiKey),
	}, nil
}

// ResolveFailover tries each provider in declared order and returns the
// first endpoint that resolves for chainID. credentials maps provider
// name to API key.
func ResolveFailover(providers []string, chainID uint64, credentials map[string]string) (Endpoint, error) {
	var lastErr error
	for _, name := range providers {
		if name == constants.ProviderCustom {
			continue
		}
		endpoint, err := EndpointFor(name, chainID, credentials[name])
		if err != nil {
			lastErr = err
			continue
		}
		return endpoint, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no providers configured", ErrUnsupportedChain)
	}
	return Endpoint{}, lastErr
}

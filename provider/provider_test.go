package provider

import (
	"errors"
	"testing"
)

func TestEndpointForAlchemy(t *testing.T) {
	ep, err := EndpointFor("alchemy", 1, "secret-key")
	if err != nil {
		t.Fatalf("EndpointFor() error = %v", err)
	}
	want := "wss://eth-mainnet.g.alchemy.com/v2/secret-key"
	if ep.WSURL != want {
		t.Errorf("wsUrl = %s, want %s", ep.WSURL, want)
	}
	if ep.HTTPURL == "" {
		t.Error("expected non-empty httpUrl")
	}
}

func TestEndpointForUnsupportedChain(t *testing.T) {
	_, err := EndpointFor("alchemy", 999999, "secret-key")
	if !errors.Is(err, ErrUnsupportedChain) {
		t.Fatalf("expected ErrUnsupportedChain, got %v", err)
	}
}

func TestEndpointForUnsupportedProvider(t *testing.T) {
	_, err := EndpointFor("bogus", 1, "secret-key")
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestEndpointForCustomRequiresURL(t *testing.T) {
	_, err := EndpointFor("custom", 1, "")
	if !errors.Is(err, ErrCustomRequiresURL) {
		t.Fatalf("expected ErrCustomRequiresURL, got %v", err)
	}
}

func TestResolveFailoverTriesInOrder(t *testing.T) {
	creds := map[string]string{"infura": "infura-key"}
	ep, err := ResolveFailover([]string{"alchemy", "infura"}, 1, creds)
	if err != nil {
		t.Fatalf("ResolveFailover() error = %v", err)
	}
	// alchemy has no credential recorded but that's not checked here;
	// EndpointFor still resolves the URL template with an empty key. The
	// caller (Validate) is responsible for credential presence checks.
	if ep.WSURL == "" {
		t.Error("expected a resolved endpoint")
	}
}

func TestResolveFailoverSkipsUnsupportedChain(t *testing.T) {
	ep, err := ResolveFailover([]string{"alchemy", "infura"}, 137, nil)
	if err != nil {
		t.Fatalf("ResolveFailover() error = %v", err)
	}
	want := "wss://polygon-mainnet.g.alchemy.com/v2/"
	if ep.WSURL != want {
		t.Errorf("wsUrl = %s, want %s", ep.WSURL, want)
	}
}

func TestResolveFailoverNoneMatch(t *testing.T) {
	_, err := ResolveFailover([]string{"alchemy"}, 999999, nil)
	if !errors.Is(err, ErrUnsupportedChain) {
		t.Fatalf("expected ErrUnsupportedChain, got %v", err)
	}
}

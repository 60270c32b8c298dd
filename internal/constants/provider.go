package constants

// Provider names recognized by the provider URL builder. Any other value
// passed as PROVIDER/PROVIDERS fails config validation, and the builder
// itself returns ErrUnsupportedProvider for it.
const (
	ProviderAlchemy = "alchemy"
	ProviderInfura  = "infura"
	ProviderCustom  = "custom"
)

// KnownProviders lists the provider names the builder recognizes.
var KnownProviders = []string{ProviderAlchemy, ProviderInfura, ProviderCustom}

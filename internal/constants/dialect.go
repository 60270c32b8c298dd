package constants

// Dialect identifies the upstream subscription strategy a chain speaks.
type Dialect string

const (
	// DialectFullPending subscribes to alchemy_pendingTransactions with
	// hashesOnly=false and receives complete transaction bodies.
	DialectFullPending Dialect = "FULL_PENDING"

	// DialectFullMined subscribes to alchemy_minedTransactions with
	// hashesOnly=false and receives {removed, transaction} pairs for
	// just-mined transactions; there is no true pending stream.
	DialectFullMined Dialect = "FULL_MINED"

	// DialectHashOnlyPending subscribes to newPendingTransactions and
	// receives bare hashes that must be fetched individually.
	DialectHashOnlyPending Dialect = "HASH_ONLY_PENDING"

	// DialectHeadersThenFetch subscribes to newHeads and fetches each
	// block's transactions by number once it lands.
	DialectHeadersThenFetch Dialect = "HEADERS_THEN_FETCH"
)

// DefaultDialect is used for any chain id absent from the registry.
const DefaultDialect = DialectHeadersThenFetch

// dialectByChainID is the only per-chain knowledge the upstream session
// carries. Everything else about a chain arrives through its ChainConfig.
var dialectByChainID = map[uint64]Dialect{
	1:     DialectFullPending,    // Ethereum mainnet
	5:     DialectFullPending,    // Goerli
	11155111: DialectFullPending, // Sepolia
	137:   DialectHashOnlyPending, // Polygon PoS
	80001: DialectHashOnlyPending, // Mumbai
	56:    DialectHashOnlyPending, // BNB Smart Chain
	97:    DialectHashOnlyPending, // BSC testnet
	42161: DialectFullMined, // Arbitrum One (no pending pool visibility)
	421613: DialectFullMined, // Arbitrum Goerli
	10:    DialectFullMined, // Optimism
	420:   DialectFullMined, // Optimism Goerli
	8453:  DialectFullMined, // Base
	84531: DialectFullMined, // Base Goerli
}

// DialectFor returns the registered dialect for a chain id, falling back
// to DefaultDialect for anything unregistered.
func DialectFor(chainID uint64) Dialect {
	if d, ok := dialectByChainID[chainID]; ok {
		return d
	}
	return DefaultDialect
}

// IsKnownChain reports whether chainID has an explicit dialect entry.
func IsKnownChain(chainID uint64) bool {
	_, ok := dialectByChainID[chainID]
	return ok
}

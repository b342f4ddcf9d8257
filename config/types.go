package config

// Token registers an asset in the ledger at genesis.
type Token struct {
	Address  string `toml:"Address"`
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals"`
	// Feed names the oracle feed pricing this token. Empty leaves the token
	// unpriced.
	Feed             string `toml:"Feed,omitempty"`
	HeartbeatSeconds uint64 `toml:"HeartbeatSeconds,omitempty"`
	// Buyback marks the token as eligible for treasury buybacks.
	Buyback bool `toml:"Buyback,omitempty"`
}

// Roles lists the addresses granted operational roles at genesis.
type Roles struct {
	Keepers []string `toml:"Keepers"`
	Oracles []string `toml:"Oracles"`
}

// Escrow carries the protocol parameters of secured transfers. USD values are
// decimal strings such as "0.01".
type Escrow struct {
	FeeBps              uint32 `toml:"FeeBps"`
	FeeFloorUSD         string `toml:"FeeFloorUSD"`
	FeeCapUSD           string `toml:"FeeCapUSD"`
	MinTransferUSD      string `toml:"MinTransferUSD"`
	MaxPendingPerSender uint32 `toml:"MaxPendingPerSender"`
	ExpireSeconds       uint64 `toml:"ExpireSeconds"`
}

// Oracle configures staleness enforcement.
type Oracle struct {
	DefaultHeartbeatSeconds uint64 `toml:"DefaultHeartbeatSeconds"`
	// NativeFeed prices the native asset for buybacks and upside checks.
	NativeFeed string `toml:"NativeFeed,omitempty"`
}

// Treasury configures buyback-and-burn.
type Treasury struct {
	BuybackEnabled bool   `toml:"BuybackEnabled"`
	ThresholdUSD   string `toml:"ThresholdUSD"`
	Reference      string `toml:"Reference"`
	Bridge         string `toml:"Bridge,omitempty"`
	SlippageBps    uint32 `toml:"SlippageBps"`
}

// Rewards configures check-ins and signed claims.
type Rewards struct {
	Issuer      string `toml:"Issuer,omitempty"`
	Token       string `toml:"Token"`
	CheckInUnit string `toml:"CheckInUnit"`
}

// Timelock configures the delay applied to queued owner actions.
type Timelock struct {
	DelaySeconds uint64 `toml:"DelaySeconds"`
	GraceSeconds uint64 `toml:"GraceSeconds"`
}

// API configures the query server.
type API struct {
	ListenAddress     string   `toml:"ListenAddress"`
	RequestsPerSecond float64  `toml:"RequestsPerSecond"`
	Burst             int      `toml:"Burst"`
	AllowedOrigins    []string `toml:"AllowedOrigins,omitempty"`
	LogRequests       bool     `toml:"LogRequests,omitempty"`
	Auth              APIAuth  `toml:"auth"`
}

// APIAuth guards the price ingestion endpoint with HMAC-signed JWTs whose
// subject is the publishing oracle's address.
type APIAuth struct {
	Enabled          bool   `toml:"Enabled"`
	HMACSecret       string `toml:"HMACSecret,omitempty"`
	Issuer           string `toml:"Issuer,omitempty"`
	Audience         string `toml:"Audience,omitempty"`
	ClockSkewSeconds uint64 `toml:"ClockSkewSeconds,omitempty"`
}

// Telemetry configures OTLP export. An empty endpoint disables exporters.
type Telemetry struct {
	OTLPEndpoint string `toml:"OTLPEndpoint,omitempty"`
	OTLPHeaders  string `toml:"OTLPHeaders,omitempty"`
	Insecure     bool   `toml:"Insecure,omitempty"`
}

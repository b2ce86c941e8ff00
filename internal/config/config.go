// Package config resolves the API's settings from the environment, an
// optional YAML file, and an optional deployments registry.
//
// Precedence, lowest to highest: built-in defaults, the named deployment,
// CONFIG_FILE, process environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cypherpunk-tipjar/tipjar/internal/commitment"
	"github.com/cypherpunk-tipjar/tipjar/internal/tiers"
	"github.com/cypherpunk-tipjar/tipjar/offchain/arcium"
	"github.com/cypherpunk-tipjar/tipjar/offchain/deployments"
	"github.com/cypherpunk-tipjar/tipjar/offchain/helius"
	"github.com/cypherpunk-tipjar/tipjar/offchain/solana"
)

var ErrInvalidConfig = errors.New("invalid config")

type CallbackMode string

const (
	CallbackServer  CallbackMode = "server"
	CallbackOnchain CallbackMode = "onchain"
)

const (
	DefaultRPCURL       = "https://api.devnet.solana.com"
	DefaultPort         = 3001
	DefaultCluster      = "devnet"
	DefaultComputeUnits = 400_000
)

var DefaultTipjarProgramID = solana.MustParsePubkey("7YaPMHgDfdBxc3jBXKUDGk87yZ3VjAaA57FoiRy5VG7q")

type Config struct {
	Port         int
	RPCURL       string
	Cluster      string
	ArciumAPIKey string
	CallbackMode CallbackMode

	// DonationAddress is zero when unset; verification then matches nothing.
	DonationAddress solana.Pubkey
	TipjarProgramID solana.Pubkey
	AllowedOrigins  []string
	Tiers           tiers.Thresholds

	Arcium            arcium.Config
	SignerKeypairPath string
	CommitmentSecret  string
	RequireReference  bool

	DedupeByTxSig bool
	RedisURL      string
	ResultTTL     time.Duration
	// ClaimTTL bounds an in-flight claim; a crashed request frees its key
	// after this long.
	ClaimTTL time.Duration

	RateLimitMax    int
	RateLimitWindow time.Duration
	// TrustedProxies are IPs or CIDRs whose forwarding headers name the client.
	TrustedProxies []string

	ComputeUnitLimit uint32
	// PriorityFeeURL is a Helius endpoint; empty disables priority fees.
	PriorityFeeURL   string
	PriorityLevel    helius.PriorityLevel
	MaxPriorityFee   uint64
	ConfirmTimeout   time.Duration
	RPCTimeout       time.Duration
	ShutdownTimeout  time.Duration
	LogLevel         string
	LogFormat        string
}

// FromEnv loads configuration from the process environment.
func FromEnv() (Config, error) {
	return Load(os.Getenv)
}

// Load resolves configuration through getenv, which tests replace.
func Load(getenv func(string) string) (Config, error) {
	s := settings{}

	if path := strings.TrimSpace(getenv("DEPLOYMENT_FILE")); path != "" {
		reg, err := deployments.Load(path)
		if err != nil {
			return Config{}, fmt.Errorf("load deployments: %w", err)
		}
		name := strings.TrimSpace(getenv("DEPLOYMENT_NAME"))
		d, err := reg.FindByName(name)
		if err != nil {
			return Config{}, fmt.Errorf("%w (available: %s)", err, strings.Join(reg.Names(), ", "))
		}
		s.applyDeployment(d)
	}

	if path := strings.TrimSpace(getenv("CONFIG_FILE")); path != "" {
		if err := s.applyYAMLFile(path); err != nil {
			return Config{}, err
		}
	}

	return s.resolve(func(key string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return s[key]
	})
}

type settings map[string]string

func (s settings) set(key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		s[key] = v
	}
}

func (s settings) applyDeployment(d deployments.Deployment) {
	s.set("ARCIUM_CLUSTER", d.Cluster)
	s.set("RPC_URL", d.RPCURL)
	s.set("DONATION_SOL_ADDRESS", d.DonationAddress)
	s.set("TIPJAR_PROGRAM_ID", d.TipjarProgramID)
	s.set("MXE_PROGRAM_ID", d.MXEProgramID)
	s.set("MXE_ACCOUNT_ADDR", d.MXEAccount)
	s.set("ARCIUM_PROGRAM_ID", d.ArciumProgramID)
	s.set("ARCIUM_EXECUTING_POOL", d.ExecutingPool)
	if d.ArciumClusterOff != 0 {
		s.set("ARCIUM_CLUSTER_OFFSET", strconv.FormatUint(uint64(d.ArciumClusterOff), 10))
	}
}

// applyYAMLFile reads a flat mapping of environment-variable names to values.
func (s settings) applyYAMLFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	for k, v := range doc {
		switch val := v.(type) {
		case nil:
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			s.set(strings.ToUpper(k), strings.Join(parts, ","))
		case map[string]any:
			return fmt.Errorf("%w: config file key %q must be a scalar or list", ErrInvalidConfig, k)
		default:
			s.set(strings.ToUpper(k), fmt.Sprint(val))
		}
	}
	return nil
}

func (s settings) resolve(get func(string) string) (Config, error) {
	cfg := Config{
		Port:             DefaultPort,
		RPCURL:           DefaultRPCURL,
		Cluster:          DefaultCluster,
		CallbackMode:     CallbackOnchain,
		TipjarProgramID:  DefaultTipjarProgramID,
		Tiers:            tiers.DefaultThresholds,
		CommitmentSecret: commitment.DefaultSecret,
		ResultTTL:        24 * time.Hour,
		RateLimitMax:     10,
		RateLimitWindow:  time.Minute,
		ComputeUnitLimit: DefaultComputeUnits,
		PriorityLevel:    helius.PriorityMedium,
		ConfirmTimeout:   60 * time.Second,
		RPCTimeout:       30 * time.Second,
		ShutdownTimeout:  10 * time.Second,
		LogLevel:         "info",
		LogFormat:        "json",
	}
	var errs []error
	fail := func(key string, err error) {
		errs = append(errs, fmt.Errorf("%s: %w", key, err))
	}

	if v := get("PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 65535 {
			fail("PORT", fmt.Errorf("invalid port %q", v))
		}
		cfg.Port = n
	}

	cfg.Cluster = firstNonEmpty(get("ARCIUM_CLUSTER"), cfg.Cluster)
	cfg.ArciumAPIKey = get("ARCIUM_API_KEY")

	heliusKey := get("HELIUS_API_KEY")
	switch {
	case firstNonEmpty(get("RPC_URL"), get("SHARED_RPC_URL"), get("SOLANA_RPC_URL")) != "":
		cfg.RPCURL = firstNonEmpty(get("RPC_URL"), get("SHARED_RPC_URL"), get("SOLANA_RPC_URL"))
	case heliusKey != "":
		u, err := helius.RPCURL(helius.Cluster(firstNonEmpty(get("HELIUS_CLUSTER"), cfg.Cluster)), heliusKey)
		if err != nil {
			fail("HELIUS_API_KEY", err)
		}
		cfg.RPCURL = u
	}
	if heliusKey != "" {
		cfg.PriorityFeeURL = cfg.RPCURL
		if !strings.Contains(cfg.RPCURL, "helius-rpc.com") {
			u, err := helius.RPCURL(helius.Cluster(firstNonEmpty(get("HELIUS_CLUSTER"), cfg.Cluster)), heliusKey)
			if err == nil {
				cfg.PriorityFeeURL = u
			}
		}
	}
	if v := get("PRIORITY_FEE_LEVEL"); v != "" {
		lvl, err := helius.ParsePriorityLevel(v)
		if err != nil {
			fail("PRIORITY_FEE_LEVEL", err)
		}
		cfg.PriorityLevel = lvl
	}

	switch mode := CallbackMode(strings.ToLower(firstNonEmpty(get("CALLBACK_MODE"), string(CallbackOnchain)))); mode {
	case CallbackServer, CallbackOnchain:
		cfg.CallbackMode = mode
	default:
		fail("CALLBACK_MODE", fmt.Errorf("want server or onchain, got %q", mode))
	}

	parseKey := func(key string, dst *solana.Pubkey) {
		v := get(key)
		if v == "" {
			return
		}
		pk, err := solana.ParsePubkey(v)
		if err != nil {
			fail(key, err)
			return
		}
		*dst = pk
	}
	parseKey("DONATION_SOL_ADDRESS", &cfg.DonationAddress)
	parseKey("TIPJAR_PROGRAM_ID", &cfg.TipjarProgramID)
	parseKey("MXE_PROGRAM_ID", &cfg.Arcium.MXEProgramID)
	parseKey("MXE_ACCOUNT_ADDR", &cfg.Arcium.MXEAccount)
	parseKey("ARCIUM_PROGRAM_ID", &cfg.Arcium.ArciumProgramID)
	parseKey("ARCIUM_EXECUTING_POOL", &cfg.Arcium.ExecutingPool)
	cfg.Arcium.CompDefName = firstNonEmpty(get("ARCIUM_COMP_DEF_NAME"), arcium.DefaultCompDefName)
	cfg.Arcium.ClusterOffset = arcium.DefaultClusterOffset
	if v := get("ARCIUM_CLUSTER_OFFSET"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			fail("ARCIUM_CLUSTER_OFFSET", err)
		}
		cfg.Arcium.ClusterOffset = uint32(n)
	}

	cfg.AllowedOrigins = parseList(firstNonEmpty(get("ALLOWED_ORIGINS"), get("PUBLIC_WEBSITE_ORIGIN"), "*"))

	for i := 0; i < tiers.Count; i++ {
		key := fmt.Sprintf("MIN_TIER_LAMPORTS_%d", i)
		if v := get(key); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				fail(key, err)
				continue
			}
			cfg.Tiers[i] = n
		}
	}
	if err := cfg.Tiers.Validate(); err != nil {
		fail("MIN_TIER_LAMPORTS", err)
	}

	cfg.SignerKeypairPath = firstNonEmpty(get("API_SIGNER_KEYPAIR_PATH"), solana.DefaultKeypairPath())
	cfg.CommitmentSecret = firstNonEmpty(get("COMMITMENT_SECRET"), cfg.CommitmentSecret)
	cfg.RedisURL = get("REDIS_URL")

	parseBool := func(key string, dst *bool) {
		if v := get(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				fail(key, err)
				return
			}
			*dst = b
		}
	}
	parseBool("REQUIRE_REFERENCE", &cfg.RequireReference)
	parseBool("DEDUPE_BY_TX_SIG", &cfg.DedupeByTxSig)

	parseDuration := func(key string, dst *time.Duration) {
		if v := get(key); v != "" {
			d, err := parseDurationOrMillis(v)
			if err != nil || d <= 0 {
				fail(key, fmt.Errorf("invalid duration %q", v))
				return
			}
			*dst = d
		}
	}
	parseDuration("RESULT_TTL", &cfg.ResultTTL)
	parseDuration("RATE_LIMIT_WINDOW", &cfg.RateLimitWindow)
	parseDuration("CONFIRM_TIMEOUT", &cfg.ConfirmTimeout)
	parseDuration("RPC_TIMEOUT", &cfg.RPCTimeout)
	parseDuration("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)
	cfg.ClaimTTL = 2*cfg.ConfirmTimeout + cfg.RPCTimeout
	parseDuration("CLAIM_TTL", &cfg.ClaimTTL)

	for _, p := range parseList(get("TRUSTED_PROXIES")) {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				fail("TRUSTED_PROXIES", fmt.Errorf("want IP or CIDR, got %q", p))
				continue
			}
		}
		cfg.TrustedProxies = append(cfg.TrustedProxies, p)
	}

	if v := get("RATE_LIMIT_MAX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			fail("RATE_LIMIT_MAX", fmt.Errorf("invalid limit %q", v))
		}
		cfg.RateLimitMax = n
	}
	if v := get("MAX_PRIORITY_FEE_MICROLAMPORTS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			fail("MAX_PRIORITY_FEE_MICROLAMPORTS", err)
		}
		cfg.MaxPriorityFee = n
	}
	if v := get("COMPUTE_UNIT_LIMIT"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			fail("COMPUTE_UNIT_LIMIT", err)
		}
		cfg.ComputeUnitLimit = uint32(n)
	}

	cfg.LogLevel = firstNonEmpty(get("LOG_LEVEL"), cfg.LogLevel)
	cfg.LogFormat = firstNonEmpty(get("LOG_FORMAT"), cfg.LogFormat)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return cfg, nil
}

// AllowsAnyOrigin reports whether CORS is open to every origin.
func (c Config) AllowsAnyOrigin() bool {
	for _, o := range c.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

// ExplorerURL links a transaction on the configured cluster.
func (c Config) ExplorerURL(sig string) string {
	cluster := strings.ToLower(c.Cluster)
	if cluster == "" || cluster == "mainnet" || cluster == "mainnet-beta" {
		return "https://explorer.solana.com/tx/" + sig
	}
	return "https://explorer.solana.com/tx/" + sig + "?cluster=" + cluster
}

func parseList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "*" {
		return []string{"*"}
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseDurationOrMillis accepts Go durations ("90s") or bare milliseconds.
func parseDurationOrMillis(v string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Package config loads and validates the configuration for one clone:
// identity, domain, JSON-LD context defaults, genesis flag, network
// timeout, per-operation size cap, and log level.
package config

import (
	"time"
)

// Context holds JSON-LD context defaults applied to subject graphs on
// the way in and out of the wire encoding.
type Context struct {
	Base  string `yaml:"@base,omitempty"`
	Vocab string `yaml:"@vocab,omitempty"`
}

// Logging controls the local ColoredLogger.
type Logging struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	OutputFile string `yaml:"output_file,omitempty"`
	Colors     bool   `yaml:"colors"`
}

// Remotes configures the pub/sub transport a clone joins for the
// domain's presence and control channels.
type Remotes struct {
	// Transport selects a concrete pkg/remotes binding: "libp2p" or
	// "websocket".
	Transport string `yaml:"transport"`

	// BootstrapPeers seeds libp2p peer discovery.
	BootstrapPeers []string `yaml:"bootstrap_peers,omitempty"`
	ListenAddress  string   `yaml:"listen_address,omitempty"`

	// GatewayURL is the websocket relay address, when Transport is
	// "websocket".
	GatewayURL string `yaml:"gateway_url,omitempty"`
}

// Security configures the statutory write gate (pkg/dataset.Statutory):
// which subjects require a signed proof to change, and the key that
// proof is verified against. Both empty (the default) means no subject
// is gated and the constraint is never constructed.
type Security struct {
	// StatutorySubjects are the IRIs a write must carry a covering proof
	// for, per pkg/dataset.Statutory.
	StatutorySubjects []string `yaml:"statutory_subjects,omitempty"`
	// StatutoryVerifyKey is a filesystem path to the RSA public key (PEM)
	// statutory proofs are verified against.
	StatutoryVerifyKey string `yaml:"statutory_verify_key,omitempty"`
}

// Config is the full set of recognised options for a clone process.
type Config struct {
	ID      string  `yaml:"@id"`
	Domain  string  `yaml:"@domain"`
	Context Context `yaml:"@context,omitempty"`

	Genesis bool `yaml:"genesis"`

	NetworkTimeout   time.Duration `yaml:"networkTimeout"`
	MaxOperationSize int           `yaml:"maxOperationSize"`
	LogLevel         string        `yaml:"logLevel"`

	DataDir string `yaml:"data_dir"`

	Logging  Logging  `yaml:"logging"`
	Remotes  Remotes  `yaml:"remotes"`
	Security Security `yaml:"security,omitempty"`
}

// DefaultConfig returns a Config with every optional field at its
// documented default; @id and @domain are left blank for the caller to
// fill in, since neither has a sane default.
func DefaultConfig() *Config {
	return &Config{
		NetworkTimeout:   5000 * time.Millisecond,
		MaxOperationSize: 0,
		LogLevel:         "info",
		DataDir:          "./data",
		Logging: Logging{
			Level:  "info",
			Format: "console",
			Colors: true,
		},
		Remotes: Remotes{
			Transport: "libp2p",
		},
	}
}

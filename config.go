package dtls

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// FileConfig is the on-disk shape for the demo server's configuration
// (cmd/dtls-server), grounded on caddy's go.mod pulling in
// github.com/BurntSushi/toml as its config-file decoder of choice.
type FileConfig struct {
	Listen string `toml:"listen"`

	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`

	CipherSuites []string `toml:"cipher_suites"`

	VerifyRequests   bool `toml:"verify_requests"`
	HandshakeTimeout string `toml:"handshake_timeout"`

	MetricsListen string `toml:"metrics_listen"`
}

// LoadConfig decodes a TOML file into a FileConfig, applying the same
// defaults the demo binary would otherwise hardcode.
func LoadConfig(path string) (*FileConfig, error) {
	cfg := &FileConfig{
		Listen:         "0.0.0.0:4433",
		VerifyRequests: true,
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("dtls.config: %w", err)
	}
	return cfg, nil
}

// HandshakeTimeoutDuration parses HandshakeTimeout, defaulting to zero
// (no deadline) on an empty or unparsable value.
func (c *FileConfig) HandshakeTimeoutDuration() time.Duration {
	if c.HandshakeTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.HandshakeTimeout)
	if err != nil {
		return 0
	}
	return d
}

// ResolveCipherSuites maps the configured suite names to CipherSuite
// values, skipping names it doesn't recognize rather than failing, so an
// operator typo in one entry doesn't take down the whole list.
func (c *FileConfig) ResolveCipherSuites() []CipherSuite {
	var out []CipherSuite
	for _, name := range c.CipherSuites {
		switch name {
		case "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256":
			out = append(out, TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256)
		case "TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256":
			out = append(out, TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256)
		case "TLS_RSA_WITH_AES_128_CBC_SHA":
			out = append(out, TLS_RSA_WITH_AES_128_CBC_SHA)
		}
	}
	if len(out) == 0 {
		out = []CipherSuite{TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256}
	}
	return out
}

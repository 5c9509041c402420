package types

// ProxyConfig is the outbound proxy policy shared by every provider call.
// When Enabled is false no proxy is applied, regardless of populated URLs.
type ProxyConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	HTTP    string `json:"http,omitempty" yaml:"http" env:"HTTP"`
	HTTPS   string `json:"https,omitempty" yaml:"https" env:"HTTPS"`
}

// Active reports whether the config asks for any proxying at all.
func (p ProxyConfig) Active() bool {
	return p.Enabled && (p.HTTP != "" || p.HTTPS != "")
}

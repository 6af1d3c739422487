package config

// StatsdConfig controls StatsD metrics emission. Disabled by default; when
// enabled the address must point at a UDP StatsD endpoint.
type StatsdConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"false"`
	Address string `env:"ADDRESS" envDefault:"localhost:8125"`
	Prefix  string `env:"PREFIX"  envDefault:"authd"`
}

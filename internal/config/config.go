package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds settings for both the relay server and the terminal
// client. Every flag can also be set through a PAIRLENS_ environment
// variable.
type Config struct {
	// Server
	Bind         string
	Port         int
	DBPath       string
	JoinBaseURL  string
	ReapInterval time.Duration

	// Client
	APIBaseURL  string
	Endpoint    string
	SessionFile string
}

func Default() *Config {
	return &Config{
		Bind:         "0.0.0.0",
		Port:         8080,
		DBPath:       "./data/pairlens.db",
		JoinBaseURL:  "http://localhost:8080",
		ReapInterval: 5 * time.Minute,
		APIBaseURL:   "http://localhost:8080",
		Endpoint:     "ws://localhost:8080/realtime",
		SessionFile:  "./data/active_room.json",
	}
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.ReapInterval < time.Second {
		return fmt.Errorf("reap interval too short: %v", c.ReapInterval)
	}
	return nil
}

// BindServerFlags registers relay flags on the given flag set.
func (c *Config) BindServerFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.Bind, "bind", "b", c.Bind, "address to bind to (env: PAIRLENS_BIND)")
	fs.IntVarP(&c.Port, "port", "p", c.Port, "port to listen on (env: PAIRLENS_PORT)")
	fs.StringVar(&c.DBPath, "db-path", c.DBPath, "path to the sqlite database (env: PAIRLENS_DB_PATH)")
	fs.StringVar(&c.JoinBaseURL, "join-base-url", c.JoinBaseURL, "public base URL for shareable join links (env: PAIRLENS_JOIN_BASE_URL)")
	fs.DurationVar(&c.ReapInterval, "reap-interval", c.ReapInterval, "how often expired rooms are swept (env: PAIRLENS_REAP_INTERVAL)")
}

// BindClientFlags registers terminal-client flags on the given flag set.
func (c *Config) BindClientFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.APIBaseURL, "api", c.APIBaseURL, "relay HTTP API base URL (env: PAIRLENS_API)")
	fs.StringVar(&c.Endpoint, "endpoint", c.Endpoint, "relay websocket endpoint (env: PAIRLENS_ENDPOINT)")
	fs.StringVar(&c.SessionFile, "session-file", c.SessionFile, "path to the local session identity file (env: PAIRLENS_SESSION_FILE)")
}

// ApplyEnv overlays PAIRLENS_ environment variables onto any flag the
// user did not set explicitly.
func ApplyEnv(fs *pflag.FlagSet) {
	v := viper.New()
	v.SetEnvPrefix("PAIRLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

// Package config parses the panel configuration from flags and environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/reedfamily/mcpanel/internal/logger"
)

// Version is set at build time with -ldflags "-X ...config.Version=v1.2.3".
var Version = "dev"

type Config struct {
	Server    Server        `group:"Server Options" env-namespace:"MCPANEL"`
	Auth      Auth          `group:"Auth Options" namespace:"auth" env-namespace:"MCPANEL_AUTH"`
	Storage   Storage       `group:"Storage Options" namespace:"db" env-namespace:"MCPANEL_DB"`
	RCON      RCON          `group:"RCON Options" namespace:"rcon" env-namespace:"MCPANEL_RCON"`
	Chat      Chat          `group:"Chat Options" namespace:"chat" env-namespace:"MCPANEL_CHAT"`
	Stats     Stats         `group:"Stats Options" namespace:"stats" env-namespace:"MCPANEL_STATS"`
	Docker    Docker        `group:"Docker Options" namespace:"docker" env-namespace:"MCPANEL_DOCKER"`
	AMQP      AMQP          `group:"AMQP Options" namespace:"amqp" env-namespace:"MCPANEL_AMQP"`
	Profile   Profile       `group:"Profile Lookup Options" namespace:"profile" env-namespace:"MCPANEL_PROFILE"`
	Bootstrap Bootstrap     `group:"Bootstrap Server Options" namespace:"bootstrap" env-namespace:"MCPANEL_BOOTSTRAP"`
	Logger    logger.Config `group:"Logger Options" namespace:"log" env-namespace:"MCPANEL_LOG"`

	Version bool `short:"v" long:"version" description:"Print version and build info"`
}

type Server struct {
	Address     string   `short:"l" long:"address" env:"LISTEN" description:"Server listen address" default:":8080"`
	DataDir     string   `long:"data-dir" env:"DATA_DIR" description:"Directory for the database and other state" default:"./data"`
	WebDir      string   `long:"web-dir" env:"WEB_DIR" description:"Directory with the built dashboard" default:"web/dist"`
	CORSOrigins []string `long:"cors-origin" env:"CORS_ORIGINS" env-delim:"," description:"Allowed CORS origins" default:"http://localhost:5173" default:"http://localhost:8080"`
	TrustProxy  bool     `long:"trust-proxy" env:"TRUST_PROXY" description:"Take client addresses from X-Forwarded-For / X-Real-IP"`
}

type Auth struct {
	DefaultUser  string `long:"default-user" env:"DEFAULT_USER" description:"Admin user created on first start" default:"admin"`
	DefaultPass  string `long:"default-pass" env:"DEFAULT_PASS" description:"Password of the first admin user" default:"admin"`
	WebhookToken string `long:"webhook-token" env:"WEBHOOK_TOKEN" description:"Shared secret for the chat webhook (X-Webhook-Token); empty disables the check"`
	LoginRate    int    `long:"login-rate" env:"LOGIN_RATE" description:"Login attempts per minute per client address" default:"10"`
}

type Storage struct {
	Path string `short:"d" long:"path" env:"PATH" description:"Path to the SQLite database (default <data-dir>/mcpanel.db)"`
}

type RCON struct {
	DialTimeout  time.Duration `long:"dial-timeout" env:"DIAL_TIMEOUT" description:"Connect and login timeout" default:"5s"`
	Timeout      time.Duration `long:"timeout" env:"TIMEOUT" description:"Command round-trip timeout" default:"10s"`
	IdleTimeout  time.Duration `long:"idle-timeout" env:"IDLE_TIMEOUT" description:"Close sessions unused for this long; stats polling counts as use" default:"10m"`
	ReapInterval time.Duration `long:"reap-interval" env:"REAP_INTERVAL" description:"How often idle sessions are swept" default:"5m"`
	MaxRetries   int           `long:"max-retries" env:"MAX_RETRIES" description:"Reconnect attempts after a reused session fails" default:"1"`
}

type Chat struct {
	History     int `long:"history" env:"HISTORY" description:"Messages kept per server" default:"100"`
	WebhookRate int `long:"webhook-rate" env:"WEBHOOK_RATE" description:"Webhook requests per minute per client address" default:"30"`
}

type Stats struct {
	Disabled    bool          `long:"disable" env:"DISABLE" description:"Do not poll servers for stats"`
	Interval    time.Duration `long:"interval" env:"INTERVAL" description:"Poll interval" default:"30s"`
	Retention   time.Duration `long:"retention" env:"RETENTION" description:"How long samples are kept" default:"24h"`
	Concurrency int           `long:"concurrency" env:"CONCURRENCY" description:"Servers polled at once" default:"4"`
}

type Docker struct {
	Enabled bool   `long:"enable" env:"ENABLE" description:"Control server containers through the Docker engine (DOCKER_HOST etc.)"`
	Host    string `long:"host" env:"HOST" description:"Address used for ports published on all interfaces" default:"127.0.0.1"`
	LogChat bool   `long:"log-chat" env:"LOG_CHAT" description:"Relay chat parsed from container logs"`
}

type AMQP struct {
	URL      string `long:"url" env:"URL" description:"Publish chat messages to this broker (amqp://...)"`
	Exchange string `long:"exchange" env:"EXCHANGE" description:"Topic exchange for chat messages" default:"mcpanel.chat"`
}

type Profile struct {
	SessionURL string `long:"session-url" env:"SESSION_URL" description:"Profile-by-id service" default:"https://sessionserver.mojang.com"`
	APIURL     string `long:"api-url" env:"API_URL" description:"Profile-by-name service" default:"https://api.mojang.com"`
}

// Bootstrap describes a server added when the directory is empty. Each field
// also falls back to the unprefixed variable (RCON_HOST, RCON_PORT, ...).
type Bootstrap struct {
	Name         string `long:"name" env:"NAME" description:"Server name"`
	Host         string `long:"rcon-host" env:"RCON_HOST" description:"RCON host; empty disables bootstrapping"`
	RconPort     int    `long:"rcon-port" env:"RCON_PORT" description:"RCON port"`
	RconPassword string `long:"rcon-password" env:"RCON_PASSWORD" description:"RCON password"`
	GamePort     int    `long:"game-port" env:"GAME_PORT" description:"Game port"`
}

// Parse reads the configuration from os.Args and the environment. It exits
// on --help, --version and invalid input.
func Parse() *Config {
	cfg, err := load(os.Args[1:], flags.Default)
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
	if cfg.Version {
		PrintVersion()
		os.Exit(0)
	}
	return cfg
}

func load(args []string, options flags.Options) (*Config, error) {
	var cfg Config
	parser := flags.NewParser(&cfg, options)
	parser.NamespaceDelimiter = "-"
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	if cfg.Version {
		return &cfg, nil
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finalize() error {
	dir, err := filepath.Abs(c.Server.DataDir)
	if err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	c.Server.DataDir = dir
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(dir, "mcpanel.db")
	}

	if c.RCON.MaxRetries < 0 {
		return fmt.Errorf("rcon max retries must not be negative")
	}
	if c.Chat.History <= 0 {
		return fmt.Errorf("chat history must be positive")
	}

	b := &c.Bootstrap
	b.Host = orEnv(b.Host, "RCON_HOST")
	b.Name = orEnv(b.Name, "SERVER_NAME")
	b.RconPassword = orEnv(b.RconPassword, "RCON_PASSWORD")
	b.RconPort = orEnvInt(b.RconPort, "RCON_PORT", 25575)
	b.GamePort = orEnvInt(b.GamePort, "SERVER_PORT", 25565)
	if b.Name == "" {
		b.Name = "Default Server"
	}
	return nil
}

func orEnv(v, key string) string {
	if v != "" {
		return v
	}
	return os.Getenv(key)
}

func orEnvInt(v int, key string, def int) int {
	if v > 0 {
		return v
	}
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return def
}

// PrintVersion writes build information to stdout.
func PrintVersion() {
	commit, built := "unknown", "unknown"
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				commit = s.Value
			case "vcs.time":
				built = s.Value
			}
		}
	}
	fmt.Printf("name:    mcpanel\nversion: %s\ncommit:  %s\nbuilt:   %s\nfile:    %s\n", Version, commit, built, os.Args[0])
}

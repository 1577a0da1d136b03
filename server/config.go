package server

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// Config is the single mutex-guarded record SITE USER/PASS/PORT/DEFLATE/
// HOST/MTIME read and write, and SITE SAVE persists to the flat
// key=value FTPDCONFIG file. Every access takes the lock, matching the
// spec's "Config is a mutex-guarded record; every read or write takes
// its lock" shared-resource rule.
type Config struct {
	mu sync.Mutex

	User         string `mapstructure:"user"`
	PassHash     string `mapstructure:"pass_hash"`
	Port         int    `mapstructure:"port" validate:"min=1,max=65535"`
	DeflateLevel int    `mapstructure:"deflate_level" validate:"min=0,max=9"`
	Host         string `mapstructure:"host"`
	MTimeEnabled bool   `mapstructure:"mtime_enabled"`

	path string
}

var configValidate = validator.New()

// NewConfig returns a Config with spec-matching defaults: no configured
// user (so FSDriver's anonymous fallback applies), deflate level 6, MTIME
// reporting on.
func NewConfig() *Config {
	return &Config{
		User:         "",
		Port:         21,
		DeflateLevel: 6,
		MTimeEnabled: true,
	}
}

// LoadConfig reads path (the FTPDCONFIG file) as flat key=value text via
// viper's dotenv support, falling back to NewConfig's defaults when the
// file does not exist yet.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")

	cfg := NewConfig()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("ftpd: read config %s: %w", path, err)
		}
		cfg.path = path
		return cfg, nil
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("ftpd: unmarshal config %s: %w", path, err)
	}
	cfg.path = path

	if err := configValidate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("ftpd: validate config %s: %w", path, err)
	}
	return cfg, nil
}

// SetPassword hashes pass with bcrypt before storing it, so SAVE never
// writes plaintext to FTPDCONFIG.
func (c *Config) SetPassword(pass string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("ftpd: hash password: %w", err)
	}
	c.mu.Lock()
	c.PassHash = string(hash)
	c.mu.Unlock()
	return nil
}

// CheckPassword reports whether pass matches the stored hash.
func (c *Config) CheckPassword(pass string) bool {
	c.mu.Lock()
	hash := c.PassHash
	c.mu.Unlock()
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)) == nil
}

// PasswordSet reports whether a password hash has been configured. An
// unset password satisfies §3's "configured_pass==''" half of the PASS
// invariant: any password is then accepted.
func (c *Config) PasswordSet() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.PassHash != ""
}

func (c *Config) SetUser(user string) {
	c.mu.Lock()
	c.User = user
	c.mu.Unlock()
}

func (c *Config) GetUser() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.User
}

func (c *Config) SetPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("ftpd: port %d out of range", port)
	}
	c.mu.Lock()
	c.Port = port
	c.mu.Unlock()
	return nil
}

func (c *Config) SetDeflateLevel(level int) error {
	if level < 0 || level > 9 {
		return fmt.Errorf("ftpd: deflate level %d out of range [0,9]", level)
	}
	c.mu.Lock()
	c.DeflateLevel = level
	c.mu.Unlock()
	return nil
}

func (c *Config) SetHost(host string) {
	c.mu.Lock()
	c.Host = host
	c.mu.Unlock()
}

func (c *Config) SetMTimeEnabled(enabled bool) {
	c.mu.Lock()
	c.MTimeEnabled = enabled
	c.mu.Unlock()
}

// Save re-marshals the config through viper under the lock, in the same
// flat key=value layout LoadConfig reads.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		return fmt.Errorf("ftpd: config has no backing file")
	}

	v := viper.New()
	v.SetConfigType("env")
	v.Set("user", c.User)
	v.Set("pass_hash", c.PassHash)
	v.Set("port", c.Port)
	v.Set("deflate_level", c.DeflateLevel)
	v.Set("host", c.Host)
	v.Set("mtime_enabled", c.MTimeEnabled)

	if err := v.WriteConfigAs(c.path); err != nil {
		return fmt.Errorf("ftpd: save config %s: %w", c.path, err)
	}
	return nil
}

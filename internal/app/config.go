package app

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"microratchet/internal/crypto"
	"microratchet/internal/domain"
	"microratchet/internal/services/session"
	"microratchet/internal/util/logger"
)

// Storage backends.
const (
	BackendMemory  = "memory"
	BackendFile    = "file"
	BackendLevelDB = "leveldb"
)

// Config is the TOML configuration of one endpoint. Paths are resolved
// relative to the directory of the config file.
type Config struct {
	// ApplicationKey is the hex pre-shared key.
	ApplicationKey string `toml:"application_key"`
	// SigningKey is the hex Ed25519 seed. Ignored when IdentityFile is set.
	SigningKey string `toml:"signing_key,omitempty"`
	// IdentityFile holds the seed sealed with the storage passphrase.
	IdentityFile string `toml:"identity_file,omitempty"`
	// RemotePublicKey pins the server key on a client.
	RemotePublicKey string `toml:"remote_public_key,omitempty"`

	IsClient           bool `toml:"is_client"`
	MaximumMessageSize int  `toml:"maximum_message_size,omitempty"`
	MinimumMessageSize int  `toml:"minimum_message_size,omitempty"`
	RatchetsToKeep     int  `toml:"ratchets_to_keep,omitempty"`

	Storage StorageConfig `toml:"storage"`
	Logger  logger.Config `toml:"logger"`

	dir string
}

// StorageConfig selects where the session state lives.
type StorageConfig struct {
	Backend    string `toml:"backend"`
	Path       string `toml:"path,omitempty"`
	Passphrase string `toml:"passphrase,omitempty"`
	// Name is the session key inside a LevelDB database.
	Name string `toml:"name,omitempty"`
}

// Load decodes the config file at path.
func Load(path string) (*Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("load config %s: unknown keys %v", path, undecoded)
	}
	cfg.dir = filepath.Dir(path)
	return &cfg, nil
}

// Save encodes cfg to path with owner-only permissions.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// ResolvePath joins a relative p onto the config directory.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.dir == "" {
		return p
	}
	return filepath.Join(c.dir, p)
}

// SessionConfig converts the file settings into a session.Config.
func (c *Config) SessionConfig() (session.Config, error) {
	appKey, err := crypto.ParseKeyHex(c.ApplicationKey, domain.KeySize)
	if err != nil {
		return session.Config{}, fmt.Errorf("application_key: %w", err)
	}
	sc := session.Config{
		ApplicationKey:         appKey,
		MaximumMessageSize:     c.MaximumMessageSize,
		MinimumMessageSize:     c.MinimumMessageSize,
		NumberOfRatchetsToKeep: c.RatchetsToKeep,
		IsClient:               c.IsClient,
	}
	if c.RemotePublicKey != "" {
		if sc.RemotePublicKey, err = crypto.ParseKeyHex(c.RemotePublicKey, domain.KeySize); err != nil {
			return session.Config{}, fmt.Errorf("remote_public_key: %w", err)
		}
	}
	sc = sc.WithDefaults()
	return sc, sc.Validate()
}

// NewPair returns matching server and client configs sharing a fresh
// application key. Each gets its own signing key and the client pins the
// server's public key. Both use the given storage backend with state files
// named after the role.
func NewPair(backend string) (server, client *Config, err error) {
	appKey := make([]byte, domain.KeySize)
	if _, err := rand.Read(appKey); err != nil {
		return nil, nil, err
	}
	serverSigner, serverSeed, err := crypto.GenerateEd25519()
	if err != nil {
		return nil, nil, err
	}
	_, clientSeed, err := crypto.GenerateEd25519()
	if err != nil {
		return nil, nil, err
	}
	newConfig := func(isClient bool, seed []byte) *Config {
		name := domain.RoleFor(isClient).String()
		return &Config{
			ApplicationKey:     crypto.Hex(appKey),
			SigningKey:         crypto.Hex(seed),
			IsClient:           isClient,
			MaximumMessageSize: session.DefaultMaximumMessageSize,
			MinimumMessageSize: session.DefaultMinimumMessageSize,
			RatchetsToKeep:     session.DefaultRatchetsToKeep,
			Storage:            defaultStorage(backend, name),
			Logger:             logger.Config{Environment: "production"},
		}
	}
	server = newConfig(false, serverSeed)
	client = newConfig(true, clientSeed)
	client.RemotePublicKey = crypto.Hex(serverSigner.PublicKey())
	return server, client, nil
}

func defaultStorage(backend, name string) StorageConfig {
	switch backend {
	case BackendFile:
		return StorageConfig{Backend: backend, Path: name + ".state"}
	case BackendLevelDB:
		return StorageConfig{Backend: backend, Path: name + ".db", Name: name}
	default:
		return StorageConfig{Backend: BackendMemory}
	}
}

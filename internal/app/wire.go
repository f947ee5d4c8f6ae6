package app

import (
	"crypto/rand"
	"errors"
	"fmt"

	"microratchet/internal/crypto"
	"microratchet/internal/domain"
	"microratchet/internal/services/identity"
	"microratchet/internal/services/message"
	"microratchet/internal/services/session"
	"microratchet/internal/store"
	"microratchet/internal/util/logger"
)

// Wire bundles the storage, services and logger of one endpoint.
type Wire struct {
	Log      *logger.Logger
	Storage  domain.Storage
	Session  *session.Session
	Messages *message.Service

	closers []func() error
}

// NewWire constructs the dependency graph from cfg.
func NewWire(cfg *Config) (*Wire, error) {
	lc := cfg.Logger
	lc.Path = cfg.ResolvePath(lc.Path)
	log, err := logger.New(lc)
	if err != nil {
		return nil, err
	}
	w := &Wire{Log: log}

	sc, err := cfg.SessionConfig()
	if err != nil {
		return nil, err
	}
	signer, err := w.signer(cfg)
	if err != nil {
		return nil, err
	}
	if w.Storage, err = w.storage(cfg); err != nil {
		return nil, err
	}

	w.Session, err = session.New(sc, crypto.NewServices(signer), w.Storage, log)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	w.Messages = message.New(w.Session, rand.Reader)
	log.Info("endpoint ready",
		"role", domain.RoleFor(sc.IsClient),
		"backend", cfg.Storage.Backend,
		"fingerprint", w.Fingerprint(),
		"established", w.Session.IsInitialized(),
	)
	return w, nil
}

// Identity returns the identity service backed by the configured identity
// file. The seed is sealed with argon2id.
func Identity(cfg *Config) (*identity.Service, error) {
	if cfg.IdentityFile == "" {
		return nil, errors.New("identity_file is not configured")
	}
	path := cfg.ResolvePath(cfg.IdentityFile)
	return identity.New(func(passphrase string) domain.Storage {
		return store.NewFile(path, passphrase).WithArgon2Params(store.DefaultArgon2Params)
	}), nil
}

func (w *Wire) signer(cfg *Config) (domain.Signer, error) {
	if cfg.IdentityFile != "" {
		ids, err := Identity(cfg)
		if err != nil {
			return nil, err
		}
		return ids.LoadIdentity(cfg.Storage.Passphrase)
	}
	seed, err := crypto.ParseKeyHex(cfg.SigningKey, domain.KeySize)
	if err != nil {
		return nil, fmt.Errorf("signing_key: %w", err)
	}
	return crypto.NewEd25519Signer(seed)
}

func (w *Wire) storage(cfg *Config) (domain.Storage, error) {
	sc := cfg.Storage
	switch sc.Backend {
	case "", BackendMemory:
		return store.NewMemory(), nil
	case BackendFile:
		if sc.Path == "" {
			return nil, errors.New("storage.path is required for the file backend")
		}
		return store.NewFile(cfg.ResolvePath(sc.Path), sc.Passphrase), nil
	case BackendLevelDB:
		if sc.Path == "" {
			return nil, errors.New("storage.path is required for the leveldb backend")
		}
		db, err := store.OpenLevelDB(cfg.ResolvePath(sc.Path))
		if err != nil {
			return nil, err
		}
		w.closers = append(w.closers, db.Close)
		name := sc.Name
		if name == "" {
			name = "default"
		}
		return db.Session(name), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
}

// Fingerprint returns the short fingerprint of the endpoint's signing key.
func (w *Wire) Fingerprint() string { return crypto.Fingerprint(w.Session.PublicKey()) }

// Close wipes the session and releases the storage backend.
func (w *Wire) Close() error {
	if w.Session != nil {
		w.Session.Close()
	}
	var errs []error
	for _, c := range w.closers {
		errs = append(errs, c())
	}
	w.closers = nil
	_ = w.Log.Sync()
	return errors.Join(errs...)
}

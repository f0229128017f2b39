// Package config loads signkit's YAML configuration file.
//
// Example:
//
//	keystore_dir: /home/dev/.signkit/keys
//	peer: /ip4/192.168.1.20/tcp/7777
//	kdf:
//	  log_n: 0 # 0 calibrates on this machine
//	daemon:
//	  listen: /ip4/0.0.0.0/tcp/7777
//	  store_dir: /var/lib/signkit
//	  mirror_dirs: [/mnt/backup/signkit]
//	  trusted_keys: [110c3ff292fb8ebf0084a9fc1e8c06418ab1c2cbd1058d87e78aa0fcdcbf5791]
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"pangea.dev/signkit/kdf"
	"pangea.dev/signkit/storage"
	"pangea.dev/signkit/storage/localfs"
)

const (
	EnvKeystoreDir = "SIGNKIT_KEYSTORE_DIR"
	EnvPeer        = "SIGNKIT_PEER"
)

type Config struct {
	KeystoreDir string `yaml:"keystore_dir"`
	// CalibrationCache is where the calibrated scrypt cost is remembered.
	// Empty disables the cache file.
	CalibrationCache string    `yaml:"calibration_cache"`
	Peer             string    `yaml:"peer"`
	KDF              KDFConfig `yaml:"kdf"`
	Daemon           Daemon    `yaml:"daemon"`
	Log              Log       `yaml:"log"`
}

type KDFConfig struct {
	// LogN fixes the scrypt cost exponent; 0 calibrates.
	LogN int `yaml:"log_n"`
	R    int `yaml:"r"`
	P    int `yaml:"p"`
}

type Daemon struct {
	Listen      string   `yaml:"listen"`
	StoreDir    string   `yaml:"store_dir"`
	MirrorDirs  []string `yaml:"mirror_dirs"`
	MetricsAddr string   `yaml:"metrics_addr"`
	TrustedKeys []string `yaml:"trusted_keys"`
	// Rate is Push streams per second; 0 disables limiting.
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Home returns ~/.signkit.
func Home() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".signkit"), nil
}

// DefaultPath is ~/.signkit/config.yaml.
func DefaultPath() (string, error) {
	dir, err := Home()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Default returns the configuration used when no file exists.
func Default() Config {
	dir, err := Home()
	if err != nil {
		dir = ".signkit"
	}
	return Config{
		KeystoreDir:      filepath.Join(dir, "keys"),
		CalibrationCache: filepath.Join(dir, "calibration.json"),
		KDF:              KDFConfig{R: kdf.DefaultR, P: kdf.DefaultP},
		Daemon: Daemon{
			Listen:   "/ip4/127.0.0.1/tcp/7777",
			StoreDir: filepath.Join(dir, "peer"),
			Rate:     10,
			Burst:    20,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads the file at path over Default. A missing file yields the
// defaults; an empty path means DefaultPath. Environment overrides apply last.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return cfg, err
		}
		path = p
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := decode(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvKeystoreDir); v != "" {
		cfg.KeystoreDir = v
	}
	if v := os.Getenv(EnvPeer); v != "" {
		cfg.Peer = v
	}
}

func (c Config) Validate() error {
	if c.KDF.LogN < 0 || c.KDF.LogN > kdf.MaxLogN {
		return fmt.Errorf("config: kdf.log_n must be 0 (calibrate) or 1-%d, got %d", kdf.MaxLogN, c.KDF.LogN)
	}
	if c.KDF.R < 0 || c.KDF.P < 0 {
		return errors.New("config: kdf.r and kdf.p must not be negative")
	}
	if c.Daemon.Rate < 0 || c.Daemon.Burst < 0 {
		return errors.New("config: daemon.rate and daemon.burst must not be negative")
	}
	seen := map[string]struct{}{c.Daemon.StoreDir: {}}
	for _, d := range c.Daemon.MirrorDirs {
		if d == "" {
			return errors.New("config: daemon.mirror_dirs entries must not be empty")
		}
		if _, ok := seen[d]; ok {
			return fmt.Errorf("config: duplicate store directory %q", d)
		}
		seen[d] = struct{}{}
	}
	return nil
}

// CostSource returns the fixed cost when kdf.log_n is set, otherwise a
// calibrator backed by the calibration cache file.
func (c Config) CostSource() kdf.CostSource {
	if c.KDF.LogN > 0 {
		return kdf.FixedCost(c.KDF.LogN)
	}
	if c.CalibrationCache == "" {
		return kdf.NewCalibrator(nil)
	}
	return kdf.NewCalibrator(kdf.FileCostStore{Path: c.CalibrationCache})
}

// OpenStore opens the daemon's artifact store. With mirror directories every
// accepted artifact is written to all of them and reads fall back in order.
func (c Config) OpenStore() (storage.CAS, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	primary, err := localfs.New(c.Daemon.StoreDir)
	if err != nil {
		return nil, err
	}
	if len(c.Daemon.MirrorDirs) == 0 {
		return primary, nil
	}
	backends := []storage.Backend{{Name: c.Daemon.StoreDir, CAS: primary}}
	for _, dir := range c.Daemon.MirrorDirs {
		m, err := localfs.New(dir)
		if err != nil {
			return nil, err
		}
		backends = append(backends, storage.Backend{Name: dir, CAS: m})
	}
	return storage.Replicated{Backends: backends}, nil
}

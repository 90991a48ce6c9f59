package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	EnvPrivateKey           = "BSCTRADE_PRIVATE_KEY"
	EnvPrivateKeyFile       = "BSCTRADE_PRIVATE_KEY_FILE"
	EnvKeystorePath         = "BSCTRADE_KEYSTORE_PATH"
	EnvKeystorePassword     = "BSCTRADE_KEYSTORE_PASSWORD"
	EnvKeystorePasswordFile = "BSCTRADE_KEYSTORE_PASSWORD_FILE"

	KeySourceAuto     = "auto"
	KeySourceEnv      = "env"
	KeySourceFile     = "file"
	KeySourceKeystore = "keystore"

	defaultPrivateKeyRelativePath = "bsctrade/key.hex"
	defaultPrivateKeyHintPath     = "~/.config/bsctrade/key.hex"
)

type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	source     string
}

func (s *LocalSigner) Address() common.Address {
	return s.address
}

func (s *LocalSigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if s == nil || s.privateKey == nil {
		return nil, errors.New("local signer is not initialized")
	}
	signer := types.LatestSignerForChainID(chainID)
	return types.SignTx(tx, signer, s.privateKey)
}

func (s *LocalSigner) SignMessage(msg []byte) ([]byte, error) {
	if s == nil || s.privateKey == nil {
		return nil, errors.New("local signer is not initialized")
	}
	sig, err := crypto.Sign(accounts.TextHash(msg), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}
	// personal_sign convention: recovery id as 27/28
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func (s *LocalSigner) Status() Status {
	if s == nil || s.privateKey == nil {
		return Status{Locked: true}
	}
	return Status{Address: s.address, Source: s.source}
}

// NewLocalSignerFromEnv loads the signing key from the BSCTRADE_* variables
// or the default key file, restricted to source.
func NewLocalSignerFromEnv(source string) (*LocalSigner, error) {
	return NewLocalSignerFromInputs(source, "")
}

// NewLocalSignerFromInputs is NewLocalSignerFromEnv with an explicit hex key
// that, when set, wins over every other source.
func NewLocalSignerFromInputs(source, privateKeyOverride string) (*LocalSigner, error) {
	if key := strings.TrimSpace(privateKeyOverride); key != "" {
		return NewLocalSigner(LocalSignerConfig{PrivateKeyHex: key})
	}
	cfg, err := configFromEnv().restrict(source)
	if err != nil {
		return nil, err
	}
	return NewLocalSigner(cfg)
}

type LocalSignerConfig struct {
	PrivateKeyHex        string
	PrivateKeyFile       string
	KeystorePath         string
	KeystorePassword     string
	KeystorePasswordFile string
}

func configFromEnv() LocalSignerConfig {
	env := func(k string) string { return strings.TrimSpace(os.Getenv(k)) }
	cfg := LocalSignerConfig{
		PrivateKeyHex:        env(EnvPrivateKey),
		PrivateKeyFile:       env(EnvPrivateKeyFile),
		KeystorePath:         env(EnvKeystorePath),
		KeystorePassword:     env(EnvKeystorePassword),
		KeystorePasswordFile: env(EnvKeystorePasswordFile),
	}
	if cfg.PrivateKeyFile == "" {
		cfg.PrivateKeyFile = discoverDefaultPrivateKeyFile()
	}
	return cfg
}

// restrict keeps only the inputs belonging to source; auto keeps all and
// loadPrivateKey applies env, file, keystore precedence.
func (c LocalSignerConfig) restrict(source string) (LocalSignerConfig, error) {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "", KeySourceAuto:
		return c, nil
	case KeySourceEnv:
		return LocalSignerConfig{PrivateKeyHex: c.PrivateKeyHex}, nil
	case KeySourceFile:
		return LocalSignerConfig{PrivateKeyFile: c.PrivateKeyFile}, nil
	case KeySourceKeystore:
		c.PrivateKeyHex, c.PrivateKeyFile = "", ""
		return c, nil
	default:
		return LocalSignerConfig{}, fmt.Errorf("unsupported key source %q (expected %s|%s|%s|%s)", source, KeySourceAuto, KeySourceEnv, KeySourceFile, KeySourceKeystore)
	}
}

func NewLocalSigner(cfg LocalSignerConfig) (*LocalSigner, error) {
	pk, source, err := loadPrivateKey(cfg)
	if err != nil {
		return nil, err
	}
	return &LocalSigner{privateKey: pk, address: crypto.PubkeyToAddress(pk.PublicKey), source: source}, nil
}

func loadPrivateKey(cfg LocalSignerConfig) (*ecdsa.PrivateKey, string, error) {
	switch {
	case strings.TrimSpace(cfg.PrivateKeyHex) != "":
		pk, err := parseHexKey(cfg.PrivateKeyHex)
		return pk, KeySourceEnv, err
	case strings.TrimSpace(cfg.PrivateKeyFile) != "":
		buf, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, "", fmt.Errorf("read private key file: %w", err)
		}
		pk, err := parseHexKey(string(buf))
		return pk, KeySourceFile, err
	case strings.TrimSpace(cfg.KeystorePath) != "":
		pk, err := decryptKeystore(cfg)
		return pk, KeySourceKeystore, err
	}
	return nil, "", fmt.Errorf("missing signing key: write a hex key to %s or set %s / %s / %s", defaultPrivateKeyHintPath, EnvPrivateKey, EnvPrivateKeyFile, EnvKeystorePath)
}

func decryptKeystore(cfg LocalSignerConfig) (*ecdsa.PrivateKey, error) {
	password := strings.TrimSpace(cfg.KeystorePassword)
	if password == "" && strings.TrimSpace(cfg.KeystorePasswordFile) != "" {
		buf, err := os.ReadFile(cfg.KeystorePasswordFile)
		if err != nil {
			return nil, fmt.Errorf("read keystore password file: %w", err)
		}
		password = strings.TrimSpace(string(buf))
	}
	if password == "" {
		return nil, errors.New("keystore password is required")
	}
	buf, err := os.ReadFile(cfg.KeystorePath)
	if err != nil {
		return nil, fmt.Errorf("read keystore file: %w", err)
	}
	key, err := keystore.DecryptKey(buf, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore: %w", err)
	}
	return key.PrivateKey, nil
}

func parseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "0x")
	if clean == "" {
		return nil, fmt.Errorf("empty private key")
	}
	pk, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return pk, nil
}

func defaultPrivateKeyPath() string {
	base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, defaultPrivateKeyRelativePath)
}

func discoverDefaultPrivateKeyFile() string {
	path := defaultPrivateKeyPath()
	if path == "" {
		return ""
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	return path
}

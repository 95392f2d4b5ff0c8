package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// CoreConfig configures a single CoreHandle instance: which relays to
// connect to, where its storage lives, an optional SOCKS5 proxy URL,
// and where its passphrase comes from. SocksProxyURL is loaded but is
// not passed to the relay connections: engine.New creates them without
// a proxy.
type CoreConfig struct {
	NostrRelays   []string `env:"NOSTR_RELAYS" envSeparator:";"`
	StorageDir    string   `env:"STORAGE_DIR" envDefault:"./data"`
	SocksProxyURL string   `env:"SOCKS_PROXY_URL"`

	// KeystorePassphrase unlocks the internal signer's encrypted secret
	// key. Prefer KeystorePassphraseFile in production so the secret
	// doesn't linger in the process environment.
	KeystorePassphrase     string `env:"KEYSTORE_PASSPHRASE"`
	KeystorePassphraseFile string `env:"KEYSTORE_PASSPHRASE_FILE"`

	// ExternalSignerName, if set, selects a signer.External provider
	// registered under this name instead of the internal keystore.
	ExternalSignerName string `env:"EXTERNAL_SIGNER_NAME"`

	TickInterval string `env:"TICK_INTERVAL" envDefault:"1s"`
}

// DefaultRelays is used when NOSTR_RELAYS is unset.
var DefaultRelays = []string{
	"wss://relay.damus.io",
	"wss://nos.lol",
	"wss://relay.nostr.band",
}

// load the and marshal Configuration from .env file from the UserHomeDir
// if this file was not found, fallback to the os environment variables
func LoadConfig[T any]() (*T, error) {
	// load current users home directory as a string
	homeDir, err := os.UserHomeDir()
	if err != nil {
		slog.Error("error loading home directory", err)
	}
	// check if .env file exist in the home directory
	// if it does, load the configuration from it
	// else fallback to the os environment variables
	if _, err := os.Stat(homeDir + "/.env"); err == nil {
		// load configuration from .env file
		return loadFromEnv[T](homeDir + "/.env")
	} else if _, err := os.Stat(".env"); err == nil {
		// load configuration from .env file in current directory
		return loadFromEnv[T]("")
	} else {
		// load configuration from os environment variables
		return loadFromEnv[T]("")
	}
}

// loadFromEnv loads the configuration from the specified .env file path,
// or from .env in the current directory if the path is empty; a missing
// file is not an error. It then parses the environment into T. Errors
// are printed, not returned: the returned error is always nil.
func loadFromEnv[T any](path string) (*T, error) {
	// load configuration from .env file
	var err error
	if path != "" {
		err = godotenv.Load(path)
	} else {
		err = godotenv.Load()
	}
	if err != nil {
		cfg, err := env.ParseAs[T]()
		if err != nil {
			fmt.Printf("%+v\n", err)
		}
		return &cfg, nil
	}

	// or you can use generics
	cfg, err := env.ParseAs[T]()
	if err != nil {
		fmt.Printf("%+v\n", err)
	}
	return &cfg, nil
}

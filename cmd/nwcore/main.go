package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nostrwire/core/config"
	"github.com/nostrwire/core/engine"
	"github.com/nostrwire/core/signer"
	"github.com/nostrwire/core/storage"
)

const usagePassphrase = "override KEYSTORE_PASSPHRASE for this run"

func main() {
	rootCmd := &cobra.Command{Use: "nwcore"}
	runCmd := &cobra.Command{Use: "run", Run: runCore}
	var passphraseFlag string
	runCmd.Flags().StringVarP(&passphraseFlag, "passphrase", "p", "", usagePassphrase)
	rootCmd.AddCommand(runCmd)
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}

func runCore(cmd *cobra.Command, _ []string) {
	slog.Info("starting nwcore")

	cfg, err := config.LoadConfig[config.CoreConfig]()
	if err != nil {
		panic(err)
	}
	if len(cfg.NostrRelays) == 0 {
		slog.Info("no relays configured, using default relays")
		cfg.NostrRelays = config.DefaultRelays
	}

	store, err := storage.OpenBadger(cfg.StorageDir)
	if err != nil {
		panic(err)
	}
	defer store.Close()

	passphrase, _ := cmd.Flags().GetString("passphrase")
	if passphrase == "" {
		passphrase = resolvePassphrase(cfg)
	}

	sign, err := loadOrCreateSigner(cfg, store, passphrase)
	if err != nil {
		panic(err)
	}

	core := engine.New(cfg.NostrRelays, store, slog.Default())
	core.SetSigner(sign)
	if err := core.LoadPendingOutbox(); err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core.ConnectAll(ctx)

	interval, err := time.ParseDuration(cfg.TickInterval)
	if err != nil {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("shutting down nwcore")
			return
		case <-ticker.C:
			core.Tick(ctx)
		}
	}
}

func resolvePassphrase(cfg *config.CoreConfig) string {
	if cfg.KeystorePassphraseFile != "" {
		data, err := os.ReadFile(cfg.KeystorePassphraseFile)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
		slog.Warn("failed to read keystore passphrase file", "path", cfg.KeystorePassphraseFile, "error", err)
	}
	return cfg.KeystorePassphrase
}

func loadOrCreateSigner(cfg *config.CoreConfig, store storage.Store, passphrase string) (signer.Signer, error) {
	if cfg.ExternalSignerName != "" {
		return signer.NewExternal(cfg.ExternalSignerName)
	}
	if passphrase == "" {
		return nil, fmt.Errorf("no keystore passphrase configured and no external signer requested")
	}

	existing, err := signer.LoadInternal(passphrase, store)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	slog.Info("no keystore found, generating a new internal signer")
	fresh, err := signer.GenerateInternal()
	if err != nil {
		return nil, err
	}
	if err := fresh.SaveToStorage(passphrase, store); err != nil {
		return nil, err
	}
	return fresh, nil
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/btcsuite/btclog"
	"github.com/jessevdk/go-flags"

	"github.com/webwallet-labs/webwallet/channel"
	"github.com/webwallet-labs/webwallet/ledger"
	"github.com/webwallet-labs/webwallet/wallet"
	"github.com/webwallet-labs/webwallet/walletd"
)

type options struct {
	ListenAddr string `long:"listenaddr" description:"Address the wallet page channel listens on"`

	Settings string `long:"settings" description:"Path of the settings file"`

	Network string `long:"network" description:"Network entry point URL, overrides the persisted one"`

	Debug bool `long:"debug" description:"Enable debug logging"`
}

func defaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "settings.json"
	}

	return filepath.Join(home, ".webwallet", "settings.json")
}

func setupLoggers(debug bool) {
	backend := btclog.NewBackend(os.Stdout)

	level := btclog.LevelInfo
	if debug {
		level = btclog.LevelDebug
	}

	newLogger := func(tag string) btclog.Logger {
		logger := backend.Logger(tag)
		logger.SetLevel(level)
		return logger
	}

	ledger.UseLogger(newLogger("LDGR"))
	channel.UseLogger(newLogger("CHAN"))
	wallet.UseLogger(newLogger("WALT"))
	walletd.UseLogger(newLogger("WLTD"))
}

func run() error {
	opts := options{
		ListenAddr: walletd.DefaultListenAddr,
		Settings:   defaultSettingsPath(),
	}
	if _, err := flags.Parse(&opts); err != nil {
		if fe, ok := err.(*flags.Error); ok &&
			fe.Type == flags.ErrHelp {

			return nil
		}
		return err
	}

	setupLoggers(opts.Debug)

	if err := os.MkdirAll(filepath.Dir(opts.Settings), 0700); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	cfg := walletd.DefaultConfig(opts.Settings)
	cfg.ListenAddr = opts.ListenAddr
	cfg.Network = opts.Network

	daemon, err := walletd.New(cfg)
	if err != nil {
		return err
	}

	if err := daemon.Start(); err != nil {
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	select {
	case <-interrupt:
	case <-daemon.Done():
	}

	return daemon.Stop()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

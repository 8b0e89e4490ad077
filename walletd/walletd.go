package walletd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/webwallet-labs/webwallet/channel"
	"github.com/webwallet-labs/webwallet/keyring"
	"github.com/webwallet-labs/webwallet/ledger"
	"github.com/webwallet-labs/webwallet/settings"
	"github.com/webwallet-labs/webwallet/wallet"
)

const (
	// DefaultListenAddr is the default address the wallet page connects
	// to.
	DefaultListenAddr = "localhost:9900"

	// channelPath is the HTTP path the funding channel websocket is
	// served on.
	channelPath = "/channel"

	// shutdownTimeout bounds the HTTP server drain on Stop.
	shutdownTimeout = 5 * time.Second
)

// Config holds the complete daemon configuration.
type Config struct {
	// ListenAddr is the address the websocket channel listens on.
	ListenAddr string

	// SettingsPath is the path of the persisted settings file.
	SettingsPath string

	// Network overrides the persisted network entry point at startup.
	// Empty keeps whatever the settings file holds.
	Network string

	// NewLedger overrides the ledger connection factory, used in tests.
	// Nil means real HTTP clients against the configured entry point.
	NewLedger wallet.LedgerFactory
}

// DefaultConfig returns a default daemon configuration.
func DefaultConfig(settingsPath string) *Config {
	return &Config{
		ListenAddr:   DefaultListenAddr,
		SettingsPath: settingsPath,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address required")
	}
	if c.SettingsPath == "" {
		return fmt.Errorf("settings path required")
	}

	return nil
}

// Daemon ties the wallet together: the settings store, the session, the
// funding request channel and the websocket transport serving the wallet
// page.
type Daemon struct {
	cfg *Config

	store     *settings.FileStore
	transport *channel.WebsocketTransport
	channel   *channel.Channel
	session   *wallet.Session

	httpServer *http.Server
	listener   net.Listener

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new wallet daemon. The account keypair is generated on
// first run and persisted in the settings file.
func New(cfg *Config) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := settings.NewFileStore(cfg.SettingsPath)
	if err != nil {
		return nil, err
	}

	if cfg.Network != "" && cfg.Network != store.NetworkEntryPoint() {
		if err := store.SetNetworkEntryPoint(cfg.Network); err != nil {
			return nil, err
		}
	}

	// A custodial wallet always holds exactly one keypair.
	if store.AccountSecret() == nil {
		account, err := keyring.Generate()
		if err != nil {
			return nil, fmt.Errorf("failed to generate account: %w",
				err)
		}
		if err := store.SetAccountSecret(account.Seed()); err != nil {
			return nil, err
		}

		log.Infof("Generated new account %s", account.PublicKey())
	}

	d := &Daemon{
		cfg:       cfg,
		store:     store,
		transport: channel.NewWebsocketTransport(),
		done:      make(chan struct{}),
	}

	newLedger := cfg.NewLedger
	if newLedger == nil {
		newLedger = newLedgerClient
	}

	d.session, err = wallet.NewSession(&wallet.Config{
		Store:       store,
		NewLedger:   newLedger,
		CloseWindow: d.signalDone,
	})
	if err != nil {
		return nil, err
	}

	d.channel, err = channel.New(&channel.Config{
		Store:     store,
		Sink:      d.session,
		Transport: d.transport,
		OnRequest: d.session.HandleFundingRequest,
	})
	if err != nil {
		return nil, err
	}
	d.session.SetResponder(d.channel)

	mux := http.NewServeMux()
	mux.Handle(channelPath, d.transport)
	d.httpServer = &http.Server{
		Handler: mux,
	}

	return d, nil
}

// newLedgerClient builds and starts a real ledger client for an entry
// point.
func newLedgerClient(entryPoint string) (ledger.Ledger, error) {
	client, err := ledger.NewClient(ledger.DefaultConfig(entryPoint))
	if err != nil {
		return nil, err
	}
	if err := client.Start(); err != nil {
		return nil, err
	}

	return client, nil
}

// Start starts the daemon.
func (d *Daemon) Start() error {
	listener, err := net.Listen("tcp", d.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w",
			d.cfg.ListenAddr, err)
	}
	d.listener = listener

	if err := d.session.Start(); err != nil {
		return err
	}
	if err := d.channel.Start(); err != nil {
		return err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		err := d.httpServer.Serve(listener)
		if err != nil && err != http.ErrServerClosed {
			log.Errorf("Channel server exited: %v", err)
		}
	}()

	log.Infof("Wallet listening on %s%s", listener.Addr(), channelPath)

	return nil
}

// Stop stops the daemon.
func (d *Daemon) Stop() error {
	ctx, cancel := context.WithTimeout(
		context.Background(), shutdownTimeout,
	)
	defer cancel()

	if err := d.httpServer.Shutdown(ctx); err != nil {
		log.Errorf("Failed to drain channel server: %v", err)
	}

	if err := d.transport.Close(); err != nil {
		log.Debugf("Failed to close requester connection: %v", err)
	}

	if err := d.session.Stop(); err != nil {
		return err
	}

	d.wg.Wait()
	d.signalDone()

	return nil
}

// Addr returns the address the channel server is bound to, valid after
// Start.
func (d *Daemon) Addr() net.Addr {
	if d.listener == nil {
		return nil
	}

	return d.listener.Addr()
}

// Session returns the wallet session.
func (d *Daemon) Session() *wallet.Session {
	return d.session
}

// Done is closed when the daemon is finished, either because Stop was
// called or because a terminal send asked to close the wallet window.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

func (d *Daemon) signalDone() {
	d.doneOnce.Do(func() {
		close(d.done)
	})
}

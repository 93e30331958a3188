// Package client assembles finsync's services from configuration.
package client

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/TheMichaelB/finsync/internal/config"
	"github.com/TheMichaelB/finsync/internal/delivery"
	"github.com/TheMichaelB/finsync/internal/events"
	"github.com/TheMichaelB/finsync/internal/identity"
	"github.com/TheMichaelB/finsync/internal/models"
	"github.com/TheMichaelB/finsync/internal/netstate"
	"github.com/TheMichaelB/finsync/internal/services/export"
	"github.com/TheMichaelB/finsync/internal/services/status"
	"github.com/TheMichaelB/finsync/internal/store"
	"github.com/TheMichaelB/finsync/internal/transport"
)

// Client provides the high-level API for finsync operations.
type Client struct {
	Store    store.Client
	Identity identity.Source
	Network  *netstate.Watcher
	Status   *status.Monitor
	Export   *export.Pipeline

	config *config.Config
	logger *events.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// Deps are the externally constructed parts of a client. Network may be nil,
// in which case the transport is assumed to stay online.
type Deps struct {
	Store    store.Client
	Identity identity.Source
	Sink     delivery.Sink
	Network  *netstate.Watcher
}

// New creates a client from configuration.
func New(ctx context.Context, cfg *config.Config, logger *events.Logger) (*Client, error) {
	st, err := OpenStore(ctx, &cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	sink, err := OpenSink(ctx, &cfg.Export, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	src, err := OpenIdentity(&cfg.Identity, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	var watcher *netstate.Watcher
	if cfg.Store.Driver == config.DriverRemote {
		if addr := cfg.Monitor.ConnectivityAddr(cfg.Store); addr != "" {
			watcher = netstate.NewWatcher(addr, cfg.Monitor.ProbeInterval, cfg.Monitor.ProbeTimeout, logger)
		}
	}

	return NewWithDeps(cfg, Deps{
		Store:    st,
		Identity: src,
		Sink:     sink,
		Network:  watcher,
	}, logger), nil
}

// NewWithDeps creates a client around already constructed dependencies.
func NewWithDeps(cfg *config.Config, deps Deps, logger *events.Logger) *Client {
	monitor := status.NewMonitor(deps.Store, status.Config{
		ProbeCollection: cfg.Monitor.ProbeCollection,
		OwnerField:      cfg.Store.OwnerField,
		UpdateBuffer:    cfg.Monitor.UpdateBuffer,
	}, logger)

	pipeline := export.NewPipeline(deps.Store, deps.Sink, export.Config{
		OwnerField:     cfg.Store.OwnerField,
		FilenamePrefix: cfg.Export.FilenamePrefix,
		MaxConcurrent:  cfg.Export.MaxConcurrent,
	}, logger)

	return &Client{
		Store:    deps.Store,
		Identity: deps.Identity,
		Network:  deps.Network,
		Status:   monitor,
		Export:   pipeline,
		config:   cfg,
		logger:   logger.WithField("component", "client"),
	}
}

// OpenStore connects to the configured store driver.
func OpenStore(ctx context.Context, cfg *config.StoreConfig, logger *events.Logger) (store.Client, error) {
	switch cfg.Driver {
	case config.DriverRemote:
		return transport.NewRemoteClient(cfg, logger), nil
	case config.DriverSQLite:
		st, err := store.NewSQLiteStore(cfg.SQLitePath, cfg.OwnerField, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil
	case config.DriverDynamoDB:
		st, err := store.NewDynamoDBReader(ctx, cfg.DynamoTable, logger)
		if err != nil {
			return nil, fmt.Errorf("open dynamodb store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}

// OpenSink creates the configured export sink.
func OpenSink(ctx context.Context, cfg *config.ExportConfig, logger *events.Logger) (delivery.Sink, error) {
	switch cfg.Sink {
	case config.SinkFile:
		return delivery.NewFileSink(cfg.OutputDir, logger)
	case config.SinkS3:
		return delivery.NewS3Sink(ctx, cfg.S3Bucket, cfg.S3Prefix, logger)
	case config.SinkStdout:
		return delivery.NewWriterSink(os.Stdout, logger), nil
	default:
		return nil, fmt.Errorf("unknown export sink: %s", cfg.Sink)
	}
}

// OpenIdentity creates the identity source. A fixed user id takes precedence
// over the session file.
func OpenIdentity(cfg *config.IdentityConfig, logger *events.Logger) (identity.Source, error) {
	if cfg.UserID != "" {
		m := identity.NewManual()
		m.Set(cfg.UserID)
		return m, nil
	}
	if cfg.SessionFile != "" {
		return identity.NewFileSource(cfg.SessionFile, logger)
	}
	return identity.NewManual(), nil
}

// Start runs the status monitor and feeds it identity and network changes.
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		ctx, c.cancel = context.WithCancel(ctx)
		c.Status.Start(ctx)

		c.wg.Add(1)
		go c.forwardIdentity(ctx)

		if c.Network != nil {
			c.Network.Start(ctx)
			c.wg.Add(1)
			go c.forwardNetwork(ctx)
		}

		c.logger.WithField("network_watch", c.Network != nil).Debug("Client started")
	})
}

func (c *Client) forwardIdentity(ctx context.Context) {
	defer c.wg.Done()
	changes := c.Identity.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-changes:
			if !ok {
				return
			}
			c.Status.SetIdentity(id)
		}
	}
}

func (c *Client) forwardNetwork(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.Network.Events():
			if !ok {
				return
			}
			c.Status.SetTransport(ev.Online)
		}
	}
}

// ExportCurrent exports the data of the current identity.
func (c *Client) ExportCurrent(ctx context.Context) (*export.Artifact, error) {
	return c.Export.Export(ctx, c.Identity.Current())
}

// ExportFor exports the data of userID regardless of the identity source.
func (c *Client) ExportFor(ctx context.Context, userID string) (*export.Artifact, error) {
	return c.Export.Export(ctx, models.NewIdentity(userID))
}

// Close stops the monitor and releases the store and identity source.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()

		if cerr := c.Status.Close(); cerr != nil {
			err = cerr
		}
		if cerr := c.Identity.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if cerr := c.Store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

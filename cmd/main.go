package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/nostrstack/paywatch/api"
	"github.com/nostrstack/paywatch/config"
	"github.com/nostrstack/paywatch/daemon"
	"github.com/nostrstack/paywatch/database"
	"github.com/nostrstack/paywatch/lightning"
	"github.com/nostrstack/paywatch/lightning/lnd"
	"github.com/nostrstack/paywatch/metrics"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"

	_ "github.com/lib/pq"
	_ "github.com/nostrstack/paywatch/logging"
)

func validatePort(port int64) (uint32, error) {
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("port number %d is invalid: must be between 0 and 65535", port)
	}

	return uint32(port), nil
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		log.Info("Received signal, shutting down")
		cancel()
	}()

	app := &cli.Command{
		Name:  "paywatch",
		Usage: "Lightning tips: invoice backend and terminal widget",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "db-host",
				Usage: "Database host",
				Value: database.EmbeddedHost,
			},
			&cli.StringFlag{
				Name:  "db-user",
				Usage: "Database username",
				Value: "paywatch",
			},
			&cli.StringFlag{
				Name:  "db-password",
				Usage: "Database password",
				Value: "paywatch",
			},
			&cli.StringFlag{
				Name:  "db-name",
				Usage: "Database name",
				Value: "paywatch",
			},
			&cli.IntFlag{
				Name:  "db-port",
				Usage: "Database port",
				Value: 5433,
			},
			&cli.StringFlag{
				Name:  "db-data-path",
				Usage: "Database path",
				Value: "./.data",
			},
			&cli.BoolFlag{
				Name:  "db-keep-alive",
				Usage: "Keep the database running after the daemon stops for embedded databases",
				Value: false,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Serve the invoice API and reconcile payments against lnd",
				Flags: []cli.Flag{
					&listenAddr,
					&invoiceExpiry,
					&lndEndpoint,
					&lndMacaroon,
					&lndTLSCert,
					&testnet,
					&regtest,
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					db, closeDb, err := StartDatabase(c)
					if err != nil {
						return fmt.Errorf("❌ Could not connect to database: %w", err)
					}
					defer func() {
						if err := closeDb(); err != nil {
							log.Errorf("❌ Could not close database: %v", err)
						}
					}()

					if c.String("db-host") == database.EmbeddedHost {
						dbErr := db.MigrateDatabase()
						if dbErr != nil {
							return dbErr
						}
					} else {
						log.Info("🔍 Skipping database migration")
					}

					network := lightning.Mainnet
					if c.Bool("regtest") {
						network = lightning.Regtest
					} else if c.Bool("testnet") {
						network = lightning.Testnet
					}

					node, err := lnd.NewClient(ctx,
						lnd.WithLndEndpoint(c.String("lnd-endpoint")),
						lnd.WithMacaroonFilePath(c.String("lnd-macaroon")),
						lnd.WithTLSCertFilePath(c.String("lnd-tls-cert")),
						lnd.WithNetwork(network),
					)
					if err != nil {
						return fmt.Errorf("❌ Could not connect to lnd: %w", err)
					}
					defer node.CloseConnection()

					if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
						return fmt.Errorf("failed to register metrics: %w", err)
					}

					hub := api.NewHub()
					monitor := daemon.NewPaymentMonitor(db, node, hub, clock.NewDefaultClock())
					server := api.NewServer(c.String("listen"), db, node, hub,
						api.WithTracker(monitor),
						api.WithInvoiceExpiry(time.Duration(c.Int("invoice-expiry"))*time.Second),
					)

					err = daemon.Start(ctx, server, monitor)

					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
						log.Errorf("failed to shut down api: %v", shutdownErr)
					}

					return err
				},
			},
			{
				Name:  "tip",
				Usage: "Run one tip session in the terminal",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "config",
						Usage: "Widget configuration file (YAML)",
					},
					&cli.StringFlag{
						Name:  "base-url",
						Usage: "Backend origin, or \"mock\" for the offline backend",
					},
					&cli.StringFlag{
						Name:  "host",
						Usage: "Tenant domain",
					},
					&cli.StringFlag{
						Name:  "item",
						Usage: "Item the tip is for",
					},
					&cli.IntFlag{
						Name:  "amount",
						Usage: "Amount in sats, defaults to the configured default amount",
					},
					&cli.IntFlag{
						Name:  "preset",
						Usage: "Use the preset amount at this index",
						Value: -1,
					},
					&cli.BoolFlag{
						Name:  "simulate-payment",
						Usage: "Settle the invoice with a synthetic message (demo mode)",
					},
					&cli.BoolFlag{
						Name:  "no-qr",
						Usage: "Do not print the invoice QR code",
					},
					&cli.IntFlag{
						Name:  "wait",
						Usage: "Seconds to wait for the payment, defaults to the invoice TTL plus 30s",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg := config.Default()
					if path := c.String("config"); path != "" {
						loaded, err := config.Load(afero.NewOsFs(), path)
						if err != nil {
							return err
						}
						cfg = loaded
					}
					if v := c.String("base-url"); v != "" {
						cfg.BaseURL = v
					}
					if v := c.String("host"); v != "" {
						cfg.Host = v
					}
					if v := c.String("item"); v != "" {
						cfg.ItemID = v
					}
					if err := cfg.Validate(); err != nil {
						return err
					}

					event, err := runTip(ctx, os.Stdout, cfg, tipOptions{
						Amount:   c.Int("amount"),
						Preset:   int(c.Int("preset")),
						Simulate: c.Bool("simulate-payment"),
						Wait:     time.Duration(c.Int("wait")) * time.Second,
						QR:       !c.Bool("no-qr"),
					})
					if err != nil {
						return err
					}
					log.WithField("ref", event.ProviderRef).Info("tip received")

					return nil
				},
			},
			{
				Name:  "config",
				Usage: "Widget configuration",
				Commands: []*cli.Command{
					{
						Name:  "init",
						Usage: "Write the default widget configuration",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "path",
								Usage: "Destination file",
								Value: "./paywatch.yaml",
							},
						},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							path := cmd.String("path")
							if err := config.Write(afero.NewOsFs(), path, config.Default()); err != nil {
								return err
							}
							log.Infof("✅ Wrote %s", path)

							return nil
						},
					},
				},
			},
			{
				Name:  "database",
				Usage: "Database operations",
				Commands: []*cli.Command{
					{
						Name:   "migrate",
						Usage:  "Migrate the database",
						Action: withDatabase((*database.Database).MigrateDatabase),
					},
					{
						Name:   "rollback",
						Usage:  "Rollback the database",
						Action: withDatabase((*database.Database).Rollback),
					},
					{
						Name:   "reset",
						Usage:  "Reset the database",
						Action: withDatabase((*database.Database).Reset),
					},
				},
			},
			{
				Name:  "help",
				Usage: "Show help",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if err := cli.ShowAppHelp(cmd); err != nil {
						return err
					}

					return nil
				},
			},
		},
	}

	app_err := app.Run(ctx, os.Args)
	if app_err != nil {
		log.Fatal(app_err)
	}
}

var regtest = cli.BoolFlag{
	Name:  "regtest",
	Usage: "Use regtest network",
}
var testnet = cli.BoolFlag{
	Name:  "testnet",
	Usage: "Use testnet network",
}

var listenAddr = cli.StringFlag{
	Name:  "listen",
	Usage: "Address the API listens on",
	Value: ":8080",
}

var invoiceExpiry = cli.IntFlag{
	Name:  "invoice-expiry",
	Usage: "Invoice expiry in seconds",
	Value: int64(api.DefaultInvoiceExpiry / time.Second),
}

var lndEndpoint = cli.StringFlag{
	Name:  "lnd-endpoint",
	Usage: "lnd gRPC host:port",
	Value: "localhost:10009",
}

var lndMacaroon = cli.StringFlag{
	Name:  "lnd-macaroon",
	Usage: "Path to the invoice macaroon, {Network} is replaced by the network name",
}

var lndTLSCert = cli.StringFlag{
	Name:  "lnd-tls-cert",
	Usage: "Path to lnd's TLS certificate",
}

// withDatabase runs op against the database for the embedded instance only.
func withDatabase(op func(*database.Database) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		db, closeDb, err := StartDatabase(cmd)
		if err != nil {
			return fmt.Errorf("❌ Could not connect to database: %w", err)
		}
		defer func() {
			if err := closeDb(); err != nil {
				log.Errorf("❌ Could not close database: %v", err)
			}
		}()

		if cmd.String("db-host") != database.EmbeddedHost {
			log.Info("🔍 Skipping database migration")

			return nil
		}

		return op(db)
	}
}

func StartDatabase(cmd *cli.Command) (*database.Database, func() error, error) {
	port, err := validatePort(cmd.Int("db-port"))
	if err != nil {
		return nil, nil, err
	}

	db, closeDb, err := database.NewDatabase(
		cmd.String("db-user"),
		cmd.String("db-password"),
		cmd.String("db-name"),
		port,
		cmd.String("db-data-path"),
		cmd.String("db-host"),
		cmd.Bool("db-keep-alive"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("❌ Could not connect to database: %w", err)
	}

	return db, closeDb, nil
}

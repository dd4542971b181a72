// Package main provides the CLI entry point for the Redola node.
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/HaoQinLandv/Redola/internal/actor"
	"github.com/HaoQinLandv/Redola/internal/channel"
	"github.com/HaoQinLandv/Redola/internal/config"
	"github.com/HaoQinLandv/Redola/internal/logging"
	"github.com/HaoQinLandv/Redola/internal/protocol"
	"github.com/HaoQinLandv/Redola/internal/transport"
	"github.com/HaoQinLandv/Redola/internal/wizard"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "redola",
		Short: "Redola - peer-to-peer actor messaging channel",
		Long: `Redola maintains a long-lived framed channel between two actor
endpoints over TCP or WebSocket: identity handshake, bidirectional
keep-alive, and addressed application frames.`,
		Version: Version,
	}

	rootCmd.AddCommand(setupCmd())
	rootCmd.AddCommand(listenCmd())
	rootCmd.AddCommand(connectCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive configuration wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := wizard.New().Run()
			if err != nil {
				return err
			}
			if err := cfg.Save(configPath); err != nil {
				return err
			}
			fmt.Printf("\nConfiguration written to %s\n", configPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "redola.yaml", "output config path")
	return cmd
}

func listenCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Accept channels and echo application frames",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Listener.Address == "" {
				return fmt.Errorf("listener.address is not configured")
			}

			logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
			stopMetrics := serveMetrics(cfg, logger)
			defer stopMetrics()

			local := actor.Identity{Type: cfg.Actor.Type, Name: cfg.Actor.Name, Tags: cfg.Actor.Tags}
			opts := channelOptions(cfg, logger)

			var acc *channel.Acceptor
			acc = channel.NewAcceptor(local, cfg.Listener.Address, opts, channel.Events{
				Connected: func(endpoint string, remote actor.Identity) {
					logger.Info("peer connected",
						logging.KeyEndpoint, endpoint,
						logging.KeyRemote, remote.Key())
				},
				Disconnected: func(endpoint string, remote actor.Identity) {
					logger.Info("peer disconnected",
						logging.KeyEndpoint, endpoint,
						logging.KeyRemote, remote.Key())
				},
				DataReceived: func(endpoint string, remote actor.Identity, p []byte) {
					// Echo responder: send every application frame
					// straight back to the peer it came from.
					for _, sc := range acc.Channels() {
						if sc.Endpoint() != endpoint {
							continue
						}
						if err := sc.SendToType(remote.Type, p); err != nil {
							logger.Warn("echo failed",
								logging.KeyRemote, remote.Key(),
								logging.KeyError, err)
						}
					}
				},
			})

			if err := acc.Open(); err != nil {
				return err
			}

			waitForSignal()

			channels := acc.Channels()
			var in, out uint64
			for _, sc := range channels {
				in += sc.BytesReceived()
				out += sc.BytesSent()
			}
			acc.Close()
			fmt.Printf("closed %d channel(s), %s in, %s out\n",
				len(channels), humanize.Bytes(in), humanize.Bytes(out))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "redola.yaml", "config path")
	return cmd
}

func connectCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Open a channel and forward stdin lines as frames",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Channel.Endpoint == "" {
				return fmt.Errorf("channel.endpoint is not configured")
			}

			logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
			stopMetrics := serveMetrics(cfg, logger)
			defer stopMetrics()

			conn, err := transport.New(transport.Type(cfg.Channel.Transport), cfg.Channel.Endpoint, logger)
			if err != nil {
				return err
			}

			local := actor.Identity{Type: cfg.Actor.Type, Name: cfg.Actor.Name, Tags: cfg.Actor.Tags}
			ch := channel.NewClient(local, conn, channelOptions(cfg, logger), channel.Events{
				Connected: func(endpoint string, remote actor.Identity) {
					fmt.Printf("connected to %s at %s\n", remote.Key(), endpoint)
				},
				Disconnected: func(endpoint string, remote actor.Identity) {
					fmt.Printf("disconnected from %s\n", remote.Key())
				},
				DataReceived: func(_ string, remote actor.Identity, p []byte) {
					if f, err := protocol.Decode(p); err == nil && f.Op == protocol.OpData {
						fmt.Printf("%s> %s\n", remote.Key(), f.Payload)
					}
				},
			})

			if err := ch.OpenAndWait(cfg.Channel.ConnectTimeout); err != nil {
				return fmt.Errorf("open channel: %w", err)
			}
			defer ch.Close()

			go func() {
				waitForSignal()
				ch.Close()
				os.Exit(0)
			}()

			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				remote, ok := ch.RemoteActor()
				if !ok {
					break
				}
				f := &protocol.Frame{Op: protocol.OpData, Payload: scanner.Bytes()}
				wire, err := f.Encode()
				if err != nil {
					logger.Warn("frame encode failed", logging.KeyError, err)
					continue
				}
				if err := ch.Send(remote.Type, remote.Name, wire); err != nil {
					logger.Warn("send failed", logging.KeyError, err)
					break
				}
			}

			fmt.Printf("session done, %s sent, %s received\n",
				humanize.Bytes(ch.BytesSent()), humanize.Bytes(ch.BytesReceived()))
			return scanner.Err()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "redola.yaml", "config path")
	return cmd
}

func channelOptions(cfg *config.Config, logger *slog.Logger) channel.Options {
	return channel.Options{
		KeepaliveInterval: cfg.Channel.KeepaliveInterval,
		KeepaliveTimeout:  cfg.Channel.KeepaliveTimeout,
		HandshakeTimeout:  cfg.Channel.HandshakeTimeout,
		Logger:            logger,
	}
}

// serveMetrics exposes /metrics when configured. The returned stop
// function shuts the endpoint down.
func serveMetrics(cfg *config.Config, logger *slog.Logger) func() {
	if cfg.Metrics.Listen == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics endpoint failed", logging.KeyError, err)
		}
	}()
	logger.Info("metrics listening", logging.KeyLocalAddr, cfg.Metrics.Listen)

	return func() { srv.Close() }
}

func waitForSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	// Give in-flight log lines a moment.
	time.Sleep(50 * time.Millisecond)
}

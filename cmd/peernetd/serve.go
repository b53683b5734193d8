package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/capmesh/peernet/internal/classify"
	"github.com/capmesh/peernet/internal/plog"
	"github.com/capmesh/peernet/p2p"
	wstransport "github.com/capmesh/peernet/transport/websocket"
)

// relayHint is the shape of one entry in config's "relays" list, decoded
// through mapstructure so config files can express it as a map
// (peer_id/addr) rather than a flat string.
type relayHint struct {
	PeerID string `mapstructure:"peer_id"`
	Addr   string `mapstructure:"addr"`
}

func newServeCmd() *cobra.Command {
	var listenAddr string
	var corsOrigins []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the peer transport core",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			v := viper.New()
			if configPath != "" {
				v.SetConfigFile(configPath)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config: %w", err)
				}
			}
			v.SetEnvPrefix("PEERNETD")
			v.AutomaticEnv()

			opts, relayAddrs, err := loadOptions(v)
			if err != nil {
				return err
			}

			logger := plog.New("peernetd")
			plog.Info(logger, "event", "starting", "listen", listenAddr)

			registry := prometheus.NewRegistry()
			metrics := p2p.NewMetrics(registry)

			factory := wstransport.New(wstransport.Config{
				Resolve:     staticResolver(relayAddrs),
				ListenAddr:  listenAddr,
				CORSOrigins: corsOrigins,
			})

			handler := func(ctx context.Context, peerID p2p.PeerID, method string, params []any) error {
				plog.Debug(logger, "event", "inbound_message", "peer", peerID, "method", method)
				return nil
			}

			network := p2p.New(opts, factory, handler, classify.Default{}, nil, metrics)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go func() {
				if err := factory.Serve(); err != nil {
					plog.Error(logger, "event", "serve_error", "err", err)
				}
			}()

			<-ctx.Done()
			plog.Info(logger, "event", "stopping")
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return network.Stop(stopCtx)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "inbound websocket listen address")
	cmd.Flags().StringSliceVar(&corsOrigins, "cors-origin", []string{"*"}, "allowed CORS origins for inbound upgrades")
	return cmd
}

func loadOptions(v *viper.Viper) (p2p.Options, map[string]string, error) {
	opts := p2p.DefaultOptions()

	if v.IsSet("max_queue") {
		opts.MaxQueue = v.GetInt("max_queue")
	}
	if v.IsSet("max_retry_attempts") {
		opts.MaxRetryAttempts = v.GetInt("max_retry_attempts")
	}
	if v.IsSet("max_concurrent_connections") {
		opts.MaxConcurrentConnections = v.GetInt("max_concurrent_connections")
	}
	if v.IsSet("max_message_size_bytes") {
		opts.MaxMessageSizeBytes = v.GetInt("max_message_size_bytes")
	}
	if v.IsSet("cleanup_interval") {
		opts.CleanupInterval = v.GetDuration("cleanup_interval")
	}
	if v.IsSet("stale_peer_timeout") {
		opts.StalePeerTimeout = v.GetDuration("stale_peer_timeout")
	}
	if v.IsSet("write_timeout") {
		opts.WriteTimeout = v.GetDuration("write_timeout")
	}
	if v.IsSet("protocol_constraint") {
		opts.ProtocolConstraint = v.GetString("protocol_constraint")
	}

	var rawRelays []map[string]any
	if v.IsSet("relays") {
		if err := v.UnmarshalKey("relays", &rawRelays); err != nil {
			return opts, nil, fmt.Errorf("decode relays: %w", err)
		}
	}

	relayAddrs := make(map[string]string, len(rawRelays))
	for _, raw := range rawRelays {
		var hint relayHint
		if err := mapstructure.Decode(raw, &hint); err != nil {
			return opts, nil, fmt.Errorf("decode relay hint: %w", err)
		}
		opts.Relays = append(opts.Relays, p2p.LocationHint(hint.Addr))
		relayAddrs[hint.PeerID] = hint.Addr
	}

	return opts, relayAddrs, nil
}

// staticResolver resolves a peer to a dial URL from the
// peer-id-to-address table loaded from config's "relays" list, falling
// back to the first of the peer's location hints when the table has no
// entry for it.
func staticResolver(addrs map[string]string) wstransport.AddressResolver {
	return func(peerID p2p.PeerID, hints []p2p.LocationHint) (string, error) {
		if addr, ok := addrs[string(peerID)]; ok {
			return addr, nil
		}
		for _, h := range hints {
			return string(h), nil
		}
		return "", fmt.Errorf("peernetd: no address known for peer %q", peerID)
	}
}

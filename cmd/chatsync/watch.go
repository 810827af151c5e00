package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/matchcards/chatsync"
)

func init() {
	watchCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	watchCmd.Flags().String("open", "", "conversation to open and mark read while watching")
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(sendCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live sync events until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var reg prometheus.Registerer
		if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
			r := prometheus.NewRegistry()
			r.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			reg = r
			srv := serveMetrics(addr, r)
			defer srv.Close()
		}

		engine, err := newEngine(cfg, reg)
		if err != nil {
			return err
		}
		defer engine.Close()

		engine.On(chatsync.AnyEvent, func(eventType string, payload json.RawMessage) {
			fmt.Printf("%s %-22s %s\n", time.Now().Format(time.TimeOnly), eventType, payload)
		})
		engine.OnStateChange(func(st chatsync.ConnState) {
			logger.Info("connection state changed", "state", st)
		})
		engine.SetCredential(cfg.Default.Token)

		if conv, _ := cmd.Flags().GetString("open"); conv != "" {
			if err := waitConnected(ctx, engine); err != nil {
				return err
			}
			if err := engine.Open(ctx, conv); err != nil {
				logger.Warn("open conversation failed", "conversation", conv, "error", err)
			}
		}

		<-ctx.Done()
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <message>",
	Short: "Send a message over the push connection",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		engine, err := newEngine(cfg, nil)
		if err != nil {
			return err
		}
		defer engine.Close()
		engine.SetCredential(cfg.Default.Token)

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()
		if err := waitConnected(ctx, engine); err != nil {
			return err
		}
		if err := engine.Lifecycle().SendMessage(ctx, args[0], args[1], nil); err != nil {
			return err
		}
		fmt.Println("Sent.")
		return nil
	},
}

// waitConnected blocks until the engine reports a live connection.
func waitConnected(ctx context.Context, engine *chatsync.Engine) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for !engine.Connected() {
		if engine.State() == chatsync.StateDisconnected {
			return errors.New("connection failed: reconnect attempts exhausted")
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for connection: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv
}

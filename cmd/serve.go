// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/trackside/pkg/track"
	"github.com/Thermoquad/trackside/pkg/wire"
)

var (
	serveListen        string
	serveStatsInterval int
	serveSampler       bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the command station engine and accept WebSocket clients",
	Long: `Run the command station engine on a simulated layout and expose it over
WebSocket at /ws.

The layout carries decoders at addresses 3 and 4 (RailCom capable) and 1234,
plus a decoder at address 3 on the programming track. With --port the RailCom
detector on that serial port replaces the simulated feedback.

When --username is set, clients must authenticate with HTTP Basic auth. The
password is read from TRACKSIDE_PASSWORD or prompted for.

Examples:
  trackside serve --listen :8080
  trackside serve --config engine.yaml --log-level debug
  trackside serve --username admin --stats-interval 10`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", ":8080", "HTTP listen address")
	serveCmd.Flags().IntVar(&serveStatsInterval, "stats-interval", 30, "Statistics log interval in seconds (0 to disable)")
	serveCmd.Flags().BoolVar(&serveSampler, "adc-sampler", false, "Poll track current through the ADC sampler")
}

func runServe(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts := SimOptions{Locos: defaultSimLocos, UseSampler: serveSampler}
	if portName != "" {
		rx, err := track.OpenSerialReceiver(portName, log.WithField("port", portName))
		if err != nil {
			return err
		}
		defer rx.Close()
		opts.Receiver = rx
	}

	var serverOpts []wire.ServerOption
	if wsUsername != "" {
		password, err := GetPassword()
		if err != nil {
			return err
		}
		serverOpts = append(serverOpts, wire.WithBasicAuth(wsUsername, password))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim, err := StartSimulationWith(ctx, cfg, opts, log)
	if err != nil {
		return err
	}
	defer sim.Stop()

	mux := http.NewServeMux()
	mux.Handle("/ws", wire.NewServer(sim.Engine, log, serverOpts...))
	srv := &http.Server{
		Addr:              serveListen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if serveStatsInterval > 0 {
		go logStats(ctx, sim, time.Duration(serveStatsInterval)*time.Second, log)
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("listen", serveListen).Info("Listening for clients")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// logStats periodically logs driver and feedback counters
func logStats(ctx context.Context, sim *Simulation, interval time.Duration, log logrus.FieldLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ds := sim.Engine.Driver().Stats()
			rs := sim.Engine.RailComStats()
			fields := logrus.Fields{
				"mode":    sim.Engine.Mode().String(),
				"packets": ds.Packets,
				"faults":  ds.Faults,
				"dropped": ds.DroppedCaptures,
				"frames":  rs.Frames,
				"invalid": rs.InvalidSymbols,
				"acks":    sim.Layout.Acks(),
			}
			if sim.Sampler != nil {
				fields["adc_errors"] = sim.Sampler.ReadErrors()
			}
			log.WithFields(fields).Info("Statistics")
		}
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"netplay-engine/internal/config"
	"netplay-engine/internal/signaling"
)

var (
	signalAddr      string
	signalConfPath  string
	signalSchema    string
	signalUnlockURL string
)

var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "Run the signaling relay",
	Long: "signal serves websocket rooms where peers meet and exchange packets. " +
		"With --conf it also hands out that configuration on /conf/{id}.",
	RunE: func(cmd *cobra.Command, args []string) error {
		srv := signaling.NewServer(logger)
		if signalConfPath != "" {
			resp, err := turnOnResponse(signalConfPath, signalSchema, signalUnlockURL)
			if err != nil {
				return err
			}
			srv.ServeTurnOn(resp)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		httpSrv := &http.Server{Addr: signalAddr, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			<-ctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdown)
		}()
		logger.Info("signaling relay listening", "addr", signalAddr, "turn_on", signalConfPath != "")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		logger.Info("signaling relay stopped")
		return nil
	},
}

func init() {
	signalCmd.Flags().StringVar(&signalAddr, "addr", ":3536", "Listen address")
	signalCmd.Flags().StringVar(&signalConfPath, "conf", "", "Client configuration YAML with a static server to hand out")
	signalCmd.Flags().StringVar(&signalSchema, "schema", "", "Path to CUE schema file (defaults to the built-in schema)")
	signalCmd.Flags().StringVar(&signalUnlockURL, "unlock-url", "", "Unlock URL sent along with the configuration")
}

// turnOnResponse builds the /conf/ answer from a client configuration with a
// static server. Without an unlock URL the full form is used.
func turnOnResponse(path, schema, unlockURL string) (config.TurnOnResponse, error) {
	cfg, err := config.Load(path, schema)
	if err != nil {
		return config.TurnOnResponse{}, err
	}
	if cfg.Server.Static == nil {
		return config.TurnOnResponse{}, fmt.Errorf("%s: server.static required", path)
	}
	conf := cfg.Server.Static.Clone()
	if unlockURL == "" {
		return config.TurnOnResponse{Full: conf}, nil
	}
	return config.TurnOnResponse{Basic: &config.BasicResponse{UnlockURL: unlockURL, Conf: *conf}}, nil
}

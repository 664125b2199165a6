package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"netplay-engine/internal/admin"
	"netplay-engine/internal/config"
	"netplay-engine/internal/logging"
	"netplay-engine/internal/machine"
	"netplay-engine/internal/negotiate"
	"netplay-engine/internal/netplay"
	"netplay-engine/internal/scenario"
	"netplay-engine/internal/signaling"
	"netplay-engine/internal/stats"
	"netplay-engine/internal/transport"
	"netplay-engine/internal/tui"
)

const defaultContent = "paddles"

var (
	playConfigPath string
	playSchemaPath string
	playContent    string
	playPrintOnly  bool
	playHeadless   bool
	playScenario   string
	playRoom       string
	playAdminAddr  string
)

var errQuit = errors.New("quit")

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Run a netplay client",
	Long: "play runs the game locally and connects to other players on command. " +
		"Commands come from the terminal UI, a scenario or the admin panel.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(playConfigPath, playSchemaPath)
		if err != nil {
			return err
		}
		content := []byte(defaultContent)
		if playContent != "" {
			if content, err = os.ReadFile(playContent); err != nil {
				return fmt.Errorf("read content: %w", err)
			}
		}

		var player *scenario.Player
		if playScenario != "" {
			sc, err := findScenario(playScenario, playRoom)
			if err != nil {
				return err
			}
			player = scenario.NewPlayer(sc)
		}

		interactive := player == nil && !playHeadless && term.IsTerminal(int(os.Stdin.Fd()))
		log := logger
		if interactive && logFile == "" {
			// The UI owns the terminal.
			log = logging.Discard()
		}

		var ui *tui.UI
		var extra []any
		if interactive {
			ui = tui.New("netplay-engine")
			extra = append(extra, ui)
		}
		samples, transitions, cleanup, err := newWriters(cfg, playPrintOnly, interactive, log, extra...)
		if err != nil {
			return err
		}
		defer cleanup()

		m := machine.New(content)
		np := netplay.New(netplay.Options{
			Negotiator:  newNegotiator(cfg, m.ContentHash()),
			Machine:     m,
			Log:         log,
			Transitions: transitions,
		})
		defer np.Close()

		history := &stats.History{}
		runner := &netplay.Runner{
			Netplay: np,
			FPS:     cfg.FPS,
			Samples: samples,
			History: history,
		}
		switch {
		case player != nil:
			runner.Inputs = player
			runner.OnTick = scenarioTick(np, player, log)
		case ui != nil:
			runner.Inputs = ui
			runner.OnTick = statusTick(np, ui)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = logging.NewContext(ctx, log)
		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error { return ignoreCanceled(runner.Run(ctx)) })
		g.Go(func() error { return reportStatus(ctx, np, cfg.Stats.Interval, log) })
		if playAdminAddr != "" {
			srv := admin.NewServer(np, history, log)
			g.Go(func() error { return srv.Start(ctx, playAdminAddr) })
		}
		if ui != nil {
			ui.Start(np)
			g.Go(func() error {
				select {
				case <-ui.Done():
					return errQuit
				case <-ctx.Done():
					return ui.Close()
				}
			})
		}

		err = g.Wait()
		if errors.Is(err, errQuit) {
			err = nil
		}
		log.Info("netplay client stopped", "frame", np.Frame())
		return err
	},
}

func init() {
	playCmd.Flags().StringVar(&playConfigPath, "config", "", "Path to client configuration YAML (defaults to a relay on localhost:3536)")
	playCmd.Flags().StringVar(&playSchemaPath, "schema", "", "Path to CUE schema file (defaults to the built-in schema)")
	playCmd.Flags().StringVar(&playContent, "content", "", "Path to the game content to load")
	playCmd.Flags().BoolVar(&playPrintOnly, "print-only", false, "Print statistics to STDOUT instead of writing to DB")
	playCmd.Flags().BoolVar(&playHeadless, "headless", false, "Run without the terminal UI")
	playCmd.Flags().StringVar(&playScenario, "scenario", "", "Built-in scenario name or path to a scenario YAML")
	playCmd.Flags().StringVar(&playRoom, "room", "", "Room code used by built-in scenarios")
	playCmd.Flags().StringVar(&playAdminAddr, "admin", "", "Serve the admin panel on this address (e.g. :8080)")
}

// loadConfig reads path, or returns the fallback configuration when empty.
func loadConfig(path, schema string) (*config.Config, error) {
	if path == "" {
		cfg := config.Fallback()
		cfg.ApplyEnv()
		return cfg, nil
	}
	return config.Load(path, schema)
}

// newNegotiator dials the signaling server named by each resolved configuration.
func newNegotiator(cfg *config.Config, contentHash string) *negotiate.Negotiator {
	return &negotiate.Negotiator{
		Server:  cfg.Server,
		Fetcher: config.NewFetcher(),
		NewDialer: func(conf *config.Static) transport.Dialer {
			return signaling.NewDialer(conf.Signaling.Server)
		},
		ContentHash: contentHash,
		Players:     cfg.Players,
		FPS:         cfg.FPS,
	}
}

// findScenario resolves a built-in name first, then a file path.
func findScenario(name, room string) (*scenario.Scenario, error) {
	if sc, ok := scenario.BuiltIn(room)[name]; ok {
		if err := sc.Check(); err != nil {
			return nil, err
		}
		return &sc, nil
	}
	return scenario.Load(name)
}

// scenarioTick feeds the client state to the scenario and runs the commands
// of each phase it enters.
func scenarioTick(np *netplay.Netplay, p *scenario.Player, log *slog.Logger) func(netplay.TickResult) {
	return func(netplay.TickResult) {
		c, ok := p.Observe(np.State().Name())
		if !ok {
			return
		}
		room, err := np.Do(c)
		if err != nil {
			log.Warn("scenario command failed", "phase", p.Phase(), "kind", c.Kind, "err", err)
			return
		}
		log.Info("scenario command", "phase", p.Phase(), "kind", c.Kind, "room", room)
	}
}

// statusUpdateEvery is the number of ticks between two UI status refreshes.
const statusUpdateEvery = 6

func statusTick(np *netplay.Netplay, ui *tui.UI) func(netplay.TickResult) {
	tick := 0
	return func(netplay.TickResult) {
		tick++
		if tick%statusUpdateEvery == 0 {
			ui.SetStatus(np.Status())
		}
	}
}

// reportStatus logs a status line every interval.
func reportStatus(ctx context.Context, np *netplay.Netplay, interval time.Duration, log *slog.Logger) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		st := np.Status()
		log.Info("status", "state", st.State, "frame", st.Frame, "room", st.Room,
			"mapping", st.Mapping, "speed", st.Speed, "rollbacks", st.Rollbacks)
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/termcore/termcored/internal/auditlog"
	"github.com/termcore/termcored/internal/config"
	"github.com/termcore/termcored/internal/guibridge"
	"github.com/termcore/termcored/internal/obslog"
	"github.com/termcore/termcored/internal/recorder"
	"github.com/termcore/termcored/internal/rpc"
	"github.com/termcore/termcored/internal/session"
)

func serveCmd(configFlag *string) *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: IPC server + GUI event bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}
			// --log-level overrides the config/env value only when set
			// explicitly; otherwise config.Load's TERMINAL_MCP_LOG_LEVEL
			// handling (or the config file) wins.
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if err := obslog.Init(cfg.LogLevel, ""); err != nil {
				return fmt.Errorf("init logging: %w", err)
			}
			return runDaemon(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
	return cmd
}

func runDaemon(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recMgr, err := recorder.NewManager(cfg.RecordDir)
	if err != nil {
		return fmt.Errorf("init recording manager: %w", err)
	}
	defer recMgr.Close()

	if removed, err := recorder.RecoverStale(map[string]bool{}); err != nil {
		obslog.Log.Warn("crash recovery scan failed", "error", err)
	} else if removed > 0 {
		obslog.Log.Info("removed stale recordings from a previous crash", "count", removed)
	}

	audit, err := auditlog.Open(cfg.SessionLog)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer audit.Close()

	mgr := session.NewManager()
	arb := rpc.NewArbiter()
	bridge := guibridge.New(mgr)
	bridge.Creator = mgr
	bridge.Recorders = recMgr
	bridge.RecordMode = recorder.Mode(cfg.RecordMode)
	bridge.RecordLimits = recorder.Limits{
		IdleTimeLimit:     cfg.IdleTimeLimit,
		MaxDuration:       cfg.MaxDuration,
		InactivityTimeout: cfg.InactivityTimeout,
	}

	mgr.OnClose(func(id string) {
		arb.Detach(id)
	})

	srv := rpc.NewServer(cfg.SocketPath, mgr, arb)
	srv.Observer = bridge
	srv.Audit = audit
	srv.WireArbiterObserver()

	httpServer := &http.Server{Addr: cfg.GuiAddr, Handler: bridge.Handler()}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		obslog.Log.Info("rpc server starting", "socket", cfg.SocketPath)
		return srv.Serve(gctx)
	})

	g.Go(func() error {
		obslog.Log.Info("gui bridge starting", "addr", cfg.GuiAddr)
		errCh := make(chan error, 1)
		go func() { errCh <- httpServer.ListenAndServe() }()
		select {
		case <-gctx.Done():
			return httpServer.Close()
		case err := <-errCh:
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		obslog.Log.Info("daemon shutting down")
		mgr.Dispose()
		return nil
	})

	return g.Wait()
}

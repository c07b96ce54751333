package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"timeline/core/internal/audit"
	"timeline/core/internal/command"
	"timeline/core/internal/config"
	dbmodel "timeline/core/internal/db"
	"timeline/core/internal/engine"
	"timeline/core/internal/feed"
	"timeline/core/internal/global"
	"timeline/core/internal/lifecycle"
	"timeline/core/internal/logging"

	"gorm.io/gorm"
)

var version = "dev"

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := command.BuildApp(command.Deps{
		LoadConfig: config.LoadConfig,
		RunServe: func(ctx context.Context, cfg config.Config) error {
			return runServe(ctx, os.Stderr, cfg)
		},
		RunMigrateUp: func(_ context.Context, cfg config.Config) error {
			return runMigrateUp(os.Stdout, os.Stderr, cfg)
		},
		RunAudit: func(_ context.Context, cfg config.Config, opts command.AuditOptions) error {
			return runAudit(os.Stdout, os.Stderr, cfg, opts)
		},
		RunTree: func(_ context.Context, cfg config.Config, opts command.TreeOptions) error {
			return runTree(os.Stdout, os.Stderr, cfg, opts)
		},
		RunView: func(_ context.Context, cfg config.Config, id string) error {
			return runView(os.Stdout, os.Stderr, cfg, id)
		},
	})
	if err := app.RunContext(rootCtx, os.Args); err != nil {
		slog.Error("timelined failed", "err", err)
		os.Exit(1)
	}
}

// runtime is the opened store plus resolved settings shared by all commands.
type runtime struct {
	dir      string
	dbPath   string
	settings global.Settings
	log      *slog.Logger
	db       *gorm.DB
	hub      *feed.Hub
	engine   *engine.Engine
}

func openRuntime(cfg config.Config, errOut io.Writer) (*runtime, error) {
	dir := cfg.ConfigDir
	if dir == "" {
		d, err := global.DefaultConfigDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	settings, err := global.NewConfigStore(dir).LoadOrInit()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	level := logging.NormalizeLevel(cfg.LogLevel, settings.LogLevel)
	lg := logging.NewLogger(logging.Options{Level: level, Writer: errOut, Component: "timeline"})

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = global.DefaultDBPath(dir)
	}
	gdb, err := dbmodel.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	hub := feed.NewHub(lg)
	e, err := engine.New(gdb, engine.Options{Logger: lg, Publisher: hub})
	if err != nil {
		_ = dbmodel.Close(gdb)
		return nil, err
	}
	return &runtime{dir: dir, dbPath: dbPath, settings: settings, log: lg, db: gdb, hub: hub, engine: e}, nil
}

func (rt *runtime) Close() error {
	return dbmodel.Close(rt.db)
}

func (rt *runtime) listenAddr(cfg config.Config) string {
	if cfg.ListenAddr != "" {
		return cfg.ListenAddr
	}
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(rt.settings.ListenPort))
}

func runMigrateUp(out, errOut io.Writer, cfg config.Config) error {
	rt, err := openRuntime(cfg, errOut)
	if err != nil {
		return err
	}
	defer rt.Close()
	_, _ = fmt.Fprintf(out, "migrated %s\n", rt.dbPath)
	return nil
}

func runServe(ctx context.Context, errOut io.Writer, cfg config.Config) error {
	rt, err := openRuntime(cfg, errOut)
	if err != nil {
		return err
	}
	rt.log.Info("timelined starting", "version", version, "db", rt.dbPath)

	if rt.settings.Audit.RepairOnStart {
		if err := repairOnStart(rt); err != nil {
			_ = rt.Close()
			return err
		}
	}

	mgr := lifecycle.NewManager(rt.log)
	mgr.AddShutdown("close-db", func(context.Context) error {
		return rt.Close()
	})
	if !rt.settings.Feed.Enabled {
		rt.log.Info("feed disabled")
		mgr.AddRun("idle", func(runCtx context.Context) error {
			<-runCtx.Done()
			return nil
		})
		return mgr.StartAndWait(ctx)
	}

	srv := feed.NewServer(feed.Deps{Reader: rt.engine, Hub: rt.hub, Logger: rt.log})
	httpServer := &http.Server{
		Addr:              rt.listenAddr(cfg),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	mgr.AddRun("feed", func(runCtx context.Context) error {
		errCh := make(chan error, 1)
		go func() {
			rt.log.Info("feed listening", "addr", httpServer.Addr)
			errCh <- httpServer.ListenAndServe()
		}()
		select {
		case <-runCtx.Done():
			return nil
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}
	})
	mgr.AddShutdown("close-feed", func(sctx context.Context) error {
		return httpServer.Shutdown(sctx)
	})
	return mgr.StartAndWait(ctx)
}

func repairOnStart(rt *runtime) error {
	a, err := audit.New(rt.db)
	if err != nil {
		return err
	}
	drifts, err := a.Repair()
	if err != nil {
		return fmt.Errorf("repair on start: %w", err)
	}
	for _, d := range drifts {
		rt.log.Warn("repaired drift", "check", d.Check, "id", d.ID, "stored", d.Stored, "want", d.Want)
	}
	return nil
}

func runAudit(out, errOut io.Writer, cfg config.Config, opts command.AuditOptions) error {
	rt, err := openRuntime(cfg, errOut)
	if err != nil {
		return err
	}
	defer rt.Close()

	a, err := audit.New(rt.db)
	if err != nil {
		return err
	}
	var drifts []audit.Drift
	if opts.Repair {
		drifts, err = a.Repair()
	} else {
		drifts, err = a.Verify()
	}
	if err != nil {
		return err
	}
	for _, d := range drifts {
		_, _ = fmt.Fprintf(out, "%s\n", d.String())
	}
	switch {
	case len(drifts) == 0:
		_, _ = fmt.Fprintf(out, "no drift\n")
	case opts.Repair:
		_, _ = fmt.Fprintf(out, "repaired %d drifted fields\n", len(drifts))
	default:
		return fmt.Errorf("found %d drifted fields", len(drifts))
	}
	return nil
}

func runTree(out, errOut io.Writer, cfg config.Config, opts command.TreeOptions) error {
	rt, err := openRuntime(cfg, errOut)
	if err != nil {
		return err
	}
	defer rt.Close()

	tree := rt.engine.GetSubtaskTree(opts.TaskID, opts.MaxDepth)
	for task, depth := range tree.All() {
		progress, err := rt.engine.TaskProgress(task.ID)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "%s%s [%s %d%%] %s\n", strings.Repeat("  ", depth), task.Title, task.Status, progress, task.ID)
	}
	return tree.Err()
}

func runView(out, errOut io.Writer, cfg config.Config, id string) error {
	rt, err := openRuntime(cfg, errOut)
	if err != nil {
		return err
	}
	defer rt.Close()

	item, err := rt.engine.GetSupertypeView(id)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "%s\n", b)
	return nil
}

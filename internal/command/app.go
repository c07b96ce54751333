package command

import (
	"context"
	"errors"
	"strings"

	"github.com/urfave/cli/v2"

	"timeline/core/internal/config"
)

type AuditOptions struct {
	Repair bool
}

type TreeOptions struct {
	TaskID   string
	MaxDepth int
}

type Deps struct {
	LoadConfig   func() config.Config
	RunServe     func(context.Context, config.Config) error
	RunMigrateUp func(context.Context, config.Config) error
	RunAudit     func(context.Context, config.Config, AuditOptions) error
	RunTree      func(context.Context, config.Config, TreeOptions) error
	RunView      func(context.Context, config.Config, string) error
}

func BuildApp(deps Deps) *cli.App {
	return &cli.App{
		Name:  "timelined",
		Usage: "timeline core store and event feed",
		Action: func(ctx *cli.Context) error {
			return runServe(ctx.Context, deps, loadConfig(deps))
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "open the store and serve the event feed",
				Action: func(ctx *cli.Context) error {
					return runServe(ctx.Context, deps, loadConfig(deps))
				},
			},
			{
				Name:  "migrate",
				Usage: "run database migration",
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "apply pending migrations",
						Action: func(ctx *cli.Context) error {
							return runMigrateUp(ctx.Context, deps, loadConfig(deps))
						},
					},
				},
			},
			{
				Name:  "audit",
				Usage: "recompute derived fields and report drift",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "repair", Usage: "rewrite drifted fields"},
				},
				Action: func(ctx *cli.Context) error {
					return runAudit(ctx.Context, deps, loadConfig(deps), AuditOptions{Repair: ctx.Bool("repair")})
				},
			},
			{
				Name:      "tree",
				Usage:     "print the subtask tree under a task",
				ArgsUsage: "<task-id>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "max-depth", Value: -1, Usage: "levels below the root, negative for all"},
				},
				Action: func(ctx *cli.Context) error {
					id := strings.TrimSpace(ctx.Args().First())
					if id == "" {
						return errors.New("task id is required")
					}
					return runTree(ctx.Context, deps, loadConfig(deps), TreeOptions{TaskID: id, MaxDepth: ctx.Int("max-depth")})
				},
			},
			{
				Name:      "view",
				Usage:     "print the projected view of an item",
				ArgsUsage: "<item-id>",
				Action: func(ctx *cli.Context) error {
					id := strings.TrimSpace(ctx.Args().First())
					if id == "" {
						return errors.New("item id is required")
					}
					return runView(ctx.Context, deps, loadConfig(deps), id)
				},
			},
		},
	}
}

func loadConfig(deps Deps) config.Config {
	if deps.LoadConfig != nil {
		return deps.LoadConfig()
	}
	return config.LoadConfig()
}

func runServe(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunServe == nil {
		return errors.New("serve runner is not configured")
	}
	return deps.RunServe(ctx, cfg)
}

func runMigrateUp(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunMigrateUp == nil {
		return errors.New("migrate up runner is not configured")
	}
	return deps.RunMigrateUp(ctx, cfg)
}

func runAudit(ctx context.Context, deps Deps, cfg config.Config, opts AuditOptions) error {
	if deps.RunAudit == nil {
		return errors.New("audit runner is not configured")
	}
	return deps.RunAudit(ctx, cfg, opts)
}

func runTree(ctx context.Context, deps Deps, cfg config.Config, opts TreeOptions) error {
	if deps.RunTree == nil {
		return errors.New("tree runner is not configured")
	}
	return deps.RunTree(ctx, cfg, opts)
}

func runView(ctx context.Context, deps Deps, cfg config.Config, id string) error {
	if deps.RunView == nil {
		return errors.New("view runner is not configured")
	}
	return deps.RunView(ctx, cfg, id)
}

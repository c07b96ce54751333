package command

import (
	"context"
	"testing"

	"timeline/core/internal/config"
)

func TestBuildApp_DefaultCommandIsServe(t *testing.T) {
	serveCalled := 0
	migrateCalled := 0
	app := BuildApp(Deps{
		LoadConfig: func() config.Config {
			return config.Config{ListenAddr: "127.0.0.1:0"}
		},
		RunServe: func(_ context.Context, cfg config.Config) error {
			if cfg.ListenAddr != "127.0.0.1:0" {
				t.Fatalf("unexpected config: %+v", cfg)
			}
			serveCalled++
			return nil
		},
		RunMigrateUp: func(context.Context, config.Config) error {
			migrateCalled++
			return nil
		},
	})
	if err := app.RunContext(context.Background(), []string{"timelined"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if serveCalled != 1 || migrateCalled != 0 {
		t.Fatalf("unexpected call count serve=%d migrate=%d", serveCalled, migrateCalled)
	}
}

func TestBuildApp_MigrateUpCommand(t *testing.T) {
	migrateCalled := 0
	app := BuildApp(Deps{
		LoadConfig: func() config.Config { return config.Config{} },
		RunServe:   func(context.Context, config.Config) error { return nil },
		RunMigrateUp: func(context.Context, config.Config) error {
			migrateCalled++
			return nil
		},
	})
	if err := app.RunContext(context.Background(), []string{"timelined", "migrate", "up"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if migrateCalled != 1 {
		t.Fatalf("expected migrate command called once, got %d", migrateCalled)
	}
}

func TestBuildApp_AuditRepairFlag(t *testing.T) {
	var got []AuditOptions
	app := BuildApp(Deps{
		LoadConfig: func() config.Config { return config.Config{} },
		RunAudit: func(_ context.Context, _ config.Config, opts AuditOptions) error {
			got = append(got, opts)
			return nil
		},
	})
	if err := app.RunContext(context.Background(), []string{"timelined", "audit"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if err := app.RunContext(context.Background(), []string{"timelined", "audit", "--repair"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(got) != 2 || got[0].Repair || !got[1].Repair {
		t.Fatalf("unexpected audit options: %+v", got)
	}
}

func TestBuildApp_TreeCommand(t *testing.T) {
	var got TreeOptions
	app := BuildApp(Deps{
		LoadConfig: func() config.Config { return config.Config{} },
		RunTree: func(_ context.Context, _ config.Config, opts TreeOptions) error {
			got = opts
			return nil
		},
	})
	if err := app.RunContext(context.Background(), []string{"timelined", "tree", "--max-depth", "2", "t1"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got.TaskID != "t1" || got.MaxDepth != 2 {
		t.Fatalf("unexpected tree options: %+v", got)
	}

	if err := app.RunContext(context.Background(), []string{"timelined", "tree", "t2"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got.TaskID != "t2" || got.MaxDepth != -1 {
		t.Fatalf("expected unlimited depth by default, got %+v", got)
	}

	if err := app.RunContext(context.Background(), []string{"timelined", "tree"}); err == nil {
		t.Fatal("expected error without task id")
	}
}

func TestBuildApp_ViewCommand(t *testing.T) {
	var got string
	app := BuildApp(Deps{
		LoadConfig: func() config.Config { return config.Config{} },
		RunView: func(_ context.Context, _ config.Config, id string) error {
			got = id
			return nil
		},
	})
	if err := app.RunContext(context.Background(), []string{"timelined", "view", "item-1"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got != "item-1" {
		t.Fatalf("unexpected view id %q", got)
	}
}

func TestBuildApp_MissingRunner(t *testing.T) {
	app := BuildApp(Deps{LoadConfig: func() config.Config { return config.Config{} }})
	if err := app.RunContext(context.Background(), []string{"timelined", "view", "x"}); err == nil {
		t.Fatal("expected error for unconfigured runner")
	}
}

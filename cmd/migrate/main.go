package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/evrent-backend/pkg/config"
	"github.com/angelmondragon/evrent-backend/pkg/db"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
	"github.com/angelmondragon/evrent-backend/pkg/migrate"
)

const usage = `usage: migrate [flags] <command> [arg]

commands:
  up              apply pending migrations
  down            roll back the latest migration
  to <version>    move the schema to an exact version
  status          list migrations and whether they are applied
  create <name>   write an empty migration into -dir
  validate        check migration files without touching the database
`

func main() {
	_ = godotenv.Load()

	dir := flag.String("dir", migrate.DefaultDir, "migrations directory")
	embedded := flag.Bool("embedded", false, "use the migrations compiled into the binary instead of -dir")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	command, arg := flag.Arg(0), flag.Arg(1)

	// create and validate work on files only and do not need config.
	switch command {
	case "create":
		if arg == "" {
			fail("create needs a migration name")
		}
		path, err := migrate.Create(*dir, arg, time.Now())
		if err != nil {
			fail(err.Error())
		}
		fmt.Println("created", path)
		return
	case "validate":
		fsys, err := source(*dir, *embedded)
		if err == nil {
			err = migrate.Validate(fsys)
		}
		if err != nil {
			fail(err.Error())
		}
		fmt.Println("migrations are valid")
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fail(err.Error())
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"command":  command,
		"embedded": *embedded,
	})

	if err := run(ctx, cfg, logg, command, arg, *dir, *embedded); err != nil {
		logg.Error(ctx, "migration failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, command, arg, dir string, embedded bool) error {
	fsys, err := source(dir, embedded)
	if err != nil {
		return err
	}

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer client.Close()
	if client.Driver() != db.DriverPostgres {
		return errors.New("goose migrations target postgres; sqlite is migrated by the dev auto-run")
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extract sql.DB: %w", err)
	}
	m, err := migrate.New(sqlDB, fsys)
	if err != nil {
		return err
	}

	var applied []migrate.Applied
	switch command {
	case "up":
		applied, err = m.Up(ctx)
	case "down":
		applied, err = m.Down(ctx)
	case "to":
		target, perr := strconv.ParseInt(arg, 10, 64)
		if perr != nil {
			return fmt.Errorf("to needs a numeric version, got %q", arg)
		}
		applied, err = m.To(ctx, target)
	case "status":
		return printStatus(ctx, m)
	default:
		return fmt.Errorf("unknown command %q", command)
	}

	for _, a := range applied {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"version":     a.Version,
			"file":        a.File,
			"duration_ms": a.Duration.Milliseconds(),
		}), "migration ran")
	}
	if err != nil {
		return err
	}
	logg.Info(logg.WithField(ctx, "count", len(applied)), "migrations done")
	return nil
}

func printStatus(ctx context.Context, m *migrate.Migrator) error {
	rows, err := m.Status(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tAPPLIED AT\tFILE")
	for _, row := range rows {
		at := "pending"
		if row.Applied {
			at = row.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", row.Version, at, row.File)
	}
	return w.Flush()
}

func source(dir string, embedded bool) (fs.FS, error) {
	if embedded {
		return migrate.EmbeddedFS(), nil
	}
	return migrate.DirFS(dir)
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, "migrate:", msg)
	os.Exit(1)
}

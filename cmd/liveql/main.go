// Command liveql is the CLI front end for the live query engine: point it
// at a configured source collection and a restricted SQL query, and it
// streams every materialized insert/update/delete to stdout until
// interrupted.
//
// Grounded on the cobra root-command wiring of the teacher's
// internal/cli/cli.go (persistent flags, PersistentPreRunE config load,
// subcommand groups), narrowed to this engine's single "watch" verb.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	_ "modernc.org/sqlite"

	"github.com/liveql/engine/internal/compiler"
	engconfig "github.com/liveql/engine/internal/config"
	"github.com/liveql/engine/internal/materializer"
	"github.com/liveql/engine/internal/source"
	"github.com/liveql/engine/internal/source/sqlitesource"
	"github.com/liveql/engine/internal/sqlfront"
	"github.com/liveql/engine/internal/subscription"
)

const (
	exitSuccess  = 0
	exitValidate = 1
	exitEngine   = 2
	exitInternal = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	var sqliteTable, sqliteKeyCol, sqliteVersionCol string
	var sqliteColumns []string

	root := &cobra.Command{
		Use:   "liveql",
		Short: "Run live, incrementally-updated queries against a configured source",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ~/.liveql/config.yaml)")

	watch := &cobra.Command{
		Use:   "watch <sql>",
		Short: "Compile and run a live query, streaming changes to stdout as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchCommand(cmd.Context(), args[0], configPath, sqliteTable, sqliteKeyCol, sqliteVersionCol, sqliteColumns)
		},
	}
	watch.Flags().StringVar(&sqliteTable, "sqlite-table", "", "sqlite table backing the query's collection")
	watch.Flags().StringVar(&sqliteKeyCol, "sqlite-key", "id", "sqlite primary key column")
	watch.Flags().StringVar(&sqliteVersionCol, "sqlite-version", "updated_at", "sqlite column polled for change detection")
	watch.Flags().StringSliceVar(&sqliteColumns, "sqlite-columns", nil, "sqlite columns to select (comma-separated)")
	root.AddCommand(watch)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the engine version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("liveql 0.1.0")
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		cancel()
	}()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "liveql: %v\n", err)
		return exitInternal
	}
	return exitSuccess
}

func watchCommand(ctx context.Context, sqlText, configPath, table, keyCol, versionCol string, columns []string) error {
	cfg, err := engconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("liveql: %w", err)
	}

	query, err := sqlfront.Parse(sqlText)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return fmt.Errorf("query rejected")
	}

	sources := make(map[string]source.Collection)
	if table != "" {
		dsn := cfg.Sources.SQLite.DSN
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return fmt.Errorf("liveql: open sqlite: %w", err)
		}
		cols := columns
		if len(cols) == 0 {
			cols = []string{keyCol}
		}
		coll := sqlitesource.New(query.From, db, sqlitesource.Config{
			Table:         table,
			KeyColumn:     keyCol,
			VersionColumn: versionCol,
			Columns:       cols,
			PollInterval:  cfg.Sources.SQLite.PollInterval,
		})
		sources[query.From] = coll
	}

	if len(sources) == 0 {
		return fmt.Errorf("liveql: no source collection configured for %q (pass --sqlite-table)", query.From)
	}

	compiled, err := compiler.Compile(query, sources)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return fmt.Errorf("compile failed")
	}

	enc := json.NewEncoder(os.Stdout)
	mat := &materializer.Materializer{Handler: func(changes []materializer.Change) {
		for _, c := range changes {
			_ = enc.Encode(changeToJSON(c))
		}
	}}

	driver := subscription.NewDriver(compiled, sources, mat)
	if err := driver.Start(ctx); err != nil {
		return fmt.Errorf("liveql: %w", err)
	}
	defer driver.Stop()

	<-ctx.Done()
	return nil
}

func changeToJSON(c materializer.Change) map[string]any {
	kind := "insert"
	switch c.Kind {
	case materializer.Update:
		kind = "update"
	case materializer.Delete:
		kind = "delete"
	}
	out := map[string]any{
		"kind":  kind,
		"key":   c.Key,
		"value": c.Value,
		"at":    time.Now().UTC().Format(time.RFC3339Nano),
	}
	if c.FracIndex != "" {
		out["fracIndex"] = c.FracIndex
	}
	return out
}

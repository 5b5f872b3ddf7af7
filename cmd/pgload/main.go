// Command pgload is the CLI entrypoint wiring configuration, logging,
// source discovery, and the orchestrator together. It is intentionally
// thin: every decision of substance lives in internal/.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Abzwingten/pgloader/internal/config"
	"github.com/Abzwingten/pgloader/internal/logger"
	"github.com/Abzwingten/pgloader/internal/orchestrator"
	"github.com/Abzwingten/pgloader/internal/pgsink"
	"github.com/Abzwingten/pgloader/internal/schema"
	"github.com/Abzwingten/pgloader/internal/source"
	"github.com/Abzwingten/pgloader/internal/source/dbf"
	"github.com/Abzwingten/pgloader/internal/source/sqlite"
	"github.com/Abzwingten/pgloader/internal/stats"
)

var v = viper.New()

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pgload",
		Short: "Bulk-load DBF and SQLite tables into PostgreSQL via COPY",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Materialize the schema and copy every selected table",
		RunE:  runE,
	}

	flags := runCmd.Flags()
	flags.String("dsn", "", "PostgreSQL connection string (required)")
	flags.String("dbf-dir", "", "directory of .dbf files to load")
	flags.String("sqlite-file", "", "path to a SQLite database file to load")
	flags.String("root-dir", "./pgload-run", "directory for rejected rows and run artifacts")
	flags.String("summary-path", "", "optional file to also write the summary as newline-delimited JSON")
	flags.StringSlice("only-tables", nil, "exact table names to load, all others skipped")
	flags.StringSlice("include", nil, "glob patterns (trailing * only) a table must match")
	flags.StringSlice("exclude", nil, "glob patterns (trailing * only) a table must not match")
	flags.Bool("truncate", false, "truncate each target table before copying")
	flags.Bool("create-tables", true, "materialize target tables before copying")
	flags.Bool("include-drop", false, "drop each target table before creating it")
	flags.Bool("create-indexes", false, "build declared indexes after copying")
	flags.Bool("reset-sequences", false, "reset owned sequences after copying")
	flags.Bool("data-only", false, "skip the schema phase entirely")
	flags.Bool("schema-only", false, "run the schema phase and stop before copying")
	flags.Int("concurrent-batches", config.DefaultOptions().ConcurrentBatches, "row queue capacity per table")
	flags.Bool("debug", false, "verbose logging")

	_ = v.BindPFlags(flags)
	v.SetEnvPrefix("PGLOAD")
	v.AutomaticEnv()

	root.AddCommand(runCmd)
	return root
}

func runE(cmd *cobra.Command, args []string) error {
	dsn := v.GetString("dsn")
	if dsn == "" {
		return fmt.Errorf("pgload: --dsn is required")
	}

	opts := config.DefaultOptions()
	opts.Truncate = v.GetBool("truncate")
	opts.CreateTables = v.GetBool("create-tables")
	opts.IncludeDrop = v.GetBool("include-drop")
	opts.CreateIndexes = v.GetBool("create-indexes")
	opts.ResetSequences = v.GetBool("reset-sequences")
	opts.DataOnly = v.GetBool("data-only")
	opts.SchemaOnly = v.GetBool("schema-only")
	opts.OnlyTables = v.GetStringSlice("only-tables")
	opts.Including = v.GetStringSlice("include")
	opts.Excluding = v.GetStringSlice("exclude")
	if n := v.GetInt("concurrent-batches"); n > 0 {
		opts.ConcurrentBatches = n
	}

	rc := config.RunContext{
		TargetDSN:   dsn,
		RootDir:     v.GetString("root-dir"),
		SummaryPath: v.GetString("summary-path"),
		Debug:       v.GetBool("debug"),
		Options:     opts,
	}

	if err := os.MkdirAll(rc.RootDir, 0o755); err != nil {
		return fmt.Errorf("pgload: creating root-dir: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(rc.RootDir, "pgloader.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("pgload: opening pgloader.log: %w", err)
	}
	defer logFile.Close()

	log := logger.New(io.MultiWriter(os.Stderr, logFile), rc.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgsink.Connect(ctx, rc.TargetDSN)
	if err != nil {
		log.Error("connecting to target: %v", err)
		return err
	}
	defer pool.Close()

	tables, schemaTables, err := discover(v.GetString("dbf-dir"), v.GetString("sqlite-file"))
	if err != nil {
		log.Error("discovering sources: %v", err)
		return err
	}
	if len(tables) == 0 {
		log.Warning("no tables discovered under --dbf-dir or --sqlite-file")
	}

	coll := stats.NewCollector()
	orch := orchestrator.New(pool, rc, log, coll)

	runErr := orch.Run(ctx, tables, schemaTables)

	if summaryErr := coll.WriteSummary(os.Stdout, "pgload run"); summaryErr != nil {
		log.Error("writing summary: %v", summaryErr)
	}
	if rc.SummaryPath != "" {
		if err := writeJSONSummary(coll, rc.SummaryPath); err != nil {
			log.Error("writing json summary: %v", err)
		}
	}

	return runErr
}

func writeJSONSummary(coll *stats.Collector, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return coll.WriteSummaryJSON(f)
}

// discover builds the orchestrator's table list and the matching
// schema.Table list for the create-tables phase, from whichever of
// --dbf-dir/--sqlite-file were given. Both may be combined in a single
// run: every *.dbf file under dbf-dir becomes one table, and every
// table in sqlite-file becomes another, named after the file or the
// SQLite table respectively.
func discover(dbfDir, sqliteFile string) ([]orchestrator.Table, []schema.Table, error) {
	var tables []orchestrator.Table
	var schemaTables []schema.Table

	if dbfDir != "" {
		entries, err := os.ReadDir(dbfDir)
		if err != nil {
			return nil, nil, fmt.Errorf("reading dbf-dir: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".dbf") {
				continue
			}
			path := filepath.Join(dbfDir, e.Name())
			tableName := strings.TrimSuffix(strings.ToLower(e.Name()), ".dbf")

			t, st, err := discoverDBFTable(path, tableName)
			if err != nil {
				return nil, nil, err
			}
			tables = append(tables, t)
			schemaTables = append(schemaTables, st)
		}
	}

	if sqliteFile != "" {
		names, err := sqlite.ListTables(sqliteFile)
		if err != nil {
			return nil, nil, fmt.Errorf("listing sqlite tables: %w", err)
		}
		for _, name := range names {
			t, st, err := discoverSQLiteTable(sqliteFile, name)
			if err != nil {
				return nil, nil, err
			}
			tables = append(tables, t)
			schemaTables = append(schemaTables, st)
		}
	}

	return tables, schemaTables, nil
}

// discoverDBFTable never populates Table.Indexes: the dBase III/IV
// format carries no index structures of its own (index files, where
// they exist at all for this family of formats, are a separate
// proprietary .mdx/.ndx sidecar this reader does not parse), so there
// is nothing here to mirror onto the target beyond the columns
// already discovered.
func discoverDBFTable(path, tableName string) (orchestrator.Table, schema.Table, error) {
	r, err := dbf.Open(path, tableName)
	if err != nil {
		return orchestrator.Table{}, schema.Table{}, err
	}
	defer r.Close()

	sch, err := r.Describe(context.Background())
	if err != nil {
		return orchestrator.Table{}, schema.Table{}, err
	}

	desc := &source.Descriptor{SourceName: path, TargetName: tableName, TargetDB: "target"}
	colDefs := make([]string, len(sch.Columns))
	for i, c := range sch.Columns {
		def, tr := source.MapDBF(c)
		colDefs[i] = def
		desc.Columns = append(desc.Columns, c)
		desc.Transforms = append(desc.Transforms, tr)
	}

	t := orchestrator.Table{
		Desc:        desc,
		Opener:      func() (source.Reader, error) { return dbf.Open(path, tableName) },
		HasSequence: true,
	}
	st := schema.Table{Name: tableName, ColumnDefs: colDefs}
	return t, st, nil
}

func discoverSQLiteTable(path, tableName string) (orchestrator.Table, schema.Table, error) {
	r, err := sqlite.Open(path, tableName)
	if err != nil {
		return orchestrator.Table{}, schema.Table{}, err
	}
	defer r.Close()

	sch, err := r.Describe(context.Background())
	if err != nil {
		return orchestrator.Table{}, schema.Table{}, err
	}

	desc := &source.Descriptor{SourceName: tableName, TargetName: tableName, TargetDB: "target"}
	colDefs := make([]string, len(sch.Columns))
	for i, c := range sch.Columns {
		def, tr := source.MapSQLite(c)
		colDefs[i] = def
		desc.Columns = append(desc.Columns, c)
		desc.Transforms = append(desc.Transforms, tr)
	}

	indexes, err := sqlite.ListIndexes(path, tableName)
	if err != nil {
		return orchestrator.Table{}, schema.Table{}, err
	}

	t := orchestrator.Table{
		Desc:        desc,
		Opener:      func() (source.Reader, error) { return sqlite.Open(path, tableName) },
		Indexes:     indexes,
		HasSequence: true,
	}
	st := schema.Table{Name: tableName, ColumnDefs: colDefs}
	return t, st, nil
}

// Command wbtctl initializes, inspects and verifies wbtree data directories.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"wbtree/internal/blockio"
	"wbtree/internal/config"
	"wbtree/internal/control"
	"wbtree/internal/logger"
	"wbtree/pkg/db"
)

// Globals are the flags shared by every command.
type Globals struct {
	Config   string `name:"config" short:"c" help:"YAML config file." type:"path"`
	LogLevel string `name:"log-level" help:"Log level (debug, info, warn, error)."`
}

// CLI defines the command-line interface.
type CLI struct {
	Globals

	Init   InitCmd   `cmd:"" help:"Initialize a data directory."`
	Show   ShowCmd   `cmd:"" help:"Print the control record of a data directory."`
	Verify VerifyCmd `cmd:"" help:"Check that the control file of a data directory is intact."`
}

// setup loads the config file, if any, and builds the logger from it.
func (g *Globals) setup() (*config.Config, *zap.Logger, error) {
	cfg := config.Default()
	if g.Config != "" {
		var err error
		if cfg, err = config.Load(g.Config); err != nil {
			return nil, nil, err
		}
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func dataDir(arg string, cfg *config.Config) (string, error) {
	if arg != "" {
		return arg, nil
	}
	if cfg.DataDir != "" {
		return cfg.DataDir, nil
	}
	return "", errors.New("no data directory given and none configured")
}

// InitCmd creates a data directory.
type InitCmd struct {
	Dir      string `arg:"" optional:"" help:"Data directory." type:"path"`
	PageSize uint64 `name:"page-size" help:"Page size in bytes, fixed for the life of the directory."`
}

func (c *InitCmd) Run(g *Globals, out io.Writer) error {
	cfg, log, err := g.setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	dir, err := dataDir(c.Dir, cfg)
	if err != nil {
		return err
	}
	opts := []db.Option{db.WithConfig(cfg), db.WithLogger(log)}
	if c.PageSize != 0 {
		opts = append(opts, db.WithPageSize(c.PageSize))
	}

	d, err := db.Create(dir, opts...)
	if err != nil {
		return err
	}
	rec := d.Control()
	if err := d.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "initialized %s with page size %d\n", dir, rec.PageSize())
	return nil
}

// ShowCmd prints every field of the control record.
type ShowCmd struct {
	Dir string `arg:"" optional:"" help:"Data directory." type:"path"`
}

func (c *ShowCmd) Run(g *Globals, out io.Writer) error {
	rec, store, err := loadControl(g, c.Dir)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%-22s %s\n", "control file:", store.Path())
	fmt.Fprintf(out, "%-22s %s\n", "magic:", rec.MagicString())
	fmt.Fprintf(out, "%-22s %s\n", "version:", control.FormatVersion(rec.Version()))
	fmt.Fprintf(out, "%-22s %d\n", "page size:", rec.PageSize())
	fmt.Fprintf(out, "%-22s %s\n", "redo lsn:", rec.RedoLSN())
	fmt.Fprintf(out, "%-22s %d\n", "next oid:", rec.NextOid())
	fmt.Fprintf(out, "%-22s %d\n", "current wal segment:", rec.CurrentWALSegment())
	fmt.Fprintf(out, "%-22s %#08x\n", "checksum:", rec.Checksum())
	return nil
}

// VerifyCmd loads the control file and reports the first failed check.
type VerifyCmd struct {
	Dir string `arg:"" optional:"" help:"Data directory." type:"path"`
}

func (c *VerifyCmd) Run(g *Globals, out io.Writer) error {
	rec, store, err := loadControl(g, c.Dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: ok (crc %#08x)\n", store.Path(), rec.Checksum())
	return nil
}

// loadControl reads the control file without taking the directory lock, so
// it works while the directory is in use.
func loadControl(g *Globals, arg string) (control.Record, *control.Store, error) {
	cfg, log, err := g.setup()
	if err != nil {
		return control.Record{}, nil, err
	}
	defer func() { _ = log.Sync() }()

	dir, err := dataDir(arg, cfg)
	if err != nil {
		return control.Record{}, nil, err
	}
	store := control.NewStore(blockio.SystemIO{}, dir, control.WithLogger(log))
	rec, err := store.Load()
	if err != nil {
		return control.Record{}, store, err
	}
	return rec, store, nil
}

func newParser(cli *CLI, out io.Writer, options ...kong.Option) (*kong.Kong, error) {
	options = append([]kong.Option{
		kong.Name("wbtctl"),
		kong.Description("Initialize, inspect and verify wbtree data directories."),
		kong.UsageOnError(),
		kong.Bind(&cli.Globals),
		kong.BindTo(out, (*io.Writer)(nil)),
	}, options...)
	return kong.New(cli, options...)
}

func main() {
	var cli CLI
	parser, err := newParser(&cli, os.Stdout)
	if err != nil {
		panic(err)
	}
	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)
	ctx.FatalIfErrorf(ctx.Run())
}

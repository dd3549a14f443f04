// Command gojostore administers gojostore store files: objects, indexes,
// backups and resource history, from the command line or an interactive shell.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/sushant-115/gojostore/core/indexmanager"
	"github.com/sushant-115/gojostore/pkg/config"
	"github.com/sushant-115/gojostore/pkg/logger"
	"github.com/sushant-115/gojostore/pkg/telemetry"
	"go.uber.org/zap"
)

const version = "0.1.0"

// CLI defines the command-line interface for gojostore.
type CLI struct {
	Config   string `name:"config" short:"c" help:"YAML configuration file" type:"existingfile"`
	DataDir  string `name:"data-dir" short:"d" help:"Directory holding store files (overrides config)"`
	LogLevel string `name:"log-level" help:"Log level (overrides config)"`

	Commands `embed:""`

	Shell   ShellCmd   `cmd:"" help:"Start an interactive shell"`
	Version VersionCmd `cmd:"" help:"Print version information"`
}

// Commands are available both on the command line and inside the shell.
type Commands struct {
	Create   CreateCmd    `cmd:"" help:"Create a store file"`
	Put      PutCmd       `cmd:"" help:"Store a new object and print its id"`
	Get      GetCmd       `cmd:"" help:"Print an object"`
	Update   UpdateCmd    `cmd:"" help:"Replace an object's contents"`
	Remove   RemoveCmd    `cmd:"" help:"Remove an object"`
	Index    IndexGroup   `cmd:"" help:"Index operations"`
	Commit   CommitCmd    `cmd:"" help:"Commit pending changes"`
	Rollback RollbackCmd  `cmd:"" help:"Discard pending changes"`
	Stats    StatsCmd     `cmd:"" help:"Print page cache statistics"`
	Backup   BackupCmd    `cmd:"" help:"Copy a committed store file to the backup directory"`
	History  HistoryGroup `cmd:"" help:"Resource history buckets"`
}

// app is the state shared by every command of one process.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	level   zap.AtomicLevel
	manager *indexmanager.StoreManager
	out     io.Writer
	ctx     context.Context
}

func loadConfig(cli *CLI) (config.Config, error) {
	cfg := config.Default()
	if cli.Config != "" {
		loaded, err := config.Load(cli.Config)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if cli.DataDir != "" {
		cfg.Store.DataDir = cli.DataDir
	}
	if cli.LogLevel != "" {
		cfg.Logger.Level = cli.LogLevel
	}
	return cfg, cfg.Validate()
}

func newApp(ctx context.Context, cfg config.Config, tel *telemetry.Telemetry, out io.Writer) (*app, error) {
	log, level, err := logger.NewWithLevel(cfg.Logger)
	if err != nil {
		return nil, err
	}
	manager, err := indexmanager.NewStoreManager(cfg.Store, tel, log)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: log, level: level, manager: manager, out: out, ctx: ctx}, nil
}

// close commits and closes every store the process opened.
func (a *app) close() error {
	a.manager.Stop()
	err := a.manager.CloseAll(a.ctx)
	_ = a.logger.Sync()
	return err
}

func (a *app) historyRoot() string {
	return filepath.Join(a.cfg.Store.DataDir, "history")
}

func run(args []string, out io.Writer) (err error) {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("gojostore"),
		kong.Description("Embedded transactional object store administration"),
		kong.UsageOnError(),
		kong.Writers(out, out),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(&cli)
	if err != nil {
		return err
	}

	ctx := context.Background()
	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, shutdown(ctx)) }()

	a, err := newApp(ctx, cfg, tel, out)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, a.close()) }()
	return kctx.Run(a)
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "gojostore:", err)
		os.Exit(1)
	}
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run(a *app) error {
	fmt.Fprintf(a.out, "gojostore version %s\n", version)
	return nil
}

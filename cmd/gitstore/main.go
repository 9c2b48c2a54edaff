// Command gitstore inspects and edits a Git object store directly, without
// the git executable.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	objstore "github.com/ahrav/go-gitstore"
)

// app carries the global flags and the state PersistentPreRunE derives from
// them. Subcommands receive it from newRootCmd, and execute stops the
// profiler it started.
type app struct {
	gitDir      string
	configPath  string
	logLevel    string
	logFormat   string
	profileAddr string

	cfg  Config
	log  *slog.Logger
	prof *profiler
}

func main() {
	a := &app{}
	if err := execute(a, newRootCmd(a)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// execute runs root and shuts the profiler down afterwards, whether or not
// the command succeeded.
func execute(a *app, root *cobra.Command) error {
	defer func() { a.prof.stop() }()
	return root.Execute()
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "gitstore",
		Short:         "Read and write Git objects without the git executable",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.gitDir, "git-dir", "C", ".git", "repository directory holding objects/ and refs/")
	pf.StringVar(&a.configPath, "config", "", "TOML config file (default <git-dir>/gitstore.toml when present)")
	pf.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&a.logFormat, "log-format", "", "text or json")
	pf.StringVar(&a.profileAddr, "profile-addr", "", "serve pprof endpoints on this address while the command runs")

	root.AddCommand(newCatFileCmd(a))
	root.AddCommand(newLsTreeCmd(a))
	root.AddCommand(newLogCmd(a))
	root.AddCommand(newDiffCmd(a))
	root.AddCommand(newHashObjectCmd(a))
	root.AddCommand(newUpdateTreeCmd(a))
	root.AddCommand(newRevParseCmd(a))
	root.AddCommand(newVerifyCmd(a))
	return root
}

// setup loads the config file, applies flag overrides and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := loadConfig(a.configPath, a.gitDir)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	log, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log

	if a.profileAddr != "" {
		a.prof = startProfiler(a.profileAddr, log)
	}
	return nil
}

// open opens the repository with the options the config asks for.
func (a *app) open() (*objstore.Store, error) {
	opts, err := a.cfg.storeOptions(a.log)
	if err != nil {
		return nil, err
	}
	s, err := objstore.Open(a.gitDir, opts...)
	if err != nil {
		return nil, err
	}
	a.log.Debug("store opened", slog.String("git_dir", s.GitDir()))
	return s, nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmylchreest/apexlens/internal/config"
	"github.com/jmylchreest/apexlens/internal/logging"
	"github.com/jmylchreest/apexlens/pkg/antipattern"
	"github.com/jmylchreest/apexlens/pkg/apex"
	"github.com/jmylchreest/apexlens/pkg/grammar"
	"github.com/jmylchreest/apexlens/pkg/ignore"
	"github.com/jmylchreest/apexlens/pkg/rules"
	"github.com/jmylchreest/apexlens/pkg/scan"
	"github.com/jmylchreest/apexlens/pkg/store"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	root       string
	configPath string
	debug      bool
}

// app holds the loaded configuration and builds the analysis pipeline from
// it on demand.
type app struct {
	cfg *config.Config
}

// loadApp resolves the project root, loads configuration and initialises
// logging.
func loadApp(g *globalFlags) (*app, error) {
	root, err := projectRoot(g.root)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root, g.configPath)
	if err != nil {
		return nil, err
	}
	if g.debug {
		cfg.Log.Debug = true
	}
	if err := logging.Init(cfg.Log.Debug); err != nil {
		return nil, fmt.Errorf("initialising logging: %w", err)
	}
	logging.Named("config").Debugw("configuration loaded", "root", cfg.Root, "sources", cfg.Source)
	return &app{cfg: cfg}, nil
}

// projectRoot returns flag if set, otherwise the git worktree containing
// the current directory, otherwise the current directory.
func projectRoot(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	if root, err := scan.FindRoot(cwd); err == nil {
		return root, nil
	}
	return cwd, nil
}

// grammarLoader builds the loader. autoDownload is ANDed with the
// configured setting so grammar management commands can disable it.
func (a *app) grammarLoader(autoDownload bool) *grammar.CompositeLoader {
	g := a.cfg.Grammar
	return grammar.NewCompositeLoader(
		grammar.WithGrammarDir(g.Dir),
		grammar.WithBaseURL(g.BaseURL),
		grammar.WithVersion(g.Version),
		grammar.WithAutoDownload(autoDownload && g.AutoDownload),
	)
}

func (a *app) parser(ctx context.Context) (*apex.Parser, error) {
	return apex.NewParser(ctx, a.grammarLoader(true),
		apex.WithGrammar(a.cfg.Grammar.Language),
		apex.WithStrict(a.cfg.Parser.Strict),
		apex.WithJavaFallback(a.cfg.Grammar.FallbackJava),
	)
}

func (a *app) registry(ctx context.Context) (*antipattern.Registry, error) {
	p, err := a.parser(ctx)
	if err != nil {
		return nil, err
	}
	opts, err := a.cfg.RuleOptions()
	if err != nil {
		return nil, err
	}
	return rules.Default(p, opts)
}

func (a *app) scanner(ctx context.Context) (*scan.Scanner, error) {
	reg, err := a.registry(ctx)
	if err != nil {
		return nil, err
	}
	m, err := ignore.New(a.cfg.Root, a.cfg.Scan.Include)
	if err != nil {
		return nil, fmt.Errorf("loading ignore rules: %w", err)
	}
	return scan.New(reg,
		scan.WithMatcher(m),
		scan.WithConcurrency(a.cfg.Scan.Concurrency),
		scan.WithMaxFileSize(a.cfg.Scan.MaxFileSize),
	), nil
}

func (a *app) openStore() (*store.Store, error) {
	st, err := store.Open(a.cfg.Store.Dir)
	if err != nil {
		return nil, fmt.Errorf("opening findings store: %w", err)
	}
	return st, nil
}

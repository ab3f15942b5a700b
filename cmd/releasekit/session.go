package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/lyndonlyu/releasekit/internal/audit"
	"github.com/lyndonlyu/releasekit/internal/autofix"
	"github.com/lyndonlyu/releasekit/internal/ci"
	"github.com/lyndonlyu/releasekit/internal/config"
	"github.com/lyndonlyu/releasekit/internal/github"
	"github.com/lyndonlyu/releasekit/internal/gitops"
	"github.com/lyndonlyu/releasekit/internal/history"
	"github.com/lyndonlyu/releasekit/internal/logging"
	"github.com/lyndonlyu/releasekit/internal/pipeline"
	"github.com/lyndonlyu/releasekit/internal/preflight"
	"github.com/lyndonlyu/releasekit/internal/prompt"
	"github.com/lyndonlyu/releasekit/internal/publish"
	"github.com/lyndonlyu/releasekit/internal/redact"
	"github.com/lyndonlyu/releasekit/internal/runner"
)

// session holds what every command needs: config, logger and the audit
// trail.
type session struct {
	cfg      *config.Config
	dir      string
	log      *log.Logger
	redactor *redact.Redactor
	audit    *audit.Logger
	closers  []func() error
}

func openSession(cmd *cobra.Command) (*session, error) {
	dir, err := filepath.Abs(repoDir)
	if err != nil {
		return nil, err
	}
	path := configPath
	if path == "" {
		path = filepath.Join(dir, ".releasekit.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("failed to create dirs: %w", err)
	}

	logger, closeLog, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, dir: dir, log: logger, closers: []func() error{closeLog}}

	var secrets []string
	for _, v := range []string{cfg.GitHubToken(), cfg.AIKey()} {
		if v != "" {
			secrets = append(secrets, v)
		}
	}
	s.redactor = redact.New(redact.Config{Literals: secrets})

	al, err := audit.NewLogger(cfg.AuditDir())
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("audit error: %w", err)
	}
	al.SetRedactor(s.redactor)
	s.audit = al
	return s, nil
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.log.Warn("close", "err", err)
		}
	}
	s.closers = nil
}

// runner drops the AI key from the environment of every spawned command.
func (s *session) runner() runner.Runner {
	return runner.New(runner.Options{DropEnv: []string{s.cfg.AutoFix.AI.APIKeyEnv}})
}

// repo opens the repository. A directory that is not a repository yields a
// nil Repo so that the pipeline reports it as a precondition failure.
func (s *session) repo(run runner.Runner) (pipeline.Repo, error) {
	r, err := gitops.Open(s.dir, gitops.WithRunner(run))
	if errors.Is(err, gitops.ErrNotRepository) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *session) githubClient() *github.Client {
	gh := s.cfg.GitHub
	client := github.NewClient(github.Options{
		BaseURL: gh.APIURL,
		Token:   s.cfg.GitHubToken(),
		Owner:   gh.Owner,
		Repo:    gh.Repo,
	})
	if !client.Available() {
		return nil
	}
	return client
}

func (s *session) validator(run runner.Runner) pipeline.Validator {
	if len(s.cfg.Preflight) == 0 {
		return nil
	}
	return preflight.FromConfig(s.cfg.Preflight, run, s.dir)
}

func (s *session) fixer(run runner.Runner) *autofix.Engine {
	ai := s.cfg.AutoFix.AI
	var assistant autofix.Assistant
	if ai.Enabled && s.cfg.AIKey() != "" {
		assistant = autofix.NewOpenAIAssistant(s.cfg.AIKey(), ai.Model, ai.BaseURL)
	} else if ai.Enabled {
		s.log.Warn("AI auto-fix enabled but no key", "env", ai.APIKeyEnv)
	}
	return autofix.New(autofix.Options{
		Dir:         s.dir,
		Runner:      run,
		Basic:       s.cfg.AutoFix.Basic,
		FixCommands: autofix.FixCommands(s.cfg.Preflight),
		Assistant:   assistant,
		MaxAttempts: ai.MaxAttempts,
		Redactor:    s.redactor,
		Logger:      s.log.WithPrefix("autofix"),
	})
}

// deps wires the pipeline collaborators from config. Interfaces are only
// assigned when the concrete value exists.
func (s *session) deps(cmd *cobra.Command) (pipeline.Deps, error) {
	cfg := s.cfg
	run := s.runner()
	repo, err := s.repo(run)
	if err != nil {
		return pipeline.Deps{}, err
	}

	deps := pipeline.Deps{
		Repo:      repo,
		Runner:    run,
		Preflight: s.validator(run),
		Fixer:     s.fixer(run),
		Audit:     s.audit,
		Logger:    s.log,
		Confirm:   prompt.Terminal{Accessible: os.Getenv("ACCESSIBLE") != ""},
		Observer: pipeline.ObserverFunc(func(state pipeline.State, detail string) {
			fmt.Fprintln(cmd.ErrOrStderr(), styleDim.Render(fmt.Sprintf("» %s %s", state, detail)))
		}),
	}

	client := s.githubClient()
	if cfg.GitHub.Enabled && client != nil {
		deps.Releases = client
	}
	if cfg.Publish.Enabled {
		deps.Publisher = publish.NewVerifier(publish.Options{
			RegistryURL:  cfg.Publish.RegistryURL,
			MaxAttempts:  cfg.Publish.MaxAttempts,
			PollInterval: cfg.Publish.PollInterval,
			Timeout:      cfg.Publish.Timeout,
			Logger:       s.log.WithPrefix("jsr"),
		})
		if cfg.Publish.WaitForCI && client != nil {
			deps.CI = ci.NewMonitor(client, ci.Options{
				Workflow:     cfg.CI.Workflow,
				PollInterval: cfg.CI.PollInterval,
				Timeout:      cfg.CI.Timeout,
				Logger:       s.log.WithPrefix("ci"),
			})
		}
	}

	db, err := history.Open(cfg.HistoryPath())
	if err != nil {
		s.log.Warn("history unavailable", "err", err)
	} else {
		deps.History = db
		s.closers = append(s.closers, db.Close)
	}
	return deps, nil
}

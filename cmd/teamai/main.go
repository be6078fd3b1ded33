// Package main is the entry point for the team-ai engine.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Prototype-Cafe-LLC/team-ai/internal/agent"
	"github.com/Prototype-Cafe-LLC/team-ai/internal/bus"
	"github.com/Prototype-Cafe-LLC/team-ai/internal/conductor"
	"github.com/Prototype-Cafe-LLC/team-ai/internal/config"
	"github.com/Prototype-Cafe-LLC/team-ai/internal/ipc"
	"github.com/Prototype-Cafe-LLC/team-ai/internal/logging"
	"github.com/Prototype-Cafe-LLC/team-ai/internal/relay"
	"github.com/Prototype-Cafe-LLC/team-ai/internal/store"
	"github.com/Prototype-Cafe-LLC/team-ai/internal/workflow"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var (
		configPath string
		debug      bool
	)

	root := &cobra.Command{
		Use:           "teamai",
		Short:         "Multi-agent workflow engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration JSON file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, debug)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("teamai %s (commit=%s, built=%s)\n", version, commit, date)
		},
	}

	root.AddCommand(serve, versionCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

func runServe(configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, logCloser := logging.New(cfg.LogPath, debug)
	defer logCloser.Close()

	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	st := store.New(db, time.Duration(cfg.RecordTTLHours)*time.Hour, cfg.MaxIterations)
	b := bus.New(cfg.HistoryCapacity)

	policy := workflow.Policy{
		MaxIterations: cfg.MaxIterations,
		CallTimeout:   time.Duration(cfg.CallTimeoutSec) * time.Second,
		OnExhausted:   workflow.ExhaustedPolicy(cfg.ExhaustedPolicy),
	}
	cond := conductor.New(st, b, policy, log)

	hub := relay.NewHub(b, log)
	hub.Start()
	defer hub.Stop()

	if err := registerAgents(cond, cfg, hub); err != nil {
		return fmt.Errorf("register agents: %w", err)
	}

	sweeper := store.NewSweeper(st, time.Duration(cfg.SweepIntervalSec)*time.Second, log)
	sweeper.Start(context.Background())
	defer sweeper.Stop()

	handler := &ipc.Handler{
		Conductor: cond,
		Bus:       b,
		Hub:       hub,
	}
	srv := ipc.NewServer(handler, cfg.ListenAddr)

	// Graceful shutdown on interrupt.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("shutting down")

		cond.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("server shutdown", "error", err)
		}
	}()

	log.Info("team-ai engine listening", "addr", cfg.ListenAddr)

	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// loadConfig resolves the config path: --config flag > TEAMAI_CONFIG env >
// auto-discover next to the exe or in the cwd > built-in defaults.
func loadConfig(configPath string) (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("TEAMAI_CONFIG")
	}
	if path == "" {
		path = discoverConfig()
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// discoverConfig looks for config.json next to the executable, then in the cwd.
func discoverConfig() string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "config.json")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if _, err := os.Stat("config.json"); err == nil {
		return "config.json"
	}
	return ""
}

// registerAgents wires one producer and one reviewer per phase. Roles
// with a configured command run as subprocess participants streaming to
// the hub; unconfigured roles fall back to scripted stand-ins so the
// pipeline stays runnable during development.
func registerAgents(cond *conductor.Conductor, cfg *config.Config, hub *relay.Hub) error {
	for _, role := range agent.Roles() {
		phase, kind, err := agent.ResolveRole(role)
		if err != nil {
			return err
		}

		ac, configured := cfg.Agents[string(role)]
		if configured {
			cmdAgent := &agent.CommandAgent{
				AgentID: string(role),
				Spec: agent.CommandSpec{
					Command: ac.Command,
					Args:    ac.Args,
					Env:     ac.Env,
				},
				Sink: hub.StreamSink,
			}
			if kind == agent.KindMain {
				err = cond.RegisterProducer(string(role), phase, cmdAgent)
			} else {
				err = cond.RegisterReviewer(string(role), phase, cmdAgent)
			}
			if err != nil {
				return err
			}
			continue
		}

		cond.Log.Info("no command configured, using scripted stand-in", "role", role)
		if kind == agent.KindMain {
			err = cond.RegisterProducer(string(role), phase, &agent.ScriptedProducer{
				AgentID: string(role),
				Prefix:  string(phase) + " ",
				Sink:    hub.StreamSink,
			})
		} else {
			err = cond.RegisterReviewer(string(role), phase, &agent.ScriptedReviewer{
				AgentID: string(role),
			})
		}
		if err != nil {
			return err
		}
	}
	return nil
}

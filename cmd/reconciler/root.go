// Package main implements the reconciler command line tool: it ties the
// parser, resolver, planner, dependency graph, throttle, executor, and
// checkpoint store into one cobra command tree, grounded on the
// migration tool's CLI struct (internal/checkpoint/migrations/cli.go).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bamops/reconciler/internal/bamclient"
	"github.com/bamops/reconciler/internal/config"
	"github.com/bamops/reconciler/internal/resolver"
	"github.com/bamops/reconciler/pkg/logger"
)

// appVersion is stamped at build time via -ldflags; left as a plain
// default for a `go run` or unadorned `go build`.
var appVersion = "dev"

// CLI holds the shared state every subcommand needs: configuration,
// logger, and lazily-built remote client.
type CLI struct {
	configPath string
	cfg        *config.Config
	log        *slog.Logger
}

func newCLI() *CLI {
	return &CLI{}
}

func (c *CLI) loadConfig() error {
	cfg, err := config.LoadConfig(c.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	c.cfg = cfg
	c.log = logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	return nil
}

func (c *CLI) client() *bamclient.Client {
	return c.clientWithDangerousOps(c.cfg.BAM.AllowDangerousOps)
}

func (c *CLI) clientWithDangerousOps(allowDangerousOps bool) *bamclient.Client {
	return bamclient.New(bamclient.Config{
		BaseURL:           c.cfg.BAM.URL,
		Username:          c.cfg.BAM.Username,
		Password:          c.cfg.BAM.Password,
		APIVersion:        c.cfg.BAM.APIVersion,
		VerifySSL:         c.cfg.BAM.VerifySSL,
		MaxConnections:    c.cfg.BAM.MaxConnections,
		MaxKeepalive:      c.cfg.BAM.MaxKeepalive,
		RequestTimeout:    c.cfg.BAM.RequestTimeout,
		AllowDangerousOps: allowDangerousOps,
		PageSize:          c.cfg.BAM.PageSize,
		Logger:            c.log,
	})
}

func newSessionID() string {
	return uuid.NewString()
}

// resolverConfig builds a resolver.Config from the loaded configuration,
// enabling the shared Redis tier only when cfg.Redis.Addr is set (the
// Standard profile).
func (c *CLI) resolverConfig(bypassCache bool) resolver.Config {
	return resolver.Config{
		DBPath:         c.cfg.Resolver.OnDiskPath,
		InMemorySize:   c.cfg.Resolver.InMemorySize,
		PositiveTTL:    c.cfg.Resolver.PositiveTTL,
		NegativeTTL:    c.cfg.Resolver.NegativeTTL,
		ViewContextTTL: c.cfg.Resolver.ViewContextTTL,
		BypassCache:    bypassCache,
		RedisAddr:      c.cfg.Redis.Addr,
		RedisPassword:  c.cfg.Redis.Password,
		RedisDB:        c.cfg.Redis.DB,
	}
}

// GetRootCommand assembles the full command tree.
func (c *CLI) GetRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "reconciler",
		Short: "Reconcile tabular network-resource data against the Address-Management API",
		Long:  "reconciler imports block/network/address/DHCP/DNS/device rows from a tabular file and drives the remote Address-Management API to match them.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.loadConfig()
		},
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to a YAML configuration file")

	root.AddCommand(
		c.validateCommand(),
		c.applyCommand(),
		c.rollbackCommand(),
		c.exportCommand(),
		c.statusCommand(),
		c.historyCommand(),
		c.selfTestCommand(),
		c.fixCommand(),
		c.serveCommand(),
		c.versionCommand(),
		c.migrateCommand(),
	)

	return root
}

func (c *CLI) Execute() error {
	return c.GetRootCommand().Execute()
}

func main() {
	cli := newCLI()
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/askflow"
	"github.com/BaSui01/askflow/config"
)

// Build metadata, injected via -ldflags at release time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealth(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to the YAML config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := askflow.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("askflow starting",
		zap.String("version", Version),
		zap.String("commit", GitCommit),
	)

	srv := NewServer(cfg, *configPath, logger)
	if err := srv.Start(); err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}
	srv.WaitForShutdown()
}

func runHealth(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "gateway base URL")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("healthy")
}

func printVersion() {
	fmt.Printf("askflow %s\n", Version)
	fmt.Printf("  build time: %s\n", BuildTime)
	fmt.Printf("  git commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Print(`askflow - multi-provider streaming LLM gateway

Usage:
  askflow <command> [flags]

Commands:
  serve      Start the gateway
  migrate    Run schema migrations (up|down|down-all|steps|goto|force|version|status|info)
  version    Print build information
  health     Probe a running gateway
  help       Show this help

Flags for serve:
  --config   Path to the YAML config file (env vars override file values)

Flags for migrate:
  --config   Path to the YAML config file
  --db-type  Override the store type (sqlite|mysql|postgres)
  --db-url   Override the store DSN

Examples:
  askflow serve --config config.yaml
  askflow migrate up --config config.yaml
  askflow health --addr http://localhost:8080
`)
}

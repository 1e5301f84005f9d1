package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"msls/internal/app"
	"msls/internal/config"
)

const version = "0.1.0"

var (
	configPath   = flag.String("config", "./msls.toml", "Path to config file")
	tcpAddr      = flag.String("tcp", "", "Serve LSP over TCP instead of stdio")
	logFile      = flag.String("log-file", "", "Write logs to a file instead of stderr")
	verbose      = flag.Bool("verbose", false, "Enable verbose logging")
	printVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *printVersion {
		fmt.Printf("msls v%s\n", version)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *tcpAddr != "" {
		cfg.Server.TCPAddr = *tcpAddr
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}

	// Logs must stay off stdout, the LSP transport owns it.
	verbosity := cfg.Log.Verbosity
	if *verbose {
		verbosity = 2
	}
	var path *string
	if cfg.Log.File != "" {
		path = &cfg.Log.File
	}
	commonlog.Configure(verbosity, path)
	log := commonlog.GetLogger("msls")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, version)
	if err != nil {
		log.Criticalf("failed to initialize: %v", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		a.Shutdown(context.Background())
	}()

	if err := a.Run(ctx); err != nil {
		log.Criticalf("server failed: %v", err)
		os.Exit(1)
	}
}

// loadConfig falls back to built-in defaults when the default config path
// does not exist; an explicitly given path must load.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !flagWasSet("config") {
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			return config.Default(), nil
		}
	}
	return nil, err
}

func flagWasSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

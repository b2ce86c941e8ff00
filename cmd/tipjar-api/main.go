package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cypherpunk-tipjar/tipjar/internal/config"
	"github.com/cypherpunk-tipjar/tipjar/internal/httpapi"
	"github.com/cypherpunk-tipjar/tipjar/internal/logging"
	"github.com/cypherpunk-tipjar/tipjar/internal/tiers"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Getenv); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(argv []string, stdout io.Writer, getenv func(string) string) error {
	if len(argv) == 0 || argv[0] == "-h" || argv[0] == "--help" || argv[0] == "help" {
		usage(stdout)
		return nil
	}

	switch argv[0] {
	case "serve":
		return cmdServe(argv[1:], getenv)
	case "init-comp-def":
		return cmdInitCompDef(argv[1:], stdout, getenv)
	case "accounts":
		return cmdAccounts(argv[1:], stdout, getenv)
	case "tier":
		return cmdTier(argv[1:], stdout, getenv)
	default:
		return fmt.Errorf("unknown command: %s", argv[0])
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "tipjar-api: verifies Solana donations and relays amounts for private tiering")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  tipjar-api serve [--port <n>]")
	fmt.Fprintln(w, "  tipjar-api init-comp-def [--timeout 2m]")
	fmt.Fprintln(w, "  tipjar-api accounts [--commitment <hex>]")
	fmt.Fprintln(w, "  tipjar-api tier <lamports>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  RPC_URL / SHARED_RPC_URL / SOLANA_RPC_URL / (HELIUS_API_KEY + HELIUS_CLUSTER)")
	fmt.Fprintln(w, "  DONATION_SOL_ADDRESS, TIPJAR_PROGRAM_ID, API_SIGNER_KEYPAIR_PATH, CALLBACK_MODE")
	fmt.Fprintln(w, "  MXE_PROGRAM_ID, MXE_ACCOUNT_ADDR, ARCIUM_PROGRAM_ID, ARCIUM_CLUSTER_OFFSET")
	fmt.Fprintln(w, "  CONFIG_FILE, DEPLOYMENT_FILE + DEPLOYMENT_NAME, REDIS_URL, LOG_LEVEL, LOG_FORMAT")
	fmt.Fprintln(w, "  RATE_LIMIT_MAX, RATE_LIMIT_WINDOW, TRUSTED_PROXIES, CLAIM_TTL")
}

func loadConfig(getenv func(string) string) (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(getenv)
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

func cmdServe(argv []string, getenv func(string) string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var port int
	fs.IntVar(&port, "port", 0, "Listen port (default: PORT or 3001)")

	if err := fs.Parse(argv); err != nil {
		return err
	}
	if len(fs.Args()) != 0 {
		return fmt.Errorf("unexpected args: %v", fs.Args())
	}

	cfg, log, err := loadConfig(getenv)
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Port = port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpapi.NewRouter(a.svc, httpapi.OptionsFromConfig(cfg), log.WithField("component", "http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"port":           cfg.Port,
			"rpcUrl":         redactURL(cfg.RPCURL),
			"callbackMode":   cfg.CallbackMode,
			"cluster":        cfg.Cluster,
			"corsAnyOrigin":  cfg.AllowsAnyOrigin(),
			"trustedProxies": cfg.TrustedProxies,
		}).Info("tip jar api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func cmdInitCompDef(argv []string, stdout io.Writer, getenv func(string) string) error {
	fs := flag.NewFlagSet("init-comp-def", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var timeout time.Duration
	fs.DurationVar(&timeout, "timeout", 2*time.Minute, "Overall timeout")

	if err := fs.Parse(argv); err != nil {
		return err
	}
	if len(fs.Args()) != 0 {
		return fmt.Errorf("unexpected args: %v", fs.Args())
	}

	cfg, log, err := loadConfig(getenv)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.InitCompDef(ctx)
	if err != nil {
		return err
	}
	out := map[string]any{"success": true, "alreadyInitialized": res.AlreadyInitialized}
	if !res.AlreadyInitialized {
		out["tx"] = res.Tx
		out["explorerUrl"] = cfg.ExplorerURL(res.Tx)
	}
	return printJSON(stdout, out)
}

func cmdAccounts(argv []string, stdout io.Writer, getenv func(string) string) error {
	fs := flag.NewFlagSet("accounts", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var commitmentHex string
	fs.StringVar(&commitmentHex, "commitment", "", "Also print the receipt address for this commitment")

	if err := fs.Parse(argv); err != nil {
		return err
	}
	if len(fs.Args()) != 0 {
		return fmt.Errorf("unexpected args: %v", fs.Args())
	}

	cfg, err := config.Load(getenv)
	if err != nil {
		return err
	}
	rep, err := accountsReport(cfg, commitmentHex)
	if err != nil {
		return err
	}
	return printJSON(stdout, rep)
}

func cmdTier(argv []string, stdout io.Writer, getenv func(string) string) error {
	if len(argv) != 1 {
		return errors.New("usage: tipjar-api tier <lamports>")
	}
	lamports, err := strconv.ParseUint(strings.TrimSpace(argv[0]), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid lamports %q: %w", argv[0], err)
	}
	cfg, err := config.Load(getenv)
	if err != nil {
		return err
	}
	return printJSON(stdout, map[string]any{
		"lamports":   lamports,
		"tier":       tiers.Classify(lamports, cfg.Tiers),
		"thresholds": cfg.Tiers,
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// redactURL drops query strings, which carry API keys for hosted RPCs.
func redactURL(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i] + "?<redacted>"
	}
	return u
}

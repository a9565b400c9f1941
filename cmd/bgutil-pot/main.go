package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/bgutil/potprovider/internal/api"
	"github.com/bgutil/potprovider/internal/audit"
	"github.com/bgutil/potprovider/internal/cache"
	"github.com/bgutil/potprovider/internal/config"
	"github.com/bgutil/potprovider/internal/filecache"
	"github.com/bgutil/potprovider/internal/innertube"
	"github.com/bgutil/potprovider/internal/model"
	"github.com/bgutil/potprovider/internal/session"
	"github.com/bgutil/potprovider/internal/vm"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		contentBinding         string
		proxy                  string
		bypassCache            bool
		sourceAddress          string
		disableTLSVerification bool
		verbose                bool
		visitorDataFlag        string
		dataSyncIDFlag         string
		configFile             string
	)

	root := &cobra.Command{
		Use:           "bgutil-pot",
		Short:         "Mint Proof-of-Origin tokens",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if visitorDataFlag != "" || dataSyncIDFlag != "" {
				fmt.Fprintln(os.Stderr, "-v/--visitor-data and -d/--data-sync-id are deprecated; use -c/--content-binding")
				return fmt.Errorf("deprecated flag used")
			}

			cfg, err := config.Load(config.Overrides{Verbose: verbose, ConfigFile: configFile})
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				fmt.Println("{}")
				return err
			}
			logger := config.NewLogger(os.Stderr, cfg.LogLevel)

			mgr, cleanup, err := buildManager(cfg, logger, disableTLSVerification)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				fmt.Println("{}")
				return err
			}
			defer cleanup()

			cachePath := filecache.Path(cfg.CacheDir)
			if loaded, loadErr := filecache.Load(cachePath, time.Now()); loadErr == nil {
				mgr.ImportTokens(loaded)
			}

			req := model.PotRequest{
				ContentBinding:         contentBinding,
				Proxy:                  proxy,
				BypassCache:            bypassCache,
				SourceAddress:          sourceAddress,
				DisableTLSVerification: disableTLSVerification,
				// One-shot CLI mode always disables the Innertube fetch
				// path, regardless of config/env; only the server path
				// honors DISABLE_INNERTUBE.
				DisableInnertube: true,
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
			defer cancel()

			tok, err := mgr.Generate(ctx, req)
			if err != nil {
				logger.Error("generate failed", "error", err)
				fmt.Println("{}")
				return err
			}

			if saveErr := filecache.Save(cachePath, mgr.ExportTokens()); saveErr != nil {
				logger.Warn("failed to persist token cache", "error", saveErr)
			}

			out, err := json.Marshal(tok)
			if err != nil {
				fmt.Println("{}")
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	root.Flags().StringVarP(&contentBinding, "content-binding", "c", "", "content identifier to bind the token to")
	root.Flags().StringVarP(&proxy, "proxy", "p", "", "proxy URL for upstream requests")
	root.Flags().BoolVarP(&bypassCache, "bypass-cache", "b", false, "force a fresh mint, bypassing the token cache")
	root.Flags().StringVarP(&sourceAddress, "source-address", "s", "", "local source address for upstream requests")
	root.Flags().BoolVar(&disableTLSVerification, "disable-tls-verification", false, "skip TLS certificate verification on upstream requests")
	root.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	root.Flags().StringVarP(&visitorDataFlag, "visitor-data", "v", "", "deprecated, use --content-binding")
	root.Flags().StringVarP(&dataSyncIDFlag, "data-sync-id", "d", "", "deprecated, use --content-binding")
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to TOML config file")

	root.AddCommand(newServerCmd())
	return root
}

func newServerCmd() *cobra.Command {
	var (
		port       int
		host       string
		configFile string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the POT provider HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ov := config.Overrides{Verbose: verbose, ConfigFile: configFile}
			if host != "" {
				ov.Host = &host
			}
			if port != 0 {
				ov.Port = &port
			}

			cfg, err := config.Load(ov)
			if err != nil {
				return err
			}
			logger := config.NewLogger(os.Stdout, cfg.LogLevel)

			mgr, cleanup, err := buildManager(cfg, logger, false)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
				logger.Warn("could not create cache dir, audit store disabled", "error", err)
			}
			store, err := audit.Open(filepath.Join(cfg.CacheDir, "audit.db"))
			if err != nil {
				logger.Warn("audit store disabled", "error", err)
			} else {
				defer store.Close()
				mgr.SetAuditSink(store)
			}

			addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
			srv := api.NewServer(addr, mgr, logger)
			return srv.Run()
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port")
	cmd.Flags().StringVar(&host, "host", "", "listen host")
	cmd.Flags().StringVar(&configFile, "config", "", "path to TOML config file")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	return cmd
}

// buildManager wires C1-C5 per the resolved settings, returning a cleanup
// func that shuts the VM worker down.
func buildManager(cfg config.Settings, logger *slog.Logger, disableTLSVerification bool) (*session.Manager, func(), error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	if disableTLSVerification {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		}
	}

	worker := vm.NewWorker(cfg.SnapshotPath, logger)
	minters := cache.NewMinterCache()
	tokens := cache.NewTokenCache()
	client := innertube.NewClient(httpClient)

	mgr := session.New(worker, minters, tokens, client, cfg, logger)
	return mgr, func() { mgr.Shutdown() }, nil
}

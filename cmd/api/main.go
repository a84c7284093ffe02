package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bryanwahyu/automaton-tee/internal/application/attest"
	"github.com/bryanwahyu/automaton-tee/internal/config"
	domain "github.com/bryanwahyu/automaton-tee/internal/domain/attestation"
	"github.com/bryanwahyu/automaton-tee/internal/infra/codec"
	"github.com/bryanwahyu/automaton-tee/internal/infra/httpserver"
)

// diisi lewat -ldflags saat build
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "automaton-tee",
		Short:        "Local development substitute for a TEE dataset attestation service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $CONFIG_PATH or config.yaml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context(), configPath)
			},
		},
		analyzeCmd(&configPath),
		verifyCmd(),
		&cobra.Command{
			Use:   "validate",
			Short: "Validate the configuration and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				if _, err := loadConfig(configPath); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "automaton-tee %s (%s) measurement=%s\n", version, commit, domain.EnclaveMeasurement)
			},
		},
	)
	return root
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config invalid: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpserver.NewRouter(a.router()),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithFields(logrus.Fields{
			"addr":          addr,
			"enclavePubKey": a.keys.PublicKeyHex(),
			"mode":          cfg.Response.Mode,
		}).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// graceful shutdown
	a.log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func analyzeCmd(configPath *string) *cobra.Command {
	var (
		req     domain.DatasetRequest
		asCBOR  bool
		persist bool
	)
	cmd := &cobra.Command{
		Use:   "analyze <blob-id>",
		Short: "Run the attestation pipeline once and print the envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := build(cmd.Context(), cfg, persist)
			if err != nil {
				return err
			}
			defer a.Close()

			req.EncryptedDataBlobID = args[0]
			res, err := a.attest.Analyze(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeEnvelope(cmd.OutOrStdout(), res, asCBOR)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.DatasetID, "dataset-id", "", "dataset id")
	f.StringVar(&req.DatasetMerkleRoot, "merkle-root", "", "dataset merkle root")
	f.StringVar(&req.PolicyVersion, "policy-version", "", "policy version")
	f.StringVar(&req.ModelVersion, "model-version", "", "model version")
	f.BoolVar(&asCBOR, "cbor", false, "write deterministic CBOR instead of JSON")
	f.BoolVar(&persist, "persist", false, "also write to the configured database and object store")
	return cmd
}

func writeEnvelope(w io.Writer, res *attest.Result, asCBOR bool) error {
	if asCBOR {
		b, err := codec.Marshal(res.Response)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res.Response)
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [envelope.json|-]",
		Short: "Verify a signed envelope (JSON or CBOR)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				raw []byte
				err error
			)
			if len(args) == 0 || args[0] == "-" {
				raw, err = io.ReadAll(cmd.InOrStdin())
			} else {
				raw, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}

			var env domain.AnalyzeDatasetResponse
			if jerr := json.Unmarshal(raw, &env); jerr != nil {
				if cerr := codec.Unmarshal(raw, &env); cerr != nil {
					return fmt.Errorf("envelope is neither JSON (%v) nor CBOR (%v)", jerr, cerr)
				}
			}
			v := attest.Verify(&env)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(v); err != nil {
				return err
			}
			if !v.Valid {
				return errors.New("envelope failed verification")
			}
			return nil
		},
	}
}

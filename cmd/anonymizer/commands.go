package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"text-anonymizer/internal/anonymizer"
	"text-anonymizer/internal/config"
	"text-anonymizer/internal/detector"
	"text-anonymizer/internal/logger"
	"text-anonymizer/internal/metrics"
	"text-anonymizer/internal/report"
	"text-anonymizer/internal/server"
	"text-anonymizer/internal/store"
)

// Output file names written by "anonymize --out".
const (
	anonymizedFile = "anonymized_text.txt"
	originalFile   = "original_text.txt"
	mappingsFile   = "entity_mappings.txt"
	statisticsFile = "statistics.txt"
)

// app holds what every subcommand needs once flags are parsed.
type app struct {
	cfgFile  string
	logLevel string

	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "anonymizer",
		Short: "Replace sensitive entities in text with reversible placeholders",
		Long: `anonymizer detects people, organizations, locations, emails, phone numbers
and URLs in a document and replaces each distinct entity with a placeholder
such as [PER_1]. The placeholder mapping of every run is saved under a session
ID so the document can be restored.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", config.DefaultFile, "JSON config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides config")

	root.AddCommand(newAnonymizeCmd(a), newRestoreCmd(a), newForgetCmd(a), newServeCmd(a))
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	a.log = logger.NewWithWriter("cli", "info", cmd.ErrOrStderr())
	cfg, err := config.Load(a.cfgFile, a.log)
	if err != nil {
		return err
	}
	a.cfg = cfg
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	a.log.SetLevel(cfg.LogLevel)
	a.metrics = metrics.New()
	return nil
}

func (a *app) openStore() (store.MappingStore, error) {
	return store.Open(a.cfg.StorePath, a.log.Module("store"))
}

// newService wires detector, labeler and store from the loaded config.
func (a *app) newService(st store.MappingStore, useNER bool) *anonymizer.Service {
	var labeler *detector.Labeler
	if useNER {
		oracle := detector.NewOllamaOracle(a.cfg.OllamaEndpoint, a.cfg.OllamaModel,
			a.cfg.OllamaMaxConcurrent, a.cfg.OracleCacheSize, a.log.Module("ollama"))
		labeler = detector.NewLabeler(oracle, detector.LabelerConfig{
			Threshold:     a.cfg.ConfidenceThreshold,
			UnknownLabels: a.cfg.UnknownLabels(),
			Timeout:       a.cfg.OracleTimeout(),
		}, a.log.Module("labeler"), a.metrics)
	}
	det := detector.New(detector.Config{
		TokenChunkSize:    a.cfg.TokenChunkSize,
		TokenChunkOverlap: a.cfg.TokenChunkOverlap,
		RegexChunkSize:    a.cfg.RegexChunkSize,
		RegexChunkOverlap: a.cfg.RegexChunkOverlap,
		Workers:           a.cfg.Workers,
	}, labeler, a.log.Module("detector"), a.metrics)

	return anonymizer.NewService(det, st, anonymizer.ServiceConfig{
		Supported:  a.cfg.Labels(),
		MaxRetries: a.cfg.MaxPlaceholderRetries,
	}, a.log.Module("anonymizer"), a.metrics)
}

// readInput reads the named file, or the command's stdin when args is empty.
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		return data, errors.Wrap(err, "read stdin")
	}
	data, err := os.ReadFile(args[0])
	return data, errors.Wrapf(err, "read %s", args[0])
}

func newAnonymizeCmd(a *app) *cobra.Command {
	var (
		outDir      string
		noNER       bool
		asJSON      bool
		showMetrics bool
	)
	cmd := &cobra.Command{
		Use:   "anonymize [file]",
		Short: "Anonymize a document (stdin when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck // best-effort close

			svc := a.newService(st, a.cfg.UseNER && !noNER)
			var res *anonymizer.Result
			if asJSON {
				res, err = svc.ProcessJSON(cmd.Context(), input)
			} else {
				res, err = svc.Process(cmd.Context(), string(input))
			}
			if err != nil {
				return err
			}

			if outDir != "" {
				if err := writeOutputs(outDir, res); err != nil {
					return err
				}
			} else if _, err := io.WriteString(cmd.OutOrStdout(), res.Text); err != nil {
				return errors.Wrap(err, "write output")
			}

			stderr := cmd.ErrOrStderr()
			fmt.Fprintf(stderr, "session: %s\n", res.SessionID)
			fmt.Fprintf(stderr, "entities: %d (%d unique)\n", res.Stats.TotalEntities, res.Stats.UniqueEntities)
			if showMetrics {
				enc := json.NewEncoder(stderr)
				enc.SetIndent("", "  ")
				return errors.Wrap(enc.Encode(a.metrics.Snapshot()), "write metrics")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "write "+anonymizedFile+", "+originalFile+", "+mappingsFile+" and "+statisticsFile+" to this directory")
	cmd.Flags().BoolVar(&noNER, "no-ner", false, "skip the model and use patterns only")
	cmd.Flags().BoolVar(&asJSON, "json", false, "treat input as JSON and anonymize its string values")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "print pipeline metrics to stderr")
	return cmd
}

func writeOutputs(dir string, res *anonymizer.Result) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	write := func(name string, fn func(io.Writer) error) error {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return errors.Wrapf(err, "create %s", name)
		}
		if err := fn(f); err != nil {
			f.Close() //nolint:errcheck // already failing
			return err
		}
		return errors.Wrapf(f.Close(), "close %s", name)
	}
	text := func(s string) func(io.Writer) error {
		return func(w io.Writer) error {
			_, err := io.WriteString(w, s)
			return err
		}
	}

	if err := write(anonymizedFile, text(res.Text)); err != nil {
		return err
	}
	if err := write(originalFile, text(res.Original)); err != nil {
		return err
	}
	if err := write(mappingsFile, func(w io.Writer) error { return report.WriteMapping(w, res.Pairs) }); err != nil {
		return err
	}
	return write(statisticsFile, func(w io.Writer) error { return report.WriteStatistics(w, res.Stats) })
}

func newRestoreCmd(a *app) *cobra.Command {
	var (
		sessionID   string
		mappingFile string
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "restore [file]",
		Short: "Put the original entities back into an anonymized document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			var st store.MappingStore
			if mappingFile != "" {
				f, err := os.Open(mappingFile)
				if err != nil {
					return errors.Wrapf(err, "open %s", mappingFile)
				}
				pairs, err := report.ParseMapping(f)
				f.Close() //nolint:errcheck // read-only
				if err != nil {
					return err
				}
				// Serve the file through a throwaway in-memory session.
				st = store.NewMemory()
				sessionID = "mapping-file"
				if err := st.Save(sessionID, pairs); err != nil {
					return err
				}
			} else {
				if st, err = a.openStore(); err != nil {
					return err
				}
			}
			defer st.Close() //nolint:errcheck // best-effort close

			svc := a.newService(st, false)
			var restored string
			if asJSON {
				restored, err = svc.RestoreJSON(sessionID, input)
			} else {
				restored, err = svc.Restore(sessionID, string(input))
			}
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), restored)
			return errors.Wrap(err, "write output")
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session ID printed by anonymize")
	cmd.Flags().StringVar(&mappingFile, "mapping", "", "mapping file written by anonymize --out")
	cmd.Flags().BoolVar(&asJSON, "json", false, "treat input as JSON and restore its string values")
	cmd.MarkFlagsMutuallyExclusive("session", "mapping")
	cmd.MarkFlagsOneRequired("session", "mapping")
	return cmd
}

func newForgetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <session>",
		Short: "Delete a saved session mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck // best-effort close
			if err := st.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "forgot session %s\n", args[0])
			return nil
		},
	}
}

func newServeCmd(a *app) *cobra.Command {
	var noNER bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the anonymize and restore operations over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck // best-effort close

			useNER := a.cfg.UseNER && !noNER
			svc := a.newService(st, useNER)
			srv := server.New(a.cfg, svc, st, useNER, a.log.Module("server"), a.metrics)
			return srv.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&noNER, "no-ner", false, "skip the model and use patterns only")
	return cmd
}

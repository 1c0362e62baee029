package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yuanying/novel2epub/internal/config"
	"github.com/yuanying/novel2epub/internal/converter"
	"github.com/yuanying/novel2epub/internal/epub"
	"github.com/yuanying/novel2epub/internal/fetch"
	"github.com/yuanying/novel2epub/internal/selection"
	"github.com/yuanying/novel2epub/internal/sites"
	"github.com/yuanying/novel2epub/internal/sites/zetro"
	"github.com/yuanying/novel2epub/internal/sites/zeus"
)

// flagKeys binds command-line flags to configuration keys.
var flagKeys = []struct {
	flag string
	key  string
}{
	{"outdir", config.KeyOutputDir},
	{"log-level", config.KeyLogLevel},
	{"log-format", config.KeyLogFormat},
	{"retries", config.KeyFetchRetries},
	{"timeout", config.KeyFetchTimeout},
	{"rate-limit", config.KeyFetchRateLimit},
	{"workers", config.KeyImageWorkers},
	{"max-image-width", config.KeyImageMaxWidth},
	{"no-images", config.KeyImageDisabled},
}

type cliOptions struct {
	URL        string
	Range      string
	OutputPath string
	Config     *config.Config
	Logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "novel2epub <url> <range> <save>",
		Short: "Download a web novel and package it as an EPUB",
		Long: `novel2epub downloads chapters of a serialized web novel from a
supported site and writes them, with cover, synopsis and images, to a
single EPUB 3 file.

The range selects chapters by position in the site's table of contents:
"all", a single chapter "N" or an interval "N-M". The file is written to
<outdir>/<save>.epub.`,
		Example: `  novel2epub https://zetrotranslation.com/novel/some-novel/ all some-novel
  novel2epub --outdir books https://zeustranslations.blogspot.com/p/some-novel.html 1-20 part1`,
		Args:         cobra.ExactArgs(3),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := readCLIOptions(cmd, args)
			if err != nil {
				return err
			}
			// From here on failures are reported through the logger.
			cmd.SilenceErrors = true
			if err := run(cmd.Context(), opts); err != nil {
				opts.Logger.Error("conversion failed", "error", err)
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringP("outdir", "o", ".", "Output directory")
	flags.String("config", "", "Config file (default: ./novel2epub.yaml or ~/.config/novel2epub/novel2epub.yaml)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text, json)")
	flags.BoolP("verbose", "v", false, "Enable debug logging (overrides --log-level)")
	flags.Int("retries", fetch.DefaultRetries, "Attempts per request, including the first")
	flags.Duration("timeout", fetch.DefaultTimeout, "Timeout per request attempt")
	flags.Float64("rate-limit", 0, "Maximum requests per second (0 means unlimited)")
	flags.Int("workers", converter.DefaultWorkers, "Concurrent image downloads")
	flags.Int("max-image-width", 0, "Downscale images wider than this many pixels (0 keeps the original size)")
	flags.Bool("no-images", false, "Skip image downloads")

	cmd.AddCommand(newSitesCmd(), newInspectCmd())
	return cmd
}

func newSitesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "List supported sites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := newRegistry(nil, nil)
			for _, name := range registry.Names() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", name, siteDomains[name])
			}
			return nil
		},
	}
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file.epub>",
		Short: "Print the metadata and table of contents of an EPUB file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspect(cmd.OutOrStdout(), args[0])
		},
	}
}

var siteDomains = map[string]string{
	"zetro": zetro.Domain,
	"zeus":  zeus.Domain,
}

// newRegistry registers the built-in scrapers.
func newRegistry(f sites.Fetcher, logger *slog.Logger) *sites.Registry {
	r := sites.NewRegistry()
	r.Register(zetro.New(f, logger))
	r.Register(zeus.New(f, logger))
	return r
}

func readCLIOptions(cmd *cobra.Command, args []string) (*cliOptions, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("expected <url> <range> <save>, got %d arguments", len(args))
	}
	if _, err := selection.Parse(args[1]); err != nil {
		return nil, fmt.Errorf("invalid <range>: %w", err)
	}
	save := strings.TrimSpace(args[2])
	if save == "" {
		return nil, errors.New("<save> must not be empty")
	}

	v := config.New()
	for _, fk := range flagKeys {
		flag := cmd.Flags().Lookup(fk.flag)
		if flag == nil {
			return nil, fmt.Errorf("flag --%s is not defined", fk.flag)
		}
		if err := v.BindPFlag(fk.key, flag); err != nil {
			return nil, err
		}
	}

	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, err
	}

	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, flagError(err)
	}

	out := save
	if !filepath.IsAbs(out) {
		out = filepath.Join(cfg.OutputDir, save)
	}

	return &cliOptions{
		URL:        strings.TrimSpace(args[0]),
		Range:      args[1],
		OutputPath: converter.EnsureExtension(out),
		Config:     cfg,
		Logger:     buildLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format),
	}, nil
}

// flagError names the flag behind an invalid setting when there is one.
func flagError(err error) error {
	var fe *config.FieldError
	if !errors.As(err, &fe) {
		return err
	}
	for _, fk := range flagKeys {
		if fk.key == fe.Key {
			return fmt.Errorf("--%s: %s", fk.flag, fe.Reason)
		}
	}
	return err
}

func buildLogger(w io.Writer, level, format string) *slog.Logger {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

func run(ctx context.Context, opts *cliOptions) error {
	logger := opts.Logger
	fetcher := fetch.New(opts.Config.FetchOptions(logger))

	scraper, err := newRegistry(fetcher, logger).Lookup(opts.URL)
	if err != nil {
		return err
	}
	logger.Info("detected site", "site", scraper.Name(), "url", opts.URL)

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	b, err := scraper.Scrape(ctx, opts.URL, opts.Range)
	if err != nil {
		return fmt.Errorf("scrape failed: %w", err)
	}

	assembler := converter.NewAssembler(opts.Config.AssemblerOptions(fetcher, logger))
	out, err := assembler.Build(ctx, b, opts.OutputPath)
	if err != nil {
		return err
	}
	logger.Info("finished", "output", out)
	return nil
}

// inspect prints a summary of an EPUB file.
func inspect(w io.Writer, path string) error {
	r, err := epub.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	opf, err := r.OPF()
	if err != nil {
		return err
	}
	md := opf.Metadata
	fmt.Fprintf(w, "Title:      %s\n", md.Title)
	if md.AlternateTitle != "" {
		fmt.Fprintf(w, "Alternate:  %s\n", md.AlternateTitle)
	}
	for _, c := range md.Creators {
		fmt.Fprintf(w, "Creator:    %s (%s)\n", c.Name, c.Role)
	}
	fmt.Fprintf(w, "Language:   %s\n", md.Language)
	fmt.Fprintf(w, "Identifier: %s\n", md.Identifier)
	if !md.Modified.IsZero() {
		fmt.Fprintf(w, "Modified:   %s\n", md.Modified.Format("2006-01-02 15:04:05 MST"))
	}
	if cover, ok := opf.FindCoverImage(); ok {
		fmt.Fprintf(w, "Cover:      %s\n", cover)
	}
	fmt.Fprintf(w, "Spine:      %d documents\n", len(opf.Spine))

	if opf.NCXPath == "" {
		return nil
	}
	ncx, err := r.NCX(opf)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Contents:")
	for _, p := range ncx.NavPoints {
		fmt.Fprintf(w, "  %3d. %s\n", p.PlayOrder, p.Label)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yuanying/novel2epub/internal/book"
	"github.com/yuanying/novel2epub/internal/converter"
	"github.com/yuanying/novel2epub/internal/fetch"
	"github.com/yuanying/novel2epub/internal/sites"
)

var testArgs = []string{"https://zetrotranslation.com/novel/tower/", "1-5", "tower"}

// isolate keeps config files on the test machine out of the way.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	return dir
}

func readCLIOptionsForTest(t *testing.T, flagArgs ...string) (*cliOptions, error) {
	t.Helper()
	cmd := newRootCmd()
	if err := cmd.ParseFlags(flagArgs); err != nil {
		return nil, err
	}
	return readCLIOptions(cmd, testArgs)
}

func TestReadCLIOptions_Defaults(t *testing.T) {
	isolate(t)
	opts, err := readCLIOptions(newRootCmd(), testArgs)
	if err != nil {
		t.Fatalf("readCLIOptions() error = %v", err)
	}

	if opts.URL != testArgs[0] || opts.Range != "1-5" {
		t.Fatalf("URL, Range = %q, %q", opts.URL, opts.Range)
	}
	if opts.OutputPath != "tower.epub" {
		t.Fatalf("OutputPath = %q, want %q", opts.OutputPath, "tower.epub")
	}
	cfg := opts.Config
	if cfg.Fetch.Retries != fetch.DefaultRetries {
		t.Fatalf("Retries = %d, want %d", cfg.Fetch.Retries, fetch.DefaultRetries)
	}
	if cfg.Fetch.Timeout != fetch.DefaultTimeout {
		t.Fatalf("Timeout = %v, want %v", cfg.Fetch.Timeout, fetch.DefaultTimeout)
	}
	if cfg.Images.Workers != converter.DefaultWorkers {
		t.Fatalf("Workers = %d, want %d", cfg.Images.Workers, converter.DefaultWorkers)
	}
	if opts.Logger == nil {
		t.Fatal("Logger is nil, want non-nil")
	}
	if !opts.Logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("Logger should be enabled at INFO level by default")
	}
	if opts.Logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("Logger should not be enabled at DEBUG level by default")
	}
}

func TestReadCLIOptions_CustomFlags(t *testing.T) {
	isolate(t)
	opts, err := readCLIOptionsForTest(t,
		"--outdir", "books",
		"--retries", "5",
		"--timeout", "45s",
		"--rate-limit", "2.5",
		"--workers", "8",
		"--max-image-width", "720",
		"--no-images",
		"--log-level", "warn",
		"--verbose",
	)
	if err != nil {
		t.Fatalf("readCLIOptions() error = %v", err)
	}

	if opts.OutputPath != filepath.Join("books", "tower.epub") {
		t.Fatalf("OutputPath = %q", opts.OutputPath)
	}
	cfg := opts.Config
	if cfg.Fetch.Retries != 5 || cfg.Fetch.Timeout != 45*time.Second || cfg.Fetch.RateLimit != 2.5 {
		t.Fatalf("Fetch = %+v", cfg.Fetch)
	}
	if cfg.Images.Workers != 8 || cfg.Images.MaxWidth != 720 || !cfg.Images.Disabled {
		t.Fatalf("Images = %+v", cfg.Images)
	}
	// --verbose overrides log-level to debug
	if !opts.Logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("Logger should be enabled at DEBUG level when --verbose is set")
	}
}

func TestReadCLIOptions_ConfigFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "settings.yaml")
	if err := os.WriteFile(path, []byte("output_dir: from-file\nimages:\n  workers: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	opts, err := readCLIOptionsForTest(t, "--config", path, "--workers", "6")
	if err != nil {
		t.Fatalf("readCLIOptions() error = %v", err)
	}
	if opts.OutputPath != filepath.Join("from-file", "tower.epub") {
		t.Fatalf("OutputPath = %q", opts.OutputPath)
	}
	// Flags win over the file.
	if opts.Config.Images.Workers != 6 {
		t.Fatalf("Workers = %d, want 6", opts.Config.Images.Workers)
	}
}

func TestReadCLIOptions_Environment(t *testing.T) {
	isolate(t)
	t.Setenv("NOVEL2EPUB_FETCH_RETRIES", "9")

	opts, err := readCLIOptionsForTest(t)
	if err != nil {
		t.Fatalf("readCLIOptions() error = %v", err)
	}
	if opts.Config.Fetch.Retries != 9 {
		t.Fatalf("Retries = %d, want 9", opts.Config.Fetch.Retries)
	}
}

func TestReadCLIOptions_InvalidFlags(t *testing.T) {
	isolate(t)
	tests := []struct {
		args []string
		flag string
	}{
		{[]string{"--retries", "0"}, "--retries"},
		{[]string{"--timeout", "0s"}, "--timeout"},
		{[]string{"--workers", "0"}, "--workers"},
		{[]string{"--max-image-width", "-1"}, "--max-image-width"},
		{[]string{"--rate-limit", "-2"}, "--rate-limit"},
		{[]string{"--log-level", "trace"}, "--log-level"},
		{[]string{"--log-format", "yaml"}, "--log-format"},
	}
	for _, tt := range tests {
		_, err := readCLIOptionsForTest(t, tt.args...)
		if err == nil || !strings.Contains(err.Error(), tt.flag) {
			t.Errorf("%v: expected %s validation error, got %v", tt.args, tt.flag, err)
		}
	}
}

func TestReadCLIOptions_InvalidArgs(t *testing.T) {
	isolate(t)
	cmd := newRootCmd()
	if _, err := readCLIOptions(cmd, []string{testArgs[0], "first", "tower"}); err == nil || !strings.Contains(err.Error(), "<range>") {
		t.Fatalf("expected range error, got %v", err)
	}
	if _, err := readCLIOptions(cmd, []string{testArgs[0], "all", "  "}); err == nil {
		t.Fatal("expected error for empty save name")
	}
}

func TestReadCLIOptions_AbsoluteSave(t *testing.T) {
	dir := isolate(t)
	target := filepath.Join(dir, "elsewhere", "novel.EPUB")
	opts, err := readCLIOptions(newRootCmd(), []string{testArgs[0], "all", target})
	if err != nil {
		t.Fatalf("readCLIOptions() error = %v", err)
	}
	if opts.OutputPath != target {
		t.Fatalf("OutputPath = %q, want %q", opts.OutputPath, target)
	}
}

func TestBuildLogger_FormatNormalization(t *testing.T) {
	var buf bytes.Buffer
	logger := buildLogger(&buf, "info", "JSON")
	logger.Info("test message")
	// JSON format should produce JSON output (starts with '{')
	output := buf.String()
	if len(output) == 0 || output[0] != '{' {
		t.Fatalf("expected JSON output for format 'JSON', got: %s", output)
	}
}

func TestBuildLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := buildLogger(&buf, "warn", "text")
	logger.Info("hidden")
	logger.Warn("shown", "chapter", 3)
	output := buf.String()
	if strings.Contains(output, "hidden") || !strings.Contains(output, "msg=shown chapter=3") {
		t.Fatalf("unexpected text output: %s", output)
	}
}

func TestRun_UnsupportedSiteCreatesNothing(t *testing.T) {
	dir := isolate(t)
	opts, err := readCLIOptions(newRootCmd(), []string{"https://unknown.example/novel/", "all", "out"})
	if err != nil {
		t.Fatalf("readCLIOptions() error = %v", err)
	}
	opts.OutputPath = filepath.Join(dir, "sub", "out.epub")

	err = run(context.Background(), opts)
	if !errors.Is(err, sites.ErrUnsupportedSite) {
		t.Fatalf("run() error = %v, want ErrUnsupportedSite", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "sub")); !os.IsNotExist(statErr) {
		t.Fatalf("output directory created for an unsupported site: %v", statErr)
	}
}

func TestRootCmd_RequiresThreeArgs(t *testing.T) {
	isolate(t)
	cmd := newRootCmd()
	cmd.SetArgs([]string{"https://zetrotranslation.com/novel/tower/", "all"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an argument count error")
	}
}

func TestSitesCmd(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"sites"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	for _, want := range []string{"zetro", "zetrotranslation.com", "zeus", "zeustranslations.blogspot.com"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("sites output missing %q:\n%s", want, out.String())
		}
	}
}

func TestInspectCmd(t *testing.T) {
	dir := t.TempDir()
	b := book.New(book.Metadata{Title: "Tower Climber", Author: "Jane", AlternateTitle: "Tap"}, book.Options{})
	b.AddChapters(
		book.Chapter{Title: "Chapter 1: Start", Blocks: []book.Block{book.Text("one")}},
		book.Chapter{Title: "Chapter 2: Climb", Blocks: []book.Block{book.Text("two")}},
	)
	path, err := converter.NewAssembler(converter.Options{}).Build(context.Background(), b, filepath.Join(dir, "tower"))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"inspect", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	for _, want := range []string{
		"Title:      Tower Climber",
		"Alternate:  Tap",
		"Creator:    Jane (aut)",
		"Language:   en",
		"Identifier: urn:uuid:",
		"Spine:      4 documents",
		"1. Introduction",
		"2. Chapter 1: Start",
		"3. Chapter 2: Climb",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("inspect output missing %q:\n%s", want, out.String())
		}
	}
}

func TestInspectCmd_NotAnEPUB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.epub")
	if err := os.WriteFile(path, []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"inspect", path})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error for a non-EPUB file")
	}
}

// Package main provides the CLI entry point for subcap.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"subcap"
	"subcap/internal/logging"
	"subcap/internal/upload"
	"subcap/internal/util"
)

const (
	appName    = "subcap"
	appVersion = "0.1.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "sweep":
		err = runSweep(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("%s version %s\n", appName, appVersion)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`%s - subtitle OCR and blur-render service

Usage:
  %s <command> [options]

Commands:
  serve     Run the HTTP/WebSocket service
  sweep     Remove stale incomplete upload chunk directories
  version   Print version information
  help      Show this help message
`, appName, appName)
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	logDir := fs.String("log-dir", logging.DefaultLogDir(), "log directory")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	noLog := fs.Bool("no-log", false, "disable log file creation")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger, err := logging.Setup(*logDir, *verbose, *noLog, os.Args)
	if err != nil {
		return err
	}
	defer logger.Close()

	svc, err := subcap.New()
	if err != nil {
		return fmt.Errorf("failed to build service: %w", err)
	}

	srv := &http.Server{
		Addr:    svc.Addr(),
		Handler: svc.Router(),
	}

	color.New(color.FgGreen, color.Bold).Printf("%s %s\n", appName, appVersion)
	fmt.Printf("listening on %s, cache dir %s\n", srv.Addr, svc.CacheDir())
	logger.Info("listening on %s", srv.Addr)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return err
	case sig := <-stop:
		logger.Info("received signal %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func runSweep(args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	root := fs.String("dir", "cache/.uploads", "upload scratch directory to sweep")
	cacheDir := fs.String("cache-dir", "cache", "cache directory holding abandoned render intermediates")
	maxAgeHours := fs.Uint("max-age-hours", 24, "remove chunk directories and temp files older than this")
	if err := fs.Parse(args); err != nil {
		return err
	}

	maxAge := time.Duration(*maxAgeHours) * time.Hour

	entries, _ := os.ReadDir(*root)
	bar := progressbar.Default(int64(len(entries)), "sweeping uploads")
	if err := upload.SweepWithProgress(*root, maxAge, time.Now(), func() { _ = bar.Add(1) }); err != nil {
		return err
	}
	fmt.Printf("swept %s for chunk directories older than %s\n", *root, maxAge)

	cleaned, err := util.CleanupStaleTempFiles(*cacheDir, "render", uint64(*maxAgeHours))
	if err != nil {
		return err
	}
	fmt.Printf("swept %s for %d abandoned render intermediates older than %s\n", *cacheDir, cleaned, maxAge)
	return nil
}

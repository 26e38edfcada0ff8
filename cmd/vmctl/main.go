// Command vmctl provides offline maintenance operations: rebuilding the
// relational/vector indexes from a directory of images (C10), and
// compacting the vector store's on-disk state.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DyingCoderLin/VisualMem/internal/appwiring"
	"github.com/DyingCoderLin/VisualMem/internal/config"
	dbpkg "github.com/DyingCoderLin/VisualMem/internal/db"
	"github.com/DyingCoderLin/VisualMem/internal/rebuild"
	"github.com/DyingCoderLin/VisualMem/internal/reporter"
)

const appName = "vmctl"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "rebuild":
		err = runRebuild(os.Args[2:])
	case "compact":
		err = runCompact(os.Args[2:])
	case "help", "--help", "-h":
		printUsage()
		return
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
	fmt.Printf(`%s - visual memory maintenance tool

Usage:
  %s <command> [options]

Commands:
  rebuild <dir>   Rebuild relational and vector indexes from a directory of images
  compact         Remove stale/unverified rows from the vector store
  help            Show this help message
`, appName, appName)
}

func runRebuild(args []string) error {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Rebuild relational and vector indexes from a directory of images.

Usage:
  %s rebuild [options] <dir>

Options:
  --clear   Wipe all existing relational/vector state before rebuilding
`, appName)
	}
	clear := fs.Bool("clear", false, "wipe existing state before rebuilding")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("vmctl: rebuild requires exactly one directory argument")
	}
	dir := fs.Arg(0)

	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	conn, err := dbpkg.Open(cfg.Recording.StorageRoot + "/ocr.db")
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()

	imageVecs, err := appwiring.OpenImageVectorStoreAlways(conn)
	if err != nil {
		return fmt.Errorf("open image vector store: %w", err)
	}
	textVecs, err := appwiring.OpenTextVectorStore(conn)
	if err != nil {
		return fmt.Errorf("open text vector store: %w", err)
	}
	eng := appwiring.BuildEngines(cfg)

	rep := reporter.NewTerminalReporter()
	r := rebuild.New(conn, imageVecs, textVecs, eng, rep)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return r.Rebuild(ctx, rebuild.Config{Dir: dir, ClearExisting: *clear})
}

func runCompact(args []string) error {
	fs := flag.NewFlagSet("compact", flag.ExitOnError)
	olderThanDays := fs.Int("older-than-days", 0, "only remove rows older than this many days (0 = no age filter)")
	deleteUnverified := fs.Bool("delete-unverified", false, "also delete vector rows with no matching relational frame")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	conn, err := dbpkg.Open(cfg.Recording.StorageRoot + "/ocr.db")
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()

	imageVecs, err := appwiring.OpenImageVectorStoreAlways(conn)
	if err != nil {
		return fmt.Errorf("open image vector store: %w", err)
	}
	textVecs, err := appwiring.OpenTextVectorStore(conn)
	if err != nil {
		return fmt.Errorf("open text vector store: %w", err)
	}

	var cutoff time.Time
	if *olderThanDays > 0 {
		cutoff = time.Now().Add(-time.Duration(*olderThanDays) * 24 * time.Hour)
	}

	rep := reporter.NewTerminalReporter()
	rep.Stage("Compacting image vector store")
	if err := imageVecs.Optimize(cutoff, *deleteUnverified); err != nil {
		return fmt.Errorf("compact image vector store: %w", err)
	}
	rep.Stage("Compacting text vector store")
	if err := textVecs.Optimize(cutoff, *deleteUnverified); err != nil {
		return fmt.Errorf("compact text vector store: %w", err)
	}
	rep.Info("compaction complete")
	return nil
}

// renpak repacks Ren'Py RPA archives with AVIF-encoded images and AVIS
// image sequences, emitting a manifest the bundled runtime loader uses to
// serve original asset names.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v4"
	"github.com/vbauerster/mpb/v4/decor"

	"github.com/NihilDigit/renpak/build"
	"github.com/NihilDigit/renpak/config"
	"github.com/NihilDigit/renpak/detector"
	"github.com/NihilDigit/renpak/encode"
	"github.com/NihilDigit/renpak/files"
	"github.com/NihilDigit/renpak/utils"
)

const version = "0.2.0"

func main() {
	app := cli.NewApp()
	app.Name = "renpak"
	app.Usage = "Ren'Py asset compression toolkit — JPG/PNG → AVIF transcoding"
	app.Version = version
	app.Commands = []cli.Command{
		buildCommand(),
		analyzeCommand(),
		infoCommand(),
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "renpak: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()
}

func buildCommand() cli.Command {
	return cli.Command{
		Name:      "build",
		Usage:     "Build compressed RPA archives from a game directory",
		ArgsUsage: "<game_dir>",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "output, o", Usage: "output directory (default: <game_dir>_compressed)"},
			cli.IntFlag{Name: "limit", Usage: "max images to encode per archive (0 = all)"},
			cli.IntFlag{Name: "quality", Value: 50, Usage: "AVIF quality 1-63, lower = smaller"},
			cli.IntFlag{Name: "workers", Usage: "encode workers (default: logical CPUs)"},
			cli.StringFlag{Name: "config", Usage: "path to renpak.toml"},
			cli.BoolFlag{Name: "no-avis", Usage: "disable sequence encoding"},
			cli.BoolFlag{Name: "verbose, v", Usage: "debug logging"},
		},
		Action: runBuild,
	}
}

func runBuild(c *cli.Context) error {
	gameDir := c.Args().First()
	if gameDir == "" {
		return cli.NewExitError("build: missing <game_dir> argument", 1)
	}
	logger := newLogger(c.Bool("verbose"))

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("limit") {
		cfg.Limit = c.Int("limit")
	}
	if c.IsSet("quality") {
		cfg.Quality = c.Int("quality")
	}
	if c.IsSet("workers") {
		cfg.Workers = c.Int("workers")
	}
	if c.Bool("no-avis") {
		cfg.DisableSequences = true
	}

	game, err := detector.DetectGame(gameDir)
	if err != nil {
		return err
	}
	if !game.HasRPAFiles() {
		return fmt.Errorf("no .rpa files found in %s", gameDir)
	}

	outputDir := c.String("output")
	if outputDir == "" {
		outputDir = filepath.Clean(gameDir) + "_compressed"
	}
	outGameDir := filepath.Join(outputDir, "game")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	codec := encode.NewCodec()
	start := time.Now()
	var totalOriginal, totalCompressed int64
	for _, rpaPath := range game.RPAFiles {
		name := filepath.Base(rpaPath)
		logger.Info().Str("archive", name).Msg("processing")

		opts := cfg.BuildOptions()
		opts.Codec = codec
		opts.Logger = logger

		progress := mpb.New(mpb.WithWidth(48))
		opts.Progress = progressSink(progress, name)

		res, err := build.Build(ctx, rpaPath, filepath.Join(outGameDir, name), opts)
		progress.Wait()
		if err != nil {
			return err
		}

		totalOriginal += res.OriginalBytes
		totalCompressed += res.CompressedBytes
		logger.Info().
			Str("archive", name).
			Int("entries", res.Entries).
			Int("sequences", res.Sequences).
			Int("images", res.ImagesEncoded).
			Int("copied", res.Copied).
			Str("original", utils.FormatBytes(res.OriginalBytes)).
			Str("compressed", utils.FormatBytes(res.CompressedBytes)).
			Msg("archive done")
	}

	if err := files.Install(outGameDir); err != nil {
		return err
	}

	ratio := 0.0
	if totalCompressed > 0 {
		ratio = float64(totalOriginal) / float64(totalCompressed)
	}
	logger.Info().
		Str("output", outputDir).
		Str("saved", utils.FormatBytes(totalOriginal-totalCompressed)).
		Float64("ratio", ratio).
		Dur("elapsed", time.Since(start)).
		Msg("build complete")
	return nil
}

// progressSink renders TaskDone events onto a single bar per archive and
// relays warnings to stderr. It runs on the scheduler goroutine.
func progressSink(p *mpb.Progress, name string) build.Sink {
	var bar *mpb.Bar
	prevDone := 0
	return func(e build.Event) {
		switch e.Kind {
		case build.EventTaskDone:
			if e.Phase == build.PhaseWrite {
				return
			}
			if bar == nil {
				bar = p.AddBar(int64(e.Total),
					mpb.PrependDecorators(
						decor.Name(name+" "),
						decor.CountersNoUnit("%d / %d"),
					),
					mpb.AppendDecorators(decor.Percentage()),
				)
			}
			bar.IncrBy(e.Done - prevDone)
			prevDone = e.Done
		case build.EventWarning:
			fmt.Fprintf(os.Stderr, "  ! %s\n", e.Message)
		case build.EventPhaseEnd:
			if e.Phase == build.PhaseImages && bar != nil {
				bar.SetTotal(int64(e.Total), true)
			}
		}
	}
}

func analyzeCommand() cli.Command {
	return cli.Command{
		Name:      "analyze",
		Usage:     "Analyze RPA contents without encoding",
		ArgsUsage: "<game_dir>",
		Action: func(c *cli.Context) error {
			gameDir := c.Args().First()
			if gameDir == "" {
				return cli.NewExitError("analyze: missing <game_dir> argument", 1)
			}
			game, err := detector.DetectGame(gameDir)
			if err != nil {
				return err
			}
			if !game.HasRPAFiles() {
				return fmt.Errorf("no .rpa files found in %s", gameDir)
			}
			for _, rpaPath := range game.RPAFiles {
				stat, err := os.Stat(rpaPath)
				if err != nil {
					return err
				}
				fmt.Printf("\n=== %s (%s) ===\n", filepath.Base(rpaPath), utils.FormatBytes(stat.Size()))
				if err := build.Analyze(os.Stdout, rpaPath); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func infoCommand() cli.Command {
	return cli.Command{
		Name:      "info",
		Usage:     "Show RPA index information",
		ArgsUsage: "<rpa_file>",
		Action: func(c *cli.Context) error {
			rpaPath := c.Args().First()
			if rpaPath == "" {
				return cli.NewExitError("info: missing <rpa_file> argument", 1)
			}
			fmt.Printf("=== %s ===\n", filepath.Base(rpaPath))
			return build.Info(os.Stdout, rpaPath)
		},
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"asticker2vid/internal/app"
	"asticker2vid/internal/domain"
	"asticker2vid/internal/lottie"
	"asticker2vid/internal/render"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func renderCmd() *cobra.Command {
	var (
		width      int
		height     int
		background string
	)

	cmd := &cobra.Command{
		Use:   "render <input.tgs|input.json> <output.mp4>",
		Short: "Convert a sticker file to mp4 without Telegram",
		Long: `Reads a sticker payload (gzip-compressed .tgs or plain JSON), renders it with
headless Chrome and encodes the frames with ffmpeg.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if background != "" {
				if !render.ValidColor(background) {
					return fmt.Errorf("invalid background color %q", background)
				}
				cfg.Render.Background = background
			}
			if width == 0 && height == 0 {
				width, height = cfg.Render.Width, cfg.Render.Height
			}
			cfg.Cache.Enabled = false
			cfg.Archive.Enabled = false

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := app.New(ctx, cfg, logger, version)
			if err != nil {
				return err
			}
			defer svc.Close()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			doc, enc, err := lottie.Extract(data)
			if err != nil {
				return err
			}
			meta, err := lottie.ParseMeta(doc)
			if err != nil {
				return err
			}
			logger.Info("sticker decoded",
				"encoding", enc,
				"size", fmt.Sprintf("%dx%d", meta.Width, meta.Height),
				"frames", meta.FrameCount(),
				"fps", meta.FrameRate,
			)

			res, err := svc.Scratch.Acquire("_sticker.json")
			if err != nil {
				return err
			}
			defer res.Cleanup()
			if err := os.WriteFile(res.Path, doc, 0o644); err != nil {
				return err
			}

			out, err := filepath.Abs(args[1])
			if err != nil {
				return err
			}
			err = svc.Renderer.Render(ctx, domain.RenderJob{
				DocumentPath: res.Path,
				OutputPath:   out,
				Width:        width,
				Height:       height,
				Style:        svc.Style(),
			})
			if err != nil {
				return err
			}

			if info, err := os.Stat(out); err == nil {
				logger.Info("video written", "path", out, "size", humanize.Bytes(uint64(info.Size())))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&width, "width", 0, "output width in pixels (default: sticker width)")
	cmd.Flags().IntVar(&height, "height", 0, "output height in pixels (default: sticker height)")
	cmd.Flags().StringVar(&background, "background", "", "background color (default: render.background)")
	return cmd
}

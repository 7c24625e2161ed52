package render

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// FramePattern is the printf pattern of frame files inside a frame
// directory.
const FramePattern = "frame_%05d.png"

// Encoder turns a directory of numbered PNG frames into an H.264 mp4.
type Encoder struct {
	FFmpegPath string
}

// encodeArgs builds the ffmpeg argument list. Dimensions are rounded down to
// even values because yuv420p requires it.
func encodeArgs(frameGlob string, fps float64, out string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-framerate", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", frameGlob,
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		out,
	}
}

// Encode runs ffmpeg over frameGlob and writes out.
func (e Encoder) Encode(ctx context.Context, frameGlob string, fps float64, out string) error {
	bin := e.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin, encodeArgs(frameGlob, fps, out)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 500 {
			msg = msg[len(msg)-500:]
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, msg)
	}
	return nil
}

package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

var (
	ffmpegOnce  sync.Once
	ffmpegFound bool
)

// CheckFFmpeg reports whether ffmpeg is in PATH. The lookup runs once.
func CheckFFmpeg() bool {
	ffmpegOnce.Do(func() {
		_, err := exec.LookPath("ffmpeg")
		ffmpegFound = err == nil
	})
	return ffmpegFound
}

// Transcode converts src to 16 kHz 16-bit mono PCM WAV in dir and returns
// the new file. src is left untouched; the caller releases both.
func Transcode(ctx context.Context, src *TempFile, dir string) (*TempFile, error) {
	if !CheckFFmpeg() {
		return nil, fmt.Errorf("ffmpeg not found in PATH")
	}
	if dir == "" {
		dir = os.TempDir()
	}

	out, err := os.CreateTemp(dir, "asr-16k-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create temp: %w", err)
	}
	outPath := out.Name()
	out.Close()

	// ffmpeg -y -i input -acodec pcm_s16le -ac 1 -ar 16000 -f wav output
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-nostdin", "-loglevel", "error", "-y",
		"-i", src.Path(),
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", "16000",
		"-f", "wav",
		filepath.Clean(outPath),
	)
	if msg, err := cmd.CombinedOutput(); err != nil {
		os.Remove(outPath)
		return nil, fmt.Errorf("ffmpeg transcode: %w: %s", err, msg)
	}
	return NewTempFile(outPath), nil
}

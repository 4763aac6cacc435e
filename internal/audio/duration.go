package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/model"
)

var (
	// ErrDurationExceeded is returned when audio is longer than the limit.
	ErrDurationExceeded = fmt.Errorf("%w: audio duration exceeds limit", model.ErrValidation)

	// ErrDurationUnknown means neither the WAV header nor ffprobe gave a length.
	ErrDurationUnknown = errors.New("audio duration unknown")
)

var (
	ffprobeOnce  sync.Once
	ffprobeFound bool
)

// CheckFFprobe reports whether ffprobe is in PATH. The lookup runs once.
func CheckFFprobe() bool {
	ffprobeOnce.Do(func() {
		_, err := exec.LookPath("ffprobe")
		ffprobeFound = err == nil
	})
	return ffprobeFound
}

// CheckDuration measures the audio at path and fails with ErrDurationExceeded
// when it is longer than maxSeconds. maxSeconds <= 0 disables the check.
// The measured length is returned when known.
func CheckDuration(ctx context.Context, path string, maxSeconds float64) (float64, error) {
	if maxSeconds <= 0 {
		return 0, nil
	}
	secs, err := Duration(ctx, path)
	if err != nil {
		return 0, err
	}
	if secs > maxSeconds {
		return secs, fmt.Errorf("%w: %.2fs, limit is %gs", ErrDurationExceeded, secs, maxSeconds)
	}
	return secs, nil
}

// Duration returns the length of the audio at path in seconds. PCM WAV is
// read from its header; other formats go through ffprobe when installed.
func Duration(ctx context.Context, path string) (float64, error) {
	secs, werr := wavDuration(path)
	if werr == nil {
		return secs, nil
	}
	if !CheckFFprobe() {
		return 0, fmt.Errorf("%w: %v", ErrDurationUnknown, werr)
	}
	secs, perr := ffprobeDuration(ctx, path)
	if perr != nil {
		return 0, fmt.Errorf("%w: %v", ErrDurationUnknown, perr)
	}
	return secs, nil
}

// wavDuration walks the RIFF chunks for "fmt " and "data" and divides the
// data size by the byte rate.
func wavDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var hdr [12]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return 0, fmt.Errorf("read riff header: %w", err)
	}
	if !bytes.Equal(hdr[0:4], []byte("RIFF")) || !bytes.Equal(hdr[8:12], []byte("WAVE")) {
		return 0, errors.New("not a RIFF/WAVE file")
	}

	var byteRate uint32
	for {
		var ch [8]byte
		if _, err := io.ReadFull(f, ch[:]); err != nil {
			return 0, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(ch[0:4])
		size := binary.LittleEndian.Uint32(ch[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return 0, fmt.Errorf("fmt chunk too short: %d bytes", size)
			}
			var fmtChunk [16]byte
			if _, err := io.ReadFull(f, fmtChunk[:]); err != nil {
				return 0, fmt.Errorf("read fmt chunk: %w", err)
			}
			byteRate = binary.LittleEndian.Uint32(fmtChunk[8:12])
			if _, err := f.Seek(int64(size-16)+int64(size&1), io.SeekCurrent); err != nil {
				return 0, err
			}
		case "data":
			if byteRate == 0 {
				return 0, errors.New("data chunk before fmt chunk or zero byte rate")
			}
			dataSize := int64(size)
			// Streaming writers leave the size unset; use what is on disk.
			if size == 0 || size == 0xFFFFFFFF {
				pos, err := f.Seek(0, io.SeekCurrent)
				if err != nil {
					return 0, err
				}
				st, err := f.Stat()
				if err != nil {
					return 0, err
				}
				dataSize = st.Size() - pos
			}
			return float64(dataSize) / float64(byteRate), nil
		default:
			if _, err := f.Seek(int64(size)+int64(size&1), io.SeekCurrent); err != nil {
				return 0, err
			}
		}
	}
}

func ffprobeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe output %q: %w", strings.TrimSpace(string(out)), err)
	}
	return secs, nil
}

package audio

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/model"
)

// ErrUnsupportedFormat is returned for file extensions ffmpeg cannot decode.
var ErrUnsupportedFormat = fmt.Errorf("%w: unsupported audio format", model.ErrValidation)

// supportedExtensions are the container/codec extensions ffmpeg decodes.
var supportedExtensions = map[string]bool{
	"3gp": true, "3g2": true, "8svx": true, "aa": true, "aac": true, "aax": true,
	"ac3": true, "act": true, "adp": true, "adts": true, "adx": true, "aif": true,
	"aiff": true, "amr": true, "ape": true, "asf": true, "ast": true, "au": true,
	"avr": true, "caf": true, "cda": true, "dff": true, "dsf": true, "dsm": true,
	"dss": true, "dts": true, "eac3": true, "ec3": true, "f32": true, "f64": true,
	"fap": true, "flac": true, "flv": true, "gsm": true, "ircam": true, "m2ts": true,
	"m4a": true, "m4b": true, "m4r": true, "mka": true, "mkv": true, "mp2": true,
	"mp3": true, "mp4": true, "mpc": true, "mpp": true, "mts": true, "nut": true,
	"nsv": true, "oga": true, "ogg": true, "oma": true, "opus": true, "qcp": true,
	"ra": true, "ram": true, "rm": true, "sln": true, "smp": true, "snd": true,
	"sox": true, "spx": true, "tak": true, "tta": true, "voc": true, "w64": true,
	"wav": true, "wave": true, "webm": true, "wma": true, "wve": true, "wv": true,
	"xa": true, "xwma": true,
}

// CheckExtension accepts filenames whose extension is a decodable format.
// A missing extension is treated as WAV.
func CheckExtension(filename string) error {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		return nil
	}
	if !supportedExtensions[ext] {
		return fmt.Errorf("%w: .%s", ErrUnsupportedFormat, ext)
	}
	return nil
}

// SupportedExtensions returns the sorted list of accepted extensions.
func SupportedExtensions() []string {
	out := make([]string, 0, len(supportedExtensions))
	for ext := range supportedExtensions {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

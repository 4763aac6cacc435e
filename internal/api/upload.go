package api

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/audio"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/metrics"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/model"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/storage"
	"github.com/rs/zerolog"
)

// multipartOverhead is the slack allowed on top of MaxBytes for form
// boundaries and the other fields.
const multipartOverhead = 1 << 20

// errTranscode marks a failed ffmpeg conversion.
var errTranscode = errors.New("audio transcode failed")

// Upload is one received audio file. File is owned by the caller, who must
// release it or hand it to something that will.
type Upload struct {
	File     *audio.TempFile
	Filename string
	UttID    string
	Size     int64
}

// AudioIntake receives multipart audio uploads. It checks size and format,
// spools to a temp file, then optionally archives, transcodes and enforces
// a duration limit.
type AudioIntake struct {
	TempDir   string
	MaxBytes  int64
	Transcode bool
	Archive   storage.AudioStore // nil disables archiving
	Log       zerolog.Logger

	// MaxSeconds rejects longer audio; zero disables the check.
	MaxSeconds float64

	now func() time.Time
}

// Receive parses the multipart form and spools the first present file field
// (default "audio", then "audio_file"). The uttid form value is used when
// present, otherwise a new one is generated.
func (in *AudioIntake) Receive(w http.ResponseWriter, r *http.Request) (*Upload, error) {
	if in.MaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, in.MaxBytes+multipartOverhead)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("%w: limit is %d bytes", audio.ErrTooLarge, in.MaxBytes)
		}
		return nil, fmt.Errorf("%w: invalid multipart form: %v", model.ErrValidation, err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := formFile(r, "audio", "audio_file")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	filename := header.Filename
	if filename == "" {
		filename = "audio.wav"
	}
	if err := audio.CheckExtension(filename); err != nil {
		return nil, err
	}
	if in.MaxBytes > 0 && header.Size > in.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit is %d", audio.ErrTooLarge, header.Size, in.MaxBytes)
	}
	metrics.HTTPUploadSize.Observe(float64(header.Size))

	tmp, err := audio.Spool(in.TempDir, filename, file, in.MaxBytes)
	if err != nil {
		return nil, err
	}

	up := &Upload{
		File:     tmp,
		Filename: filename,
		UttID:    r.FormValue("uttid"),
		Size:     header.Size,
	}
	if up.UttID == "" {
		up.UttID = uuid.NewString()
	}

	in.archive(r.Context(), up)

	if in.Transcode && audio.CheckFFmpeg() {
		converted, err := audio.Transcode(r.Context(), tmp, in.TempDir)
		tmp.Release()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errTranscode, err)
		}
		up.File = converted
	}

	if _, err := audio.CheckDuration(r.Context(), up.File.Path(), in.MaxSeconds); err != nil {
		if !errors.Is(err, audio.ErrDurationUnknown) {
			up.File.Release()
			return nil, err
		}
		in.Log.Warn().Err(err).Str("uttid", up.UttID).Msg("duration limit not enforced")
	}
	return up, nil
}

// archive stores a copy of the original upload. Failures only log.
func (in *AudioIntake) archive(ctx context.Context, up *Upload) {
	if in.Archive == nil {
		return
	}
	now := time.Now
	if in.now != nil {
		now = in.now
	}
	data, err := os.ReadFile(up.File.Path())
	if err != nil {
		in.Log.Warn().Err(err).Str("uttid", up.UttID).Msg("archive: read upload failed")
		return
	}
	key := storage.Key(now(), up.UttID, up.Filename)
	if err := in.Archive.Save(ctx, key, data, storage.ContentType(key)); err != nil {
		in.Log.Warn().Err(err).Str("key", key).Msg("archive: save failed")
		return
	}
	in.Log.Debug().Str("key", key).Str("store", in.Archive.Type()).Msg("upload archived")
}

func formFile(r *http.Request, names ...string) (multipart.File, *multipart.FileHeader, error) {
	for _, name := range names {
		f, h, err := r.FormFile(name)
		if err == nil {
			return f, h, nil
		}
		if !errors.Is(err, http.ErrMissingFile) {
			return nil, nil, fmt.Errorf("%w: read %s: %v", model.ErrValidation, name, err)
		}
	}
	return nil, nil, fmt.Errorf("%w: audio file is required", model.ErrValidation)
}

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dunamismax/artprep/internal/domain"
)

const multipartMemory = 32 << 20

var errBadForm = errors.New("invalid form")

func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return fmt.Errorf("%w: %v", errBadForm, err)
	}
	return nil
}

// readUpload buffers the whole image part. Detached jobs rely on this: the
// request body is gone once the handler returns.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if err := s.parseForm(w, r); err != nil {
		return nil, err
	}

	file, _, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		file, _, err = r.FormFile("image")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: image file is required (field \"file\")", errBadForm)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("%w: read upload: %v", errBadForm, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: image file is empty", errBadForm)
	}
	return data, nil
}

func parseStageOptions(r *http.Request) (domain.StageOptions, error) {
	opts := domain.DefaultStageOptions()

	var err error
	if opts.Upscale, err = formBool(r, opts.Upscale, "upscale"); err != nil {
		return opts, err
	}
	if opts.RemoveBackground, err = formBool(r, opts.RemoveBackground, "removeBackground", "remove_background"); err != nil {
		return opts, err
	}
	if opts.Vectorize, err = formBool(r, opts.Vectorize, "vectorize"); err != nil {
		return opts, err
	}

	if raw := formValue(r, "targetDpi", "target_dpi", "targetDPI"); raw != "" {
		dpi, perr := strconv.ParseFloat(raw, 64)
		if perr != nil {
			return opts, fmt.Errorf("%w: target_dpi must be a number", errBadForm)
		}
		opts.TargetDPI = dpi
	}
	return opts, nil
}

func formBool(r *http.Request, fallback bool, keys ...string) (bool, error) {
	raw := strings.ToLower(formValue(r, keys...))
	switch raw {
	case "":
		return fallback, nil
	case "1", "t", "true", "yes", "on":
		return true, nil
	case "0", "f", "false", "no", "off":
		return false, nil
	default:
		return fallback, fmt.Errorf("%w: %s must be a boolean, got %q", errBadForm, keys[0], raw)
	}
}

// formValue returns the first non-empty value among keys.
func formValue(r *http.Request, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(r.FormValue(key)); v != "" {
			return v
		}
	}
	return ""
}

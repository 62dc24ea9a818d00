package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/warp/step-league/challenge"
)

// ErrTooLarge is returned when an upload exceeds the spool's size limit.
var ErrTooLarge = errors.New("upload exceeds size limit")

// Ingester is the part of challenge.Pipeline the spool needs.
type Ingester interface {
	Ingest(ctx context.Context, batch challenge.Batch) (challenge.IngestResult, error)
}

// Outcome is a processed upload: the ingestion result plus skipped rows.
type Outcome struct {
	Result    challenge.IngestResult
	RowErrors []RowError
}

// Spool holds uploaded files on disk only for as long as it takes to parse
// and ingest them. Files never outlive Process.
type Spool struct {
	dir      string
	maxBytes int64
	ingester Ingester
	log      *slog.Logger
}

// NewSpool creates dir if needed. maxBytes <= 0 means no limit.
func NewSpool(dir string, maxBytes int64, ingester Ingester, logger *slog.Logger) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Spool{
		dir:      dir,
		maxBytes: maxBytes,
		ingester: ingester,
		log:      logger.With(slog.String("component", "spool")),
	}, nil
}

// MaxBytes is the largest file Save accepts; zero or less means no limit.
func (s *Spool) MaxBytes() int64 {
	return s.maxBytes
}

// Accept saves r under a unique name, then processes it.
func (s *Spool) Accept(ctx context.Context, name string, r io.Reader, uploadedBy string) (Outcome, error) {
	path, err := s.Save(name, r)
	if err != nil {
		return Outcome{}, err
	}
	return s.Process(ctx, path, name, uploadedBy)
}

// Save writes r to a new file named <base>-<uuid><ext>.
func (s *Spool) Save(name string, r io.Reader) (string, error) {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	path := filepath.Join(s.dir, fmt.Sprintf("%s-%s%s", stem, uuid.NewString(), ext))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("create spool file: %w", err)
	}

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && s.maxBytes > 0 && n > s.maxBytes {
		err = fmt.Errorf("%w: %d bytes allowed", ErrTooLarge, s.maxBytes)
	}
	if err != nil {
		s.remove(path)
		return "", err
	}
	return path, nil
}

// Process parses and ingests a spooled file. The file is removed whether
// or not ingestion succeeds.
func (s *Spool) Process(ctx context.Context, path, name, uploadedBy string) (Outcome, error) {
	defer s.remove(path)

	f, err := os.Open(path)
	if err != nil {
		return Outcome{}, fmt.Errorf("open spool file: %w", err)
	}
	defer f.Close()

	parsed, err := Parse(f, name)
	if err != nil {
		return Outcome{}, err
	}
	if len(parsed.Errors) > 0 {
		s.log.Warn("rows skipped",
			slog.String("file", name),
			slog.Int("skipped", len(parsed.Errors)),
			slog.Int("parsed", len(parsed.Rows)))
	}

	res, err := s.ingester.Ingest(ctx, challenge.Batch{
		FileName:   filepath.Base(name),
		UploadedBy: uploadedBy,
		Rows:       parsed.Rows,
	})
	if err != nil {
		return Outcome{RowErrors: parsed.Errors}, err
	}
	return Outcome{Result: res, RowErrors: parsed.Errors}, nil
}

func (s *Spool) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("failed to remove spool file", slog.String("path", path), slog.Any("error", err))
	}
}

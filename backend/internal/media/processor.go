package media

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rwcarlsen/goexif/exif"
	"go.uber.org/zap"

	apperrors "github.com/seimmuc/family-tree/backend/pkg/errors"
	"github.com/seimmuc/family-tree/backend/pkg/logger"
)

const portraitJpegQuality = 85

// Upload describes a stored file
type Upload struct {
	Key   string
	Hash  string
	MIME  string
	Taken *time.Time
}

// ProcessorConfig bounds what uploads are accepted
type ProcessorConfig struct {
	AllowedMIMETypes []string
	MaxBytes         int64
	PortraitMaxSize  int
}

// Processor validates uploads and writes them to a Store
type Processor struct {
	store  Store
	cfg    ProcessorConfig
	logger *zap.Logger
}

// NewProcessor creates a processor over store
func NewProcessor(store Store, cfg ProcessorConfig) *Processor {
	return &Processor{store: store, cfg: cfg, logger: logger.Get()}
}

func (p *Processor) read(r io.Reader) ([]byte, *mimetype.MIME, error) {
	data, err := io.ReadAll(io.LimitReader(r, p.cfg.MaxBytes+1))
	if err != nil {
		return nil, nil, apperrors.NewMediaRejected("unreadable upload", err)
	}
	if int64(len(data)) > p.cfg.MaxBytes {
		return nil, nil, apperrors.NewMediaRejected(fmt.Sprintf("larger than %d bytes", p.cfg.MaxBytes), nil)
	}
	if len(data) == 0 {
		return nil, nil, apperrors.NewMediaRejected("empty upload", nil)
	}

	mt := mimetype.Detect(data)
	for _, allowed := range p.cfg.AllowedMIMETypes {
		if mt.Is(allowed) {
			return data, mt, nil
		}
	}
	return nil, nil, apperrors.NewMediaRejected(fmt.Sprintf("type %s is not allowed", mt.String()), nil)
}

func newKey(personID, ext string) string {
	return fmt.Sprintf("%s_%s%s", personID, uuid.NewString(), ext)
}

func fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// takenAt reads the EXIF capture time; most non-camera images have none
func takenAt(data []byte) *time.Time {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	dt, err := x.DateTime()
	if err != nil {
		return nil
	}
	return &dt
}

// SavePhoto stores an attached photo unchanged
func (p *Processor) SavePhoto(personID string, r io.Reader) (*Upload, error) {
	data, mt, err := p.read(r)
	if err != nil {
		return nil, err
	}

	up := &Upload{
		Key:   newKey(personID, mt.Extension()),
		Hash:  fingerprint(data),
		MIME:  mt.String(),
		Taken: takenAt(data),
	}
	if err := p.store.Save(up.Key, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return up, nil
}

// SavePortrait stores a portrait re-encoded as a JPEG that fits within
// PortraitMaxSize on both edges, with EXIF orientation applied.
func (p *Processor) SavePortrait(personID string, r io.Reader) (*Upload, error) {
	data, _, err := p.read(r)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperrors.NewMediaRejected("not a decodable image", err)
	}
	size := p.cfg.PortraitMaxSize
	fitted := imaging.Fit(img, size, size, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, imaging.JPEG, imaging.JPEGQuality(portraitJpegQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode portrait: %w", err)
	}

	up := &Upload{
		Key:   newKey(personID, ".jpg"),
		Hash:  fingerprint(buf.Bytes()),
		MIME:  "image/jpeg",
		Taken: takenAt(data),
	}
	if err := p.store.Save(up.Key, &buf); err != nil {
		return nil, err
	}
	return up, nil
}

// DeleteBestEffort removes keys, logging failures instead of returning them
func (p *Processor) DeleteBestEffort(keys ...string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := p.store.Delete(key); err != nil {
			p.logger.Warn("Failed to delete media file", zap.String("key", key), zap.Error(err))
		}
	}
}

// Store exposes the underlying store for serving files
func (p *Processor) Store() Store {
	return p.store
}

package uploads

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"incident-service/imaging"

	"github.com/apex/log"
)

// URLPrefix is the route stored files are served under
const URLPrefix = "/uploads"

// ErrTooLarge is returned for a file above the configured size limit
var ErrTooLarge = errors.New("uploaded file is too large")

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Storage keeps uploaded report photos on the local disk
type Storage struct {
	dir     string
	maxSize int64
	now     func() time.Time
}

// NewStorage creates the upload directory if needed.
func NewStorage(dir string, maxSize int64) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create uploads dir %s: %w", dir, err)
	}
	return &Storage{dir: dir, maxSize: maxSize, now: time.Now}, nil
}

// Dir returns the directory files are written to
func (s *Storage) Dir() string {
	return s.dir
}

// Save stores one uploaded file and returns its public path, for example
// "/uploads/1714564800000-photo.jpg". Photos are compressed when they can be
// decoded; anything else is stored as received.
func (s *Storage) Save(fh *multipart.FileHeader) (string, error) {
	if s.maxSize > 0 && fh.Size > s.maxSize {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLarge, fh.Size)
	}

	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.limit()))
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return "", fmt.Errorf("%w: more than %d bytes", ErrTooLarge, s.maxSize)
	}

	name := fileName(s.now(), fh.Filename)
	if compressed, reencoded, err := imaging.Compress(data); err != nil {
		log.WithError(err).WithField("file", fh.Filename).Debug("Upload is not a decodable image, storing as is")
	} else if reencoded {
		data = compressed
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".jpg"
	}

	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write upload: %w", err)
	}

	log.Infof("Stored upload %s (%d bytes)", name, len(data))
	return URLPrefix + "/" + name, nil
}

// Remove deletes a file previously returned by Save. A file that is already
// gone is not an error.
func (s *Storage) Remove(ref string) error {
	name := strings.TrimPrefix(ref, URLPrefix+"/")
	if name == ref || name == "" || name == "." || name == ".." || name != filepath.Base(name) {
		return fmt.Errorf("not an upload path: %q", ref)
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove upload: %w", err)
	}
	return nil
}

func (s *Storage) limit() int64 {
	if s.maxSize <= 0 {
		return 1<<63 - 1
	}
	return s.maxSize + 1
}

// fileName builds "<unix millis>-<sanitized original name>".
func fileName(now time.Time, original string) string {
	base := filepath.Base(strings.ReplaceAll(original, `\`, "/"))
	base = strings.Trim(unsafeChars.ReplaceAllString(base, "_"), "._")
	if base == "" {
		base = "upload"
	}
	return fmt.Sprintf("%d-%s", now.UnixMilli(), base)
}

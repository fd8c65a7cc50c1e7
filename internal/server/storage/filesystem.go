package storage

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "image/gif"
	_ "image/png"
)

// ErrNotImage is returned when an upload cannot be decoded as a
// supported raster image format.
var ErrNotImage = errors.New("payload is not a decodable image")

const jpegQuality = 85

// StoredImage describes an image accepted into the store. JPEG holds the
// normalized bytes actually written to disk, so callers can forward them
// to the vision backend without re-reading the file.
type StoredImage struct {
	ID        string
	Path      string
	JPEG      []byte
	CreatedAt time.Time
}

// ImageStore persists captures and their descriptions on the local
// filesystem. Images and descriptions live side by side in one directory,
// named by the image's timestamp id: <id>.jpg and <id>.txt.
type ImageStore struct {
	basePath string

	// Timestamp ids have millisecond resolution; the mutex keeps a burst
	// of saves within the same millisecond from colliding by bumping the
	// clock forward, so ids stay unique and sortable by creation order.
	mu   sync.Mutex
	last time.Time
}

// NewImageStore creates a filesystem-backed capture store.
func NewImageStore(basePath string) *ImageStore {
	return &ImageStore{basePath: basePath}
}

// EnsureDir creates the storage directory if it doesn't exist.
func (s *ImageStore) EnsureDir() error {
	if err := os.MkdirAll(s.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", s.basePath, err)
	}
	return nil
}

// SaveImage decodes the payload, re-encodes it as JPEG and writes it
// under a fresh timestamp id. Nothing is written when decoding fails.
func (s *ImageStore) SaveImage(data []byte) (*StoredImage, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode %s upload as jpeg: %w", format, err)
	}

	id, createdAt := s.nextID()
	path := s.imagePath(id)

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return nil, fmt.Errorf("failed to write image %s: %w", path, err)
	}

	return &StoredImage{
		ID:        id,
		Path:      path,
		JPEG:      buf.Bytes(),
		CreatedAt: createdAt,
	}, nil
}

// SaveDescription writes the description next to the image it describes.
// The file shares the image's id, which is what ties the pair together.
func (s *ImageStore) SaveDescription(imageID, text string) error {
	path := s.descriptionPath(imageID)
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("failed to write description %s: %w", path, err)
	}
	return nil
}

// ReadImage returns the stored JPEG bytes for an image id.
func (s *ImageStore) ReadImage(id string) ([]byte, error) {
	data, err := os.ReadFile(s.imagePath(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", id, err)
	}
	return data, nil
}

// LatestImage returns the filename of the most recently modified image,
// or false when the store holds none. Used only by the index view.
func (s *ImageStore) LatestImage() (string, bool) {
	return s.latestByExt(".jpg")
}

// LatestDescription returns the text of the most recently modified
// description, or false when none exists.
func (s *ImageStore) LatestDescription() (string, bool) {
	name, ok := s.latestByExt(".txt")
	if !ok {
		return "", false
	}
	data, err := os.ReadFile(filepath.Join(s.basePath, name))
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (s *ImageStore) latestByExt(ext string) (string, bool) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return "", false
	}

	type candidate struct {
		name    string
		modTime time.Time
	}
	var found []candidate
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ext) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		found = append(found, candidate{name: entry.Name(), modTime: info.ModTime()})
	}
	if len(found) == 0 {
		return "", false
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].modTime.After(found[j].modTime)
	})
	return found[0].name, true
}

// nextID issues a wall-clock derived id, strictly later than any id
// issued before it by this store instance.
func (s *ImageStore) nextID() (string, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if !now.After(s.last) {
		now = s.last.Add(time.Millisecond)
	}
	s.last = now
	return now.Format("2006-01-02_150405.000"), now
}

func (s *ImageStore) imagePath(id string) string {
	return filepath.Join(s.basePath, id+".jpg")
}

func (s *ImageStore) descriptionPath(id string) string {
	return filepath.Join(s.basePath, id+".txt")
}

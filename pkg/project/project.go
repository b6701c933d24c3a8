// Package project keeps labeling projects on disk: original images, saved
// crops and the JSON metadata that ties them together.
package project

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

const (
	MetadataFile = "project_metadata.json"
	RegistryFile = "registry.json"
	OriginalsDir = "originals"
	CropsDir     = "crops"
	Version      = "1.0"

	timestampLayout = "20060102_150405"
)

// ErrCorruptMetadata is matched by every *CorruptMetadataError.
var ErrCorruptMetadata = errors.New("corrupt project metadata")

// CorruptMetadataError reports a metadata file that is not valid JSON.
type CorruptMetadataError struct {
	Path string
	Err  error
}

func (e *CorruptMetadataError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Path, ErrCorruptMetadata, e.Err)
}

func (e *CorruptMetadataError) Unwrap() error { return e.Err }

func (e *CorruptMetadataError) Is(target error) bool {
	return target == ErrCorruptMetadata
}

// Original is a source image recorded in a project.
type Original struct {
	Path   string    `json:"path"`
	Name   string    `json:"name"`
	Kind   string    `json:"kind,omitempty"`
	Bands  int       `json:"bands,omitempty"`
	Width  int       `json:"width,omitempty"`
	Height int       `json:"height,omitempty"`
	Bytes  int64     `json:"bytes"`
	Copy   string    `json:"copy,omitempty"`
	Added  time.Time `json:"added"`
}

// CropRecord describes one saved crop. X and Y are the center in source
// pixels.
type CropRecord struct {
	Source     string    `json:"original_image"`
	SourceName string    `json:"original_name"`
	File       string    `json:"crop_file"`
	X          int       `json:"x"`
	Y          int       `json:"y"`
	Size       int       `json:"crop_size"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Mode       string    `json:"view_mode"`
	Reason     string    `json:"reason,omitempty"`
	Created    time.Time `json:"created_date"`
	Bytes      int64     `json:"bytes"`
}

// Stats are running totals kept in the metadata.
type Stats struct {
	Originals int   `json:"total_images_processed"`
	Crops     int   `json:"total_crops"`
	CropBytes int64 `json:"total_crop_bytes"`
}

// Project is the metadata of one project directory.
type Project struct {
	Name        string       `json:"project_name"`
	SafeName    string       `json:"safe_name"`
	Description string       `json:"description"`
	Version     string       `json:"version"`
	Created     time.Time    `json:"created_date"`
	Modified    time.Time    `json:"last_modified"`
	Accessed    time.Time    `json:"last_accessed"`
	Originals   []Original   `json:"originals"`
	Crops       []CropRecord `json:"crops"`
	Stats       Stats        `json:"statistics"`

	// Dir is the project directory; it is not persisted.
	Dir string `json:"-"`
}

func (p *Project) OriginalsPath() string { return filepath.Join(p.Dir, OriginalsDir) }
func (p *Project) CropsPath() string     { return filepath.Join(p.Dir, CropsDir) }
func (p *Project) MetadataPath() string  { return filepath.Join(p.Dir, MetadataFile) }

// Empty is true for a project with no originals and no crops.
func (p *Project) Empty() bool {
	return len(p.Originals) == 0 && len(p.Crops) == 0
}

// Original returns the recorded original for a path, if any.
func (p *Project) Original(path string) (Original, bool) {
	key := cleanPath(path)
	for _, o := range p.Originals {
		if o.Path == key {
			return o, true
		}
	}
	return Original{}, false
}

// Summary is the registry and listing view of a project.
type Summary struct {
	Name      string    `json:"name"`
	SafeName  string    `json:"safe_name"`
	Path      string    `json:"path"`
	Created   time.Time `json:"created_date"`
	Modified  time.Time `json:"last_modified"`
	Originals int       `json:"originals"`
	Crops     int       `json:"crops"`
}

func (p *Project) Summary() Summary {
	return Summary{
		Name:      p.Name,
		SafeName:  p.SafeName,
		Path:      p.Dir,
		Created:   p.Created,
		Modified:  p.Modified,
		Originals: len(p.Originals),
		Crops:     len(p.Crops),
	}
}

// Sanitize keeps letters, digits, '-' and '_'.
func Sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CropName is the file name for a crop before any collision suffix.
func CropName(source string, x, y, size int, ext string) string {
	base := filepath.Base(source)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s_crop_%d_%d_%dx%d%s", stem, x, y, size, size, ext)
}

func cleanPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

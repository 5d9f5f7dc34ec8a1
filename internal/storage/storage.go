// Package storage keeps uploaded files, either on the local disk or in an
// S3 compatible bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/ai-agency/agency/internal/config"
)

var (
	ErrInvalidKey          = errors.New("invalid storage key")
	ErrExtensionNotAllowed = errors.New("file type is not allowed")
	ErrContentMismatch     = errors.New("file content does not match its extension")
	ErrNotFound            = errors.New("file not found")
)

// Object describes a stored file.
type Object struct {
	Key      string `json:"key"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum,omitempty"`
}

type FileStore interface {
	Save(ctx context.Context, key string, r io.Reader, contentType string) (*Object, error)
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every object under prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// Opener is implemented by stores whose files are served by the API itself
// instead of through a public URL.
type Opener interface {
	Open(ctx context.Context, key string) (io.ReadSeekCloser, error)
}

// New builds the store selected by cfg.Storage.
func New(ctx context.Context, cfg config.UploadConfig) (FileStore, error) {
	switch cfg.Storage {
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	case "local", "":
		return NewLocalStore(cfg.LocalPath)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Storage)
	}
}

// UserRoot holds everything stored for a user.
func UserRoot(userID string) string {
	return fmt.Sprintf("users/%s/", userID)
}

// UserPrefix is where every upload of a user lives.
func UserPrefix(userID string) string {
	return UserRoot(userID) + "uploads/"
}

// AvatarPrefix is where a user's profile pictures live.
func AvatarPrefix(userID string) string {
	return UserRoot(userID) + "avatar/"
}

// AvatarKey generates a fresh key for a profile picture.
func AvatarKey(userID, fileName string) string {
	return AvatarPrefix(userID) + uuid.NewString() + strings.ToLower(filepath.Ext(fileName))
}

// UploadKey generates a fresh key for a user's upload, keeping the original
// extension.
func UploadKey(userID, fileName string) string {
	return UserPrefix(userID) + uuid.NewString() + strings.ToLower(filepath.Ext(fileName))
}

// CheckExtension rejects file names whose extension is not listed.
// Entries in allowed may be given with or without the leading dot.
func CheckExtension(fileName string, allowed []string) error {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	if ext == "" {
		return ErrExtensionNotAllowed
	}
	for _, a := range allowed {
		if strings.TrimPrefix(strings.ToLower(a), ".") == ext {
			return nil
		}
	}
	return ErrExtensionNotAllowed
}

// Sniff detects the content type from the first bytes of r and returns a
// reader that still yields the whole content.
func Sniff(r io.Reader) (*mimetype.MIME, io.Reader, error) {
	header := make([]byte, 3072)
	n, err := io.ReadFull(r, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("failed to read file header: %w", err)
	}
	header = header[:n]
	return mimetype.Detect(header), io.MultiReader(bytes.NewReader(header), r), nil
}

// contentTypes maps an extension to the sniffed types its files may have.
// A type matches when the detected type or one of its parents is listed,
// so every text format satisfies text/plain.
var contentTypes = map[string][]string{
	"txt":  {"text/plain"},
	"csv":  {"text/plain"},
	"json": {"text/plain"},
	"md":   {"text/plain"},
	"pdf":  {"application/pdf"},
	"png":  {"image/png"},
	"jpg":  {"image/jpeg"},
	"jpeg": {"image/jpeg"},
	"gif":  {"image/gif"},
	"doc":  {"application/msword", "application/x-ole-storage"},
	"xls":  {"application/vnd.ms-excel", "application/x-ole-storage"},
	"docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "application/zip"},
	"xlsx": {"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "application/zip"},
}

// CheckContent rejects a file whose sniffed type does not belong to its
// extension, such as an executable renamed to report.pdf. Extensions
// without an entry in contentTypes must match the detected type's own
// extension.
func CheckContent(fileName string, mt *mimetype.MIME) error {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	allowed, known := contentTypes[ext]
	for m := mt; m != nil; m = m.Parent() {
		if !known && ext != "" && m.Extension() == "."+ext {
			return nil
		}
		for _, a := range allowed {
			if m.Is(a) {
				return nil
			}
		}
	}
	return ErrContentMismatch
}

// cleanKey normalises a key and rejects anything that escapes the store.
func cleanKey(key string) (string, error) {
	k := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	k = strings.TrimPrefix(k, "/")
	if k == "" || k == "." || strings.Contains(key, "..") {
		return "", ErrInvalidKey
	}
	return k, nil
}

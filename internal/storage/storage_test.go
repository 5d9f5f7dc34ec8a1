package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-agency/agency/internal/config"
)

func TestCheckExtension(t *testing.T) {
	allowed := []string{".pdf", "csv", ".TXT"}

	tests := []struct {
		name    string
		file    string
		wantErr bool
	}{
		{"dotted", "report.pdf", false},
		{"undotted config", "data.csv", false},
		{"upper case", "NOTES.TXT", false},
		{"not allowed", "script.exe", true},
		{"no extension", "Makefile", true},
		{"double extension", "archive.tar.gz", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckExtension(tt.file, allowed)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrExtensionNotAllowed)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUploadKey(t *testing.T) {
	k := UploadKey("u1", "Report.PDF")
	assert.True(t, strings.HasPrefix(k, "users/u1/uploads/"))
	assert.True(t, strings.HasSuffix(k, ".pdf"))
	assert.NotEqual(t, k, UploadKey("u1", "Report.PDF"))
}

func TestSniff(t *testing.T) {
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 10)...)
	mt, r, err := Sniff(strings.NewReader(string(png)))
	require.NoError(t, err)
	assert.Equal(t, "image/png", mt.String())
	all, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, png, all)

	mt, _, err = Sniff(strings.NewReader("name,age\nsara,30\nomar,41\n"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(mt.String(), "text/csv"), mt.String())

	big := strings.Repeat("a", 10000)
	_, r, err = Sniff(strings.NewReader(big))
	require.NoError(t, err)
	all, err = io.ReadAll(r)
	require.NoError(t, err)
	assert.Len(t, all, 10000)
}

func TestCleanKey(t *testing.T) {
	for _, bad := range []string{"", "/", "../etc/passwd", "users/../../x", "."} {
		_, err := cleanKey(bad)
		assert.ErrorIs(t, err, ErrInvalidKey, bad)
	}
	k, err := cleanKey("/users//u1/uploads/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "users/u1/uploads/a.txt", k)
}
func TestAvatarKey(t *testing.T) {
	k := AvatarKey("u1", "Me.JPG")
	assert.True(t, strings.HasPrefix(k, AvatarPrefix("u1")))
	assert.True(t, strings.HasPrefix(k, UserRoot("u1")))
	assert.False(t, strings.HasPrefix(k, UserPrefix("u1")))
	assert.True(t, strings.HasSuffix(k, ".jpg"))
}

func TestCheckContent(t *testing.T) {
	png := "\x89PNG\r\n\x1a\n" + strings.Repeat("\x00", 16)
	pdf := "%PDF-1.4\n1 0 obj\n<<>>\nendobj\n"
	exe := "MZ\x90\x00\x03\x00\x00\x00\x04\x00\x00\x00\xff\xff\x00\x00"

	tests := []struct {
		name    string
		file    string
		content string
		wantErr bool
	}{
		{"plain text", "notes.txt", "quarterly numbers", false},
		{"csv", "data.csv", "name,age\nsara,30\nomar,41\n", false},
		{"single column csv", "ids.csv", "id\n1\n2\n", false},
		{"pdf", "report.pdf", pdf, false},
		{"png", "chart.png", png, false},
		{"png upper case", "CHART.PNG", png, false},
		{"executable renamed to pdf", "report.pdf", exe, true},
		{"executable renamed to txt", "notes.txt", exe, true},
		{"text renamed to pdf", "report.pdf", "just some words", true},
		{"png renamed to jpg", "photo.jpg", png, true},
		{"unlisted extension matches itself", "page.html", "<!DOCTYPE html><html><body>hi</body></html>", false},
		{"unlisted extension mismatch", "page.html", pdf, true},
		{"no extension", "README", "hello", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mt, body, err := Sniff(strings.NewReader(tt.content))
			require.NoError(t, err)
			all, err := io.ReadAll(body)
			require.NoError(t, err)
			assert.Equal(t, tt.content, string(all))

			err = CheckContent(tt.file, mt)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrContentMismatch, mt.String())
			} else {
				assert.NoError(t, err, mt.String())
			}
		})
	}
}

func TestLocalStoreOpen(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	key := AvatarKey("u1", "me.png")
	_, err = store.Save(ctx, key, strings.NewReader("pixels"), "image/png")
	require.NoError(t, err)

	f, err := store.Open(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, "pixels", string(data))

	_, err = store.Open(ctx, AvatarPrefix("u1")+"missing.png")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Open(ctx, "../outside")
	assert.ErrorIs(t, err, ErrInvalidKey)

	require.NoError(t, store.DeletePrefix(ctx, UserRoot("u1")))
	_, err = store.Open(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore(t *testing.T) {
	root := t.TempDir()
	store, err := New(context.Background(), config.UploadConfig{Storage: "local", LocalPath: root})
	require.NoError(t, err)
	ctx := context.Background()

	obj, err := store.Save(ctx, "users/u1/uploads/a.txt", strings.NewReader("hello"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, int64(5), obj.Size)
	assert.Equal(t, "/files/users/u1/uploads/a.txt", obj.URL)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", obj.Checksum)

	data, err := os.ReadFile(filepath.Join(root, "users", "u1", "uploads", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = store.Save(ctx, "users/u1/uploads/b.txt", strings.NewReader("world"), "text/plain")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "users/u1/uploads/a.txt"))
	require.NoError(t, store.Delete(ctx, "users/u1/uploads/a.txt"))
	_, err = os.Stat(filepath.Join(root, "users", "u1", "uploads", "a.txt"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, store.DeletePrefix(ctx, UserPrefix("u1")))
	_, err = os.Stat(filepath.Join(root, "users", "u1"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "users", "u1", "uploads"))
	assert.True(t, os.IsNotExist(err))

	_, err = store.Save(ctx, "../escape.txt", strings.NewReader("x"), "text/plain")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), config.UploadConfig{Storage: "ftp"})
	assert.Error(t, err)
}

// fakeS3 answers the handful of path-style S3 calls the store makes.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]int
	deleted []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/media/")
	switch {
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = len(body)
		w.Header().Set("ETag", `"abc123"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodHead:
		w.Header().Set("Content-Length", "5")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2":
		prefix := r.URL.Query().Get("prefix")
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>media</Name>`)
		b.WriteString("<Prefix>" + prefix + "</Prefix><IsTruncated>false</IsTruncated>")
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				b.WriteString("<Contents><Key>" + k + "</Key><Size>5</Size></Contents>")
			}
		}
		b.WriteString("</ListBucketResult>")
		w.Header().Set("Content-Type", "application/xml")
		io.WriteString(w, b.String())
	case r.Method == http.MethodPost && r.URL.Query().Has("delete"):
		body, _ := io.ReadAll(r.Body)
		for k := range f.objects {
			if strings.Contains(string(body), "<Key>"+k+"</Key>") {
				f.deleted = append(f.deleted, k)
				delete(f.objects, k)
			}
		}
		w.Header().Set("Content-Type", "application/xml")
		io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><DeleteResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"></DeleteResult>`)
	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func TestS3Store(t *testing.T) {
	fake := &fakeS3{objects: map[string]int{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx := context.Background()
	store, err := NewS3Store(ctx, config.S3Config{
		Endpoint:        srv.URL,
		Region:          "us-east-1",
		Bucket:          "media",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)

	obj, err := store.Save(ctx, "users/u1/uploads/a.txt", strings.NewReader("hello"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "users/u1/uploads/a.txt", obj.Key)
	assert.Equal(t, int64(5), obj.Size)
	assert.Equal(t, "abc123", obj.Checksum)
	assert.Equal(t, srv.URL+"/media/users/u1/uploads/a.txt", obj.URL)

	_, err = store.Save(ctx, "users/u1/uploads/b.txt", io.NopCloser(strings.NewReader("world")), "text/plain")
	require.NoError(t, err)
	_, err = store.Save(ctx, "users/u2/uploads/c.txt", strings.NewReader("other"), "text/plain")
	require.NoError(t, err)

	require.NoError(t, store.DeletePrefix(ctx, UserPrefix("u1")))
	assert.ElementsMatch(t, []string{"users/u1/uploads/a.txt", "users/u1/uploads/b.txt"}, fake.deleted)
	assert.Contains(t, fake.objects, "users/u2/uploads/c.txt")

	require.NoError(t, store.Delete(ctx, "users/u2/uploads/c.txt"))
	assert.Empty(t, fake.objects)

	url, err := store.PresignedURL(ctx, "users/u2/uploads/c.txt", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "X-Amz-Signature")
}

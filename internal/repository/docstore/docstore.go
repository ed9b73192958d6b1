package docstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/ragdex/internal/domain"
)

const (
	metaFileName   = "meta.json"
	configFileName = "config.json"
	sourceFileName = "source"
)

// Config carries filesystem store parameters.
type Config struct {
	Root           string
	MaxUploadBytes int64
}

// Store keeps uploaded documents on the local filesystem, one directory
// per document holding the raw source plus meta and config records.
type Store struct {
	cfg Config
}

// New creates a filesystem document store, creating the root directory if needed.
func New(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("document root is required")
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create document root: %w", err)
	}
	return &Store{cfg: cfg}, nil
}

type meta struct {
	ID        string    `json:"id"`
	FileName  string    `json:"file_name"`
	MIMEType  string    `json:"mime_type"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
}

// Save streams an upload to disk, hashing and size-limiting as it copies.
// The document ID is derived from the sanitized file name plus a random suffix.
func (s *Store) Save(ctx context.Context, fileName, mimeType string, r io.Reader) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return domain.Document{}, err
	}

	mime, err := resolveMIMEType(fileName, mimeType)
	if err != nil {
		return domain.Document{}, err
	}

	docID := newDocID(fileName)
	dir := filepath.Join(s.cfg.Root, docID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.Document{}, fmt.Errorf("create document dir: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, sourceFileName))
	if err != nil {
		return domain.Document{}, fmt.Errorf("create source file: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	// Read one byte past the limit so oversized uploads are detected
	// without buffering the whole body.
	limited := io.LimitReader(r, s.cfg.MaxUploadBytes+1)
	size, err := io.Copy(io.MultiWriter(f, hasher), limited)
	if err != nil {
		_ = os.RemoveAll(dir)
		return domain.Document{}, fmt.Errorf("write source file: %w", err)
	}
	if size > s.cfg.MaxUploadBytes {
		_ = os.RemoveAll(dir)
		return domain.Document{}, fmt.Errorf("upload exceeds %d bytes: %w",
			s.cfg.MaxUploadBytes, domain.ErrPayloadTooLarge)
	}

	m := meta{
		ID:        docID,
		FileName:  filepath.Base(fileName),
		MIMEType:  mime,
		SizeBytes: size,
		Checksum:  hex.EncodeToString(hasher.Sum(nil)),
		CreatedAt: time.Now().UTC(),
	}
	if err := writeJSON(filepath.Join(dir, metaFileName), m); err != nil {
		_ = os.RemoveAll(dir)
		return domain.Document{}, err
	}

	return toDocument(m), nil
}

// Get returns document metadata by ID.
func (s *Store) Get(ctx context.Context, docID string) (domain.Document, error) {
	m, err := s.readMeta(ctx, docID)
	if err != nil {
		return domain.Document{}, err
	}
	return toDocument(m), nil
}

// Checksum returns the sha256 of the stored source file.
func (s *Store) Checksum(ctx context.Context, docID string) (string, error) {
	m, err := s.readMeta(ctx, docID)
	if err != nil {
		return "", err
	}
	return m.Checksum, nil
}

// Open returns a reader over the raw source of a document. The caller closes it.
func (s *Store) Open(ctx context.Context, docID string) (io.ReadCloser, error) {
	dir, err := s.docDir(docID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(dir, sourceFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("open source of %s: %w", docID, err)
	}
	return f, nil
}

// GetConfig returns the per-document chunking config, ok=false when the
// document has no explicit config yet.
func (s *Store) GetConfig(ctx context.Context, docID string) (domain.DocumentConfig, bool, error) {
	dir, err := s.docDir(docID)
	if err != nil {
		return domain.DocumentConfig{}, false, err
	}
	if _, err := os.Stat(filepath.Join(dir, metaFileName)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.DocumentConfig{}, false, domain.ErrDocumentNotFound
		}
		return domain.DocumentConfig{}, false, fmt.Errorf("stat meta of %s: %w", docID, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, configFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.DocumentConfig{}, false, nil
		}
		return domain.DocumentConfig{}, false, fmt.Errorf("read config of %s: %w", docID, err)
	}

	var cfg domain.DocumentConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return domain.DocumentConfig{}, false, fmt.Errorf("parse config of %s: %w", docID, err)
	}
	return cfg, true, nil
}

// SetConfig stores the per-document chunking config.
func (s *Store) SetConfig(ctx context.Context, docID string, cfg domain.DocumentConfig) error {
	dir, err := s.docDir(docID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, metaFileName)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.ErrDocumentNotFound
		}
		return fmt.Errorf("stat meta of %s: %w", docID, err)
	}
	return writeJSON(filepath.Join(dir, configFileName), cfg)
}

// Delete removes a document and its files.
func (s *Store) Delete(ctx context.Context, docID string) error {
	dir, err := s.docDir(docID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.ErrDocumentNotFound
		}
		return fmt.Errorf("stat %s: %w", docID, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete %s: %w", docID, err)
	}
	return nil
}

// List returns all stored documents ordered by ID. Directories without a
// readable meta record are skipped.
func (s *Store) List(ctx context.Context) ([]domain.Document, error) {
	entries, err := os.ReadDir(s.cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("read document root: %w", err)
	}

	docs := make([]domain.Document, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m, err := s.readMeta(ctx, entry.Name())
		if err != nil {
			continue
		}
		docs = append(docs, toDocument(m))
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (s *Store) readMeta(ctx context.Context, docID string) (meta, error) {
	if err := ctx.Err(); err != nil {
		return meta{}, err
	}
	dir, err := s.docDir(docID)
	if err != nil {
		return meta{}, err
	}
	data, err := os.ReadFile(filepath.Join(dir, metaFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return meta{}, domain.ErrDocumentNotFound
		}
		return meta{}, fmt.Errorf("read meta of %s: %w", docID, err)
	}
	var m meta
	if err := json.Unmarshal(data, &m); err != nil {
		return meta{}, fmt.Errorf("parse meta of %s: %w", docID, err)
	}
	return m, nil
}

// docDir resolves the directory of a document, rejecting IDs that would
// escape the root.
func (s *Store) docDir(docID string) (string, error) {
	if docID == "" || docID != filepath.Base(docID) || strings.ContainsAny(docID, `/\`) {
		return "", domain.ErrDocumentNotFound
	}
	if docID == "." || docID == ".." {
		return "", domain.ErrDocumentNotFound
	}
	return filepath.Join(s.cfg.Root, docID), nil
}

func toDocument(m meta) domain.Document {
	return domain.Document{
		ID:        m.ID,
		FileName:  m.FileName,
		MIMEType:  m.MIMEType,
		SizeBytes: m.SizeBytes,
		CreatedAt: m.CreatedAt,
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// newDocID builds a readable, unique document ID from the upload name.
func newDocID(fileName string) string {
	base := filepath.Base(fileName)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	slug := b.String()
	if slug == "" {
		slug = "document"
	}
	if len(slug) > 64 {
		slug = slug[:64]
	}

	return slug + "_" + uuid.NewString()[:8]
}

// resolveMIMEType maps the upload to a supported media type, preferring
// the file extension over the declared Content-Type.
func resolveMIMEType(fileName, declared string) (string, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return domain.MIMETypePDF, nil
	case ".txt", ".md", ".text":
		return domain.MIMETypeText, nil
	}

	declared = strings.ToLower(strings.TrimSpace(strings.Split(declared, ";")[0]))
	switch declared {
	case domain.MIMETypePDF:
		return domain.MIMETypePDF, nil
	case domain.MIMETypeText, "text/markdown":
		return domain.MIMETypeText, nil
	}

	return "", fmt.Errorf("media type %q: %w", declared, domain.ErrUnsupportedMediaType)
}

package storage

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/identicore/identicore/pkg/slogx"
)

// safeSegmentEncoding is unpadded lowercase base32; the alphabet is safe
// for every backend's path rules, case-insensitive filesystems included.
var safeSegmentEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// SafeSegment deterministically encodes an arbitrary string into a path
// segment containing only [a-z2-7]. Cache keys carry client ids, realms
// and scope lists, none of which are safe as raw file names.
func SafeSegment(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return strings.ToLower(safeSegmentEncoding.EncodeToString(sum[:]))
}

// SafePath encodes each segment of a forward-slash key with SafeSegment,
// preserving the hierarchy.
func SafePath(segments ...string) string {
	encoded := make([]string, len(segments))
	for i, s := range segments {
		encoded[i] = SafeSegment(s)
	}
	return strings.Join(encoded, "/")
}

// Worker layers JSON and at-rest encryption over a PathStorage. The cache
// manager reads and writes ordered Objects; the Worker turns them into
// sealed blobs and back.
//
// Content that fails to decrypt or parse is treated as absent. A corrupt
// or tampered cache entry costs a token round trip, it never wedges the
// client.
type Worker struct {
	store     PathStorage
	encryptor Encryptor
	logger    *slog.Logger
}

// WorkerOption customizes a Worker.
type WorkerOption func(*Worker)

// WithEncryptor seals blobs at rest. Default is Plaintext.
func WithEncryptor(e Encryptor) WorkerOption {
	return func(w *Worker) { w.encryptor = e }
}

// WithWorkerLogger attaches a logger.
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = l }
}

// NewWorker wraps store.
func NewWorker(store PathStorage, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:     store,
		encryptor: Plaintext{},
		logger:    slogx.Discard(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// decode turns a raw blob into an Object. Empty, undecryptable, and
// unparseable content all come back as an empty Object.
func (w *Worker) decode(ctx context.Context, path string, raw []byte) *Object {
	if len(raw) == 0 {
		return NewObject()
	}
	plain, err := w.encryptor.Decrypt(raw)
	if err != nil {
		w.logger.WarnContext(ctx, "discarding undecryptable cache content",
			"path", path, "error", err)
		return NewObject()
	}
	obj := NewObject()
	if err := json.Unmarshal(plain, obj); err != nil {
		w.logger.WarnContext(ctx, "discarding malformed cache content",
			"path", path, "error", err)
		return NewObject()
	}
	return obj
}

func (w *Worker) encode(obj *Object) ([]byte, error) {
	plain, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return w.encryptor.Encrypt(plain)
}

// ReadObject returns the Object stored at path; absent and corrupt
// content both yield an empty Object.
func (w *Worker) ReadObject(ctx context.Context, path string) (*Object, error) {
	raw, err := w.store.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	return w.decode(ctx, path, raw), nil
}

// WriteObject replaces the Object stored at path.
func (w *Worker) WriteObject(ctx context.Context, path string, obj *Object) error {
	blob, err := w.encode(obj)
	if err != nil {
		return err
	}
	return w.store.Write(ctx, path, blob)
}

// ReadModifyWriteObject applies modify to the stored Object under the
// backend's per-key critical section, so concurrent updates to one blob
// never lose each other's members.
func (w *Worker) ReadModifyWriteObject(ctx context.Context, path string, modify func(*Object) error) error {
	return w.store.ReadModifyWrite(ctx, path, func(raw []byte) ([]byte, error) {
		obj := w.decode(ctx, path, raw)
		if err := modify(obj); err != nil {
			return nil, err
		}
		return w.encode(obj)
	})
}

// Delete removes the blob at path.
func (w *Worker) Delete(ctx context.Context, path string) error {
	return w.store.Delete(ctx, path)
}

// List returns every key under prefix.
func (w *Worker) List(ctx context.Context, prefix string) ([]string, error) {
	return w.store.List(ctx, prefix)
}

// DeleteContent removes every key under prefix.
func (w *Worker) DeleteContent(ctx context.Context, prefix string) error {
	return w.store.DeleteContent(ctx, prefix)
}

package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
)

// GCS is a Store backed by a Google Cloud Storage object. It assumes
// Application Default Credentials are configured.
type GCS struct {
	uri    string
	bucket string
	object string
	client *storage.Client
}

// NewGCS creates a storage client for the object named by gcsURI.
func NewGCS(ctx context.Context, gcsURI string) (*GCS, error) {
	bucket, object, err := ParseGCSURI(gcsURI)
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("blob: create storage client: %w", err)
	}

	return &GCS{uri: gcsURI, bucket: bucket, object: object, client: client}, nil
}

// Location implements Store.
func (g *GCS) Location() string { return g.uri }

// Close implements Store.
func (g *GCS) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GCS) handle() *storage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(g.object)
}

// Open implements Store.
func (g *GCS) Open(ctx context.Context) (io.ReadCloser, Version, error) {
	r, err := g.handle().NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, Missing, ErrNotExist
		}
		return nil, Missing, fmt.Errorf("blob: reading object %s/%s: %w", g.bucket, g.object, err)
	}
	return r, generationVersion(r.Attrs.Generation), nil
}

// Stat implements Store.
func (g *GCS) Stat(ctx context.Context) (Version, error) {
	attrs, err := g.handle().Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return Missing, nil
		}
		return Missing, fmt.Errorf("blob: stat %s: %w", g.uri, err)
	}
	return generationVersion(attrs.Generation), nil
}

// Replace implements Store. Object writes in GCS become visible only when
// the writer is closed successfully, so a failed upload leaves the previous
// generation in place.
func (g *GCS) Replace(ctx context.Context, data []byte, ifVersion Version) error {
	obj, err := g.conditioned(ifVersion)
	if err != nil {
		return err
	}
	return g.write(ctx, obj, data)
}

// Append implements Store by uploading data to a temporary object and
// composing it onto the end of the target.
func (g *GCS) Append(ctx context.Context, data []byte, ifVersion Version) error {
	if ifVersion == Missing {
		return g.Replace(ctx, data, Missing)
	}

	bkt := g.client.Bucket(g.bucket)
	tmp := bkt.Object(g.object + ".append-" + uuid.NewString())
	if err := g.write(ctx, tmp.If(storage.Conditions{DoesNotExist: true}), data); err != nil {
		return err
	}
	defer func() {
		_ = tmp.Delete(context.WithoutCancel(ctx))
	}()

	src := g.handle()
	dst, err := g.conditioned(ifVersion)
	if err != nil {
		return err
	}
	if ifVersion != AnyVersion {
		gen, _ := strconv.ParseInt(string(ifVersion), 10, 64)
		src = src.Generation(gen)
	}

	composer := dst.ComposerFrom(src, tmp)
	composer.ContentType = contentType(g.object)
	if _, err := composer.Run(ctx); err != nil {
		return classify(g.uri, "compose", err)
	}
	return nil
}

func (g *GCS) conditioned(ifVersion Version) (*storage.ObjectHandle, error) {
	obj := g.handle()
	switch ifVersion {
	case AnyVersion:
		return obj, nil
	case Missing:
		return obj.If(storage.Conditions{DoesNotExist: true}), nil
	}
	gen, err := strconv.ParseInt(string(ifVersion), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("blob: invalid generation %q: %w", ifVersion, err)
	}
	return obj.If(storage.Conditions{GenerationMatch: gen}), nil
}

func (g *GCS) write(ctx context.Context, obj *storage.ObjectHandle, data []byte) error {
	w := obj.NewWriter(ctx)
	w.ContentType = contentType(g.object)

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return classify(g.uri, "write", err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return classify(g.uri, "finalize upload", err)
	}
	return nil
}

func classify(uri, op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		return fmt.Errorf("%w: %s: %s", ErrVersionMismatch, op, uri)
	}
	return fmt.Errorf("blob: %s %s: %w", op, uri, err)
}

func generationVersion(gen int64) Version {
	return Version(strconv.FormatInt(gen, 10))
}

func contentType(object string) string {
	if ct := mime.TypeByExtension(path.Ext(object)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// ParseGCSURI splits gs://bucket/path/to/object into bucket and object path.
func ParseGCSURI(gcsURI string) (bucket, object string, err error) {
	if !strings.HasPrefix(gcsURI, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", gcsURI)
	}

	trimmed := strings.TrimPrefix(gcsURI, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", gcsURI)
	}
	return parts[0], parts[1], nil
}

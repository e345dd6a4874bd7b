// Package objectstore mirrors finished job outputs into a MinIO bucket.
package objectstore

import (
	"context"
	"fmt"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

type Mirror struct {
	client *minio.Client
	bucket string
	prefix string
}

func New(client *minio.Client, bucket, prefix string) *Mirror {
	return &Mirror{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// ObjectName is where a local file lands: <prefix>/<group>/<file name>.
func (m *Mirror) ObjectName(group, localPath string) string {
	return path.Join(m.prefix, group, filepath.Base(localPath))
}

// Mirror uploads each file under group. Files are uploaded in key order and
// the first failure stops the upload.
func (m *Mirror) Mirror(ctx context.Context, group string, files map[string]string) error {
	keys := make([]string, 0, len(files))
	for k := range files {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		local := files[k]
		object := m.ObjectName(group, local)
		_, err := m.client.FPutObject(ctx, m.bucket, object, local, minio.PutObjectOptions{
			ContentType: contentType(local),
		})
		if err != nil {
			return fmt.Errorf("upload %s to %s/%s: %w", k, m.bucket, object, err)
		}
		zerolog.Ctx(ctx).Debug().Str("object", object).Str("output", k).Msg("output mirrored")
	}
	return nil
}

// MirrorDir uploads every regular file below localDir, keeping relative paths.
func (m *Mirror) MirrorDir(ctx context.Context, localDir, group string) error {
	return filepath.Walk(localDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		object := path.Join(m.prefix, group, filepath.ToSlash(rel))
		_, err = m.client.FPutObject(ctx, m.bucket, object, p, minio.PutObjectOptions{ContentType: contentType(p)})
		return err
	})
}

func contentType(p string) string {
	if t := mime.TypeByExtension(filepath.Ext(p)); t != "" {
		return t
	}
	return "application/octet-stream"
}

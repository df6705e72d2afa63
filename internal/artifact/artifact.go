// Package artifact resolves render output files for download and
// optionally uploads them to object storage.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrPathEscapes indicates a download path that would leave the
// request's own artifact directory.
var ErrPathEscapes = errors.New("artifact: path escapes artifact directory")

// SafeJoin resolves rel inside the artifact directory for requestID
// under tempRoot, rejecting any path component that escapes it.
func SafeJoin(tempRoot, requestID, rel string) (string, error) {
	if requestID == "" || strings.ContainsAny(requestID, `/\`) || requestID == ".." {
		return "", ErrPathEscapes
	}
	base := filepath.Join(tempRoot, requestID)
	joined := filepath.Join(base, rel)
	if joined != base && !strings.HasPrefix(joined, base+string(filepath.Separator)) {
		return "", ErrPathEscapes
	}
	return joined, nil
}

// Uploader pushes finished artifacts to a MinIO/S3 bucket, keyed by
// request id and filename.
type Uploader struct {
	client *minio.Client
	bucket string
}

// NewUploader connects to the object store and ensures the bucket
// exists.
func NewUploader(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Uploader, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return &Uploader{client: client, bucket: bucket}, nil
}

// Upload stores localPath as <requestID>/<filename> in the bucket.
func (u *Uploader) Upload(ctx context.Context, requestID, localPath string) error {
	object := requestID + "/" + filepath.Base(localPath)
	info, err := u.client.FPutObject(ctx, u.bucket, object, localPath, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("upload %s: %w", object, err)
	}
	log.Printf("artifact: uploaded %s (%d bytes)", object, info.Size)
	return nil
}

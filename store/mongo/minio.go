package mongo

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"github.com/bobg/couchpush"
)

// MinioBodies keeps attachment content in a MinIO (or other S3-compatible) bucket,
// one object per digest.
type MinioBodies struct {
	client *minio.Client
	bucket string
}

var _ Bodies = &MinioBodies{}

// NewMinioBodies produces a MinioBodies.
func NewMinioBodies(endpoint, accessKey, secretKey string, useSSL bool, bucket string) (*MinioBodies, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating minio client")
	}
	return &MinioBodies{client: client, bucket: bucket}, nil
}

func objectKey(digest string) string {
	return "bodies/" + couchpush.DigestKey(digest)
}

// Ensure creates the bucket if it does not exist.
func (b *MinioBodies) Ensure(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return errors.Wrapf(err, "checking bucket %s", b.bucket)
	}
	if exists {
		return nil
	}
	err = b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{})
	return errors.Wrapf(err, "creating bucket %s", b.bucket)
}

// Get implements Bodies.
func (b *MinioBodies) Get(ctx context.Context, digest string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, objectKey(digest), minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "getting body %s", digest)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return nil, couchpush.ErrNotFound
	}
	return data, errors.Wrapf(err, "reading body %s", digest)
}

// Put implements Bodies.
// Objects are keyed by digest, so rewriting one changes nothing.
func (b *MinioBodies) Put(ctx context.Context, digest, contentType string, data []byte) error {
	_, err := b.client.PutObject(ctx, b.bucket, objectKey(digest), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return errors.Wrapf(err, "putting body %s", digest)
}

// minioBodiesFromConf builds a MinioBodies from a config map like:
//
//	{"endpoint": "localhost:9000", "access_key": "...", "secret_key": "...", "secure": false, "bucket": "couchpush"}
func minioBodiesFromConf(conf map[string]interface{}) (*MinioBodies, error) {
	var (
		endpoint, _  = conf["endpoint"].(string)
		accessKey, _ = conf["access_key"].(string)
		secretKey, _ = conf["secret_key"].(string)
		secure, _    = conf["secure"].(bool)
		bucket, _    = conf["bucket"].(string)
	)
	if endpoint == "" {
		return nil, errors.New(`missing "endpoint" parameter`)
	}
	if bucket == "" {
		return nil, errors.New(`missing "bucket" parameter`)
	}
	return NewMinioBodies(endpoint, accessKey, secretKey, secure, bucket)
}

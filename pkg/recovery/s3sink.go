package recovery

import (
	"bytes"
	"context"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/corefabric/corefabric/pkg/utils"
)

// S3Sink stores checkpoints as S3 objects under bucket/prefix. It is
// the durable alternative to the filesystem sink for hosts with object
// storage access.
type S3Sink struct {
	client  *s3.Client
	bucket  string
	prefix  string
	timeout time.Duration
	logger  *utils.StructuredLogger
}

// NewS3Sink resolves AWS configuration from the default credential
// chain and verifies nothing; the first Save surfaces access problems.
func NewS3Sink(ctx context.Context, bucket, prefix string, logger *utils.StructuredLogger) (*S3Sink, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = utils.Discard("recovery")
	}

	return &S3Sink{
		client:  s3.NewFromConfig(awsCfg),
		bucket:  bucket,
		prefix:  prefix,
		timeout: 30 * time.Second,
		logger:  logger,
	}, nil
}

func (s *S3Sink) key(id string) string {
	return path.Join(s.prefix, id+".ckpt")
}

// Save uploads the checkpoint bytes.
func (s *S3Sink) Save(id string, data []byte) bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		s.logger.Error("checkpoint upload failed", map[string]interface{}{"id": id, "error": err.Error()})
		return false
	}
	return true
}

// Load downloads the checkpoint bytes.
func (s *S3Sink) Load(id string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		s.logger.Error("checkpoint download failed", map[string]interface{}{"id": id, "error": err.Error()})
		return nil, false
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		s.logger.Error("checkpoint read failed", map[string]interface{}{"id": id, "error": err.Error()})
		return nil, false
	}
	return data, true
}

// Delete removes the checkpoint object.
func (s *S3Sink) Delete(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		s.logger.Error("checkpoint delete failed", map[string]interface{}{"id": id, "error": err.Error()})
	}
}

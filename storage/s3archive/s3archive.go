// Package s3archive keeps a copy of every accepted roster upload in an
// S3-compatible bucket (AWS S3, MinIO).
package s3archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/viralboard/membersync/pkg/membersync"
)

// PutObjectAPI is the subset of *s3.Client used by the archiver.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config holds archive settings
type Config struct {
	// Bucket receives the archived rosters (required)
	Bucket string

	// Prefix is prepended to every object key (default: "rosters/")
	Prefix string
}

// ClientConfig describes how to reach the object store.
// Empty AccessKey falls back to the default AWS credential chain.
type ClientConfig struct {
	Region       string
	AccessKey    string
	SecretKey    string
	BaseEndpoint string // e.g. http://127.0.0.1:9000 for MinIO
}

var loadDefaultAWSConfig = config.LoadDefaultConfig

// NewClient builds an S3 client from cfg.
func NewClient(ctx context.Context, cfg ClientConfig) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Archiver implements membersync.Archiver on top of S3
type Archiver struct {
	client PutObjectAPI
	config Config
}

var _ membersync.Archiver = (*Archiver)(nil)

// New creates an archiver writing to cfg.Bucket.
func New(client PutObjectAPI, cfg Config) (*Archiver, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "rosters/"
	}
	return &Archiver{client: client, config: cfg}, nil
}

// Archive implements membersync.Archiver and returns the object key.
func (a *Archiver) Archive(ctx context.Context, archive membersync.RosterArchive) (string, error) {
	key := a.objectKey(archive)

	metadata := map[string]string{}
	if archive.UploadedBy != "" {
		metadata["uploaded-by"] = archive.UploadedBy
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.config.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(archive.Raw),
		ContentLength: aws.Int64(int64(len(archive.Raw))),
		ContentType:   aws.String(contentType(archive.FileName)),
		Metadata:      metadata,
	})
	if err != nil {
		return "", fmt.Errorf("put roster archive %s: %w", key, err)
	}
	return key, nil
}

// objectKey lays objects out as <prefix><yyyy>/<mm>/<dd>/<hhmmss>-<file>.
func (a *Archiver) objectKey(archive membersync.RosterArchive) string {
	at := archive.UploadedAt.UTC()
	name := path.Base(strings.ReplaceAll(archive.FileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "roster.csv"
	}
	return fmt.Sprintf("%s%s/%s-%s", a.config.Prefix, at.Format("2006/01/02"), at.Format("150405"), name)
}

func contentType(fileName string) string {
	switch strings.ToLower(path.Ext(fileName)) {
	case ".tsv":
		return "text/tab-separated-values"
	case ".txt":
		return "text/plain"
	default:
		return "text/csv"
	}
}

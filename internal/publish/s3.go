// Package publish copies finished conversion artifacts to object storage.
package publish

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/spherical/pdf-converter/internal/domain"
	"github.com/spherical/pdf-converter/internal/observability"
)

// ObjectUploader is the part of the S3 transfer manager used here.
type ObjectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Config holds publication settings. Static keys are optional; without
// them the default AWS credential chain applies.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	AccessKey string
	SecretKey string
	Timeout   time.Duration // per object
}

// Publication lists what was uploaded.
type Publication struct {
	Bucket string
	Keys   []string
}

// S3Publisher uploads artifacts under <prefix>/<run-id>/.
type S3Publisher struct {
	uploader ObjectUploader
	cfg      S3Config
	logger   *observability.Logger
}

// NewS3Publisher creates a publisher backed by the S3 transfer manager.
func NewS3Publisher(ctx context.Context, cfg S3Config, logger *observability.Logger) (*S3Publisher, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket name not set")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("AWS region not set")
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	uploader := manager.NewUploader(s3.NewFromConfig(awsCfg))
	return NewS3PublisherWithUploader(uploader, cfg, logger), nil
}

// loadAWSConfig prefers static keys and falls back to the default chain.
func loadAWSConfig(ctx context.Context, cfg S3Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

// NewS3PublisherWithUploader creates a publisher over an existing uploader.
func NewS3PublisherWithUploader(uploader ObjectUploader, cfg S3Config, logger *observability.Logger) *S3Publisher {
	if logger == nil {
		logger = observability.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &S3Publisher{
		uploader: uploader,
		cfg:      cfg,
		logger:   logger.WithOperation("publish"),
	}
}

// Publish uploads the primary document, every file in the images directory
// and the summary record. Keys keep each file's path relative to outputDir.
func (p *S3Publisher) Publish(ctx context.Context, runID, outputDir string, artifact domain.ConversionArtifact, summaryPath string) (*Publication, error) {
	files := []string{artifact.MarkdownPath}

	if artifact.ImagesDir != "" {
		err := filepath.WalkDir(artifact.ImagesDir, func(file string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() {
				files = append(files, file)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("list images: %w", err)
		}
	}

	if summaryPath != "" {
		if _, err := os.Stat(summaryPath); err == nil {
			files = append(files, summaryPath)
		}
	}

	pub := &Publication{Bucket: p.cfg.Bucket}
	for _, file := range files {
		key := p.objectKey(runID, outputDir, file)
		if err := p.uploadFile(ctx, key, file); err != nil {
			return pub, err
		}
		pub.Keys = append(pub.Keys, key)
	}

	p.logger.WithContext(ctx).Info().
		Str("bucket", p.cfg.Bucket).
		Int("objects", len(pub.Keys)).
		Msg("artifacts published")

	return pub, nil
}

func (p *S3Publisher) objectKey(runID, outputDir, file string) string {
	rel, err := filepath.Rel(outputDir, file)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(file)
	}
	return path.Join(p.cfg.Prefix, runID, filepath.ToSlash(rel))
}

func (p *S3Publisher) uploadFile(ctx context.Context, key, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()

	uploadCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	_, err = p.uploader.Upload(uploadCtx, &s3.PutObjectInput{
		Bucket:      aws.String(p.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(ContentType(file)),
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}
	return nil
}

// ContentType returns the object content type for a file name.
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".json":
		return "application/json"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

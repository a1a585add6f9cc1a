package aws

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	appconfig "intake/internal/config"
)

// FileService stages uploaded import files into durable object storage
// before the batch service sees them.
type FileService interface {
	StageFile(ctx context.Context, name string, content io.Reader) (string, error)
	TestConnection(ctx context.Context) error
}

type fileService struct {
	s3     *s3.Client
	bucket string
	region string
}

// NewFileService builds an S3-backed file service.
func NewFileService(cfg appconfig.S3Config) (FileService, error) {
	credProvider := aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
		}, nil
	})

	awsCfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credProvider),
	)
	if err != nil {
		return nil, err
	}

	return &fileService{
		s3:     s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		region: cfg.Region,
	}, nil
}

// StageFile uploads the file under a date-prefixed key and returns its
// URL. The key keeps the original name so staged uploads stay traceable.
func (s *fileService) StageFile(ctx context.Context, name string, content io.Reader) (string, error) {
	key := path.Join("imports", time.Now().Format("2006/01/02"), fmt.Sprintf("%d-%s", time.Now().UnixNano(), name))

	uploader := manager.NewUploader(s.s3)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   content,
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to stage file")
		return "", fmt.Errorf("stage file %s: %w", name, err)
	}

	url := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
	log.Debug().Str("key", key).Msg("Staged import file")
	return url, nil
}

// TestConnection verifies the bucket is reachable.
func (s *fileService) TestConnection(ctx context.Context) error {
	_, err := s.s3.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	return err
}

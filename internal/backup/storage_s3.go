package backup

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Uploader copies artifacts to an S3 bucket with multipart uploads
type S3Uploader struct {
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Uploader creates the S3 uploader. Without static keys the default
// AWS credential chain is used.
func NewS3Uploader(config *S3Config, prefix string) (*S3Uploader, error) {
	if config == nil {
		return nil, fmt.Errorf("S3 storage configuration is required")
	}

	awsConfig := &aws.Config{Region: aws.String(config.Region)}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Uploader{
		uploader: s3manager.NewUploader(sess),
		bucket:   config.Bucket,
		prefix:   prefix,
	}, nil
}

func (u *S3Uploader) Name() string {
	return "s3"
}

func (u *S3Uploader) Upload(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	objKey := objectKey(u.prefix, key)
	_, err = u.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(objKey),
		Body:        f,
		ContentType: aws.String(contentTypeFor(localPath)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact to S3: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, objKey), nil
}

package backup

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"dbvault/internal/schedule"
)

// ArtifactUploader copies a finished artifact to offsite storage
type ArtifactUploader interface {
	// Upload copies localPath to key and returns the resulting location
	Upload(ctx context.Context, localPath, key string) (string, error)
	Name() string
}

// StorageProviderType names an offsite storage backend
type StorageProviderType string

const (
	StorageProviderLocal StorageProviderType = "LOCAL"
	StorageProviderS3    StorageProviderType = "S3"
	StorageProviderAzure StorageProviderType = "AZURE"
	StorageProviderGCS   StorageProviderType = "GCS"
)

// StorageConfig selects and configures the offsite uploader
type StorageConfig struct {
	Provider StorageProviderType `mapstructure:"provider" yaml:"provider"`
	Prefix   string              `mapstructure:"prefix" yaml:"prefix,omitempty"`
	Local    *LocalConfig        `mapstructure:"local" yaml:"local,omitempty"`
	S3       *S3Config           `mapstructure:"s3" yaml:"s3,omitempty"`
	Azure    *AzureConfig        `mapstructure:"azure" yaml:"azure,omitempty"`
	GCS      *GCSConfig          `mapstructure:"gcs" yaml:"gcs,omitempty"`
}

// LocalConfig for a mounted directory (NAS, second disk)
type LocalConfig struct {
	BasePath    string      `mapstructure:"base_path" yaml:"base_path"`
	Permissions os.FileMode `mapstructure:"permissions" yaml:"permissions,omitempty"`
}

// S3Config for Amazon S3 or an S3-compatible endpoint
type S3Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName   string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey    string `mapstructure:"account_key" yaml:"account_key,omitempty"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path,omitempty"`
	ProjectID       string `mapstructure:"project_id" yaml:"project_id,omitempty"`
}

func isValidStorageProviderType(provider StorageProviderType) bool {
	switch provider {
	case StorageProviderLocal, StorageProviderS3, StorageProviderAzure, StorageProviderGCS:
		return true
	default:
		return false
	}
}

// SetDefaults normalises the provider name and fills the local permissions
func (sc *StorageConfig) SetDefaults() {
	sc.Provider = StorageProviderType(strings.ToUpper(string(sc.Provider)))
	if sc.Provider == StorageProviderLocal && sc.Local != nil && sc.Local.Permissions == 0 {
		sc.Local.Permissions = 0o644
	}
}

// Validate checks that the selected provider has its section filled in
func (sc *StorageConfig) Validate() error {
	var errs schedule.ValidationErrors

	if !isValidStorageProviderType(sc.Provider) {
		errs.Add("provider", "invalid storage provider type", sc.Provider)
		return errs
	}

	switch sc.Provider {
	case StorageProviderLocal:
		if sc.Local == nil || sc.Local.BasePath == "" {
			errs.Add("local.base_path", "local storage base path is required", nil)
		}
	case StorageProviderS3:
		if sc.S3 == nil {
			errs.Add("s3", "S3 storage configuration is required", nil)
			break
		}
		if sc.S3.Bucket == "" {
			errs.Add("s3.bucket", "S3 bucket is required", sc.S3.Bucket)
		}
		if sc.S3.Region == "" {
			errs.Add("s3.region", "S3 region is required", sc.S3.Region)
		}
		if (sc.S3.AccessKey == "") != (sc.S3.SecretKey == "") {
			errs.Add("s3.access_key", "S3 access key and secret key must be set together", nil)
		}
	case StorageProviderAzure:
		if sc.Azure == nil {
			errs.Add("azure", "Azure storage configuration is required", nil)
			break
		}
		if sc.Azure.AccountName == "" {
			errs.Add("azure.account_name", "Azure account name is required", nil)
		}
		if sc.Azure.AccountKey == "" {
			errs.Add("azure.account_key", "Azure account key is required", nil)
		}
		if sc.Azure.ContainerName == "" {
			errs.Add("azure.container_name", "Azure container name is required", nil)
		}
	case StorageProviderGCS:
		if sc.GCS == nil || sc.GCS.Bucket == "" {
			errs.Add("gcs.bucket", "GCS bucket is required", nil)
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// NewUploader builds the uploader selected by config
func NewUploader(ctx context.Context, config StorageConfig) (ArtifactUploader, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid offsite storage configuration: %w", err)
	}

	switch config.Provider {
	case StorageProviderLocal:
		return NewLocalUploader(config.Local, config.Prefix)
	case StorageProviderS3:
		return NewS3Uploader(config.S3, config.Prefix)
	case StorageProviderAzure:
		return NewAzureUploader(config.Azure, config.Prefix)
	case StorageProviderGCS:
		return NewGCSUploader(ctx, config.GCS, config.Prefix)
	}
	return nil, fmt.Errorf("unsupported storage provider: %s", config.Provider)
}

// SupportedProviders lists the offsite providers
func SupportedProviders() []StorageProviderType {
	return []StorageProviderType{
		StorageProviderLocal,
		StorageProviderS3,
		StorageProviderAzure,
		StorageProviderGCS,
	}
}

// objectKey joins prefix and key with forward slashes
func objectKey(prefix, key string) string {
	key = strings.TrimLeft(key, "/")
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}

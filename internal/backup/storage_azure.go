package backup

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureUploader copies artifacts to an Azure Blob container
type AzureUploader struct {
	containerURL  azblob.ContainerURL
	containerName string
	prefix        string
}

// NewAzureUploader creates the Azure uploader with shared key credentials
func NewAzureUploader(config *AzureConfig, prefix string) (*AzureUploader, error) {
	if config == nil {
		return nil, fmt.Errorf("Azure storage configuration is required")
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credentials: %w", err)
	}
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, fmt.Errorf("failed to parse Azure service URL: %w", err)
	}

	return &AzureUploader{
		containerURL:  azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(config.ContainerName),
		containerName: config.ContainerName,
		prefix:        prefix,
	}, nil
}

func (u *AzureUploader) Name() string {
	return "azure"
}

func (u *AzureUploader) Upload(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	blobName := objectKey(u.prefix, key)
	blobURL := u.containerURL.NewBlockBlobURL(blobName)
	_, err = azblob.UploadFileToBlockBlob(ctx, f, blobURL, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 4,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: contentTypeFor(localPath),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact to Azure: %w", err)
	}
	return fmt.Sprintf("azure://%s/%s", u.containerName, blobName), nil
}

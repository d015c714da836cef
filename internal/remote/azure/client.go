// Package azure implements the transfer client against an Azure Blob
// container addressed by SAS URL. Records' remote paths become blob names.
package azure

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"

	"github.com/cloudlift/cloudlift-agent/internal/account"
	"github.com/cloudlift/cloudlift-agent/internal/logging"
	"github.com/cloudlift/cloudlift-agent/internal/remote"
	"github.com/cloudlift/cloudlift-agent/internal/store"
	"github.com/cloudlift/cloudlift-agent/internal/util/paths"
)

// Client uploads files to an Azure Blob container for one account.
type Client struct {
	client    *azblob.Client
	container string
	logger    *logging.Logger
}

// New creates an Azure transfer client. The account endpoint is the storage
// account URL with a container path ("https://acct.blob.core.windows.net/container")
// and the token a SAS query string.
func New(acct account.Account, logger *logging.Logger) (*Client, error) {
	base := strings.TrimSuffix(acct.Endpoint, "/")
	idx := strings.LastIndex(base, "/")
	if idx <= len("https://") {
		return nil, fmt.Errorf("azure endpoint %q must include a container path", acct.Endpoint)
	}
	serviceURL, container := base[:idx], base[idx+1:]

	sasURL := serviceURL
	if acct.Token != "" {
		sasURL = serviceURL + "?" + strings.TrimPrefix(acct.Token, "?")
	}

	client, err := azblob.NewClientWithNoCredential(sasURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure client: %w", err)
	}

	return &Client{client: client, container: container, logger: logger}, nil
}

func (c *Client) blobName(remotePath string) string {
	return strings.TrimPrefix(remotePath, "/")
}

// Exists probes the blob with GetProperties.
func (c *Client) Exists(ctx context.Context, remotePath string) (bool, error) {
	blobClient := c.client.ServiceClient().
		NewContainerClient(c.container).
		NewBlobClient(c.blobName(remotePath))
	_, err := blobClient.GetProperties(ctx, nil)
	if err == nil {
		return true, nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return false, nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == 404 {
		return false, nil
	}
	return false, fmt.Errorf("probe %s: %w", remotePath, err)
}

// Upload streams the file into a block blob. The access-conditions guard
// (If-None-Match: * unless overwriting) makes the collision check atomic on
// the server side; the pre-probe only exists to drive the rename policy.
func (c *Client) Upload(ctx context.Context, req remote.Request, progress remote.ProgressFunc) remote.Result {
	targetPath := req.RemotePath
	if req.CollisionPolicy != store.CollisionOverwrite {
		occupied, err := c.Exists(ctx, targetPath)
		if err != nil {
			return remote.Failed("", err)
		}
		if occupied {
			switch req.CollisionPolicy {
			case store.CollisionRename:
				targetPath, err = paths.RenameCandidate(targetPath, func(p string) (bool, error) {
					return c.Exists(ctx, p)
				})
				if err != nil {
					return remote.Failed("", err)
				}
			default:
				return remote.Failed(store.ErrCodeCollision,
					fmt.Errorf("%s: %w", targetPath, remote.ErrCollision))
			}
		}
	}

	f, err := os.Open(req.LocalPath)
	if err != nil {
		return remote.Failed(store.ErrCodeLocalIO, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return remote.Failed(store.ErrCodeLocalIO, err)
	}

	var high atomic.Int64
	reader := remote.NewProgressReader(f, info.Size(), targetPath, &high, progress)

	opts := &azblob.UploadStreamOptions{}
	if req.MimeType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: to.Ptr(req.MimeType)}
	}
	if req.CollisionPolicy != store.CollisionOverwrite {
		opts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{
				IfNoneMatch: to.Ptr(azcore.ETagAny),
			},
		}
	}

	resp, err := c.client.UploadStream(ctx, c.container, c.blobName(targetPath), reader, opts)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobAlreadyExists) {
			return remote.Failed(store.ErrCodeCollision,
				fmt.Errorf("upload %s: %w", targetPath, remote.ErrCollision))
		}
		return remote.Failed("", fmt.Errorf("upload %s: %w", targetPath, err))
	}

	remoteID := etagString(resp)
	c.logger.Debug().
		Str("container", c.container).
		Str("blob", c.blobName(targetPath)).
		Str("etag", remoteID).
		Msg("upload complete")

	return remote.Succeeded(remoteID, targetPath)
}

func etagString(resp blockblob.CommitBlockListResponse) string {
	if resp.ETag == nil {
		return ""
	}
	return strings.Trim(string(*resp.ETag), `"`)
}

// Package s3 implements the transfer client against an S3 bucket. Records'
// remote paths become object keys under the account's configured prefix.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cloudlift/cloudlift-agent/internal/account"
	"github.com/cloudlift/cloudlift-agent/internal/logging"
	"github.com/cloudlift/cloudlift-agent/internal/remote"
	"github.com/cloudlift/cloudlift-agent/internal/store"
	"github.com/cloudlift/cloudlift-agent/internal/util/paths"
)

// Client uploads files to an S3 bucket for one account.
type Client struct {
	client *awss3.Client
	bucket string
	prefix string
	logger *logging.Logger
}

// New creates an S3 transfer client. The account endpoint has the form
// "s3://bucket[/prefix]" and the token "accessKeyID:secretAccessKey".
func New(ctx context.Context, acct account.Account, logger *logging.Logger) (*Client, error) {
	bucket, prefix, err := parseEndpoint(acct.Endpoint)
	if err != nil {
		return nil, err
	}

	accessKey, secretKey, ok := strings.Cut(acct.Token, ":")
	if !ok {
		return nil, fmt.Errorf("account %q: s3 token must be accessKeyID:secretAccessKey", acct.ID)
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(acct.Region),
		awsconfig.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Client{
		client: awss3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}, nil
}

func parseEndpoint(endpoint string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(endpoint, "s3://")
	if !ok {
		return "", "", fmt.Errorf("s3 endpoint must look like s3://bucket[/prefix], got %q", endpoint)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("s3 endpoint %q has no bucket", endpoint)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

func (c *Client) key(remotePath string) string {
	key := strings.TrimPrefix(remotePath, "/")
	if c.prefix != "" {
		return c.prefix + "/" + key
	}
	return key
}

// Exists probes the object key with HeadObject.
func (c *Client) Exists(ctx context.Context, remotePath string) (bool, error) {
	_, err := c.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(remotePath)),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, fmt.Errorf("probe %s: %w", remotePath, err)
}

// Upload puts the file as a single object. The SDK may rewind and resend the
// body on its internal retries; the seekable progress wrapper keeps reported
// progress monotonic across those.
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

	input := &awss3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(c.key(targetPath)),
		Body:          newSeekableProgress(f, info.Size(), targetPath, progress),
		ContentLength: aws.Int64(info.Size()),
	}
	if req.MimeType != "" {
		input.ContentType = aws.String(req.MimeType)
	}

	out, err := c.client.PutObject(ctx, input)
	if err != nil {
		return remote.Failed("", fmt.Errorf("upload %s: %w", targetPath, err))
	}

	remoteID := strings.Trim(aws.ToString(out.ETag), `"`)
	c.logger.Debug().
		Str("bucket", c.bucket).
		Str("key", c.key(targetPath)).
		Str("etag", remoteID).
		Msg("upload complete")

	return remote.Succeeded(remoteID, targetPath)
}

// seekableProgress is a Read+Seek wrapper the AWS SDK can rewind for signing
// and retries while progress stays monotone via the shared high-water mark.
type seekableProgress struct {
	f        *os.File
	total    int64
	name     string
	pos      int64
	high     atomic.Int64
	progress remote.ProgressFunc
}

func newSeekableProgress(f *os.File, total int64, name string, progress remote.ProgressFunc) *seekableProgress {
	return &seekableProgress{f: f, total: total, name: name, progress: progress}
}

func (sp *seekableProgress) Read(p []byte) (int, error) {
	n, err := sp.f.Read(p)
	if n > 0 {
		sp.pos += int64(n)
		if sp.progress != nil {
			for {
				cur := sp.high.Load()
				if sp.pos <= cur {
					break
				}
				if sp.high.CompareAndSwap(cur, sp.pos) {
					sp.progress(sp.pos, sp.total, sp.name)
					break
				}
			}
		}
	}
	return n, err
}

func (sp *seekableProgress) Seek(offset int64, whence int) (int64, error) {
	pos, err := sp.f.Seek(offset, whence)
	if err == nil {
		sp.pos = pos
	}
	return pos, err
}

var _ io.ReadSeeker = (*seekableProgress)(nil)

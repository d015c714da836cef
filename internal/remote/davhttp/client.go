// Package davhttp implements the transfer client against an HTTP file server
// (WebDAV-style PUT semantics: one request per file, path addressing,
// collision probing via HEAD).
package davhttp

import (
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/cloudlift/cloudlift-agent/internal/account"
	"github.com/cloudlift/cloudlift-agent/internal/constants"
	"github.com/cloudlift/cloudlift-agent/internal/logging"
	"github.com/cloudlift/cloudlift-agent/internal/remote"
	"github.com/cloudlift/cloudlift-agent/internal/store"
	"github.com/cloudlift/cloudlift-agent/internal/util/paths"
)

// retryLogger adapts the retryablehttp leveled logger onto zerolog.
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	// Per-attempt info is noise at default level
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

// Client uploads files to an HTTP file server for one account.
type Client struct {
	http     *retryablehttp.Client
	baseURL  string
	username string
	token    string
	logger   *logging.Logger
}

// New creates a client for the account. proxyURL may be empty, in which case
// environment proxy settings apply.
func New(acct account.Account, proxyURL string, logger *logging.Logger) (*Client, error) {
	transport, err := newTransport(proxyURL)
	if err != nil {
		return nil, err
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &nethttp.Client{Transport: transport, Timeout: 0}
	rc.RetryMax = constants.TransferRetryMax
	rc.RetryWaitMin = constants.TransferRetryWaitMin
	rc.RetryWaitMax = constants.TransferRetryWaitMax
	rc.Logger = &retryLogger{logger: logger}
	rc.CheckRetry = transferRetryPolicy
	// Return the final response after exhausted retries instead of a bare
	// "giving up" error, so the status switch in Upload still runs.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		http:     rc,
		baseURL:  strings.TrimSuffix(acct.Endpoint, "/"),
		username: acct.Username,
		token:    acct.Token,
		logger:   logger,
	}, nil
}

// transferRetryPolicy retries like the default policy except for statuses
// that carry a terminal upload verdict: collision (409), precondition (412)
// and quota (507) responses must reach the caller, not be retried away.
func transferRetryPolicy(ctx context.Context, resp *nethttp.Response, err error) (bool, error) {
	if resp != nil {
		switch resp.StatusCode {
		case nethttp.StatusConflict, nethttp.StatusPreconditionFailed, nethttp.StatusInsufficientStorage:
			return false, nil
		}
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// fileURL builds the server URL for a remote path, escaping each segment.
func (c *Client) fileURL(remotePath string) string {
	var b strings.Builder
	b.WriteString(c.baseURL)
	b.WriteString("/files/")
	b.WriteString(url.PathEscape(c.username))
	for _, seg := range strings.Split(strings.TrimPrefix(remotePath, "/"), "/") {
		b.WriteString("/")
		b.WriteString(url.PathEscape(seg))
	}
	return b.String()
}

func (c *Client) authorize(req *retryablehttp.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
}

// Exists probes a remote path with a HEAD request.
func (c *Client) Exists(ctx context.Context, remotePath string) (bool, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, nethttp.MethodHead, c.fileURL(remotePath), nil)
	if err != nil {
		return false, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", remotePath, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case nethttp.StatusOK:
		return true, nil
	case nethttp.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("probe %s: unexpected status %d", remotePath, resp.StatusCode)
	}
}

// Upload transfers the file with a single PUT, applying the collision policy
// first. HTTP-level retries inside retryablehttp rewind the body; the shared
// high-water counter keeps progress monotonic across attempts.
func (c *Client) Upload(ctx context.Context, req remote.Request, progress remote.ProgressFunc) remote.Result {
	targetPath, result, resolved := c.resolveCollision(ctx, req)
	if !resolved {
		return result
	}

	info, err := os.Stat(req.LocalPath)
	if err != nil {
		return remote.Failed(store.ErrCodeLocalIO, err)
	}
	size := info.Size()

	var high atomic.Int64
	body := func() (io.Reader, error) {
		f, err := os.Open(req.LocalPath)
		if err != nil {
			return nil, err
		}
		return remote.NewProgressReader(f, size, targetPath, &high, progress), nil
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, nethttp.MethodPut, c.fileURL(targetPath), retryablehttp.ReaderFunc(body))
	if err != nil {
		return remote.Failed("", err)
	}
	c.authorize(httpReq)
	httpReq.ContentLength = size
	if req.MimeType != "" {
		httpReq.Header.Set("Content-Type", req.MimeType)
	}
	httpReq.Header.Set("X-Upload-Mtime", fmt.Sprintf("%d", info.ModTime().Unix()))
	if req.CollisionPolicy == store.CollisionOverwrite {
		httpReq.Header.Set("X-Overwrite", "true")
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return remote.Failed("", fmt.Errorf("upload %s: %w", targetPath, err))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case nethttp.StatusOK, nethttp.StatusCreated, nethttp.StatusNoContent:
	case nethttp.StatusConflict, nethttp.StatusPreconditionFailed:
		io.Copy(io.Discard, resp.Body)
		return remote.Failed(store.ErrCodeCollision,
			fmt.Errorf("upload %s: %w", targetPath, remote.ErrCollision))
	case nethttp.StatusInsufficientStorage:
		io.Copy(io.Discard, resp.Body)
		return remote.Failed(store.ErrCodeQuota,
			fmt.Errorf("upload %s: insufficient storage (507)", targetPath))
	default:
		io.Copy(io.Discard, resp.Body)
		return remote.Failed("", fmt.Errorf("upload %s: unexpected status %d", targetPath, resp.StatusCode))
	}
	io.Copy(io.Discard, resp.Body)

	remoteID := resp.Header.Get("X-File-Id")
	if remoteID == "" {
		remoteID = strings.Trim(resp.Header.Get("ETag"), `"`)
	}

	c.logger.Debug().
		Str("remote_path", targetPath).
		Str("remote_id", remoteID).
		Dur("took", time.Since(start)).
		Msg("upload complete")

	return remote.Succeeded(remoteID, targetPath)
}

// resolveCollision applies the collision policy before the transfer starts.
// Returns the path to upload to; resolved=false means the result is already
// terminal (ask/cancel against an occupied path, or the probe itself failed).
func (c *Client) resolveCollision(ctx context.Context, req remote.Request) (string, remote.Result, bool) {
	if req.CollisionPolicy == store.CollisionOverwrite {
		return req.RemotePath, remote.Result{}, true
	}

	occupied, err := c.Exists(ctx, req.RemotePath)
	if err != nil {
		return "", remote.Failed("", err), false
	}
	if !occupied {
		return req.RemotePath, remote.Result{}, true
	}

	switch req.CollisionPolicy {
	case store.CollisionRename:
		renamed, err := paths.RenameCandidate(req.RemotePath, func(p string) (bool, error) {
			return c.Exists(ctx, p)
		})
		if err != nil {
			return "", remote.Failed("", err), false
		}
		return renamed, remote.Result{}, true
	default: // ask, cancel: the user has to decide, nothing to upload
		return "", remote.Failed(store.ErrCodeCollision,
			fmt.Errorf("%s: %w", req.RemotePath, remote.ErrCollision)), false
	}
}

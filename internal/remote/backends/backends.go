// Package backends selects the transfer client for an account's backend type.
package backends

import (
	"context"
	"fmt"

	"github.com/cloudlift/cloudlift-agent/internal/account"
	"github.com/cloudlift/cloudlift-agent/internal/logging"
	"github.com/cloudlift/cloudlift-agent/internal/remote"
	"github.com/cloudlift/cloudlift-agent/internal/remote/azure"
	"github.com/cloudlift/cloudlift-agent/internal/remote/davhttp"
	"github.com/cloudlift/cloudlift-agent/internal/remote/s3"
)

// New builds a transfer client for the account. proxyURL applies to HTTP
// backends only; SDK backends honor standard proxy environment variables.
func New(ctx context.Context, acct account.Account, proxyURL string, logger *logging.Logger) (remote.Client, error) {
	switch acct.Backend {
	case "dav", "":
		return davhttp.New(acct, proxyURL, logger)
	case "s3":
		return s3.New(ctx, acct, logger)
	case "azure":
		return azure.New(acct, logger)
	default:
		return nil, fmt.Errorf("unknown backend %q for account %s", acct.Backend, acct.ID)
	}
}

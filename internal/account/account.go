// Package account maps account identifiers to live account details.
package account

import (
	"sync"

	"github.com/cloudlift/cloudlift-agent/internal/config"
)

// Account carries what the executor needs to talk to the server for one user.
type Account struct {
	ID       string
	Backend  string // "dav", "s3" or "azure"
	Endpoint string
	Username string
	Token    string
	Region   string
}

// Resolver looks up accounts by id. Returns ok=false rather than an error
// when the account has been removed; an absent account is not a failure,
// the record just waits for it to come back.
type Resolver interface {
	Resolve(id string) (Account, bool)
	List() []Account
}

// ConfigResolver resolves accounts from the loaded agent configuration.
type ConfigResolver struct {
	mu       sync.RWMutex
	accounts map[string]Account
	order    []string
}

// NewConfigResolver builds a resolver over the config's account list.
func NewConfigResolver(cfg *config.Config) *ConfigResolver {
	r := &ConfigResolver{accounts: make(map[string]Account)}
	for _, a := range cfg.Accounts {
		backend := a.Backend
		if backend == "" {
			backend = "dav"
		}
		acct := Account{
			ID:       a.ID,
			Backend:  backend,
			Endpoint: a.Endpoint,
			Username: a.Username,
			Token:    a.Token,
			Region:   a.Region,
		}
		r.accounts[a.ID] = acct
		r.order = append(r.order, a.ID)
	}
	return r
}

// Resolve returns the account for id, or ok=false when it is not configured.
func (r *ConfigResolver) Resolve(id string) (Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acct, ok := r.accounts[id]
	return acct, ok
}

// List returns all configured accounts in config order.
func (r *ConfigResolver) List() []Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Account, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.accounts[id])
	}
	return out
}

// Remove drops an account from the resolver. Used by tests to simulate an
// account disappearing between enqueue and execution.
func (r *ConfigResolver) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

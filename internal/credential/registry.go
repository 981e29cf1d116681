// ==============================================================================
// CREDENTIAL REGISTRY - internal/credential/registry.go
// ==============================================================================
package credential

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ilpsdk/internal/domain"
	"ilpsdk/pkg/errors"
	"ilpsdk/pkg/logger"
)

type key struct {
	settler domain.SettlementType
	id      string
}

type entry struct {
	cred Ready
	refs int
}

// Registry owns every ready credential of the process.
type Registry struct {
	dialers Dialers
	logger  logger.Logger

	mu      sync.Mutex
	entries map[key]*entry
}

func NewRegistry(dialers Dialers, log logger.Logger) *Registry {
	return &Registry{
		dialers: dialers,
		logger:  log,
		entries: make(map[key]*entry),
	}
}

// Setup validates cfg and returns the ready credential for its account.
// When the account is already live the freshly built credential is closed
// and the existing one returned.
func (r *Registry) Setup(ctx context.Context, cfg Config) (Ready, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	cred, err := r.build(ctx, cfg)
	if err != nil {
		return nil, err
	}

	k := key{settler: cred.SettlementType(), id: cred.UniqueID()}

	r.mu.Lock()
	if existing, ok := r.entries[k]; ok {
		r.mu.Unlock()
		if err := cred.Close(); err != nil {
			r.logger.Warn("Failed to close duplicate credential", map[string]interface{}{
				"settlement_type": string(k.settler),
				"credential_id":   k.id,
				"error":           err.Error(),
			})
		}
		r.logger.Info("Reusing credential", map[string]interface{}{"settlement_type": string(k.settler), "credential_id": k.id})
		return existing.cred, nil
	}
	r.entries[k] = &entry{cred: cred}
	r.mu.Unlock()

	r.logger.Info("Credential ready", map[string]interface{}{"settlement_type": string(k.settler), "credential_id": k.id})
	return cred, nil
}

func (r *Registry) build(ctx context.Context, cfg Config) (Ready, error) {
	switch c := cfg.(type) {
	case LndConfig:
		return setupLnd(ctx, c, r.dialers.Lnd)
	case EthereumConfig:
		return setupEthereum(ctx, c, r.dialers.Ethereum)
	case XrpConfig:
		return setupXrp(ctx, c, r.dialers.Xrp)
	default:
		return nil, errors.Wrap(errors.ErrUnknownSettlementType, fmt.Sprintf("%T", cfg))
	}
}

func (r *Registry) Get(t domain.SettlementType, id string) (Ready, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key{settler: t, id: id}]
	if !ok {
		return nil, false
	}
	return e.cred, true
}

// Acquire records one more uplink using the credential.
func (r *Registry) Acquire(t domain.SettlementType, id string) (Ready, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key{settler: t, id: id}]
	if !ok {
		return nil, errors.Wrap(errors.ErrCredentialNotFound, fmt.Sprintf("%s %s", t, id))
	}
	e.refs++
	return e.cred, nil
}

// Release drops one uplink reference and closes the credential when it was
// the last one.
func (r *Registry) Release(t domain.SettlementType, id string) error {
	k := key{settler: t, id: id}

	r.mu.Lock()
	e, ok := r.entries[k]
	if !ok {
		r.mu.Unlock()
		return errors.Wrap(errors.ErrCredentialNotFound, fmt.Sprintf("%s %s", t, id))
	}
	if e.refs > 0 {
		e.refs--
	}
	if e.refs > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, k)
	r.mu.Unlock()

	r.logger.Info("Closing credential", map[string]interface{}{"settlement_type": string(t), "credential_id": id})
	return e.cred.Close()
}

// Close closes a credential no uplink references.
func (r *Registry) Close(t domain.SettlementType, id string) error {
	k := key{settler: t, id: id}

	r.mu.Lock()
	e, ok := r.entries[k]
	if !ok {
		r.mu.Unlock()
		return errors.Wrap(errors.ErrCredentialNotFound, fmt.Sprintf("%s %s", t, id))
	}
	if e.refs > 0 {
		r.mu.Unlock()
		return errors.ErrCredentialStillInUse
	}
	delete(r.entries, k)
	r.mu.Unlock()

	return e.cred.Close()
}

// CloseAll closes every credential regardless of references.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[key]*entry)
	r.mu.Unlock()

	for k, e := range entries {
		if err := e.cred.Close(); err != nil {
			r.logger.Warn("Failed to close credential", map[string]interface{}{
				"settlement_type": string(k.settler),
				"credential_id":   k.id,
				"error":           err.Error(),
			})
		}
	}
}

// List returns live credentials ordered by settlement type then id.
func (r *Registry) List() []Ready {
	r.mu.Lock()
	out := make([]Ready, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.cred)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SettlementType() != out[j].SettlementType() {
			return out[i].SettlementType() < out[j].SettlementType()
		}
		return out[i].UniqueID() < out[j].UniqueID()
	})
	return out
}

// RefCount reports how many uplinks hold the credential.
func (r *Registry) RefCount(t domain.SettlementType, id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key{settler: t, id: id}]; ok {
		return e.refs
	}
	return 0
}

package api

import (
	"context"
	"encoding/json"
	"fmt"

	"ilpsdk/internal/credential"
	"ilpsdk/internal/domain"
	"ilpsdk/internal/uplink"
	"ilpsdk/pkg/errors"
	"ilpsdk/pkg/store"
)

// Document is the persisted switch configuration: every live credential
// and every uplink, enough to reconnect after a restart.
type Document struct {
	Credentials []CredentialEntry `json:"credentials"`
	Uplinks     []UplinkEntry     `json:"uplinks"`
}

type CredentialEntry struct {
	SettlementType domain.SettlementType `json:"settlement_type"`
	Config         json.RawMessage       `json:"credential_config"`
}

type UplinkEntry struct {
	SettlementType domain.SettlementType `json:"settlement_type"`
	CredentialID   string                `json:"credential_id"`
	Config         uplink.Config         `json:"uplink_config"`
}

// SerializeState returns the current state document.
func (s *State) SerializeState() (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serializeLocked()
}

func (s *State) serializeLocked() (*Document, error) {
	doc := &Document{Credentials: []CredentialEntry{}, Uplinks: []UplinkEntry{}}

	for _, cred := range s.credentials.List() {
		raw, err := json.Marshal(cred.Config())
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode credential config")
		}
		doc.Credentials = append(doc.Credentials, CredentialEntry{
			SettlementType: cred.SettlementType(),
			Config:         raw,
		})
	}

	for _, u := range s.sortedLocked() {
		doc.Uplinks = append(doc.Uplinks, UplinkEntry{
			SettlementType: u.SettlementType(),
			CredentialID:   u.CredentialID(),
			Config:         u.Config(),
		})
	}

	doc.Credentials = append(doc.Credentials, s.unrestored.Credentials...)
	doc.Uplinks = append(doc.Uplinks, s.unrestored.Uplinks...)
	return doc, nil
}

func (s *State) sortedLocked() []*uplink.Uplink {
	out := make([]*uplink.Uplink, 0, len(s.uplinks))
	for _, u := range s.uplinks {
		out = append(out, u)
	}
	sortUplinks(out)
	return out
}

// Load restores the state document persisted in the store, if any.
func (s *State) Load(ctx context.Context) error {
	raw, err := s.store.Get(ctx, stateKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to load state document")
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return errors.Wrap(errors.ErrInvalidStateDocument, err.Error())
	}
	if err := s.unsealDocument(&doc); err != nil {
		return err
	}
	return s.Restore(ctx, &doc)
}

// Restore sets up every credential of doc and reopens its uplinks with
// their persisted ids, so ledger balances are picked up again. An uplink
// whose connector cannot be reached is kept, disconnected. Entries that
// cannot be restored at all stay in the document and are retried by the
// next Load.
func (s *State) Restore(ctx context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var failed Document
	for _, entry := range doc.Credentials {
		if err := s.restoreCredential(ctx, entry); err != nil {
			s.logger.Error("Failed to restore credential", map[string]interface{}{
				"settlement_type": string(entry.SettlementType),
				"error":           err.Error(),
			})
			failed.Credentials = append(failed.Credentials, entry)
		}
	}

	restored := 0
	for _, entry := range doc.Uplinks {
		if _, exists := s.uplinks[entry.Config.ID]; exists {
			s.logger.Warn("Skipping duplicate uplink in state document", map[string]interface{}{
				"uplink_id": entry.Config.ID,
			})
			continue
		}
		u, err := s.restoreUplink(ctx, entry)
		if err != nil {
			s.logger.Error("Failed to restore uplink", map[string]interface{}{
				"uplink_id":       entry.Config.ID,
				"settlement_type": string(entry.SettlementType),
				"error":           err.Error(),
			})
			failed.Uplinks = append(failed.Uplinks, entry)
			continue
		}
		s.uplinks[entry.Config.ID] = u
		restored++
	}
	s.unrestored = failed

	s.logger.Info("Switch state restored", map[string]interface{}{
		"credentials": len(doc.Credentials) - len(failed.Credentials),
		"uplinks":     restored,
		"unrestored":  len(failed.Credentials) + len(failed.Uplinks),
	})
	return s.persistLocked(ctx)
}

func (s *State) restoreCredential(ctx context.Context, entry CredentialEntry) error {
	cfg, err := credential.DecodeConfig(entry.SettlementType, entry.Config)
	if err != nil {
		return err
	}
	if _, err := s.credentials.Setup(ctx, cfg); err != nil {
		return errors.Wrap(err, fmt.Sprintf("failed to restore %s credential", entry.SettlementType))
	}
	return nil
}

func (s *State) restoreUplink(ctx context.Context, entry UplinkEntry) (*uplink.Uplink, error) {
	eng, err := s.engines.Get(entry.SettlementType)
	if err != nil {
		return nil, err
	}
	cred, err := s.credentials.Acquire(entry.SettlementType, entry.CredentialID)
	if err != nil {
		return nil, errors.Wrap(err, describe(entry))
	}

	u, err := s.open(ctx, eng, cred, entry.Config)
	if err != nil {
		_ = s.credentials.Release(entry.SettlementType, entry.CredentialID)
		return nil, errors.Wrap(err, describe(entry))
	}
	if err := u.Connect(ctx); err != nil {
		s.logger.Warn("Restored uplink could not connect", map[string]interface{}{
			"uplink_id": entry.Config.ID,
			"error":     err.Error(),
		})
	}
	return u, nil
}

// Unrestored returns the document entries the last Restore could not bring
// back.
func (s *State) Unrestored() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Document{
		Credentials: append([]CredentialEntry(nil), s.unrestored.Credentials...),
		Uplinks:     append([]UplinkEntry(nil), s.unrestored.Uplinks...),
	}
}

package api

import (
	"encoding/json"
	"fmt"

	"ilpsdk/pkg/errors"
)

// sealDocument replaces every credential config with its sealed form, a JSON
// string. doc is modified in place.
func (s *State) sealDocument(doc *Document) error {
	if s.sealer == nil {
		return nil
	}
	for i, entry := range doc.Credentials {
		sealed, err := s.sealer.Seal(entry.Config)
		if err != nil {
			return errors.Wrap(err, "failed to seal credential config")
		}
		raw, err := json.Marshal(sealed)
		if err != nil {
			return err
		}
		doc.Credentials[i].Config = raw
	}
	return nil
}

// unsealDocument opens sealed credential configs. Plain JSON objects are
// accepted as is so a store written without a key can be upgraded.
func (s *State) unsealDocument(doc *Document) error {
	for i, entry := range doc.Credentials {
		var sealed string
		if err := json.Unmarshal(entry.Config, &sealed); err != nil {
			continue
		}
		if s.sealer == nil {
			return errors.Wrap(errors.ErrInvalidStateDocument,
				fmt.Sprintf("%s credential is sealed but no encryption key is configured", entry.SettlementType))
		}
		plain, err := s.sealer.Open(sealed)
		if err != nil {
			return errors.Wrap(errors.ErrInvalidStateDocument,
				fmt.Sprintf("%s credential: %v", entry.SettlementType, err))
		}
		doc.Credentials[i].Config = plain
	}
	return nil
}

package records

import (
	"encoding/json"
	"fmt"

	"fieldsync/pkg/models"
	"fieldsync/pkg/store/db"
	"fieldsync/pkg/store/keys"
)

// reads the envelope stored under ns, nil when absent
func readEnvelope(r db.Reader, ns, id string) (*models.Envelope, error) {
	data, err := r.Get(keys.GenRecordKey(ns, id))
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope %s: %w", id, err)
	}
	return &env, nil
}

// probes namespaces in priority order and returns the first envelope found
func (s *Store) findEnvelope(r db.Reader, id string) (string, *models.Envelope, error) {
	for _, ns := range s.profile.ReadOrder() {
		env, err := readEnvelope(r, ns, id)
		if err != nil {
			return "", nil, err
		}
		if env != nil {
			return ns, env, nil
		}
	}
	return "", nil, nil
}

func (s *Store) openEntry(env *models.Envelope) (*models.Entry, error) {
	var entry models.Entry
	if _, err := s.gw.Decrypt(decryptRoles, env.Enc, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) sealEntry(ns string, entry *models.Entry) (models.Envelope, error) {
	enc, err := s.gw.Encrypt(s.profile.roleFor(ns), entry)
	if err != nil {
		return models.Envelope{}, err
	}
	return models.Envelope{Enc: enc}, nil
}

// writes env under ns and swaps its index entries in the same transaction
func putEnvelope(tx *db.Tx, ns, id string, env *models.Envelope) error {
	primary := keys.GenRecordKey(ns, id)
	old, err := readEnvelope(tx, ns, id)
	if err != nil {
		return err
	}
	if old != nil {
		for k := range indexEntries(primary, old.Keys) {
			if err := tx.Delete(k); err != nil {
				return err
			}
		}
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := tx.Set(primary, data); err != nil {
		return err
	}
	for k, v := range indexEntries(primary, env.Keys) {
		if err := tx.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}

// removes the envelope under ns together with its index entries
func removeEnvelope(tx *db.Tx, ns, id string) error {
	old, err := readEnvelope(tx, ns, id)
	if err != nil || old == nil {
		return err
	}
	primary := keys.GenRecordKey(ns, id)
	for k := range indexEntries(primary, old.Keys) {
		if err := tx.Delete(k); err != nil {
			return err
		}
	}
	return tx.Delete(primary)
}

func indexEntries(primary string, k models.EnvelopeKeys) map[string][]byte {
	out := map[string][]byte{}
	link := []byte(keys.LinkReal)
	if k.Link == models.ParentLinkFake {
		link = []byte(keys.LinkFake)
	}
	if k.Form != "" {
		out[keys.GenIndexEntry(keys.IndexForm, k.Form, primary)] = link
	}
	if k.Parent != "" {
		out[keys.GenIndexEntry(keys.IndexParent, k.Parent, primary)] = link
	}
	if k.Anchor != "" {
		out[keys.GenIndexEntry(keys.IndexAnchor, k.Anchor, primary)] = nil
	}
	if k.Sync != "" {
		out[keys.GenIndexEntry(keys.IndexSync, k.Sync, primary)] = nil
	}
	return out
}

package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tagmesh/tagmesh/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketSwitches    = []byte("switches")
	bucketTagRules    = []byte("tag_rules")
	bucketFilterRules = []byte("filter_rules")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "tagmesh.db")

	// The file lock is exclusive; a bounded wait turns contention with a
	// running controller into an error instead of a hang.
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketSwitches,
			bucketTagRules,
			bucketFilterRules,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func idKey(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

// Switch operations
func (s *BoltStore) CreateSwitch(sw *types.Switch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSwitches)
		data, err := json.Marshal(sw)
		if err != nil {
			return err
		}
		return b.Put([]byte(sw.Name), data)
	})
}

func (s *BoltStore) GetSwitch(name string) (*types.Switch, error) {
	var sw types.Switch
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSwitches)
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("switch %s: %w", name, ErrNotFound)
		}
		return json.Unmarshal(data, &sw)
	})
	if err != nil {
		return nil, err
	}
	return &sw, nil
}

func (s *BoltStore) ListSwitches() ([]*types.Switch, error) {
	var switches []*types.Switch
	err := s.db.View(func(tx *bolt.Tx) error {
		return listSwitchesTx(tx, &switches)
	})
	return switches, err
}

func (s *BoltStore) DeleteSwitch(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSwitches)
		return b.Delete([]byte(name))
	})
}

// Tag rule operations. A zero ID is assigned from the bucket sequence,
// mirroring a serial primary key.
func (s *BoltStore) CreateTagRule(rule *types.TagRule) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTagRules)
		if rule.ID == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			rule.ID = int64(seq)
		}
		data, err := json.Marshal(rule)
		if err != nil {
			return err
		}
		return b.Put(idKey(rule.ID), data)
	})
}

func (s *BoltStore) ListTagRules() ([]*types.TagRule, error) {
	var rules []*types.TagRule
	err := s.db.View(func(tx *bolt.Tx) error {
		return listTagRulesTx(tx, &rules)
	})
	return rules, err
}

func (s *BoltStore) DeleteTagRule(id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTagRules)
		return b.Delete(idKey(id))
	})
}

// Filter rule operations
func (s *BoltStore) CreateFilterRule(rule *types.FilterRule) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFilterRules)
		if rule.ID == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			rule.ID = int64(seq)
		}
		data, err := json.Marshal(rule)
		if err != nil {
			return err
		}
		return b.Put(idKey(rule.ID), data)
	})
}

func (s *BoltStore) ListFilterRules() ([]*types.FilterRule, error) {
	var rules []*types.FilterRule
	err := s.db.View(func(tx *bolt.Tx) error {
		return listFilterRulesTx(tx, &rules)
	})
	return rules, err
}

func (s *BoltStore) DeleteFilterRule(id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFilterRules)
		return b.Delete(idKey(id))
	})
}

// Snapshot reads all three collections inside a single View transaction,
// which BoltDB guarantees is a consistent point-in-time view.
func (s *BoltStore) Snapshot() (*types.DesiredState, error) {
	state := &types.DesiredState{}
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := listSwitchesTx(tx, &state.Switches); err != nil {
			return err
		}
		if err := listTagRulesTx(tx, &state.TagRules); err != nil {
			return err
		}
		return listFilterRulesTx(tx, &state.FilterRules)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateUnavailable, err)
	}
	return state, nil
}

func listSwitchesTx(tx *bolt.Tx, out *[]*types.Switch) error {
	b := tx.Bucket(bucketSwitches)
	err := b.ForEach(func(k, v []byte) error {
		var sw types.Switch
		if err := json.Unmarshal(v, &sw); err != nil {
			return err
		}
		*out = append(*out, &sw)
		return nil
	})
	if err != nil {
		return err
	}
	sort.Slice(*out, func(i, j int) bool { return (*out)[i].Name < (*out)[j].Name })
	return nil
}

func listTagRulesTx(tx *bolt.Tx, out *[]*types.TagRule) error {
	b := tx.Bucket(bucketTagRules)
	// Big-endian id keys iterate in id order, matching the original
	// store's ORDER BY id.
	return b.ForEach(func(k, v []byte) error {
		var rule types.TagRule
		if err := json.Unmarshal(v, &rule); err != nil {
			return err
		}
		*out = append(*out, &rule)
		return nil
	})
}

func listFilterRulesTx(tx *bolt.Tx, out *[]*types.FilterRule) error {
	b := tx.Bucket(bucketFilterRules)
	return b.ForEach(func(k, v []byte) error {
		var rule types.FilterRule
		if err := json.Unmarshal(v, &rule); err != nil {
			return err
		}
		*out = append(*out, &rule)
		return nil
	})
}

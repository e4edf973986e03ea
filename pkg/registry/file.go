package registry

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/lighthouse-p2p/lighthouse/pkg/identity"
	"github.com/lighthouse-p2p/lighthouse/pkg/types"
	"gopkg.in/yaml.v3"
)

const (
	stateFileName = "directory.yaml"
	stateFilePerm = 0o600
	stateDirPerm  = 0o700
)

type diskState struct {
	Registrations []diskRegistration `yaml:"registrations,omitempty"`
	Lookups       []diskLookup       `yaml:"lookups,omitempty"`
}

type diskRegistration struct {
	PubKey       string `yaml:"pubKey"`
	Endpoint     string `yaml:"endpoint"`
	RegisteredAt int64  `yaml:"registeredAt"`
}

type diskLookup struct {
	ID         string `yaml:"id"`
	Client     string `yaml:"client"`
	LookedUpAt int64  `yaml:"lookedUpAt"`
}

// FileStore is a MemoryStore that persists a YAML snapshot on every
// mutation, written atomically so a crash never leaves a torn state file.
// The snapshot is written before the mutation is committed to memory: a
// failed write leaves no trace, so reads never serve state that was
// reported as unstored.
type FileStore struct {
	mu   sync.Mutex
	mem  *MemoryStore
	path string
}

func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, stateDirPerm); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	s := &FileStore{
		mem:  NewMemoryStore(),
		path: filepath.Join(dir, stateFileName),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *FileStore) PutRegistration(ctx context.Context, reg Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	regs, lookups := s.mem.snapshot()
	regs[reg.ID] = reg

	if err := s.persist(regs, lookups); err != nil {
		return err
	}
	return s.mem.PutRegistration(ctx, reg)
}

func (s *FileStore) GetRegistration(ctx context.Context, id types.NodeID) (Registration, error) {
	return s.mem.GetRegistration(ctx, id)
}

func (s *FileStore) AppendLookup(ctx context.Context, rec LookupRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	regs, lookups := s.mem.snapshot()
	lookups[rec.ID] = append(lookups[rec.ID], rec)

	if err := s.persist(regs, lookups); err != nil {
		return err
	}
	return s.mem.AppendLookup(ctx, rec)
}

func (s *FileStore) Lookups(ctx context.Context, id types.NodeID) ([]LookupRecord, error) {
	return s.mem.Lookups(ctx, id)
}

func (s *FileStore) Wipe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persist(nil, nil); err != nil {
		return err
	}
	return s.mem.Wipe(ctx)
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read state: %w", err)
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	st := diskState{}
	if err := yaml.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("unmarshal state: %w", err)
	}

	regs := make(map[types.NodeID]Registration, len(st.Registrations))
	for _, dr := range st.Registrations {
		pub, err := hex.DecodeString(dr.PubKey)
		if err != nil {
			return fmt.Errorf("parse stored public key: %w", err)
		}
		ep, err := types.ParseEndpoint(dr.Endpoint)
		if err != nil {
			return fmt.Errorf("parse stored endpoint: %w", err)
		}
		reg := Registration{
			ID:           identity.DeriveID(pub),
			PubKey:       pub,
			Endpoint:     ep,
			RegisteredAt: time.Unix(dr.RegisteredAt, 0).UTC(),
		}
		regs[reg.ID] = reg
	}

	lookups := make(map[types.NodeID][]LookupRecord, len(st.Lookups))
	for _, dl := range st.Lookups {
		id, err := types.ParseNodeID(dl.ID)
		if err != nil {
			return fmt.Errorf("parse stored lookup id: %w", err)
		}
		client, err := types.ParseEndpoint(dl.Client)
		if err != nil {
			return fmt.Errorf("parse stored lookup client: %w", err)
		}
		lookups[id] = append(lookups[id], LookupRecord{
			ID:         id,
			Client:     client,
			LookedUpAt: time.Unix(dl.LookedUpAt, 0).UTC(),
		})
	}

	s.mem.restore(regs, lookups)
	return nil
}

// persist writes the supplied state, not the current memory state, so
// callers can stage a mutation and commit it only once the write is safe
// on disk.
func (s *FileStore) persist(regs map[types.NodeID]Registration, lookups map[types.NodeID][]LookupRecord) error {
	st := diskState{}
	for _, reg := range regs {
		st.Registrations = append(st.Registrations, diskRegistration{
			PubKey:       hex.EncodeToString(reg.PubKey),
			Endpoint:     reg.Endpoint.String(),
			RegisteredAt: reg.RegisteredAt.Unix(),
		})
	}
	sort.Slice(st.Registrations, func(i, j int) bool {
		return st.Registrations[i].PubKey < st.Registrations[j].PubKey
	})

	ids := make([]types.NodeID, 0, len(lookups))
	for id := range lookups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	for _, id := range ids {
		for _, rec := range lookups[id] {
			st.Lookups = append(st.Lookups, diskLookup{
				ID:         rec.ID.String(),
				Client:     rec.Client.String(),
				LookedUpAt: rec.LookedUpAt.Unix(),
			})
		}
	}

	b, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := renameio.WriteFile(s.path, b, stateFilePerm); err != nil {
		return fmt.Errorf("write state: %w", err)
	}

	return nil
}

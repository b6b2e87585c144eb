package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "promobot/pkg/logx"
)

// fileStore persists the arena as a single JSON snapshot, rewritten
// after every mutating operation so a process restart loses nothing.
// Writes go to a temp file in the same directory followed by a rename.
type fileStore struct {
	*memStore
	log  logx.Logger
	path string
}

type snapshot struct {
	NextID      int64     `json:"nextId"`
	Items       []Item    `json:"items"`
	Campaign    *Campaign `json:"campaign,omitempty"`
	PublishMark time.Time `json:"lastPostAt,omitzero"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{memStore: newMem(), log: log, path: path}
	s.memStore.persist = s.writeSnapshotLocked

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) load() error {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.log.Info("store snapshot not found; starting empty", logx.String("path", s.path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range snap.Items {
		it := snap.Items[i]
		s.items[it.ID] = &it
		if it.ID >= s.nextID {
			s.nextID = it.ID + 1
		}
	}
	if snap.NextID > s.nextID {
		s.nextID = snap.NextID
	}
	s.campaign = snap.Campaign
	s.publishMark = snap.PublishMark
	s.log.Info("store snapshot loaded", logx.String("path", s.path), logx.Int("items", len(snap.Items)))
	return nil
}

// writeSnapshotLocked runs with memStore.mu held.
func (s *fileStore) writeSnapshotLocked() error {
	snap := snapshot{
		NextID:      s.nextID,
		Items:       s.sortedLocked(),
		Campaign:    s.campaign,
		PublishMark: s.publishMark,
	}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		s.log.Error("store snapshot write failed", logx.String("path", tmp), logx.Err(err))
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.log.Error("store snapshot rename failed", logx.String("path", s.path), logx.Err(err))
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

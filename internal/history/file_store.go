package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// contactLog is the on-disk document, one file per contact.
type contactLog struct {
	PhoneNumber  string    `json:"phoneNumber"`
	FirstContact time.Time `json:"firstContact"`
	LastActivity time.Time `json:"lastActivity"`
	Messages     []Message `json:"messages"`
}

type FileStore struct {
	dir           string
	maxMessages   int
	retentionDays int
	now           func() time.Time
}

func NewFileStore(dir string, maxMessages, retentionDays int) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &FileStore{
		dir:           dir,
		maxMessages:   maxMessages,
		retentionDays: retentionDays,
		now:           time.Now,
	}, nil
}

var _ Store = (*FileStore)(nil)

func (s *FileStore) Record(_ context.Context, phone, role, content string) error {
	log, err := s.load(phone)
	if err != nil {
		return err
	}

	now := s.now()
	log.LastActivity = now
	log.Messages = append(log.Messages, Message{
		Timestamp: now,
		Role:      role,
		Content:   strings.TrimSpace(content),
	})
	if len(log.Messages) > s.maxMessages {
		log.Messages = log.Messages[len(log.Messages)-s.maxMessages:]
	}

	return s.save(phone, log)
}

func (s *FileStore) Context(_ context.Context, phone string, n int) ([]Message, error) {
	log, err := s.load(phone)
	if err != nil {
		return nil, err
	}

	msgs := log.Messages
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}

// CleanOld removes contact files whose last modification is older than the
// retention period. Returns how many files were deleted.
func (s *FileStore) CleanOld(_ context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().AddDate(0, 0, -s.retentionDays)
	deleted := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
				deleted++
			}
		}
	}

	return deleted, nil
}

func (s *FileStore) Stats(_ context.Context) (Stats, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return Stats{}, err
	}

	var st Stats
	activeSince := s.now().Add(-24 * time.Hour)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var log contactLog
		if err := json.Unmarshal(raw, &log); err != nil {
			continue
		}

		st.TotalContacts++
		st.TotalMessages += len(log.Messages)
		if log.LastActivity.After(activeSince) {
			st.ActiveContacts++
		}
	}

	if st.TotalContacts > 0 {
		st.AveragePerContact = st.TotalMessages / st.TotalContacts
	}
	return st, nil
}

func (s *FileStore) load(phone string) (*contactLog, error) {
	raw, err := os.ReadFile(s.path(phone))
	if errors.Is(err, fs.ErrNotExist) {
		now := s.now()
		return &contactLog{
			PhoneNumber:  phone,
			FirstContact: now,
			LastActivity: now,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	var log contactLog
	if err := json.Unmarshal(raw, &log); err != nil {
		return nil, fmt.Errorf("corrupt history file for %s: %w", phone, err)
	}
	return &log, nil
}

func (s *FileStore) save(phone string, log *contactLog) error {
	raw, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(phone), raw, 0o644)
}

func (s *FileStore) path(phone string) string {
	return filepath.Join(s.dir, contactKey(phone)+".json")
}

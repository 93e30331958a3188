package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/TheMichaelB/finsync/internal/events"
	"github.com/TheMichaelB/finsync/internal/models"
)

// Session is the on-disk form of a signed-in user.
type Session struct {
	UserID    string     `json:"user_id"`
	Email     string     `json:"email,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// IsExpired checks if the session is past its expiry.
func (s *Session) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// FileSource reads the identity from a session file and follows changes to it.
// A missing, unreadable or expired file is the null identity.
type FileSource struct {
	path    string
	logger  *events.Logger
	watcher *fsnotify.Watcher
	feed    *feed
	now     func() time.Time

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewFileSource loads path and starts watching its directory.
func NewFileSource(path string, logger *events.Logger) (*FileSource, error) {
	if path == "" {
		return nil, fmt.Errorf("session file path required")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve session path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	// Watch the directory so atomic replace (write temp + rename) is seen.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	s := &FileSource{
		path:    abs,
		logger:  logger.WithField("component", "identity_file"),
		watcher: watcher,
		feed:    newFeed(),
		now:     time.Now,
		done:    make(chan struct{}),
	}

	s.reload()

	s.wg.Add(1)
	go s.watch()

	return s, nil
}

// Current returns the identity from the last successful read.
func (s *FileSource) Current() models.Identity {
	return s.feed.get()
}

// Changes returns identity changes, starting with the initial value.
func (s *FileSource) Changes() <-chan models.Identity {
	return s.feed.ch
}

// Close stops watching and closes the change channel.
func (s *FileSource) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.watcher.Close()
		s.wg.Wait()
		s.feed.close()
	})
	return err
}

func (s *FileSource) watch() {
	defer s.wg.Done()

	expiry := time.NewTimer(time.Hour)
	expiry.Stop()
	s.armExpiry(expiry)

	for {
		select {
		case <-s.done:
			expiry.Stop()
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			s.logger.WithField("op", event.Op.String()).Debug("Session file changed")
			s.reload()
			s.armExpiry(expiry)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.WithError(err).Warn("Session watcher error")

		case <-expiry.C:
			s.logger.Info("Session expired")
			s.reload()
		}
	}
}

// armExpiry schedules a reload at the current session's expiry.
func (s *FileSource) armExpiry(t *time.Timer) {
	sess, err := s.load()
	if err != nil || sess.ExpiresAt == nil {
		return
	}
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(time.Until(*sess.ExpiresAt))
}

func (s *FileSource) reload() {
	id := models.NoIdentity

	sess, err := s.load()
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		s.logger.WithError(err).Warn("Failed to read session file")
	case sess.IsExpired(s.now()):
		s.logger.WithField("user_id", sess.UserID).Info("Session is expired")
	default:
		id = models.NewIdentity(sess.UserID)
	}

	if s.feed.publish(id) {
		s.logger.WithField("user_id", id.String()).Info("Identity changed")
	}
}

func (s *FileSource) load() (*Session, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	return &sess, nil
}

// SaveSession writes a session file atomically.
func SaveSession(path string, sess *Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close session: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename session: %w", err)
	}
	return nil
}

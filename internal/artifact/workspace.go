package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxSessionPrefix = 32

var ErrScopeClosed = errors.New("artifact scope is closed")

// Workspace is the root directory under which every turn gets its own scope
type Workspace struct {
	root   string
	logger *zap.Logger
}

// NewWorkspace creates the root directory if needed
func NewWorkspace(root string, logger *zap.Logger) (*Workspace, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "vocalis")
		logger.Info("Using default artifact root", zap.String("root", root))
	}

	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}

	return &Workspace{root: root, logger: logger}, nil
}

// Root returns the workspace directory
func (w *Workspace) Root() string {
	return w.root
}

// Open creates a fresh scope for one turn of a session.
// The directory name embeds the session id and a random suffix, so concurrent
// turns of the same or different sessions never share a path.
func (w *Workspace) Open(sessionID string) (*Scope, error) {
	name := fmt.Sprintf("%s-%s", sanitize(sessionID), uuid.NewString())
	dir := filepath.Join(w.root, name)

	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create artifact scope: %w", err)
	}

	w.logger.Debug("Artifact scope opened",
		zap.String("sessionID", sessionID),
		zap.String("dir", dir))

	return &Scope{
		dir:       dir,
		sessionID: sessionID,
		logger:    w.logger,
	}, nil
}

// Scope owns every temporary file of one turn
type Scope struct {
	dir       string
	sessionID string
	logger    *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Dir returns the scope directory
func (s *Scope) Dir() string {
	return s.dir
}

// Path returns a path inside the scope; directory parts of name are dropped
func (s *Scope) Path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// Contains reports whether path lies inside the scope
func (s *Scope) Contains(path string) bool {
	rel, err := filepath.Rel(s.dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// WriteFile stores data under name and returns its path
func (s *Scope) WriteFile(name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrScopeClosed
	}

	path := s.Path(name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// Close removes the scope and everything in it. It is safe to call more than once.
func (s *Scope) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := os.RemoveAll(s.dir); err != nil {
		s.logger.Error("Failed to remove artifact scope",
			zap.String("sessionID", s.sessionID),
			zap.String("dir", s.dir),
			zap.Error(err))
		return err
	}

	s.logger.Debug("Artifact scope removed",
		zap.String("sessionID", s.sessionID),
		zap.String("dir", s.dir))
	return nil
}

// sanitize keeps a short, filesystem-safe prefix of the session id
func sanitize(sessionID string) string {
	var b strings.Builder
	for _, r := range sessionID {
		if b.Len() >= maxSessionPrefix {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "anon"
	}
	return b.String()
}

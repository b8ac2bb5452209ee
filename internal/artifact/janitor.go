package artifact

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Janitor removes scopes left behind by a crashed process
type Janitor struct {
	workspace *Workspace
	maxAge    time.Duration
	interval  time.Duration
	logger    *zap.Logger
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewJanitor creates a janitor that deletes scopes older than maxAge every interval
func NewJanitor(workspace *Workspace, maxAge, interval time.Duration, logger *zap.Logger) *Janitor {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Janitor{
		workspace: workspace,
		maxAge:    maxAge,
		interval:  interval,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the background cleanup process
func (j *Janitor) Start() {
	go j.cleanupLoop()
	j.logger.Info("Artifact janitor started",
		zap.Duration("maxAge", j.maxAge),
		zap.Duration("interval", j.interval))
}

// Stop gracefully stops the janitor
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		close(j.stopChan)
		j.logger.Info("Artifact janitor stopped")
	})
}

func (j *Janitor) cleanupLoop() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.Sweep(time.Now())

	for {
		select {
		case <-j.stopChan:
			return
		case now := <-ticker.C:
			j.Sweep(now)
		}
	}
}

// Sweep removes every scope whose modification time is older than maxAge and returns how many went
func (j *Janitor) Sweep(now time.Time) int {
	entries, err := os.ReadDir(j.workspace.Root())
	if err != nil {
		j.logger.Error("Failed to list artifact root", zap.Error(err))
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < j.maxAge {
			continue
		}

		path := filepath.Join(j.workspace.Root(), entry.Name())
		if err := os.RemoveAll(path); err != nil {
			j.logger.Error("Failed to remove stale artifact scope", zap.String("dir", path), zap.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		j.logger.Info("Removed stale artifact scopes", zap.Int("count", removed))
	}
	return removed
}

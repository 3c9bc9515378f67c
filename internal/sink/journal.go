// internal/sink/journal.go
package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/mev-detector/internal/export"
	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// DefaultJournalFlushInterval is how often buffered journal rows reach disk.
const DefaultJournalFlushInterval = time.Second

// Journal appends every detection to a CSV file. The header is written when
// the file is empty, so restarts keep appending to the same journal.
type Journal struct {
	mu       sync.Mutex
	writer   *csv.Writer
	file     *os.File
	ticker   *time.Ticker
	done     chan struct{}
	logger   *zap.Logger
	filePath string
	closed   bool

	writtenRecords uint64
	flushCount     uint64
}

// NewJournal opens path for appending, creating parent directories.
func NewJournal(path string, flushInterval time.Duration, logger *zap.Logger) (*Journal, error) {
	if flushInterval <= 0 {
		flushInterval = DefaultJournalFlushInterval
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat journal: %w", err)
	}

	j := &Journal{
		writer:   csv.NewWriter(file),
		file:     file,
		ticker:   time.NewTicker(flushInterval),
		done:     make(chan struct{}),
		logger:   logger.Named("journal"),
		filePath: path,
	}

	if stat.Size() == 0 {
		if err := j.writer.Write(export.CSVHeader()); err != nil {
			j.ticker.Stop()
			file.Close()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
		j.writer.Flush()
	}

	go j.periodicFlush()

	return j, nil
}

func (j *Journal) Name() string { return "journal" }

// WriteDetection appends one row for d.
func (j *Journal) WriteDetection(_ context.Context, d types.Detection) error {
	record := export.CSVRecord(d)
	if record == nil {
		return fmt.Errorf("detection %q carries no payload", d.Kind)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return types.ErrClosed
	}
	if err := j.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	j.writtenRecords++
	return nil
}

// Flush forces buffered rows to disk.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.flushLocked()
}

func (j *Journal) flushLocked() error {
	if j.closed {
		return nil
	}

	j.writer.Flush()
	if err := j.writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}

	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}

	j.flushCount++
	return nil
}

func (j *Journal) periodicFlush() {
	for {
		select {
		case <-j.ticker.C:
			if err := j.Flush(); err != nil {
				j.logger.Error("Periodic journal flush failed",
					zap.String("file", j.filePath),
					zap.Error(err))
			}
		case <-j.done:
			return
		}
	}
}

// Close flushes and closes the file. It is idempotent.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	close(j.done)
	j.ticker.Stop()

	if err := j.flushLocked(); err != nil {
		j.closed = true
		j.file.Close()
		return err
	}
	j.closed = true

	if err := j.file.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}

	j.logger.Info("Journal closed",
		zap.String("file", j.filePath),
		zap.Uint64("records", j.writtenRecords),
		zap.Uint64("flushes", j.flushCount))

	return nil
}

// Stats returns the number of rows written and flushes performed.
func (j *Journal) Stats() (records, flushes uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.writtenRecords, j.flushCount
}

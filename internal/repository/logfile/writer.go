package logfile

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/crm-session-security/internal/core/domain"
	"github.com/arklim/crm-session-security/internal/core/port"
)

// ChainedWriter appends audit entries as JSON lines to the current day's
// file, linking each entry to its predecessor through the chain hash. There
// is no update or delete path anywhere in this package: immutability of the
// log is structural.
//
// The writer is the single append point for this process; a mutex serializes
// appends so the chain never forks under concurrent requests.
type ChainedWriter struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	lastHash    string
	currentDate string
	file        *os.File
}

// NewChainedWriter opens a writer over the audit directory, recovering the
// chain tail from the most recent retained entry so the hash chain continues
// across restarts.
func NewChainedWriter(dir string, logger *zap.Logger) (*ChainedWriter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audit log dir: %w", err)
	}

	w := &ChainedWriter{
		dir:    dir,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}

	tail, err := w.recoverTailHash()
	if err != nil {
		return nil, err
	}
	w.lastHash = tail

	return w, nil
}

// WithClock overrides the writer clock for deterministic tests.
func (w *ChainedWriter) WithClock(clock func() time.Time) *ChainedWriter {
	if clock != nil {
		w.now = clock
	}
	return w
}

// Append stamps, chains, and writes the entry, returning it with hash fields
// populated.
func (w *ChainedWriter) Append(_ context.Context, entry domain.AuditLogEntry) (domain.AuditLogEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = w.now()
	}
	entry.PreviousHash = w.lastHash

	hash, err := entry.ComputeChainHash()
	if err != nil {
		return domain.AuditLogEntry{}, err
	}
	entry.Hash = hash

	line, err := json.Marshal(entry)
	if err != nil {
		return domain.AuditLogEntry{}, fmt.Errorf("marshal audit entry: %w", err)
	}

	file, err := w.fileFor(entry.Timestamp)
	if err != nil {
		return domain.AuditLogEntry{}, err
	}

	if _, err := file.Write(append(line, '\n')); err != nil {
		return domain.AuditLogEntry{}, fmt.Errorf("append audit entry: %w", err)
	}

	w.lastHash = entry.Hash

	return entry, nil
}

// Close releases the current log file handle.
func (w *ChainedWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.currentDate = ""
	return err
}

func (w *ChainedWriter) fileFor(at time.Time) (*os.File, error) {
	date := at.UTC().Format("2006-01-02")
	if w.file != nil && date == w.currentDate {
		return w.file, nil
	}

	if w.file != nil {
		if err := w.file.Close(); err != nil {
			w.logger.Warn("closing rotated audit log file failed", zap.Error(err))
		}
		w.file = nil
	}

	path := filepath.Join(w.dir, fmt.Sprintf("audit-%s.log", date))
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open audit log file: %w", err)
	}

	w.file = file
	w.currentDate = date

	return file, nil
}

// recoverTailHash finds the hash of the last entry in the newest retained
// file. Entries written before hashing was introduced lack the field, which
// simply restarts the chain.
func (w *ChainedWriter) recoverTailHash() (string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return "", fmt.Errorf("read audit log dir: %w", err)
	}

	var newest string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, "audit-") {
			continue
		}
		if !strings.HasSuffix(name, ".log") && !strings.HasSuffix(name, ".log.gz") {
			continue
		}
		if name > newest {
			newest = name
		}
	}

	if newest == "" {
		return "", nil
	}

	hash, err := lastHashInFile(filepath.Join(w.dir, newest))
	if err != nil {
		w.logger.Warn("recovering audit chain tail failed, starting fresh chain",
			zap.String("file", newest), zap.Error(err))
		return "", nil
	}

	return hash, nil
}

func lastHashInFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var src io.Reader = file
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return "", err
		}
		defer gz.Close()
		src = gz
	}

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var last string
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			last = line
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if last == "" {
		return "", nil
	}

	var entry domain.AuditLogEntry
	if err := json.Unmarshal([]byte(last), &entry); err != nil {
		return "", err
	}

	return entry.Hash, nil
}

var _ port.AuditWriter = (*ChainedWriter)(nil)

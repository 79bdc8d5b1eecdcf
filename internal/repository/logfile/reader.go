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
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/arklim/crm-session-security/internal/core/domain"
	"github.com/arklim/crm-session-security/internal/core/port"
)

// Audit log lines can carry long user-agent strings and paths; allow lines
// well beyond bufio's default token size.
const maxLineBytes = 1 << 20

// Reader scans newline-delimited JSON audit files, both plain and
// gzip-compressed, oldest file first. Reads are pure: rotation happens
// out-of-band, and a file disappearing mid-scan is skipped rather than
// failing the whole query.
type Reader struct {
	dir    string
	logger *zap.Logger
}

// NewReader constructs a reader over the given audit log directory.
func NewReader(dir string, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{dir: dir, logger: logger}
}

// ScanAll visits every retained entry in chronological file order. The
// callback returns false to stop the scan early.
func (r *Reader) ScanAll(ctx context.Context, fn func(domain.AuditLogEntry) bool) error {
	files, err := r.listLogFiles()
	if err != nil {
		return err
	}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		stop, err := r.scanFile(ctx, path, fn)
		if err != nil {
			// A vanished or unreadable file must not abort the query.
			r.logger.Warn("skipping unreadable audit log file",
				zap.String("file", path), zap.Error(err))
			continue
		}
		if stop {
			return nil
		}
	}

	return nil
}

func (r *Reader) listLogFiles() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read audit log dir: %w", err)
	}

	var files []string
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
		files = append(files, filepath.Join(r.dir, name))
	}

	// Filenames embed the date, so lexical order is chronological order.
	sort.Strings(files)

	return files, nil
}

func (r *Reader) scanFile(ctx context.Context, path string, fn func(domain.AuditLogEntry) bool) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()

	var src io.Reader = file
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return false, fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		src = gz
	}

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var entry domain.AuditLogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			r.logger.Warn("skipping unparsable audit log line",
				zap.String("file", path), zap.Error(err))
			continue
		}

		if !fn(entry) {
			return true, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("scan audit log file: %w", err)
	}

	return false, nil
}

var _ port.AuditReader = (*Reader)(nil)

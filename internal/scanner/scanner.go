// Package scanner is the Scanner Wrapper (spec.md §4.B): an optional
// decorator over a rpcclient.Client that routes tool-call input/output
// through a designated scanner tool server for content inspection, with a
// line-buffered JSONL audit trail. Adapted from the teacher's audit-log
// pattern (one append-only file, one writer) grounded on
// other_examples/aetherflow's openLogFile/logFilePath convention (0600,
// O_APPEND, no fsync — observability data, not durability-critical).
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/orchestrator/internal/rpcclient"
)

// ErrScannerBlocked is returned when the scanner rejects content, or is
// unreachable under failMode=block.
var ErrScannerBlocked = fmt.Errorf("scanner blocked")

// Config controls scanning behavior for one wrapped client.
type Config struct {
	ScanInput  bool
	ScanOutput bool
	FailMode   string // "block" (default) or "allow"
}

func (c Config) failClosed() bool { return c.FailMode != "allow" }

// auditEntry is one line of the scanner-audit.jsonl file.
type auditEntry struct {
	ScanID     string   `json:"scan_id"`
	Timestamp  string   `json:"timestamp"`
	Source     string   `json:"source"`
	ContentSHA string   `json:"content_hash"`
	Safe       bool     `json:"safe"`
	Confidence float64  `json:"confidence"`
	Threats    []string `json:"threats,omitempty"`
	LatencyMs  int64    `json:"latency_ms"`
}

// scanResult is the shape returned by a scanner tool server's scan() call.
type scanResult struct {
	Safe       bool     `json:"safe"`
	Confidence float64  `json:"confidence"`
	Threats    []string `json:"threats,omitempty"`
}

// Wrapper decorates an rpcclient.Client with pre/post-call content scanning.
type Wrapper struct {
	inner   *rpcclient.Client
	scanner *rpcclient.Client
	cfg     Config

	mu      sync.Mutex
	logFile *os.File
}

// New creates a Wrapper. auditPath is the JSONL audit log location.
func New(inner, scannerClient *rpcclient.Client, cfg Config, auditPath string) (*Wrapper, error) {
	w := &Wrapper{inner: inner, scanner: scannerClient, cfg: cfg}
	if auditPath != "" {
		if err := os.MkdirAll(filepath.Dir(auditPath), 0700); err != nil {
			return nil, fmt.Errorf("create audit log dir: %w", err)
		}
		f, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		w.logFile = f
	}
	return w, nil
}

// CallTool scans input, delegates to the wrapped client, then scans output.
func (w *Wrapper) CallTool(ctx context.Context, name string, args map[string]any) (*mcpgo.CallToolResult, error) {
	if w.cfg.ScanInput {
		raw, _ := json.Marshal(args)
		if err := w.scan(ctx, "input", raw); err != nil {
			return nil, err
		}
	}

	result, err := w.inner.CallTool(ctx, name, args)
	if err != nil {
		return result, err
	}

	if w.cfg.ScanOutput && result != nil {
		raw, _ := json.Marshal(result.Content)
		if err := w.scan(ctx, "output", raw); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// scan calls the designated scanner client and records an audit entry
// regardless of outcome.
func (w *Wrapper) scan(ctx context.Context, source string, content []byte) error {
	start := time.Now()
	sum := sha256.Sum256(content)
	hash := fmt.Sprintf("%x", sum)

	if w.scanner == nil {
		if w.cfg.failClosed() {
			w.audit(source, hash, false, 0, nil, time.Since(start))
			return ErrScannerBlocked
		}
		w.audit(source, hash, true, 0, nil, time.Since(start))
		return nil
	}

	res, err := w.scanner.CallTool(ctx, "scan", map[string]any{"content": string(content)})
	latency := time.Since(start)

	if err != nil {
		if w.cfg.failClosed() {
			w.audit(source, hash, false, 0, nil, latency)
			return ErrScannerBlocked
		}
		w.audit(source, hash, true, 0, nil, latency)
		return nil
	}

	sr := parseScanResult(res)
	w.audit(source, hash, sr.Safe, sr.Confidence, sr.Threats, latency)
	if !sr.Safe {
		return ErrScannerBlocked
	}
	return nil
}

func parseScanResult(res *mcpgo.CallToolResult) scanResult {
	if res == nil || len(res.Content) == 0 {
		return scanResult{Safe: true, Confidence: 1}
	}
	tc, ok := mcpgo.AsTextContent(res.Content[0])
	if !ok {
		return scanResult{Safe: true, Confidence: 1}
	}
	var sr scanResult
	if err := json.Unmarshal([]byte(tc.Text), &sr); err != nil {
		return scanResult{Safe: true, Confidence: 1}
	}
	return sr
}

func (w *Wrapper) audit(source, hash string, safe bool, confidence float64, threats []string, latency time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.logFile == nil {
		return
	}
	entry := auditEntry{
		ScanID:     uuid.NewString(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Source:     source,
		ContentSHA: hash,
		Safe:       safe,
		Confidence: confidence,
		Threats:    threats,
		LatencyMs:  latency.Milliseconds(),
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	line = append(line, '\n')
	_, _ = w.logFile.Write(line)
}

// Close releases the audit log handle.
func (w *Wrapper) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.logFile != nil {
		return w.logFile.Close()
	}
	return nil
}

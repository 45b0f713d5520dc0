// Package calls collects call metadata from the voice provider and keeps a raw
// snapshot of every record it fetches.
package calls

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"voice-chain-go/internal/logger"
	"voice-chain-go/internal/types"
)

// ErrNoCallsFound means the list request returned nothing to analyze.
var ErrNoCallsFound = errors.New("no calls found in provider call history")

// Selector picks calls either by explicit ids (order preserved) or as the Last
// N most recent.
type Selector struct {
	IDs  []string
	Last int
}

// API is the part of the provider client the collector needs.
type API interface {
	ListCalls(ctx context.Context, limit int) ([]string, error)
	GetCall(ctx context.Context, callID string) (json.RawMessage, error)
}

type Collector struct {
	api    API
	rawDir string
	log    *logger.Logger
}

// NewCollector returns a collector persisting snapshots under rawDir. A nil
// api means no credential was available.
func NewCollector(api API, rawDir string) *Collector {
	return &Collector{api: api, rawDir: rawDir, log: logger.Component("calls.collector")}
}

// Collect fetches every selected call and overwrites its snapshot at
// <rawDir>/<first 12 chars of id>.json. Snapshots are never reused: provider
// analysis can change after a call ends.
func (c *Collector) Collect(ctx context.Context, sel Selector) ([]types.CallRecord, error) {
	if c.api == nil {
		return nil, ErrMissingCredential
	}
	if err := os.MkdirAll(c.rawDir, 0o755); err != nil {
		return nil, fmt.Errorf("create raw dir: %w", err)
	}

	ids := sel.IDs
	if len(ids) == 0 {
		limit := sel.Last
		if limit <= 0 {
			limit = 2
		}
		listed, err := c.api.ListCalls(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("list calls: %w", err)
		}
		if len(listed) == 0 {
			return nil, ErrNoCallsFound
		}
		ids = listed
		c.log.WithField("requested", limit).WithField("listed", len(ids)).Info("listed recent calls")
	}

	out := make([]types.CallRecord, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := c.api.GetCall(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get call %s: %w", types.ShortID(id), err)
		}
		path, err := c.writeSnapshot(id, raw)
		if err != nil {
			return nil, err
		}
		c.log.WithCall(id).WithField("snapshot", path).Debug("snapshot written")
		out = append(out, types.CallRecord{CallID: id, Raw: raw, RawSnapshotPath: path})
	}
	return out, nil
}

// SnapshotPath returns where the snapshot for callID lives. Distinct ids with
// the same 12-character prefix share a path; the later write wins.
func (c *Collector) SnapshotPath(callID string) string {
	return filepath.Join(c.rawDir, types.ShortID(callID)+".json")
}

func (c *Collector) writeSnapshot(callID string, raw json.RawMessage) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(raw), "", "  "); err != nil {
		return "", fmt.Errorf("indent snapshot %s: %w", types.ShortID(callID), err)
	}
	buf.WriteByte('\n')
	path := c.SnapshotPath(callID)
	if err := renameio.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write snapshot %s: %w", path, err)
	}
	return path, nil
}

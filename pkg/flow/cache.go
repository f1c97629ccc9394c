package flow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tombee/promptflow/internal/metrics"
)

// CacheResult is what a cache lookup returns on a hit: the node's
// previously computed output plus the identifiers of the run that
// produced it, so the new run can record where its result came from.
type CacheResult struct {
	Hit          bool
	Output       interface{}
	CachedRunID  string
	CachedFlowID string
}

// cacheEntry is the on-disk representation of one cached node result.
type cacheEntry struct {
	FlowID   string      `json:"flow_id"`
	RunID    string      `json:"run_id"`
	Output   interface{} `json:"output"`
	CachedAt time.Time   `json:"cached_at"`
}

// CacheManager is a content-addressed disk cache for node results,
// keyed by a hash of the node's identity and resolved inputs. It
// mirrors original_source's AbstractCacheManager (calculate_cache_info
// / get_cache_result / persist_result), but stores entries as
// content-addressed files on disk instead of a database table, the way
// the teacher's WorkflowCache lays out its own content-addressable
// store.
type CacheManager struct {
	basePath string
	logger   *slog.Logger
}

// NewCacheManager creates a CacheManager rooted at basePath. The
// directory is created on first use, not at construction, so building
// one is never itself a failure mode.
func NewCacheManager(basePath string, logger *slog.Logger) *CacheManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheManager{basePath: basePath, logger: logger}
}

// HashID computes the cache key for a node invocation: the flow's
// content identity, the node's name, and its fully-resolved inputs.
// Two invocations with identical flowID/node/inputs always hash to the
// same ID regardless of map key order.
func HashID(flowID, node string, inputs map[string]interface{}) (string, error) {
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]interface{}, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, inputs[k])
	}

	payload, err := json.Marshal(struct {
		FlowID string        `json:"flow_id"`
		Node   string        `json:"node"`
		Inputs []interface{} `json:"inputs"`
	}{FlowID: flowID, Node: node, Inputs: ordered})
	if err != nil {
		return "", fmt.Errorf("cache: marshal hash payload: %w", err)
	}

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Get looks up a cached result by hash ID. A miss (file not present)
// is reported via CacheResult.Hit == false with a nil error, never as
// an error -- a cache miss is the common case, not a failure.
func (c *CacheManager) Get(hashID string) (CacheResult, error) {
	path := c.entryPath(hashID)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			metrics.RecordCacheLookup(false)
			return CacheResult{}, nil
		}
		return CacheResult{}, fmt.Errorf("cache: read %s: %w", path, err)
	}

	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("discarding unreadable cache entry", "hash_id", hashID, "error", err)
		metrics.RecordCacheLookup(false)
		return CacheResult{}, nil
	}

	metrics.RecordCacheLookup(true)
	return CacheResult{
		Hit:          true,
		Output:       entry.Output,
		CachedRunID:  entry.RunID,
		CachedFlowID: entry.FlowID,
	}, nil
}

// Put persists a node's result under hashID. A failure to persist is
// never fatal to the run that produced the result -- callers should
// log and continue, matching original_source's
// FlowExecutionContext._persist_cache swallowing persistence errors.
func (c *CacheManager) Put(hashID, flowID, runID string, output interface{}) error {
	path := c.entryPath(hashID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cache: create directory: %w", err)
	}

	entry := cacheEntry{
		FlowID:   flowID,
		RunID:    runID,
		Output:   output,
		CachedAt: time.Now(),
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("cache: marshal entry: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Delete removes a cached entry, if any.
func (c *CacheManager) Delete(hashID string) error {
	err := os.Remove(c.entryPath(hashID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cache: delete %s: %w", hashID, err)
	}
	return nil
}

// entryPath spreads entries across a two-character shard directory so
// no single directory accumulates every cache entry in the store.
func (c *CacheManager) entryPath(hashID string) string {
	shard := hashID
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(c.basePath, shard, hashID+".json")
}

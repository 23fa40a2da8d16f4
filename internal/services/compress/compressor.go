package compress

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Compression level names
const (
	LevelFast     = "fast"
	LevelBalanced = "balanced"
	LevelMax      = "max"
)

// Summary records one compression run for result/compression.json
type Summary struct {
	Level          string    `json:"level"`
	Entries        int       `json:"entries"`
	BytesIn        int64     `json:"bytes_in"`
	BytesOut       int64     `json:"bytes_out"`
	Ratio          float64   `json:"ratio"`
	CompletedAt    time.Time `json:"completed_at"`
	SkippedEntries int       `json:"skipped_entries"`
}

// Compressor shrinks job artefacts with LZ4 frames. Each blob under the
// source prefix becomes a .lz4 sibling under the result prefix; the original
// is preserved.
type Compressor struct {
	store  interfaces.BlobStore
	config *common.CompressionConfig
	logger arbor.ILogger
}

// NewCompressor creates a compressor service
func NewCompressor(store interfaces.BlobStore, config *common.CompressionConfig, logger arbor.ILogger) *Compressor {
	return &Compressor{store: store, config: config, logger: logger}
}

// levelOption maps a level name onto the LZ4 encoder setting
func levelOption(level string) (lz4.CompressionLevel, error) {
	switch level {
	case "", LevelBalanced:
		return lz4.Level5, nil
	case LevelFast:
		return lz4.Fast, nil
	case LevelMax:
		return lz4.Level9, nil
	default:
		return lz4.Fast, fmt.Errorf("unknown compression level %q", level)
	}
}

// Compress encodes data as a single LZ4 frame at the named level
func (c *Compressor) Compress(data []byte, level string) ([]byte, error) {
	lvl, err := levelOption(level)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(lvl)); err != nil {
		return nil, fmt.Errorf("failed to configure LZ4 writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("LZ4 compression failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize LZ4 frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress decodes a single LZ4 frame
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("LZ4 decompression failed: %w", err)
	}
	return out, nil
}

// BundleZip assembles every blob under sourcePrefix into a single zip at
// <jobID>/result/bundle.zip and returns its key. The bundle itself and any
// previous bundle are excluded from the listing.
func (c *Compressor) BundleZip(ctx context.Context, jobID, sourcePrefix string) (string, error) {
	bundleKey := fmt.Sprintf("%s/result/bundle.zip", jobID)

	keys, err := c.store.List(ctx, sourcePrefix)
	if err != nil {
		return "", fmt.Errorf("failed to list blobs under %s: %w", sourcePrefix, err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entries := 0
	for _, key := range keys {
		if key == bundleKey {
			continue
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		data, _, err := c.store.Get(ctx, key)
		if err != nil {
			return "", fmt.Errorf("failed to read blob %s: %w", key, err)
		}
		name := strings.TrimPrefix(key, sourcePrefix)
		name = strings.TrimPrefix(name, "/")
		w, err := zw.Create(name)
		if err != nil {
			return "", fmt.Errorf("failed to add %s to bundle: %w", name, err)
		}
		if _, err := w.Write(data); err != nil {
			return "", fmt.Errorf("failed to write %s into bundle: %w", name, err)
		}
		entries++
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize bundle: %w", err)
	}

	if _, err := c.store.Put(ctx, bundleKey, buf.Bytes(), "application/zip"); err != nil {
		return "", fmt.Errorf("failed to write bundle: %w", err)
	}

	c.logger.Info().
		Str("job_id", jobID).
		Int("entries", entries).
		Int("bytes", buf.Len()).
		Msg("Result bundle written")

	return bundleKey, nil
}

// CompressPrefix compresses every blob under sourcePrefix into
// <jobID>/result/compressed/, writes the run summary, and returns it.
// Already-compressed blobs (.lz4 keys) are skipped.
func (c *Compressor) CompressPrefix(ctx context.Context, jobID, sourcePrefix, level string, report interfaces.ProgressFunc) (*Summary, error) {
	if report == nil {
		report = func(models.ProgressPhase, string, float64) {}
	}
	if level == "" {
		level = c.config.Level
	}
	if _, err := levelOption(level); err != nil {
		return nil, models.NewPipelineError(models.ErrKindSubmissionRejected, "compress", err.Error(), nil)
	}

	keys, err := c.store.List(ctx, sourcePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs under %s: %w", sourcePrefix, err)
	}

	summary := &Summary{Level: level}
	for i, key := range keys {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if strings.HasSuffix(key, ".lz4") {
			summary.SkippedEntries++
			continue
		}
		report(models.PhaseCompress, fmt.Sprintf("compressing %s", key), float64(i)/float64(len(keys)))

		data, _, err := c.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read blob %s: %w", key, err)
		}
		compressed, err := c.Compress(data, level)
		if err != nil {
			return nil, err
		}

		outKey := fmt.Sprintf("%s/result/compressed/%s.lz4", jobID, strings.TrimPrefix(key, sourcePrefix+"/"))
		if _, err := c.store.Put(ctx, outKey, compressed, "application/x-lz4"); err != nil {
			return nil, fmt.Errorf("failed to write compressed blob %s: %w", outKey, err)
		}

		summary.Entries++
		summary.BytesIn += int64(len(data))
		summary.BytesOut += int64(len(compressed))
	}

	if summary.BytesIn > 0 {
		summary.Ratio = float64(summary.BytesOut) / float64(summary.BytesIn)
	}
	summary.CompletedAt = time.Now().UTC()

	summaryJSON, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, err
	}
	summaryKey := fmt.Sprintf("%s/result/compression.json", jobID)
	if _, err := c.store.Put(ctx, summaryKey, summaryJSON, "application/json"); err != nil {
		return nil, fmt.Errorf("failed to write compression summary: %w", err)
	}

	c.logger.Info().
		Str("job_id", jobID).
		Str("level", level).
		Int("entries", summary.Entries).
		Float64("ratio", summary.Ratio).
		Msg("Compression run complete")

	return summary, nil
}

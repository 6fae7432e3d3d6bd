package registry

import (
	"context"
	"fmt"

	"github.com/Sumatoshi-tech/tapsink/internal/sink"
)

// timestampLayout renders artifact-open time as YYYYMMDDTHHMMSS±zzzz.
const timestampLayout = "20060102T150405-0700"

// maxPathAttempts bounds collision disambiguation per open.
const maxPathAttempts = 100

// nextArtifactPath builds <stream>/<stream>-<timestamp><ext>, relative to
// the backend root. Two artifacts opened for one stream within the same
// second get a deterministic "-<seq>" suffix from a per-stream monotonic
// counter; a path that still exists on the backend is never reused.
func (r *Registry) nextArtifactPath(ctx context.Context, entry *Entry) (string, error) {
	stamp := r.now().Format(timestampLayout)
	base := fmt.Sprintf("%s/%s-%s", entry.name, entry.name, stamp)
	candidate := base + r.compression.Ext()

	for range maxPathAttempts {
		if candidate != entry.lastPath {
			exists, existsErr := r.backend.Exists(ctx, candidate)
			if existsErr != nil {
				return "", fmt.Errorf("check artifact path: %w", existsErr)
			}

			if !exists {
				entry.lastPath = candidate

				return candidate, nil
			}
		}

		entry.seq++
		candidate = fmt.Sprintf("%s-%d%s", base, entry.seq, r.compression.Ext())
	}

	return "", fmt.Errorf("%w: %s", sink.ErrPathConflict, candidate)
}

package vision

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/your-org/enrollment/internal/models"
	"github.com/your-org/enrollment/internal/storage"
)

// DuplicateFaceChecker looks for a face already stored for the same user
// under a different label.
type DuplicateFaceChecker struct {
	store     storage.FaceEncodingStore
	threshold float64
}

func NewDuplicateFaceChecker(store storage.FaceEncodingStore, threshold float64) *DuplicateFaceChecker {
	return &DuplicateFaceChecker{store: store, threshold: threshold}
}

// IsDuplicate reports the first stored label holding an encoding closer than
// the threshold to any of encs. The label being validated is skipped so a
// slot can be re-uploaded.
func (c *DuplicateFaceChecker) IsDuplicate(ctx context.Context, userID, label string, encs []models.FaceEncoding) (string, bool, error) {
	if len(encs) == 0 {
		return "", false, nil
	}
	if s, ok := c.store.(storage.FaceSearcher); ok {
		return s.FindSimilarFace(ctx, userID, label, encs, c.threshold)
	}

	rec, err := c.store.LoadFaces(ctx, userID)
	if err != nil {
		return "", false, err
	}
	match, dist, found := FindDuplicate(rec, label, encs, c.threshold)
	if found {
		slog.Debug("duplicate face", "user_id", userID, "label", label, "match", match, "distance", dist)
	}
	return match, found, nil
}

// FindDuplicate scans rec in label order and returns the first label with an
// encoding within threshold of any candidate, and that distance.
func FindDuplicate(rec models.UserFaceRecord, excludeLabel string, encs []models.FaceEncoding, threshold float64) (string, float64, bool) {
	labels := make([]string, 0, len(rec))
	for l := range rec {
		if l != excludeLabel {
			labels = append(labels, l)
		}
	}
	sort.Strings(labels)

	for _, l := range labels {
		for _, stored := range rec[l] {
			for _, enc := range encs {
				if d := enc.Distance(stored); d < threshold {
					return l, d, true
				}
			}
		}
	}
	return "", 0, false
}

// CosineSimilarity computes cosine similarity between two normalized vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	if dot > 1 {
		return 1
	}
	if dot < -1 {
		return -1
	}
	return float32(dot)
}

// ContentHash is the hex BLAKE3-256 digest of data.
func ContentHash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashDuplicateChecker catches byte-identical re-uploads only.
type HashDuplicateChecker struct {
	store storage.HashStore
}

func NewHashDuplicateChecker(store storage.HashStore) *HashDuplicateChecker {
	return &HashDuplicateChecker{store: store}
}

func (c *HashDuplicateChecker) IsDuplicate(ctx context.Context, userID, label, hash string) (string, bool, error) {
	rec, err := c.store.LoadHashes(ctx, userID)
	if err != nil {
		return "", false, fmt.Errorf("load hashes: %w", err)
	}
	labels := make([]string, 0, len(rec))
	for l := range rec {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		if l != label && rec[l] == hash {
			return l, true, nil
		}
	}
	return "", false, nil
}

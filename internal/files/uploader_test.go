package files

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/enrollment/internal/config"
	"github.com/your-org/enrollment/internal/models"
	"github.com/your-org/enrollment/internal/storage"
	"github.com/your-org/enrollment/internal/vision"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ValidationEvent
	err    error
}

func (p *recordingPublisher) PublishValidation(_ context.Context, ev models.ValidationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

type failingObjects struct {
	storage.ObjectStore
}

func (failingObjects) PutObject(context.Context, string, []byte, string) error {
	return errors.New("disk full")
}

func newTestUploader(t *testing.T) (*Uploader, *storage.FileStore, *recordingPublisher) {
	t.Helper()
	records, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	svc, _ := newTestService(t)

	uploads := config.UploadsConfig{
		AllowedPhotoExtensions:    []string{"jpg", "jpeg", "png"},
		AllowedDocumentExtensions: []string{"pdf", "png"},
		MaxPhotoSize:              1 << 20,
		MaxDocumentSize:           1 << 20,
		MaxPixels:                 config.DefaultMaxPixels,
	}
	pipeline := vision.NewPipeline(
		vision.NewIntegrityChecker(uploads),
		vision.NewQualityAnalyzer(200, 200),
		vision.NewHashBasedValidator(records),
		false,
	)
	pub := &recordingPublisher{}
	return NewUploader(pipeline, svc, records, pub), records, pub
}

func photo(t *testing.T, lo uint8) models.UploadCandidate {
	return models.UploadCandidate{Data: pngBytes(t, testImage(200, 200, lo, 170)), Filename: "me.png"}
}

func TestSaveUploadedFileAccepted(t *testing.T) {
	ctx := context.Background()
	u, records, pub := newTestUploader(t)

	res, err := u.SaveUploadedFile(ctx, UploadRequest{UserID: "alice", Upload: photo(t, 80)})
	require.NoError(t, err)
	require.True(t, res.Accepted, res.Reason)
	assert.Equal(t, "image_1", res.Label)
	assert.Contains(t, res.Path, "applications/alice/")

	hashes, err := records.LoadHashes(ctx, "alice")
	require.NoError(t, err)
	assert.Contains(t, hashes, "image_1")

	res, err = u.SaveUploadedFile(ctx, UploadRequest{UserID: "alice", Upload: photo(t, 90)})
	require.NoError(t, err)
	require.True(t, res.Accepted, res.Reason)
	assert.Equal(t, "image_2", res.Label)

	require.Len(t, pub.events, 2)
	assert.True(t, pub.events[0].Accepted)
	assert.Equal(t, "image_1", pub.events[0].Label)
	assert.Equal(t, res.Path, pub.events[1].StoredPath)
}

func TestSaveUploadedFileDuplicate(t *testing.T) {
	ctx := context.Background()
	u, _, pub := newTestUploader(t)
	up := photo(t, 80)

	_, err := u.SaveUploadedFile(ctx, UploadRequest{UserID: "alice", Label: "first", Upload: up})
	require.NoError(t, err)

	res, err := u.SaveUploadedFile(ctx, UploadRequest{UserID: "alice", Label: "second", Upload: up})
	require.NoError(t, err, "a rejection is not an error")
	assert.False(t, res.Accepted)
	assert.Equal(t, models.RejectDuplicate, res.Kind)
	assert.Equal(t, "first", res.DuplicateOf)
	assert.Empty(t, res.Path)

	keys, err := u.Files().List(ctx, DefaultCategory, "alice")
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	require.Len(t, pub.events, 2)
	assert.False(t, pub.events[1].Accepted)
}

func TestSaveUploadedFileDocument(t *testing.T) {
	ctx := context.Background()
	u, _, _ := newTestUploader(t)

	res, err := u.SaveUploadedFile(ctx, UploadRequest{
		UserID:   "alice",
		Label:    "transcript",
		Category: "documents",
		Kind:     models.FileKindDocument,
		Upload:   models.UploadCandidate{Data: []byte("%PDF-1.4\n%%EOF\n"), Filename: "t.pdf"},
	})
	require.NoError(t, err)
	require.True(t, res.Accepted, res.Reason)
	assert.Equal(t, "transcript", res.Label)
	assert.Contains(t, res.Path, "documents/alice/")

	res, err = u.SaveUploadedFile(ctx, UploadRequest{
		UserID: "alice",
		Kind:   models.FileKindDocument,
		Upload: models.UploadCandidate{Data: []byte("%PDF-1.4\n%%EOF\n"), Filename: "t.pdf"},
	})
	require.NoError(t, err)
	require.True(t, res.Accepted, res.Reason)
	assert.True(t, strings.HasPrefix(res.Label, "document_"), res.Label)
}

func TestSaveUploadedFileStorageFailure(t *testing.T) {
	ctx := context.Background()
	u, records, pub := newTestUploader(t)
	working := u.files
	u.files = NewService(failingObjects{})

	res, err := u.SaveUploadedFile(ctx, UploadRequest{UserID: "alice", Upload: photo(t, 80)})
	assert.Error(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, models.RejectInternal, res.Kind)
	assert.Equal(t, storeFailure, res.Reason)
	assert.Equal(t, "image_1", res.Label)
	assert.Empty(t, res.Path)
	assert.Nil(t, res.Data)
	assert.Empty(t, pub.events)

	// The fingerprint is kept even though the file could not be stored.
	hashes, err := records.LoadHashes(ctx, "alice")
	require.NoError(t, err)
	assert.Contains(t, hashes, "image_1")

	// Retrying under the reported label goes through.
	u.files = working
	res, err = u.SaveUploadedFile(ctx, UploadRequest{UserID: "alice", Label: res.Label, Upload: photo(t, 80)})
	require.NoError(t, err)
	assert.True(t, res.Accepted, res.Reason)
	assert.NotEmpty(t, res.Path)
}

func TestSaveUploadedFileLabelsAcrossCategories(t *testing.T) {
	ctx := context.Background()
	u, records, _ := newTestUploader(t)

	first, err := u.SaveUploadedFile(ctx, UploadRequest{UserID: "alice", Upload: photo(t, 80)})
	require.NoError(t, err)
	require.True(t, first.Accepted, first.Reason)
	assert.Equal(t, "image_1", first.Label)

	tests := []struct {
		name     string
		category string
		lo       uint8
		accepted bool
		label    string
	}{
		{"same photo in another category", "temp", 80, false, "image_2"},
		{"new photo in another category", "temp", 90, true, "image_2"},
		{"next photo back in the first category", DefaultCategory, 100, true, "image_3"},
	}
	for _, tt := range tests {
		res, err := u.SaveUploadedFile(ctx, UploadRequest{UserID: "alice", Category: tt.category, Upload: photo(t, tt.lo)})
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.accepted, res.Accepted, tt.name)
		assert.Equal(t, tt.label, res.Label, tt.name)
		if !tt.accepted {
			assert.Equal(t, models.RejectDuplicate, res.Kind, tt.name)
			assert.Equal(t, "image_1", res.DuplicateOf, tt.name)
		}
	}

	hashes, err := records.LoadHashes(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, hashes, 3)
}

func TestSaveUploadedFileLabelsAfterDelete(t *testing.T) {
	ctx := context.Background()
	u, _, _ := newTestUploader(t)

	first, err := u.SaveUploadedFile(ctx, UploadRequest{UserID: "alice", Upload: photo(t, 80)})
	require.NoError(t, err)
	require.True(t, first.Accepted, first.Reason)
	require.NoError(t, u.Files().Delete(ctx, first.Path))

	// The record outlives the file, so image_1 is not handed out again and
	// the same photo is still a duplicate.
	res, err := u.SaveUploadedFile(ctx, UploadRequest{UserID: "alice", Upload: photo(t, 80)})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, "image_2", res.Label)
	assert.Equal(t, "image_1", res.DuplicateOf)

	res, err = u.SaveUploadedFile(ctx, UploadRequest{UserID: "alice", Upload: photo(t, 90)})
	require.NoError(t, err)
	assert.True(t, res.Accepted, res.Reason)
	assert.Equal(t, "image_2", res.Label)
}

func TestSaveUploadedFileConcurrentSamePhoto(t *testing.T) {
	ctx := context.Background()
	u, records, _ := newTestUploader(t)
	up := photo(t, 80)

	const n = 6
	var wg sync.WaitGroup
	results := make([]UploadResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			category := DefaultCategory
			if i%2 == 1 {
				category = "temp"
			}
			results[i], errs[i] = u.SaveUploadedFile(ctx, UploadRequest{UserID: "alice", Category: category, Upload: up})
		}(i)
	}
	wg.Wait()

	accepted := 0
	for i, r := range results {
		require.NoError(t, errs[i])
		if r.Accepted {
			accepted++
			assert.Equal(t, "image_1", r.Label)
		} else {
			assert.Equal(t, models.RejectDuplicate, r.Kind)
		}
	}
	assert.Equal(t, 1, accepted)

	hashes, err := records.LoadHashes(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, hashes, 1)
}

func TestSaveUploadedFilePublishFailureIgnored(t *testing.T) {
	ctx := context.Background()
	u, _, pub := newTestUploader(t)
	pub.err = errors.New("nats down")

	res, err := u.SaveUploadedFile(ctx, UploadRequest{UserID: "alice", Label: "first", Upload: photo(t, 80)})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
}

func TestPurgeUser(t *testing.T) {
	ctx := context.Background()
	u, records, _ := newTestUploader(t)

	for _, lo := range []uint8{80, 90} {
		res, err := u.SaveUploadedFile(ctx, UploadRequest{UserID: "alice", Upload: photo(t, lo)})
		require.NoError(t, err)
		require.True(t, res.Accepted, res.Reason)
	}
	_, err := u.SaveUploadedFile(ctx, UploadRequest{UserID: "bob", Upload: photo(t, 80)})
	require.NoError(t, err)

	n, err := u.PurgeUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	hashes, err := records.LoadHashes(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, hashes)

	// The same photo is accepted again once the user is purged.
	res, err := u.SaveUploadedFile(ctx, UploadRequest{UserID: "alice", Upload: photo(t, 80)})
	require.NoError(t, err)
	assert.True(t, res.Accepted, res.Reason)
	assert.Equal(t, "image_1", res.Label)

	bob, err := records.LoadHashes(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, bob, 1)
}

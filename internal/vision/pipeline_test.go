package vision

import (
	"context"
	"image/color"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/enrollment/internal/models"
	"github.com/your-org/enrollment/internal/storage"
)

func newFacePipeline(t *testing.T, pad bool) (*Pipeline, *fakeEngine, *storage.FileStore) {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	engine := newFakeEngine()
	engine.faces[80] = vec(0)   // alice
	engine.faces[81] = vec(0.1) // alice, another shot
	engine.faces[60] = vec(2)   // someone else

	v := NewFaceBasedValidator(NewFaceDetector(engine, 50), store, 0.6)
	p := NewPipeline(NewIntegrityChecker(testUploadsConfig()), NewQualityAnalyzer(200, 200), v, pad)
	return p, engine, store
}

func newHashPipeline(t *testing.T) (*Pipeline, *storage.FileStore) {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	p := NewPipeline(NewIntegrityChecker(testUploadsConfig()), NewQualityAnalyzer(200, 200), NewHashBasedValidator(store), false)
	return p, store
}

func TestPipelineAcceptsAndRemembers(t *testing.T) {
	ctx := context.Background()
	p, _, store := newFacePipeline(t, false)

	res := p.Validate(ctx, pngUpload(t, checker(200, 200, 80, 170)), "alice", "first")
	require.True(t, res.Accepted, res.Reason)
	assert.Equal(t, models.ModeFace, res.Mode)
	assert.Equal(t, "Photo validated successfully", res.Reason)
	assert.Len(t, res.Encodings, 1)
	assert.NotEmpty(t, res.Data)
	require.NotNil(t, res.Metrics)
	assert.Equal(t, 200, res.Metrics.Width)

	rec, err := store.LoadFaces(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []models.FaceEncoding{vec(0)}, rec["first"])
}

func TestPipelineRejectsSameFaceUnderAnotherLabel(t *testing.T) {
	ctx := context.Background()
	p, _, store := newFacePipeline(t, false)

	first := p.Validate(ctx, pngUpload(t, checker(200, 200, 80, 170)), "alice", "first")
	require.True(t, first.Accepted, first.Reason)

	second := p.Validate(ctx, pngUpload(t, checker(220, 220, 81, 170)), "alice", "second")
	assert.False(t, second.Accepted)
	assert.Equal(t, models.RejectDuplicate, second.Kind)
	assert.Equal(t, "first", second.DuplicateOf)
	assert.Contains(t, second.Reason, `"first"`)
	assert.Nil(t, second.Encodings)
	assert.Nil(t, second.Data)

	rec, err := store.LoadFaces(ctx, "alice")
	require.NoError(t, err)
	assert.NotContains(t, rec, "second")

	other := p.Validate(ctx, pngUpload(t, checker(200, 200, 60, 170)), "alice", "second")
	assert.True(t, other.Accepted, other.Reason)
}

func TestPipelineUsersAreIndependent(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newFacePipeline(t, false)
	up := pngUpload(t, checker(200, 200, 80, 170))

	require.True(t, p.Validate(ctx, up, "alice", "first").Accepted)
	assert.True(t, p.Validate(ctx, up, "bob", "first").Accepted)
	assert.False(t, p.Validate(ctx, up, "bob", "second").Accepted)
}

func TestPipelineReuploadSameLabel(t *testing.T) {
	ctx := context.Background()
	p, _, store := newFacePipeline(t, false)

	require.True(t, p.Validate(ctx, pngUpload(t, checker(200, 200, 80, 170)), "alice", "first").Accepted)
	res := p.Validate(ctx, pngUpload(t, checker(200, 200, 60, 170)), "alice", "first")
	require.True(t, res.Accepted, res.Reason)

	rec, err := store.LoadFaces(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []models.FaceEncoding{vec(2)}, rec["first"], "last write wins")
}

func TestPipelineCheckDoesNotRemember(t *testing.T) {
	ctx := context.Background()
	p, _, store := newFacePipeline(t, false)
	up := pngUpload(t, checker(200, 200, 80, 170))

	res := p.Check(ctx, up, "alice", "preview")
	require.True(t, res.Accepted, res.Reason)

	rec, err := store.LoadFaces(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, rec)
	assert.True(t, p.Validate(ctx, up, "alice", "first").Accepted)
}

func TestPipelineRejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		upload  func(t *testing.T) models.UploadCandidate
		user    string
		kind    models.RejectKind
		located bool // whether face detection ran
	}{
		{
			name:   "undecodable",
			upload: func(t *testing.T) models.UploadCandidate { return models.UploadCandidate{Data: []byte("not an image"), Filename: "a.jpg"} },
			user:   "alice",
			kind:   models.RejectIntegrity,
		},
		{
			name: "disallowed type",
			upload: func(t *testing.T) models.UploadCandidate {
				up := pngUpload(t, checker(200, 200, 80, 170))
				up.Filename = "a.gif"
				return up
			},
			user: "alice",
			kind: models.RejectIntegrity,
		},
		{
			name:   "too small",
			upload: func(t *testing.T) models.UploadCandidate { return pngUpload(t, checker(199, 200, 80, 170)) },
			user:   "alice",
			kind:   models.RejectQuality,
		},
		{
			name:   "solid gray 10x10",
			upload: func(t *testing.T) models.UploadCandidate { return pngUpload(t, imaging.New(10, 10, color.Gray{Y: 128})) },
			user:   "alice",
			kind:   models.RejectQuality,
		},
		{
			name:   "too dark",
			upload: func(t *testing.T) models.UploadCandidate { return pngUpload(t, checker(200, 200, 10, 60)) },
			user:   "alice",
			kind:   models.RejectQuality,
		},
		{
			name:    "no face",
			upload:  func(t *testing.T) models.UploadCandidate { return pngUpload(t, checker(200, 200, 100, 170)) },
			user:    "alice",
			kind:    models.RejectNoFace,
			located: true,
		},
		{
			name:   "bad user id",
			upload: func(t *testing.T) models.UploadCandidate { return pngUpload(t, checker(200, 200, 80, 170)) },
			user:   "../alice",
			kind:   models.RejectInternal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, engine, _ := newFacePipeline(t, false)
			res := p.Validate(ctx, tt.upload(t), tt.user, "first")
			assert.False(t, res.Accepted)
			assert.Equal(t, tt.kind, res.Kind)
			assert.NotEmpty(t, res.Reason)
			if tt.located {
				assert.Equal(t, 1, engine.calls)
			} else {
				assert.Zero(t, engine.calls, "rejected before face detection")
			}
		})
	}
}

func TestPipelineRejectsTooManyPixels(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	engine := newFakeEngine()
	engine.faces[80] = vec(0)

	uploads := testUploadsConfig()
	uploads.MaxPixels = 300 * 300
	v := NewFaceBasedValidator(NewFaceDetector(engine, 50), store, 0.6)
	p := NewPipeline(NewIntegrityChecker(uploads), NewQualityAnalyzer(200, 200), v, false)

	res := p.Validate(ctx, pngUpload(t, imaging.New(301, 300, color.Gray{Y: 128})), "alice", "")
	assert.False(t, res.Accepted)
	assert.Equal(t, models.RejectIntegrity, res.Kind)
	assert.Contains(t, res.Reason, "too large")
	assert.Zero(t, engine.calls)

	res = p.Validate(ctx, pngUpload(t, checker(300, 300, 80, 170)), "alice", "")
	assert.True(t, res.Accepted, res.Reason)
}

func TestPipelineAssignsLabels(t *testing.T) {
	ctx := context.Background()
	p, _, store := newFacePipeline(t, false)

	// A label taken out of order must not be handed out again.
	require.NoError(t, store.SaveFaces(ctx, "alice", "image_2", []models.FaceEncoding{vec(7)}))

	res := p.Check(ctx, pngUpload(t, checker(200, 200, 80, 170)), "alice", "")
	require.True(t, res.Accepted, res.Reason)
	assert.Equal(t, "image_3", res.Label)

	res = p.Validate(ctx, pngUpload(t, checker(200, 200, 80, 170)), "alice", "")
	require.True(t, res.Accepted, res.Reason)
	assert.Equal(t, "image_3", res.Label)

	res = p.Validate(ctx, pngUpload(t, checker(200, 200, 60, 170)), "alice", "")
	require.True(t, res.Accepted, res.Reason)
	assert.Equal(t, "image_4", res.Label)

	// A rejected auto-labelled upload reports the label it was checked under.
	res = p.Validate(ctx, pngUpload(t, checker(200, 200, 81, 170)), "alice", "")
	assert.False(t, res.Accepted)
	assert.Equal(t, models.RejectDuplicate, res.Kind)
	assert.Equal(t, "image_3", res.DuplicateOf)
	assert.Equal(t, "image_5", res.Label)

	rec, err := store.LoadFaces(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"image_2", "image_3", "image_4"}, sortedKeys(rec))
}

func TestPipelineAssignsLabelsConcurrently(t *testing.T) {
	ctx := context.Background()
	p, store := newHashPipeline(t)

	const n = 8
	// Distinct bytes, so every upload is accepted.
	uploads := make([]models.UploadCandidate, n)
	for i := range uploads {
		uploads[i] = pngUpload(t, checker(200, 200, uint8(70+i), 170))
	}
	var wg sync.WaitGroup
	results := make([]models.ValidationResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.Validate(ctx, uploads[i], "alice", "")
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, r := range results {
		require.True(t, r.Accepted, r.Reason)
		assert.False(t, seen[r.Label], "label %s handed out twice", r.Label)
		seen[r.Label] = true
	}
	hashes, err := store.LoadHashes(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, hashes, n)
}

func TestPipelineInternalFailures(t *testing.T) {
	ctx := context.Background()
	up := pngUpload(t, checker(200, 200, 80, 170))

	p, engine, _ := newFacePipeline(t, false)
	engine.locateErr = assert.AnError
	res := p.Validate(ctx, up, "alice", "first")
	assert.False(t, res.Accepted)
	assert.Equal(t, models.RejectInternal, res.Kind)
	assert.Equal(t, genericFailure, res.Reason)

	p, engine, _ = newFacePipeline(t, false)
	engine.panicMsg = "boom"
	res = p.Validate(ctx, up, "alice", "first")
	assert.False(t, res.Accepted)
	assert.Equal(t, models.RejectInternal, res.Kind)
	assert.Equal(t, genericFailure, res.Reason)
}

func TestPipelinePadsUndersizedInDevelopment(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newFacePipeline(t, true)

	res := p.Validate(ctx, pngUpload(t, checker(180, 200, 80, 170)), "alice", "first")
	require.True(t, res.Accepted, res.Reason)
	assert.True(t, res.Adjusted)
	assert.Contains(t, res.Reason, "padded")

	img, format, err := DecodePhoto(res.Data)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 200, img.Bounds().Dy())

	// Large enough photos are left alone.
	res = p.Validate(ctx, pngUpload(t, checker(200, 200, 60, 170)), "alice", "second")
	require.True(t, res.Accepted, res.Reason)
	assert.False(t, res.Adjusted)
}

func TestPipelineHashMode(t *testing.T) {
	ctx := context.Background()
	p, store := newHashPipeline(t)
	assert.Equal(t, models.ModeHash, p.Mode())

	img := checker(220, 220, 80, 170)
	up := pngUpload(t, img)

	first := p.Validate(ctx, up, "alice", "first")
	require.True(t, first.Accepted, first.Reason)
	assert.Contains(t, first.Reason, "basic validation")
	assert.Equal(t, ContentHash(up.Data), first.ContentHash)

	again := p.Validate(ctx, up, "alice", "second")
	assert.False(t, again.Accepted)
	assert.Equal(t, models.RejectDuplicate, again.Kind)
	assert.Equal(t, "first", again.DuplicateOf)

	// Same picture, different bytes: not caught in hash mode.
	cropped := pngUpload(t, imaging.Crop(img, img.Bounds().Inset(5)))
	res := p.Validate(ctx, cropped, "alice", "second")
	assert.True(t, res.Accepted, res.Reason)

	hashes, err := store.LoadHashes(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, hashes, 2)
}

func TestPipelineConcurrentSameFace(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newFacePipeline(t, false)
	up := pngUpload(t, checker(200, 200, 80, 170))

	const n = 8
	var wg sync.WaitGroup
	results := make([]models.ValidationResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.Validate(ctx, up, "alice", "image_"+string(rune('1'+i)))
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, r := range results {
		if r.Accepted {
			accepted++
		} else {
			assert.Equal(t, models.RejectDuplicate, r.Kind)
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestValidateDocument(t *testing.T) {
	p, _, _ := newFacePipeline(t, false)

	res := p.ValidateDocument(models.UploadCandidate{Data: []byte("%PDF-1.7\n..."), Filename: "transcript.pdf"})
	assert.True(t, res.Accepted, res.Reason)
	assert.NotEmpty(t, res.Data)

	res = p.ValidateDocument(models.UploadCandidate{Data: []byte("MZ..."), Filename: "transcript.exe"})
	assert.False(t, res.Accepted)
	assert.Equal(t, models.RejectIntegrity, res.Kind)
}

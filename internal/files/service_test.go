package files

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/enrollment/internal/models"
	"github.com/your-org/enrollment/internal/storage"
)

func testImage(w, h int, lo, hi uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := lo
			if (x+y)%2 == 1 {
				v = hi
			}
			img.Set(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestService(t *testing.T) (*Service, *storage.DiskStore) {
	t.Helper()
	disk, err := storage.NewDiskStore(t.TempDir())
	require.NoError(t, err)
	return NewService(disk), disk
}

func TestParseKey(t *testing.T) {
	category, user, name, err := ParseKey("applications/alice/x.png")
	require.NoError(t, err)
	assert.Equal(t, "applications", category)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "x.png", name)

	for _, key := range []string{"", "alice/x.png", "a/b/c/d", "../alice/x.png", "applications/../x.png", "applications/alice/", `applications\alice\x.png`, "/applications/alice/x.png"} {
		_, _, _, err := ParseKey(key)
		assert.ErrorIs(t, err, ErrInvalidPath, key)
	}
}

func TestPersistImage(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	key, err := svc.Persist(ctx, "applications", "alice", pngBytes(t, testImage(20, 20, 80, 170)))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "applications/alice/"), key)
	assert.True(t, strings.HasSuffix(key, ".png"), key)

	data, ct, err := svc.Open(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 20, img.Bounds().Dx())
}

func TestPersistFlattensTransparency(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	src := image.NewNRGBA(image.Rect(0, 0, 4, 4)) // fully transparent
	key, err := svc.Persist(ctx, "applications", "alice", pngBytes(t, src))
	require.NoError(t, err)

	data, _, err := svc.Open(ctx, key)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	r, g, b, a := img.At(1, 1).RGBA()
	assert.Equal(t, [4]uint32{0xffff, 0xffff, 0xffff, 0xffff}, [4]uint32{r, g, b, a})
}

func TestPersistDocumentVerbatim(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	pdf := []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n")

	key, err := svc.Persist(ctx, "documents", "alice", pdf)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(key, ".pdf"), key)

	data, ct, err := svc.Open(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, pdf, data)
	assert.Equal(t, "application/pdf", ct)
}

func TestPersistUniqueNames(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	data := pngBytes(t, testImage(8, 8, 80, 170))

	a, err := svc.Persist(ctx, "applications", "alice", data)
	require.NoError(t, err)
	b, err := svc.Persist(ctx, "applications", "alice", data)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	keys, err := svc.List(ctx, "applications", "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b}, keys)
}

func TestPersistRejectsBadSegments(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Persist(ctx, "../up", "alice", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, err = svc.Persist(ctx, "applications", "al/ice", []byte("x"))
	assert.ErrorIs(t, err, storage.ErrInvalidUserID)
}

func TestMoveAndDelete(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	key, err := svc.Persist(ctx, "applications", "alice", pngBytes(t, testImage(8, 8, 80, 170)))
	require.NoError(t, err)

	moved, err := svc.Move(ctx, key, "approved")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(moved, "approved/alice/"), moved)

	_, _, err = svc.Open(ctx, key)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	same, err := svc.Move(ctx, moved, "approved")
	require.NoError(t, err)
	assert.Equal(t, moved, same)

	_, err = svc.Move(ctx, moved, "../x")
	assert.ErrorIs(t, err, ErrInvalidPath)

	require.NoError(t, svc.Delete(ctx, moved))
	assert.ErrorIs(t, svc.Delete(ctx, moved), storage.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, "../../etc/passwd"), ErrInvalidPath)
}

func TestServiceDeleteUser(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	data := pngBytes(t, testImage(8, 8, 80, 170))

	for _, cat := range []string{"applications", "documents"} {
		_, err := svc.Persist(ctx, cat, "alice", data)
		require.NoError(t, err)
	}
	bobKey, err := svc.Persist(ctx, "applications", "bob", data)
	require.NoError(t, err)

	n, err := svc.DeleteUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, err := svc.List(ctx, "applications", "alice")
	require.NoError(t, err)
	assert.Empty(t, left)
	_, _, err = svc.Open(ctx, bobKey)
	assert.NoError(t, err)
}

func TestFileKindFor(t *testing.T) {
	k, ok := FileKindFor("")
	assert.True(t, ok)
	assert.Equal(t, models.FileKindPhoto, k)

	k, ok = FileKindFor("Document")
	assert.True(t, ok)
	assert.Equal(t, models.FileKindDocument, k)

	_, ok = FileKindFor("video")
	assert.False(t, ok)
}

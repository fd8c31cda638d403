package attach

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthapp/hearth/pkg/chatsync"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

// gif89aHeader is the smallest sniffable GIF prefix.
var gif89aHeader = []byte("GIF89a")

func TestDetectKindByContent(t *testing.T) {
	assert.Equal(t, chatsync.AttachmentImage, DetectKind(encodePNG(t, 4, 4), "photo.bin"))
	assert.Equal(t, chatsync.AttachmentGIF, DetectKind(gif89aHeader, "animation.bin"))
}

func TestDetectKindByExtension(t *testing.T) {
	cases := map[string]chatsync.AttachmentKind{
		"clip.MP4":     chatsync.AttachmentVideo,
		"song.mp3":     chatsync.AttachmentAudio,
		"photo.HEIC":   chatsync.AttachmentImage,
		"loop.gif":     chatsync.AttachmentGIF,
		"taxes.pdf":    chatsync.AttachmentDocument,
		"no-extension": chatsync.AttachmentDocument,
	}
	for filename, want := range cases {
		assert.Equal(t, want, DetectKind(nil, filename), "filename=%s", filename)
	}
}

func TestDetectKindContentBeatsExtension(t *testing.T) {
	// A PNG misnamed as .mp4 is still an image.
	assert.Equal(t, chatsync.AttachmentImage, DetectKind(encodePNG(t, 4, 4), "mislabeled.mp4"))
}

func TestDownscaleLargeImage(t *testing.T) {
	data := encodePNG(t, 3200, 1000)
	scaled, err := DownscaleImage(data)
	require.NoError(t, err)

	img, format, err := image.Decode(bytes.NewReader(scaled))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 1600, img.Bounds().Dx())
	assert.Equal(t, 500, img.Bounds().Dy())
}

func TestDownscalePortraitUsesLongestEdge(t *testing.T) {
	data := encodePNG(t, 1000, 3200)
	scaled, err := DownscaleImage(data)
	require.NoError(t, err)

	img, _, err := image.Decode(bytes.NewReader(scaled))
	require.NoError(t, err)
	assert.Equal(t, 500, img.Bounds().Dx())
	assert.Equal(t, 1600, img.Bounds().Dy())
}

func TestDownscaleSmallImageUnchanged(t *testing.T) {
	data := encodePNG(t, 800, 600)
	scaled, err := DownscaleImage(data)
	require.NoError(t, err)
	assert.Equal(t, data, scaled)
}

func TestDownscaleJPEGInput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2000, 2000)), nil))

	scaled, err := DownscaleImage(buf.Bytes())
	require.NoError(t, err)
	img, _, err := image.Decode(bytes.NewReader(scaled))
	require.NoError(t, err)
	assert.LessOrEqual(t, img.Bounds().Dx(), 1600)
	assert.LessOrEqual(t, img.Bounds().Dy(), 1600)
}

func TestDownscaleRejectsGarbage(t *testing.T) {
	_, err := DownscaleImage([]byte("definitely not an image"))
	assert.Error(t, err)
}

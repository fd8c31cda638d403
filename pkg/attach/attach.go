// Package attach classifies outgoing attachments and downscales images
// before upload.
package attach

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"

	"github.com/hearthapp/hearth/pkg/chatsync"
)

// maxImageDim is the longest edge an uploaded image is scaled down to.
// Full-resolution photos are wasted on a chat bubble and slow on
// household upload links.
const maxImageDim = 1600

// DetectKind classifies attachment bytes by content sniffing, falling
// back to the filename extension when the data is empty or ambiguous.
func DetectKind(data []byte, filename string) chatsync.AttachmentKind {
	if len(data) > 0 {
		mt := mimetype.Detect(data)
		switch {
		case mt.Is("image/gif"):
			return chatsync.AttachmentGIF
		case strings.HasPrefix(mt.String(), "image/"):
			return chatsync.AttachmentImage
		case strings.HasPrefix(mt.String(), "video/"):
			return chatsync.AttachmentVideo
		case strings.HasPrefix(mt.String(), "audio/"):
			return chatsync.AttachmentAudio
		}
		// application/octet-stream and friends: fall through to the
		// extension check before giving up.
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".gif":
		return chatsync.AttachmentGIF
	case ".jpg", ".jpeg", ".png", ".webp", ".heic", ".tif", ".tiff", ".bmp":
		return chatsync.AttachmentImage
	case ".mp4", ".mov", ".mkv", ".webm", ".avi":
		return chatsync.AttachmentVideo
	case ".mp3", ".m4a", ".ogg", ".wav", ".flac", ".aac":
		return chatsync.AttachmentAudio
	default:
		return chatsync.AttachmentDocument
	}
}

// DownscaleImage re-encodes an image so its longest edge is at most
// maxImageDim, returning the original bytes unchanged when the image is
// already small enough or isn't a decodable still image (GIFs are
// returned as-is to keep animation).
func DownscaleImage(data []byte) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if format == "gif" {
		return data, nil
	}

	bounds := img.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()
	if origW <= maxImageDim && origH <= maxImageDim {
		return data, nil
	}

	scale := float64(maxImageDim) / float64(origW)
	if h := float64(maxImageDim) / float64(origH); h < scale {
		scale = h
	}
	dstW := int(float64(origW) * scale)
	dstH := int(float64(origH) * scale)
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("failed to encode scaled image: %w", err)
	}
	return buf.Bytes(), nil
}

package live

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/satriahrh/liveview/domain/repositories"
)

// EncodedFrame is one sampled still ready for analysis
type EncodedFrame struct {
	Data       []byte
	MimeType   string
	Width      int
	Height     int
	Quality    int
	CapturedAt time.Time
}

// FrameEncoder renders a raw frame into a lossy still
type FrameEncoder interface {
	Encode(img image.Image, quality int) (*EncodedFrame, error)
}

// JPEGEncoder encodes frames as baseline JPEG
type JPEGEncoder struct{}

// Encode encodes img at the given JPEG quality
func (JPEGEncoder) Encode(img image.Image, quality int) (*EncodedFrame, error) {
	bounds := img.Bounds()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return &EncodedFrame{
		Data:       buf.Bytes(),
		MimeType:   "image/jpeg",
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		Quality:    quality,
		CapturedAt: time.Now(),
	}, nil
}

// Image returns the frame as a chat attachment
func (f *EncodedFrame) Image() repositories.Image {
	return repositories.Image{MimeType: f.MimeType, Data: f.Data}
}

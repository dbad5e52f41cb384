package media

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodedImage(t *testing.T, w, h int, format imaging.Format) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 30, B: 90, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, format))
	return buf.Bytes()
}

// webpImage is a 1x1 lossless WebP, the encoding WhatsApp uses for stickers.
func webpImage(t *testing.T) []byte {
	t.Helper()
	data, err := base64.StdEncoding.DecodeString("UklGRhoAAABXRUJQVlA4TA0AAAAvAAAAEAcQERGIiP4HAA==")
	require.NoError(t, err)
	return data
}

// withEXIFOrientation inserts an APP1 segment carrying only the orientation
// tag right after the JPEG SOI marker.
func withEXIFOrientation(t *testing.T, jpeg []byte, orientation uint16) []byte {
	t.Helper()
	require.True(t, len(jpeg) > 2 && jpeg[0] == 0xFF && jpeg[1] == 0xD8)

	var tiff bytes.Buffer
	tiff.WriteString("MM")
	_ = binary.Write(&tiff, binary.BigEndian, uint16(0x002A))
	_ = binary.Write(&tiff, binary.BigEndian, uint32(8))
	_ = binary.Write(&tiff, binary.BigEndian, uint16(1))
	_ = binary.Write(&tiff, binary.BigEndian, uint16(0x0112))
	_ = binary.Write(&tiff, binary.BigEndian, uint16(3))
	_ = binary.Write(&tiff, binary.BigEndian, uint32(1))
	_ = binary.Write(&tiff, binary.BigEndian, orientation)
	_ = binary.Write(&tiff, binary.BigEndian, uint16(0))
	_ = binary.Write(&tiff, binary.BigEndian, uint32(0))

	payload := append([]byte("Exif\x00\x00"), tiff.Bytes()...)
	var out bytes.Buffer
	out.Write(jpeg[:2])
	out.Write([]byte{0xFF, 0xE1})
	_ = binary.Write(&out, binary.BigEndian, uint16(len(payload)+2))
	out.Write(payload)
	out.Write(jpeg[2:])
	return out.Bytes()
}

func TestImagingThumbnailer(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		w, h         int
		format       imaging.Format
		raw          func(t *testing.T) []byte
		ext          string
		wantW, wantH int
	}{
		{name: "landscape png", w: 1000, h: 500, format: imaging.PNG, ext: "png", wantW: 480, wantH: 240},
		{name: "portrait jpeg", w: 300, h: 900, format: imaging.JPEG, ext: "jpg", wantW: 160, wantH: 480},
		{name: "small not upscaled", w: 100, h: 80, format: imaging.PNG, ext: "png", wantW: 100, wantH: 80},
		{name: "webp sticker", w: 1, h: 1, raw: webpImage, ext: "webp", wantW: 1, wantH: 1},
		{
			name: "exif rotated jpeg",
			w:    500,
			h:    1000,
			raw: func(t *testing.T) []byte {
				return withEXIFOrientation(t, encodedImage(t, 1000, 500, imaging.JPEG), 6)
			},
			ext:   "jpg",
			wantW: 240,
			wantH: 480,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var input []byte
			if tc.raw != nil {
				input = tc.raw(t)
			} else {
				input = encodedImage(t, tc.w, tc.h, tc.format)
			}
			thumb, err := ImagingThumbnailer{}.Generate(input, tc.ext, ThumbnailOptions{MaxWidth: 480, MaxHeight: 480})
			require.NoError(t, err)
			assert.Equal(t, tc.wantW, thumb.Width)
			assert.Equal(t, tc.wantH, thumb.Height)
			assert.Equal(t, tc.w, thumb.SourceWidth)
			assert.Equal(t, tc.h, thumb.SourceHeight)
			assert.Zero(t, thumb.PageCount)

			cfg, format, err := image.DecodeConfig(bytes.NewReader(thumb.Data))
			require.NoError(t, err)
			assert.Equal(t, "jpeg", format)
			assert.Equal(t, tc.wantW, cfg.Width)
		})
	}
}

func TestImagingThumbnailer_Corrupt(t *testing.T) {
	t.Parallel()
	_, err := ImagingThumbnailer{}.Generate([]byte("definitely not an image"), "png", ThumbnailOptions{MaxWidth: 10, MaxHeight: 10})
	assert.Error(t, err)
}

func TestWantsThumbnail(t *testing.T) {
	t.Parallel()
	assert.True(t, WantsThumbnail(MediaTypeImage, "webp"))
	assert.True(t, WantsThumbnail(MediaTypeDocument, ".PDF"))
	assert.False(t, WantsThumbnail(MediaTypeDocument, "docx"))
	assert.False(t, WantsThumbnail(MediaTypeVideo, "mp4"))
	assert.False(t, WantsThumbnail(MediaTypeAudio, "ogg"))
}

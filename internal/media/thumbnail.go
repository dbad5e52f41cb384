package media

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	// Stickers arrive as WebP.
	_ "golang.org/x/image/webp"
)

// ThumbnailOptions bounds the generated thumbnail. Images smaller than the
// bounds are never upscaled.
type ThumbnailOptions struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
}

// Thumbnail is an encoded JPEG preview plus what was measured from the source.
type Thumbnail struct {
	Data         []byte
	Width        int
	Height       int
	SourceWidth  int
	SourceHeight int
	PageCount    int
}

// Thumbnailer renders previews for originals.
type Thumbnailer interface {
	Generate(data []byte, ext string, opts ThumbnailOptions) (Thumbnail, error)
}

// WantsThumbnail reports whether a file of this type and extension gets a
// thumbnail. Only images and PDF documents do.
func WantsThumbnail(mediaType MediaType, ext string) bool {
	switch mediaType {
	case MediaTypeImage:
		return true
	case MediaTypeDocument:
		return normalizeExt(ext) == "pdf"
	default:
		return false
	}
}

// ImagingThumbnailer decodes images with EXIF auto-orientation and rasterizes
// the first page of PDFs.
type ImagingThumbnailer struct{}

func (ImagingThumbnailer) Generate(data []byte, ext string, opts ThumbnailOptions) (Thumbnail, error) {
	var (
		src   image.Image
		pages int
		err   error
	)
	if normalizeExt(ext) == "pdf" {
		src, pages, err = rasterizeFirstPage(data)
	} else {
		src, err = imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	}
	if err != nil {
		return Thumbnail{}, fmt.Errorf("decode %s: %w", ext, err)
	}
	bounds := src.Bounds()
	out := imaging.Fit(src, opts.MaxWidth, opts.MaxHeight, imaging.Lanczos)

	quality := opts.Quality
	if quality <= 0 {
		quality = 80
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return Thumbnail{}, fmt.Errorf("encode thumbnail: %w", err)
	}
	return Thumbnail{
		Data:         buf.Bytes(),
		Width:        out.Bounds().Dx(),
		Height:       out.Bounds().Dy(),
		SourceWidth:  bounds.Dx(),
		SourceHeight: bounds.Dy(),
		PageCount:    pages,
	}, nil
}

func rasterizeFirstPage(data []byte) (image.Image, int, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, 0, err
	}
	defer doc.Close()
	pages := doc.NumPage()
	if pages <= 0 {
		return nil, 0, fmt.Errorf("pdf has no pages")
	}
	img, err := doc.Image(0)
	if err != nil {
		return nil, pages, err
	}
	return img, pages, nil
}

// Package thumbnail renders fixed-size gallery thumbnails: the source image is
// shrunk to fit inside the canvas minus a margin and centred on a solid
// background.
package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"io"
	"log/slog"
	"math"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/bbrks/go-blurhash"
	"github.com/disintegration/gift"
	_ "golang.org/x/image/webp" // Register WebP decoder

	"galleria/internal/domain/models"
	"galleria/internal/lib/logger/sl"
	"galleria/internal/metrics"
)

var (
	ErrDecode     = errors.New("cannot decode source image")
	ErrEncode     = errors.New("cannot encode thumbnail")
	ErrNoIdentity = errors.New("image has no id yet")
)

const thumbnailsDir = "thumbnails"

// Files is the blob storage the compositor reads sources from and writes
// thumbnails to.
type Files interface {
	Open(ctx context.Context, relativePath string) (io.ReadCloser, error)
	Write(ctx context.Context, relativePath string, r io.Reader) (int64, error)
	PublicURL(storedPath string) string
}

type Options struct {
	Width  int
	Height int
	// Margin is the total padding per axis.
	Margin      int
	Background  color.RGBA
	Quality     int
	GalleryRoot string
	// Timeout bounds one Synthesize call when the caller's context has no
	// earlier deadline. Zero disables it.
	Timeout time.Duration
}

// Derived are the fields computed for an image once it has an id.
type Derived struct {
	ThumbnailPath string
	ThumbnailURL  string
	ImageURL      string
	BlurHash      string
}

type Compositor struct {
	log   *slog.Logger
	files Files
	opts  Options
}

func New(log *slog.Logger, files Files, opts Options) (*Compositor, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("thumbnail: invalid canvas %dx%d", opts.Width, opts.Height)
	}
	if opts.Margin < 0 || opts.Margin >= opts.Width || opts.Margin >= opts.Height {
		return nil, fmt.Errorf("thumbnail: margin %d does not fit canvas %dx%d", opts.Margin, opts.Width, opts.Height)
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = jpeg.DefaultQuality
	}

	return &Compositor{
		log:   log,
		files: files,
		opts:  opts,
	}, nil
}

// ThumbnailPath is where the thumbnail of image id in the gallery with the
// given slug is stored.
func (c *Compositor) ThumbnailPath(gallerySlug string, imageID int64) string {
	return path.Join(c.opts.GalleryRoot, gallerySlug, thumbnailsDir, strconv.FormatInt(imageID, 10)+".jpg")
}

// Render composes src onto a new canvas and returns it together with the
// rectangle the resized source occupies.
func (c *Compositor) Render(src image.Image) (*image.RGBA, image.Rectangle) {
	w, h := c.opts.Width, c.opts.Height

	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: c.opts.Background}, image.Point{}, draw.Src)

	g := gift.New()

	// Only shrink: sources already inside the box keep their size.
	boxW, boxH := w-c.opts.Margin, h-c.opts.Margin
	sb := src.Bounds()
	if sb.Dx() > boxW || sb.Dy() > boxH {
		fw, fh := fitWithin(sb.Dx(), sb.Dy(), boxW, boxH)
		g.Add(gift.Resize(fw, fh, gift.LanczosResampling))
	}

	size := g.Bounds(sb).Size()
	offset := image.Pt((w-size.X)/2, (h-size.Y)/2)

	g.DrawAt(canvas, src, offset, gift.OverOperator)

	return canvas, image.Rectangle{Min: offset, Max: offset.Add(size)}
}

// fitWithin scales w×h to fit inside boxW×boxH keeping the aspect ratio.
// Neither side drops below one pixel, so extreme strips stay visible.
func fitWithin(w, h, boxW, boxH int) (int, int) {
	scale := math.Min(float64(boxW)/float64(w), float64(boxH)/float64(h))

	fw := int(math.Round(float64(w) * scale))
	fh := int(math.Round(float64(h) * scale))

	return clamp(fw, 1, boxW), clamp(fh, 1, boxH)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// Synthesize renders and stores the thumbnail of img, which must already be
// persisted. Nothing is written when decoding or encoding fails.
func (c *Compositor) Synthesize(ctx context.Context, img models.GalleryImage, gallerySlug string) (Derived, error) {
	const op = "thumbnail.Compositor.Synthesize"

	log := c.log.With(
		slog.String("op", op),
		slog.Int64("image_id", img.ID),
		slog.String("source", img.ImagePath),
	)

	if img.ID == 0 {
		return Derived{}, fmt.Errorf("%s: %w", op, ErrNoIdentity)
	}

	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	start := time.Now()

	src, err := c.files.Open(ctx, img.ImagePath)
	if err != nil {
		metrics.ThumbnailsTotal.WithLabelValues("read_error").Inc()
		log.Error("failed to open source", sl.Err(err))
		return Derived{}, fmt.Errorf("%s: %w", op, err)
	}
	defer src.Close()

	type result struct {
		jpeg     []byte
		blurHash string
		err      error
		label    string
	}

	done := make(chan result, 1)

	go func() {
		decoded, _, err := image.Decode(src)
		if err != nil {
			done <- result{err: fmt.Errorf("%w: %v", ErrDecode, err), label: "decode_error"}
			return
		}

		canvas, content := c.Render(decoded)

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: c.opts.Quality}); err != nil {
			done <- result{err: fmt.Errorf("%w: %v", ErrEncode, err), label: "encode_error"}
			return
		}

		hash, err := blurhash.Encode(4, 3, canvas.SubImage(content))
		if err != nil {
			log.Warn("failed to compute blurhash", sl.Err(err))
			hash = ""
		}

		done <- result{jpeg: buf.Bytes(), blurHash: hash}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		metrics.ThumbnailsTotal.WithLabelValues("timeout").Inc()
		log.Error("thumbnail synthesis cancelled", sl.Err(ctx.Err()))
		return Derived{}, fmt.Errorf("%s: %w", op, ctx.Err())
	}

	if res.err != nil {
		metrics.ThumbnailsTotal.WithLabelValues(res.label).Inc()
		log.Error("thumbnail synthesis failed", sl.Err(res.err))
		return Derived{}, fmt.Errorf("%s: %w", op, res.err)
	}

	thumbPath := c.ThumbnailPath(gallerySlug, img.ID)

	if _, err := c.files.Write(ctx, thumbPath, bytes.NewReader(res.jpeg)); err != nil {
		metrics.ThumbnailsTotal.WithLabelValues("write_error").Inc()
		log.Error("failed to store thumbnail", slog.String("path", thumbPath), sl.Err(err))
		return Derived{}, fmt.Errorf("%s: %w", op, err)
	}

	metrics.ThumbnailsTotal.WithLabelValues("ok").Inc()
	metrics.ThumbnailDuration.Observe(time.Since(start).Seconds())

	log.Debug("thumbnail stored", slog.String("path", thumbPath), slog.Int("bytes", len(res.jpeg)))

	return Derived{
		ThumbnailPath: thumbPath,
		ThumbnailURL:  c.files.PublicURL(thumbPath),
		ImageURL:      c.files.PublicURL(img.ImagePath),
		BlurHash:      res.blurHash,
	}, nil
}

// ParseHexColor parses "#rrggbb", "rrggbb" or "#rgb" into an opaque color.
func ParseHexColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")

	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}

	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}

	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

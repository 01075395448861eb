// Package qrshare renders share links as QR PNGs with a droplet mark in the
// middle, so a saved view can be passed from a laptop screen to a phone.
package qrshare

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"net/http"

	qrcode "github.com/skip2/go-qrcode"
)

// MaxURL caps the encoded payload; longer links are truncated.
const MaxURL = 2048

type Options struct {
	// Output size (px)
	TargetPx int

	Fg   color.RGBA // modules
	Bg   color.RGBA // background incl. quiet zone
	Mark color.RGBA // droplet

	// Central box cleared for the mark, as a fraction of the image edge.
	// Clamped to 0.15..0.30 so ECC=H can still recover the covered modules.
	BoxFrac float64
}

func (o Options) withDefaults() Options {
	if o.TargetPx <= 0 {
		o.TargetPx = 800
	}
	if o.BoxFrac <= 0 {
		o.BoxFrac = 0.24
	}
	o.BoxFrac = math.Max(0.15, math.Min(0.30, o.BoxFrac))
	if (o.Fg == color.RGBA{}) {
		o.Fg = color.RGBA{0, 0, 0, 255}
	}
	if (o.Bg == color.RGBA{}) {
		o.Bg = color.RGBA{255, 255, 255, 255}
	}
	if (o.Mark == color.RGBA{}) {
		o.Mark = color.RGBA{0x1f, 0x78, 0xb4, 255}
	}
	return o
}

// EncodePNG writes the QR code for data.
func EncodePNG(w io.Writer, data string, opt Options) error {
	opt = opt.withDefaults()

	qr, err := qrcode.New(data, qrcode.Highest)
	if err != nil {
		return err
	}
	qr.ForegroundColor = opt.Fg
	qr.BackgroundColor = opt.Bg

	src := qr.Image(opt.TargetPx)
	b := src.Bounds()
	W, H := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, W, H))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)

	box := int(opt.BoxFrac * float64(min(W, H)))
	cx, cy := W/2, H/2
	fillRect(dst, cx-box/2, cy-box/2, box, box, opt.Bg)
	drawDroplet(dst, cx, cy, box, opt.Mark)

	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(w, dst)
}

// dropletCenter is where the round part of the mark sits inside a box.
func dropletCenter(cx, cy, box int) (int, int, int) {
	r := int(0.28 * float64(box))
	return cx, cy + box/8, r
}

// drawDroplet draws a circle with a tapering tip above it.
func drawDroplet(dst *image.RGBA, cx, cy, box int, col color.RGBA) {
	dx, dy, r := dropletCenter(cx, cy, box)
	fillCircle(dst, dx, dy, r, col)

	tipY := cy - int(0.42*float64(box))
	for y := tipY; y < dy; y++ {
		// half width grows linearly from the tip to the circle's widest row
		half := int(float64(r) * float64(y-tipY) / float64(dy-tipY))
		for x := dx - half; x <= dx+half; x++ {
			dst.Set(x, y, col)
		}
	}
}

func fillRect(img *image.RGBA, x, y, w, h int, col color.RGBA) {
	draw.Draw(img, image.Rect(x, y, x+w, y+h), &image.Uniform{col}, image.Point{}, draw.Src)
}

func fillCircle(img *image.RGBA, cx, cy, r int, col color.RGBA) {
	if r <= 0 {
		return
	}
	r2 := r * r
	for y := cy - r; y <= cy+r; y++ {
		dy := y - cy
		xx := int(math.Sqrt(float64(r2 - dy*dy)))
		for x := cx - xx; x <= cx+xx; x++ {
			img.Set(x, y, col)
		}
	}
}

// Handler serves /qrpng?u=<url>. Without u it encodes the Referer, and
// failing that the request URL itself.
func Handler(opt Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := r.URL.Query().Get("u")
		if u == "" {
			if ref := r.Referer(); ref != "" {
				u = ref
			} else {
				scheme := "http"
				if r.TLS != nil {
					scheme = "https"
				}
				u = scheme + "://" + r.Host + r.URL.RequestURI()
			}
		}
		if len(u) > MaxURL {
			u = u[:MaxURL]
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Disposition", "inline; filename=\"qr.png\"")
		if err := EncodePNG(w, u, opt); err != nil {
			http.Error(w, "QR encode: "+err.Error(), http.StatusInternalServerError)
		}
	}
}

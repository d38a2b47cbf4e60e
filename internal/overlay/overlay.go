// Package overlay renders face landmark results onto the image they were
// detected in, either as annotations or as a redaction of each face.
package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // register decoders
	"image/png"
	"math"

	"github.com/andresmejia3/landmarker/internal/landmarker"
	"github.com/andresmejia3/landmarker/internal/types"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// Style selects how each face is rendered.
type Style string

const (
	StylePoints Style = "points" // one dot per landmark
	StyleBox    Style = "box"    // outline of the landmark bounds
	StyleBlack  Style = "black"  // solid fill over the face
	StyleSecure Style = "secure" // fill with the average color around the face
	StylePixel  Style = "pixel"  // pixelate the face
)

// ParseStyle validates a style name.
func ParseStyle(s string) (Style, error) {
	switch st := Style(s); st {
	case StylePoints, StyleBox, StyleBlack, StyleSecure, StylePixel:
		return st, nil
	}
	return "", fmt.Errorf("unknown overlay style %q (use points, box, black, secure, pixel)", s)
}

// Options controls rendering.
type Options struct {
	Style    Style
	Strength int // pixelation block size
	Color    color.RGBA
}

// DefaultOptions draws green landmark points.
func DefaultOptions() Options {
	return Options{
		Style:    StylePoints,
		Strength: 15,
		Color:    color.RGBA{R: 0, G: 255, B: 0, A: 255},
	}
}

// Render decodes img, draws every face of r onto it and returns a PNG.
func Render(img types.Image, r landmarker.Result, opts Options) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)

	Apply(dst, r, opts)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// Apply draws r onto dst in place.
func Apply(dst *image.RGBA, r landmarker.Result, opts Options) {
	for _, face := range r.FaceLandmarks {
		switch opts.Style {
		case StylePoints:
			drawPoints(dst, face, opts.Color)
		case StyleBox:
			strokeRect(dst, FaceBounds(face, dst.Bounds()), opts.Color)
		default:
			redactFace(dst, FaceBounds(face, dst.Bounds()), opts.Style, opts.Strength)
		}
	}
}

// FaceBounds is the pixel rectangle enclosing a face's normalized landmarks,
// clipped to bounds.
func FaceBounds(face []landmarker.Landmark, bounds image.Rectangle) image.Rectangle {
	if len(face) == 0 {
		return image.Rectangle{}
	}
	minX, minY := float32(math.MaxFloat32), float32(math.MaxFloat32)
	maxX, maxY := float32(-math.MaxFloat32), float32(-math.MaxFloat32)
	for _, lm := range face {
		minX, maxX = min(minX, lm.X), max(maxX, lm.X)
		minY, maxY = min(minY, lm.Y), max(maxY, lm.Y)
	}
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	rect := image.Rect(
		bounds.Min.X+int(math.Floor(float64(minX)*w)),
		bounds.Min.Y+int(math.Floor(float64(minY)*h)),
		bounds.Min.X+int(math.Ceil(float64(maxX)*w)),
		bounds.Min.Y+int(math.Ceil(float64(maxY)*h)),
	)
	return rect.Intersect(bounds)
}

func drawPoints(dst *image.RGBA, face []landmarker.Landmark, c color.RGBA) {
	b := dst.Bounds()
	u := image.NewUniform(c)
	for _, lm := range face {
		x := b.Min.X + int(float64(lm.X)*float64(b.Dx()))
		y := b.Min.Y + int(float64(lm.Y)*float64(b.Dy()))
		dot := image.Rect(x-1, y-1, x+2, y+2).Intersect(b)
		draw.Draw(dst, dot, u, image.Point{}, draw.Over)
	}
}

func strokeRect(dst *image.RGBA, rect image.Rectangle, c color.RGBA) {
	if rect.Empty() {
		return
	}
	const t = 2
	u := image.NewUniform(c)
	for _, edge := range []image.Rectangle{
		image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+t),
		image.Rect(rect.Min.X, rect.Max.Y-t, rect.Max.X, rect.Max.Y),
		image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+t, rect.Max.Y),
		image.Rect(rect.Max.X-t, rect.Min.Y, rect.Max.X, rect.Max.Y),
	} {
		draw.Draw(dst, edge.Intersect(rect), u, image.Point{}, draw.Src)
	}
}

func redactFace(img *image.RGBA, rect image.Rectangle, style Style, strength int) {
	// Clip rect to image bounds to prevent panics
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return
	}

	switch style {
	case StyleBlack:
		draw.Draw(img, rect, image.NewUniform(color.RGBA{A: 255}), image.Point{}, draw.Src)

	case StyleSecure:
		// Grab colors from the immediate border and fill with the average.
		fill := borderAverage(img, rect)
		draw.Draw(img, rect, image.NewUniform(fill), image.Point{}, draw.Src)

	default:
		blockSize := max(strength, 1)
		w := max(rect.Dx()/blockSize, 1)
		h := max(rect.Dy()/blockSize, 1)
		// Downscale then blow back up with nearest neighbour to get hard blocks
		small := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(small, small.Bounds(), img, rect, draw.Src, nil)
		draw.NearestNeighbor.Scale(img, rect, small, small.Bounds(), draw.Src, nil)
	}
}

func borderAverage(img *image.RGBA, rect image.Rectangle) color.RGBA {
	var r, g, b, count uint64
	add := func(x, y int) {
		if !(image.Point{X: x, Y: y}).In(img.Bounds()) {
			return
		}
		c := img.RGBAAt(x, y)
		r += uint64(c.R)
		g += uint64(c.G)
		b += uint64(c.B)
		count++
	}
	// Top & Bottom
	for x := rect.Min.X; x < rect.Max.X; x++ {
		add(x, rect.Min.Y-1)
		add(x, rect.Max.Y)
	}
	// Left & Right
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		add(rect.Min.X-1, y)
		add(rect.Max.X, y)
	}
	if count == 0 {
		return color.RGBA{A: 255}
	}
	return color.RGBA{R: uint8(r / count), G: uint8(g / count), B: uint8(b / count), A: 255}
}

package mesh

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"strings"

	"github.com/golang/geo/r3"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Plane is the orthographic projection plane used by previews
type Plane string

const (
	PlaneXY Plane = "XY"
	PlaneXZ Plane = "XZ"
	PlaneYZ Plane = "YZ"
)

// ParsePlane accepts XY, XZ or YZ in any case; empty means XY.
func ParsePlane(s string) (Plane, error) {
	switch p := Plane(strings.ToUpper(s)); p {
	case "":
		return PlaneXY, nil
	case PlaneXY, PlaneXZ, PlaneYZ:
		return p, nil
	default:
		return "", configErrorf("unknown preview plane %q", s)
	}
}

// Project drops the axis orthogonal to the plane
func (p Plane) Project(v r3.Vector) (float64, float64) {
	switch p {
	case PlaneXZ:
		return v.X, v.Z
	case PlaneYZ:
		return v.Y, v.Z
	default:
		return v.X, v.Y
	}
}

// SceneColors defines the color of each preview layer
type SceneColors struct {
	Source      color.NRGBA
	Registered  color.NRGBA
	Destination color.NRGBA
	Boundary    color.NRGBA
}

// DefaultSceneColors returns the preview palette
func DefaultSceneColors() SceneColors {
	return SceneColors{
		Source:      color.NRGBA{255, 99, 71, 110},  // Tomato, faded
		Registered:  color.NRGBA{220, 20, 60, 255},  // Crimson
		Destination: color.NRGBA{100, 149, 237, 200}, // Cornflower blue
		Boundary:    color.NRGBA{0, 0, 139, 255},    // Dark blue
	}
}

// SceneRenderer draws an orthographic preview of a registration
type SceneRenderer struct {
	Scene      *Scene
	Plane      Plane
	Colors     SceneColors
	Size       int  // Pixels along the longer side, excluding padding
	Padding    int  // Padding around the drawing
	ShowSource bool // Draw the unregistered source as well
}

// NewSceneRenderer creates a renderer with default settings
func NewSceneRenderer(scene *Scene, plane Plane) *SceneRenderer {
	return &SceneRenderer{
		Scene:      scene,
		Plane:      plane,
		Colors:     DefaultSceneColors(),
		Size:       800,
		Padding:    30,
		ShowSource: true,
	}
}

// HasDrawableContent reports whether the scene has any points to draw
func (r *SceneRenderer) HasDrawableContent() bool {
	return r.Scene != nil && (len(r.Scene.Destination) > 0 || len(r.Scene.Registered) > 0)
}

func (r *SceneRenderer) layers() [][]r3.Vector {
	layers := [][]r3.Vector{r.Scene.Destination, r.Scene.Registered}
	if r.ShowSource {
		layers = append(layers, r.Scene.Source)
	}
	return append(layers, r.Scene.Boundary...)
}

// CalculateBounds computes the projected bounding box of every drawn layer
func (r *SceneRenderer) CalculateBounds() (minX, minY, maxX, maxY float64) {
	minX, minY = math.MaxFloat64, math.MaxFloat64
	maxX, maxY = -math.MaxFloat64, -math.MaxFloat64
	if r.Scene == nil {
		return 0, 0, 0, 0
	}
	for _, layer := range r.layers() {
		for _, v := range layer {
			x, y := r.Plane.Project(v)
			minX, maxX = math.Min(minX, x), math.Max(maxX, x)
			minY, maxY = math.Min(minY, y), math.Max(maxY, y)
		}
	}
	if minX > maxX {
		return 0, 0, 0, 0
	}
	return
}

// scale returns pixels per scene unit
func (r *SceneRenderer) scale(minX, minY, maxX, maxY float64) float64 {
	extent := math.Max(maxX-minX, maxY-minY)
	if extent == 0 {
		return 1
	}
	return float64(r.Size) / extent
}

// Render creates the preview image. Scene +Y points up in the image.
func (r *SceneRenderer) Render() *image.RGBA {
	minX, minY, maxX, maxY := r.CalculateBounds()
	s := r.scale(minX, minY, maxX, maxY)

	width := int(math.Ceil((maxX-minX)*s)) + 2*r.Padding + 1
	height := int(math.Ceil((maxY-minY)*s)) + 2*r.Padding + 1

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{255, 255, 255, 255})
		}
	}
	if !r.HasDrawableContent() {
		return img
	}

	toPixel := func(v r3.Vector) (int, int) {
		x, y := r.Plane.Project(v)
		px := int(math.Round((x-minX)*s)) + r.Padding
		py := height - 1 - (int(math.Round((y-minY)*s)) + r.Padding)
		return px, py
	}

	for _, v := range r.Scene.Destination {
		x, y := toPixel(v)
		blendSquare(img, x, y, 3, r.Colors.Destination)
	}
	for _, loop := range r.Scene.Boundary {
		for i := range loop {
			x0, y0 := toPixel(loop[i])
			x1, y1 := toPixel(loop[(i+1)%len(loop)])
			drawLine(img, x0, y0, x1, y1, nrgbaToRGBA(r.Colors.Boundary))
		}
	}
	if r.ShowSource {
		for _, v := range r.Scene.Source {
			x, y := toPixel(v)
			blendSquare(img, x, y, 3, r.Colors.Source)
		}
	}
	for _, v := range r.Scene.Registered {
		x, y := toPixel(v)
		drawCircle(img, x, y, 2, nrgbaToRGBA(r.Colors.Registered))
	}

	r.drawLegend(img)
	return img
}

// EncodePNG renders the preview and writes it as PNG
func (r *SceneRenderer) EncodePNG(w io.Writer) error {
	return png.Encode(w, r.Render())
}

// SavePNG saves the preview image to a file
func (r *SceneRenderer) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if err := r.EncodePNG(f); err != nil {
		return fmt.Errorf("encoding preview: %w", err)
	}
	return nil
}

// blendColors performs alpha blending of two colors
func blendColors(bg color.RGBA, fg color.NRGBA) color.NRGBA {
	var bgNRGBA color.NRGBA
	switch bg.A {
	case 0:
		bgNRGBA = color.NRGBA{0, 0, 0, 0}
	case 255:
		bgNRGBA = color.NRGBA{bg.R, bg.G, bg.B, 255}
	default:
		// RGBA is premultiplied
		alpha32 := uint32(bg.A)
		bgNRGBA = color.NRGBA{
			R: uint8((uint32(bg.R) * 255) / alpha32),
			G: uint8((uint32(bg.G) * 255) / alpha32),
			B: uint8((uint32(bg.B) * 255) / alpha32),
			A: bg.A,
		}
	}

	alpha := float64(fg.A) / 255.0
	invAlpha := 1.0 - alpha

	return color.NRGBA{
		R: uint8(float64(fg.R)*alpha + float64(bgNRGBA.R)*invAlpha),
		G: uint8(float64(fg.G)*alpha + float64(bgNRGBA.G)*invAlpha),
		B: uint8(float64(fg.B)*alpha + float64(bgNRGBA.B)*invAlpha),
		A: 255,
	}
}

// nrgbaToRGBA premultiplies alpha
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}

func inBounds(img *image.RGBA, x, y int) bool {
	return x >= 0 && x < img.Bounds().Max.X && y >= 0 && y < img.Bounds().Max.Y
}

// blendSquare draws a translucent filled square
func blendSquare(img *image.RGBA, cx, cy, size int, c color.NRGBA) {
	half := size / 2
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			x, y := cx+dx, cy+dy
			if inBounds(img, x, y) {
				img.Set(x, y, blendColors(img.RGBAAt(x, y), c))
			}
		}
	}
}

// drawCircle draws a filled circle
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius && inBounds(img, cx+dx, cy+dy) {
				img.Set(cx+dx, cy+dy, c)
			}
		}
	}
}

// drawLine draws a one-pixel line (Bresenham)
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		if inBounds(img, x0, y0) {
			img.Set(x0, y0, c)
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// drawLegend labels each layer in the top-left corner
func (r *SceneRenderer) drawLegend(img *image.RGBA) {
	entries := []struct {
		label string
		c     color.NRGBA
	}{
		{"destination", r.Colors.Destination},
		{"registered", r.Colors.Registered},
	}
	if r.ShowSource {
		entries = append(entries, struct {
			label string
			c     color.NRGBA
		}{"source", r.Colors.Source})
	}

	y := 15
	for _, e := range entries {
		for dy := 0; dy < 12; dy++ {
			for dx := 0; dx < 12; dx++ {
				img.Set(10+dx, y+dy-10, e.c)
			}
		}
		drawText(img, 28, y, e.label, color.RGBA{0, 0, 0, 255})
		y += 18
	}
	drawText(img, 10, y, "plane "+string(r.Plane), color.RGBA{80, 80, 80, 255})
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

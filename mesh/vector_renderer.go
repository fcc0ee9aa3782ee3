package mesh

import (
	"image/png"
	"io"
	"math"

	"github.com/golang/geo/r3"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// VectorRenderer renders a registration preview as vector graphics
type VectorRenderer struct {
	Scene       *Scene
	Plane       Plane
	Colors      SceneColors
	Size        float64           // Drawing size along the longer side, in millimeters
	Padding     float64           // Padding in millimeters
	PointRadius float64           // Marker radius in millimeters
	Resolution  canvas.Resolution // Resolution for PNG output
	ShowSource  bool
}

// NewVectorRenderer creates a vector renderer with default settings
func NewVectorRenderer(scene *Scene, plane Plane) *VectorRenderer {
	return &VectorRenderer{
		Scene:       scene,
		Plane:       plane,
		Colors:      DefaultSceneColors(),
		Size:        200,
		Padding:     10,
		PointRadius: 0.6,
		Resolution:  canvas.DPI(150),
		ShowSource:  true,
	}
}

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the preview as an SVG to the provided writer
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	layout := r.layout()
	svgRenderer := svg.New(w, layout.width, layout.height, nil)
	r.renderToCanvas(svgRenderer, layout)
	return svgRenderer.Close()
}

// RenderToPNG writes the preview as a PNG to the provided writer
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	layout := r.layout()
	rast := rasterizer.New(layout.width, layout.height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, layout)
	return png.Encode(w, rast)
}

type vectorLayout struct {
	minX, minY    float64
	scale         float64 // millimeters per scene unit
	width, height float64
}

func (r *VectorRenderer) layout() vectorLayout {
	raster := &SceneRenderer{Scene: r.Scene, Plane: r.Plane, ShowSource: r.ShowSource}
	minX, minY, maxX, maxY := raster.CalculateBounds()

	scale := 1.0
	if extent := math.Max(maxX-minX, maxY-minY); extent > 0 {
		scale = r.Size / extent
	}
	return vectorLayout{
		minX:   minX,
		minY:   minY,
		scale:  scale,
		width:  (maxX-minX)*scale + 2*r.Padding,
		height: (maxY-minY)*scale + 2*r.Padding,
	}
}

// renderToCanvas draws the layers; shared by SVG and PNG output
func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, l vectorLayout) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(l.width, l.height), bgStyle, canvas.Identity)

	if r.Scene == nil {
		return
	}

	// canvas has +Y up, matching the scene
	toCanvas := func(v r3.Vector) (float64, float64) {
		x, y := r.Plane.Project(v)
		return (x-l.minX)*l.scale + r.Padding, (y-l.minY)*l.scale + r.Padding
	}

	markers := func(points []r3.Vector, style canvas.Style) {
		for _, v := range points {
			x, y := toCanvas(v)
			marker := canvas.Circle(r.PointRadius).Translate(x, y)
			renderer.RenderPath(marker, style, canvas.Identity)
		}
	}

	dstStyle := canvas.DefaultStyle
	dstStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(r.Colors.Destination)}
	dstStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	markers(r.Scene.Destination, dstStyle)

	boundaryStyle := canvas.DefaultStyle
	boundaryStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	boundaryStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(r.Colors.Boundary)}
	boundaryStyle.StrokeWidth = 0.4
	for _, loop := range r.Scene.Boundary {
		if len(loop) < 2 {
			continue
		}
		p := &canvas.Path{}
		for i, v := range loop {
			x, y := toCanvas(v)
			if i == 0 {
				p.MoveTo(x, y)
			} else {
				p.LineTo(x, y)
			}
		}
		p.Close()
		renderer.RenderPath(p, boundaryStyle, canvas.Identity)
	}

	if r.ShowSource {
		srcStyle := canvas.DefaultStyle
		srcStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(r.Colors.Source)}
		srcStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
		markers(r.Scene.Source, srcStyle)
	}

	regStyle := canvas.DefaultStyle
	regStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(r.Colors.Registered)}
	regStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	markers(r.Scene.Registered, regStyle)
}

// Package raster renders a scene to a raster image. This is a best-effort
// debug/export surface used by the server's png endpoint and the headless
// client's exit dump, not a faithful reproduction of a browser canvas.
package raster

import (
	"fmt"
	"image"
	"io"
	"math"

	"github.com/fogleman/gg"

	"github.com/astromechza/sketchsync/pkg/scene"
)

const margin = 24

// Render rasterizes the scene at the given scale. The image is sized to the
// bounding box of the objects plus a margin, never smaller than 128x128.
func Render(sc scene.Scene, scale float64) (image.Image, error) {
	if scale <= 0 {
		scale = 1
	}
	minX, minY, maxX, maxY := bounds(sc)
	w := int(math.Ceil((maxX-minX)*scale)) + 2*margin
	h := int(math.Ceil((maxY-minY)*scale)) + 2*margin

	dc := gg.NewContext(w, h)
	if sc.Background != "" {
		dc.SetHexColor(sc.Background)
	} else {
		dc.SetHexColor(scene.DefaultBackground)
	}
	dc.Clear()

	dc.Translate(margin, margin)
	dc.Scale(scale, scale)
	dc.Translate(-minX, -minY)

	for _, o := range sc.Objects {
		if err := drawObject(dc, o); err != nil {
			return nil, fmt.Errorf("failed to draw object %s: %w", o.ID, err)
		}
	}
	return dc.Image(), nil
}

// EncodePNG renders the scene and writes it as PNG.
func EncodePNG(w io.Writer, sc scene.Scene, scale float64) error {
	img, err := Render(sc, scale)
	if err != nil {
		return err
	}
	return gg.NewContextForImage(img).EncodePNG(w)
}

func bounds(sc scene.Scene) (minX, minY, maxX, maxY float64) {
	if len(sc.Objects) == 0 {
		return 0, 0, 128, 128
	}
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, o := range sc.Objects {
		minX = math.Min(minX, o.X)
		minY = math.Min(minY, o.Y)
		maxX = math.Max(maxX, o.X+o.W)
		maxY = math.Max(maxY, o.Y+o.H)
	}
	if maxX-minX < 128 {
		maxX = minX + 128
	}
	if maxY-minY < 128 {
		maxY = minY + 128
	}
	return minX, minY, maxX, maxY
}

func drawObject(dc *gg.Context, o scene.Object) error {
	dc.Push()
	defer dc.Pop()
	if o.Angle != 0 {
		dc.RotateAbout(o.Angle, o.X+o.W/2, o.Y+o.H/2)
	}

	switch o.Kind {
	case scene.KindRectangle:
		dc.DrawRectangle(o.X, o.Y, o.W, o.H)
	case scene.KindEllipse:
		dc.DrawEllipse(o.X+o.W/2, o.Y+o.H/2, o.W/2, o.H/2)
	case scene.KindDiamond:
		dc.MoveTo(o.X+o.W/2, o.Y)
		dc.LineTo(o.X+o.W, o.Y+o.H/2)
		dc.LineTo(o.X+o.W/2, o.Y+o.H)
		dc.LineTo(o.X, o.Y+o.H/2)
		dc.ClosePath()
	case scene.KindLine, scene.KindArrow, scene.KindFreedraw:
		if len(o.Points) == 0 {
			return nil
		}
		dc.MoveTo(o.X+o.Points[0][0], o.Y+o.Points[0][1])
		for _, p := range o.Points[1:] {
			dc.LineTo(o.X+p[0], o.Y+p[1])
		}
		if o.Kind == scene.KindArrow && len(o.Points) >= 2 {
			drawArrowHead(dc, o)
		}
	case scene.KindText:
		setColor(dc, o.StrokeColor, o.Opacity)
		dc.DrawString(o.Text, o.X, o.Y+o.H)
		return nil
	default:
		return fmt.Errorf("unknown kind %q", o.Kind)
	}

	if o.FillColor != "" {
		setColor(dc, o.FillColor, o.Opacity)
		dc.FillPreserve()
	}
	setColor(dc, o.StrokeColor, o.Opacity)
	dc.SetLineWidth(o.StrokeWidth)
	dc.Stroke()
	return nil
}

func drawArrowHead(dc *gg.Context, o scene.Object) {
	last := o.Points[len(o.Points)-1]
	prev := o.Points[len(o.Points)-2]
	tipX, tipY := o.X+last[0], o.Y+last[1]
	angle := math.Atan2(last[1]-prev[1], last[0]-prev[0])
	size := math.Max(6, o.StrokeWidth*3)
	for _, side := range []float64{-1, 1} {
		a := angle + side*math.Pi*5/6
		dc.MoveTo(tipX, tipY)
		dc.LineTo(tipX+size*math.Cos(a), tipY+size*math.Sin(a))
	}
}

func setColor(dc *gg.Context, hex string, opacity float64) {
	if hex == "" {
		hex = "#1e1e1e"
	}
	if opacity <= 0 || opacity > 1 {
		opacity = 1
	}
	r, g, b := parseHex(hex)
	dc.SetRGBA(r, g, b, opacity)
}

// parseHex reads #rgb or #rrggbb, falling back to black.
func parseHex(hex string) (r, g, b float64) {
	var ri, gi, bi int
	switch len(hex) {
	case 4:
		if _, err := fmt.Sscanf(hex, "#%1x%1x%1x", &ri, &gi, &bi); err != nil {
			return 0, 0, 0
		}
		ri, gi, bi = ri*17, gi*17, bi*17
	case 7:
		if _, err := fmt.Sscanf(hex, "#%02x%02x%02x", &ri, &gi, &bi); err != nil {
			return 0, 0, 0
		}
	default:
		return 0, 0, 0
	}
	return float64(ri) / 255, float64(gi) / 255, float64(bi) / 255
}

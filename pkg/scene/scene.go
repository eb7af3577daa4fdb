// Package scene holds the drawable-object model and the blob codec used to
// persist a canvas. The encoded form is treated as opaque everywhere else in
// the module: the store replicates it wholesale and the sync engine only ever
// compares blobs for equality.
package scene

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Kind string

const (
	KindRectangle Kind = "rectangle"
	KindEllipse   Kind = "ellipse"
	KindDiamond   Kind = "diamond"
	KindLine      Kind = "line"
	KindArrow     Kind = "arrow"
	KindFreedraw  Kind = "freedraw"
	KindText      Kind = "text"
)

const DefaultBackground = "#ffffff"

// Object is a single drawable element. Points are relative to X,Y and only
// meaningful for line, arrow, and freedraw kinds.
type Object struct {
	ID          string       `json:"id"`
	Kind        Kind         `json:"kind"`
	X           float64      `json:"x"`
	Y           float64      `json:"y"`
	W           float64      `json:"w"`
	H           float64      `json:"h"`
	Angle       float64      `json:"angle,omitempty"`
	StrokeColor string       `json:"strokeColor"`
	FillColor   string       `json:"fillColor,omitempty"`
	StrokeWidth float64      `json:"strokeWidth"`
	Opacity     float64      `json:"opacity"`
	Points      [][2]float64 `json:"points,omitempty"`
	Text        string       `json:"text,omitempty"`
}

type Scene struct {
	Background string   `json:"background"`
	Objects    []Object `json:"objects"`
}

// Empty returns the scene a brand-new canvas starts with.
func Empty() Scene {
	return Scene{Background: DefaultBackground, Objects: []Object{}}
}

// EmptyBlob is the encoded form of Empty. It panics only if the Scene type
// itself has become unmarshalable, which would be a programming error.
func EmptyBlob() string {
	blob, err := Empty().Encode()
	if err != nil {
		panic(err)
	}
	return blob
}

// Encode serializes the scene to its canonical blob form. Encoding the same
// scene value always yields the same blob, so blob equality can stand in for
// scene equality.
func (s Scene) Encode() (string, error) {
	if s.Objects == nil {
		s.Objects = []Object{}
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode scene: %w", err)
	}
	return string(raw), nil
}

// Decode parses a blob produced by Encode. It is strict: unknown fields,
// unknown object kinds, and empty input are all errors, so that a document
// whose data survived a round trip through the store is known to be loadable.
func Decode(blob string) (Scene, error) {
	var s Scene
	if strings.TrimSpace(blob) == "" {
		return s, fmt.Errorf("failed to decode scene: empty blob")
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(blob)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Scene{}, fmt.Errorf("failed to decode scene: %w", err)
	}
	for i, o := range s.Objects {
		switch o.Kind {
		case KindRectangle, KindEllipse, KindDiamond, KindLine, KindArrow, KindFreedraw, KindText:
		default:
			return Scene{}, fmt.Errorf("failed to decode scene: object %d has unknown kind %q", i, o.Kind)
		}
	}
	if s.Objects == nil {
		s.Objects = []Object{}
	}
	return s, nil
}

// Find returns the index of the object with the given id, or -1.
func (s Scene) Find(id string) int {
	for i, o := range s.Objects {
		if o.ID == id {
			return i
		}
	}
	return -1
}

func newObject(kind Kind, x, y, w, h float64) Object {
	return Object{
		ID:          uuid.NewString(),
		Kind:        kind,
		X:           x,
		Y:           y,
		W:           w,
		H:           h,
		StrokeColor: "#1e1e1e",
		StrokeWidth: 2,
		Opacity:     1,
	}
}

func NewRectangle(x, y, w, h float64) Object {
	return newObject(KindRectangle, x, y, w, h)
}

func NewEllipse(x, y, w, h float64) Object {
	return newObject(KindEllipse, x, y, w, h)
}

// NewFreedraw builds a stroke object from absolute points. The object origin
// becomes the first point and the path is stored relative to it.
func NewFreedraw(points [][2]float64, strokeWidth float64) Object {
	o := newObject(KindFreedraw, 0, 0, 0, 0)
	o.StrokeWidth = strokeWidth
	if len(points) == 0 {
		return o
	}
	o.X, o.Y = points[0][0], points[0][1]
	minX, minY, maxX, maxY := points[0][0], points[0][1], points[0][0], points[0][1]
	o.Points = make([][2]float64, 0, len(points))
	for _, p := range points {
		o.Points = append(o.Points, [2]float64{p[0] - o.X, p[1] - o.Y})
		minX, maxX = min(minX, p[0]), max(maxX, p[0])
		minY, maxY = min(minY, p[1]), max(maxY, p[1])
	}
	o.W, o.H = maxX-minX, maxY-minY
	return o
}

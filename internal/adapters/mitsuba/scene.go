// Package mitsuba edits the ray tracer's scene.xml in place, leaving
// entries it does not touch (sensors, emitters, other shapes) unchanged.
package mitsuba

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/beevik/etree"

	"github.com/sigmap/terrascene/internal/core/ports"
)

// FileName is the scene description inside a scene directory.
const FileName = "scene.xml"

// Scene is a loaded scene description.
type Scene struct {
	path string
	doc  *etree.Document
}

// Open parses dir/scene.xml.
func Open(dir string) (ports.SceneDescription, error) {
	return Load(filepath.Join(dir, FileName))
}

// Load parses a scene file.
func Load(path string) (*Scene, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return nil, fmt.Errorf("parse scene %s: %w", path, err)
	}
	if doc.Root() == nil || doc.Root().Tag != "scene" {
		return nil, fmt.Errorf("parse scene %s: root element is not <scene>", path)
	}
	return &Scene{path: path, doc: doc}, nil
}

// RemoveShapesByFilenames removes every top-level shape whose filename is in
// the set and returns the BSDF id of the first one removed.
func (s *Scene) RemoveShapesByFilenames(filenames map[string]bool) (string, int) {
	root := s.doc.Root()
	var bsdf string
	var removed []*etree.Element
	for _, shape := range root.SelectElements("shape") {
		fn := shape.FindElement("string[@name='filename']")
		if fn == nil || !filenames[fn.SelectAttrValue("value", "")] {
			continue
		}
		if bsdf == "" {
			if ref := shape.FindElement("ref[@name='bsdf']"); ref != nil {
				bsdf = ref.SelectAttrValue("id", "")
			}
		}
		removed = append(removed, shape)
	}
	for _, shape := range removed {
		root.RemoveChild(shape)
	}
	if len(removed) > 0 {
		slog.Info("removed shapes from scene", "count", len(removed), "path", s.path)
	}
	return bsdf, len(removed)
}

// AddMeshShape appends a PLY shape. It is a no-op, returning false, when a
// shape with the same id already exists.
func (s *Scene) AddMeshShape(filename, shapeID, bsdfID string) bool {
	root := s.doc.Root()
	if root.FindElement(fmt.Sprintf(".//shape[@id='%s']", shapeID)) != nil {
		slog.Info("shape already present, skipping", "id", shapeID)
		return false
	}
	shape := root.CreateElement("shape")
	shape.CreateAttr("type", "ply")
	shape.CreateAttr("id", shapeID)

	fn := shape.CreateElement("string")
	fn.CreateAttr("name", "filename")
	fn.CreateAttr("value", filename)

	ref := shape.CreateElement("ref")
	ref.CreateAttr("name", "bsdf")
	ref.CreateAttr("id", bsdfID)

	slog.Info("added shape to scene", "id", shapeID, "filename", filename, "bsdf", bsdfID)
	return true
}

// EnsureRadioMaterial declares an ITU radio material BSDF unless one with
// the same id is already present.
func (s *Scene) EnsureRadioMaterial(bsdfID, material string) bool {
	root := s.doc.Root()
	if root.FindElement(fmt.Sprintf("bsdf[@id='%s']", bsdfID)) != nil {
		return false
	}
	bsdf := etree.NewElement("bsdf")
	bsdf.CreateAttr("type", "itu-radio-material")
	bsdf.CreateAttr("id", bsdfID)
	typ := bsdf.CreateElement("string")
	typ.CreateAttr("name", "type")
	typ.CreateAttr("value", material)
	thickness := bsdf.CreateElement("float")
	thickness.CreateAttr("name", "thickness")
	thickness.CreateAttr("value", "0.1")

	// Materials precede the shapes that reference them.
	if first := root.SelectElement("shape"); first != nil {
		root.InsertChildAt(first.Index(), bsdf)
	} else {
		root.AddChild(bsdf)
	}
	return true
}

// Save writes the scene atomically.
func (s *Scene) Save() error {
	s.doc.Indent(2)
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".scene-*.xml")
	if err != nil {
		return fmt.Errorf("create temp scene: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := s.doc.WriteTo(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write scene: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close scene: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace scene: %w", err)
	}
	slog.Info("scene saved", "path", s.path)
	return nil
}

// Package ply reads and writes triangle meshes in the Stanford PLY format
// used by the ray tracer's scene assets.
package ply

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/sigmap/terrascene/internal/core/domain"
)

// Encode writes m as binary little-endian PLY with float32 positions.
func Encode(w io.Writer, m *domain.Mesh) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ply\nformat binary_little_endian 1.0\ncomment terrascene\n")
	fmt.Fprintf(bw, "element vertex %d\nproperty float x\nproperty float y\nproperty float z\n", len(m.Vertices))
	fmt.Fprintf(bw, "element face %d\nproperty list uchar int vertex_indices\nend_header\n", len(m.Faces))

	buf := make([]byte, 13)
	for _, v := range m.Vertices {
		binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(float32(v.X)))
		binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(v.Y)))
		binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(v.Z)))
		if _, err := bw.Write(buf[:12]); err != nil {
			return err
		}
	}
	for _, f := range m.Faces {
		buf[0] = 3
		for k, vi := range f {
			if vi < 0 || vi >= len(m.Vertices) {
				return fmt.Errorf("face references vertex %d of %d", vi, len(m.Vertices))
			}
			binary.LittleEndian.PutUint32(buf[1+4*k:], uint32(int32(vi)))
		}
		if _, err := bw.Write(buf[:13]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

type property struct {
	name     string
	typ      string
	list     bool
	countTyp string
}

type element struct {
	name  string
	count int
	props []property
}

type header struct {
	format   string
	elements []element
}

// Decode reads an ascii or binary little-endian PLY mesh. Polygons with more
// than three corners are fan-triangulated; other elements are skipped.
func Decode(r io.Reader) (*domain.Mesh, error) {
	br := bufio.NewReader(r)
	h, err := readHeader(br)
	if err != nil {
		return nil, err
	}

	var src valueReader
	switch h.format {
	case "ascii":
		src = &asciiReader{r: br}
	case "binary_little_endian":
		src = &binaryReader{r: br, order: binary.LittleEndian}
	case "binary_big_endian":
		src = &binaryReader{r: br, order: binary.BigEndian}
	default:
		return nil, fmt.Errorf("ply: unsupported format %q", h.format)
	}

	m := &domain.Mesh{}
	for _, el := range h.elements {
		switch el.name {
		case "vertex":
			if err := readVertices(src, el, m); err != nil {
				return nil, err
			}
		case "face":
			if err := readFaces(src, el, m); err != nil {
				return nil, err
			}
		default:
			if err := skipElement(src, el); err != nil {
				return nil, err
			}
		}
	}
	for _, f := range m.Faces {
		for _, vi := range f {
			if vi < 0 || vi >= len(m.Vertices) {
				return nil, fmt.Errorf("ply: face references vertex %d of %d", vi, len(m.Vertices))
			}
		}
	}
	return m, nil
}

func readHeader(br *bufio.Reader) (*header, error) {
	line, err := br.ReadString('\n')
	if err != nil || strings.TrimSpace(line) != "ply" {
		return nil, fmt.Errorf("ply: missing magic")
	}
	h := &header{}
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("ply: read header: %w", err)
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "format":
			if len(fields) < 2 {
				return nil, fmt.Errorf("ply: malformed format line")
			}
			h.format = fields[1]
		case "comment", "obj_info":
		case "element":
			if len(fields) != 3 {
				return nil, fmt.Errorf("ply: malformed element line %q", strings.TrimSpace(line))
			}
			n, err := strconv.Atoi(fields[2])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("ply: bad element count %q", fields[2])
			}
			h.elements = append(h.elements, element{name: fields[1], count: n})
		case "property":
			if len(h.elements) == 0 {
				return nil, fmt.Errorf("ply: property before element")
			}
			el := &h.elements[len(h.elements)-1]
			switch {
			case len(fields) == 5 && fields[1] == "list":
				el.props = append(el.props, property{name: fields[4], typ: fields[3], list: true, countTyp: fields[2]})
			case len(fields) == 3:
				el.props = append(el.props, property{name: fields[2], typ: fields[1]})
			default:
				return nil, fmt.Errorf("ply: malformed property line %q", strings.TrimSpace(line))
			}
		case "end_header":
			return h, nil
		default:
			return nil, fmt.Errorf("ply: unknown header keyword %q", fields[0])
		}
	}
}

func readVertices(src valueReader, el element, m *domain.Mesh) error {
	m.Vertices = make([]r3.Vec, 0, el.count)
	for i := 0; i < el.count; i++ {
		var v r3.Vec
		for _, p := range el.props {
			if p.list {
				if err := skipList(src, p); err != nil {
					return err
				}
				continue
			}
			x, err := src.value(p.typ)
			if err != nil {
				return fmt.Errorf("ply: vertex %d: %w", i, err)
			}
			switch p.name {
			case "x":
				v.X = x
			case "y":
				v.Y = x
			case "z":
				v.Z = x
			}
		}
		m.Vertices = append(m.Vertices, v)
	}
	return nil
}

func readFaces(src valueReader, el element, m *domain.Mesh) error {
	m.Faces = make([]domain.Face, 0, el.count)
	for i := 0; i < el.count; i++ {
		for _, p := range el.props {
			if !p.list {
				if _, err := src.value(p.typ); err != nil {
					return fmt.Errorf("ply: face %d: %w", i, err)
				}
				continue
			}
			if p.name != "vertex_indices" && p.name != "vertex_index" {
				if err := skipList(src, p); err != nil {
					return err
				}
				continue
			}
			n, err := src.value(p.countTyp)
			if err != nil {
				return fmt.Errorf("ply: face %d: %w", i, err)
			}
			idx := make([]int, int(n))
			for k := range idx {
				x, err := src.value(p.typ)
				if err != nil {
					return fmt.Errorf("ply: face %d: %w", i, err)
				}
				idx[k] = int(x)
			}
			for k := 1; k+1 < len(idx); k++ {
				m.Faces = append(m.Faces, domain.Face{idx[0], idx[k], idx[k+1]})
			}
		}
	}
	return nil
}

func skipElement(src valueReader, el element) error {
	for i := 0; i < el.count; i++ {
		for _, p := range el.props {
			var err error
			if p.list {
				err = skipList(src, p)
			} else {
				_, err = src.value(p.typ)
			}
			if err != nil {
				return fmt.Errorf("ply: skip %s: %w", el.name, err)
			}
		}
	}
	return nil
}

func skipList(src valueReader, p property) error {
	n, err := src.value(p.countTyp)
	if err != nil {
		return err
	}
	for k := 0; k < int(n); k++ {
		if _, err := src.value(p.typ); err != nil {
			return err
		}
	}
	return nil
}

type valueReader interface {
	value(typ string) (float64, error)
}

type asciiReader struct {
	r      *bufio.Reader
	fields []string
}

func (a *asciiReader) value(string) (float64, error) {
	for len(a.fields) == 0 {
		line, err := a.r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return 0, io.ErrUnexpectedEOF
		}
		a.fields = strings.Fields(line)
	}
	s := a.fields[0]
	a.fields = a.fields[1:]
	return strconv.ParseFloat(s, 64)
}

type binaryReader struct {
	r     *bufio.Reader
	order binary.ByteOrder
	buf   [8]byte
}

func (b *binaryReader) value(typ string) (float64, error) {
	size, err := typeSize(typ)
	if err != nil {
		return 0, err
	}
	if _, err := io.ReadFull(b.r, b.buf[:size]); err != nil {
		return 0, io.ErrUnexpectedEOF
	}
	p := b.buf[:size]
	switch typ {
	case "char", "int8":
		return float64(int8(p[0])), nil
	case "uchar", "uint8":
		return float64(p[0]), nil
	case "short", "int16":
		return float64(int16(b.order.Uint16(p))), nil
	case "ushort", "uint16":
		return float64(b.order.Uint16(p)), nil
	case "int", "int32":
		return float64(int32(b.order.Uint32(p))), nil
	case "uint", "uint32":
		return float64(b.order.Uint32(p)), nil
	case "float", "float32":
		return float64(math.Float32frombits(b.order.Uint32(p))), nil
	default:
		return math.Float64frombits(b.order.Uint64(p)), nil
	}
}

func typeSize(typ string) (int, error) {
	switch typ {
	case "char", "int8", "uchar", "uint8":
		return 1, nil
	case "short", "int16", "ushort", "uint16":
		return 2, nil
	case "int", "int32", "uint", "uint32", "float", "float32":
		return 4, nil
	case "double", "float64":
		return 8, nil
	default:
		return 0, fmt.Errorf("ply: unknown property type %q", typ)
	}
}

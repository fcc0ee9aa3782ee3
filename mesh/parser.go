package mesh

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/unixpickle/model3d"
)

// LoadMesh reads a triangle mesh, choosing the format by extension (.obj or .off).
func LoadMesh(path string) (*TriangleMesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening mesh: %w", err)
	}
	defer f.Close()

	var m *TriangleMesh
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".obj":
		m, err = ParseOBJ(f)
	case ".off":
		m, err = ParseOFF(f)
	default:
		return nil, fmt.Errorf("unsupported mesh format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return m, nil
}

// LoadCloud reads any supported file as a registration input: meshes (.obj, .off)
// or JSON point clouds (.json).
func LoadCloud(path string) (CloudSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return ParseCloud(path, data)
}

// ParseCloud decodes data as a registration input, choosing the format by the
// extension of name (a path or URL path).
func ParseCloud(name string, data []byte) (CloudSource, error) {
	var (
		src CloudSource
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".obj":
		src, err = ParseOBJ(bytes.NewReader(data))
	case ".off":
		src, err = ParseOFF(bytes.NewReader(data))
	case ".json":
		src, err = ParsePointCloudJSON(data)
	default:
		return nil, fmt.Errorf("unsupported mesh format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	return src, nil
}

// ParseOBJ reads a Wavefront OBJ mesh. Only geometry is kept: "v" records and the
// vertex references of "f" records. Polygons are fan-triangulated and negative
// (relative) indices are resolved.
func ParseOBJ(r io.Reader) (*TriangleMesh, error) {
	m := &TriangleMesh{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: vertex needs 3 coordinates", line)
			}
			var c [3]float64
			for i := range c {
				v, err := strconv.ParseFloat(fields[i+1], 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				c[i] = v
			}
			m.Vertices = append(m.Vertices, r3.Vector{X: c[0], Y: c[1], Z: c[2]})
		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: face needs at least 3 vertices", line)
			}
			idx := make([]int, 0, len(fields)-1)
			for _, ref := range fields[1:] {
				i, err := objIndex(ref, len(m.Vertices))
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				idx = append(idx, i)
			}
			for i := 1; i+1 < len(idx); i++ {
				m.Faces = append(m.Faces, [3]int{idx[0], idx[i], idx[i+1]})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading OBJ: %w", err)
	}
	return m, nil
}

// objIndex resolves "v", "v/vt", "v//vn" or "v/vt/vn" to a 0-based vertex index.
func objIndex(ref string, count int) (int, error) {
	if slash := strings.IndexByte(ref, '/'); slash >= 0 {
		ref = ref[:slash]
	}
	i, err := strconv.Atoi(ref)
	if err != nil {
		return 0, fmt.Errorf("bad vertex reference %q", ref)
	}
	switch {
	case i > 0:
		i--
	case i < 0:
		i += count
	default:
		return 0, fmt.Errorf("vertex index 0 is invalid")
	}
	if i < 0 || i >= count {
		return 0, fmt.Errorf("vertex reference %s out of range (%d vertices)", ref, count)
	}
	return i, nil
}

// ParseOFF reads an OFF mesh. The reader yields a triangle soup, so vertices
// are welded back together by exact coordinate.
func ParseOFF(r io.Reader) (*TriangleMesh, error) {
	triangles, err := model3d.ReadOFF(r)
	if err != nil {
		return nil, fmt.Errorf("reading OFF: %w", err)
	}
	m := &TriangleMesh{}
	index := map[model3d.Coord3D]int{}
	for _, t := range triangles {
		var face [3]int
		for i, c := range t {
			id, ok := index[c]
			if !ok {
				id = len(m.Vertices)
				index[c] = id
				m.Vertices = append(m.Vertices, r3.Vector{X: c.X, Y: c.Y, Z: c.Z})
			}
			face[i] = id
		}
		m.Faces = append(m.Faces, face)
	}
	return m, nil
}

type pointCloudJSON struct {
	Positions [][3]float64 `json:"positions"`
	Normals   [][3]float64 `json:"normals,omitempty"`
}

// ParsePointCloudJSON parses {"positions": [[x,y,z],...], "normals": [...]}.
func ParsePointCloudJSON(data []byte) (*PointCloud, error) {
	var raw pointCloudJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	if len(raw.Normals) > 0 && len(raw.Normals) != len(raw.Positions) {
		return nil, fmt.Errorf("%d normals for %d positions", len(raw.Normals), len(raw.Positions))
	}
	pc := &PointCloud{Positions: make([]r3.Vector, len(raw.Positions))}
	for i, p := range raw.Positions {
		pc.Positions[i] = r3.Vector{X: p[0], Y: p[1], Z: p[2]}
	}
	if len(raw.Normals) > 0 {
		pc.Normals = make([]r3.Vector, len(raw.Normals))
		for i, n := range raw.Normals {
			pc.Normals[i] = r3.Vector{X: n[0], Y: n[1], Z: n[2]}
		}
	}
	return pc, nil
}

// WritePointCloudJSON writes a cloud in the format ParsePointCloudJSON reads.
func WritePointCloudJSON(w io.Writer, pc *PointCloud) error {
	raw := pointCloudJSON{Positions: make([][3]float64, len(pc.Positions))}
	for i, p := range pc.Positions {
		raw.Positions[i] = [3]float64{p.X, p.Y, p.Z}
	}
	for _, n := range pc.Normals {
		raw.Normals = append(raw.Normals, [3]float64{n.X, n.Y, n.Z})
	}
	return json.NewEncoder(w).Encode(raw)
}

// WriteOBJ writes the mesh as Wavefront OBJ.
func WriteOBJ(w io.Writer, m *TriangleMesh) error {
	bw := bufio.NewWriter(w)
	for _, v := range m.Vertices {
		fmt.Fprintf(bw, "v %s %s %s\n", formatFloat(v.X), formatFloat(v.Y), formatFloat(v.Z))
	}
	for _, f := range m.Faces {
		fmt.Fprintf(bw, "f %d %d %d\n", f[0]+1, f[1]+1, f[2]+1)
	}
	return bw.Flush()
}

// SaveMesh writes a mesh to path. Only .obj is supported for output.
func SaveMesh(path string, m *TriangleMesh) error {
	if !strings.EqualFold(filepath.Ext(path), ".obj") {
		return fmt.Errorf("unsupported output format %q", filepath.Ext(path))
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	if err := WriteOBJ(f, m); err != nil {
		f.Close()
		return fmt.Errorf("writing OBJ: %w", err)
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

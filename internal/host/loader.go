package host

import (
	"fmt"
	"os"

	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v3"
)

// NodeDef describes one node of a scene file.
type NodeDef struct {
	Name     string         `yaml:"name"`
	Class    string         `yaml:"class"`
	Groups   []string       `yaml:"groups"`
	Meta     map[string]any `yaml:"meta"`
	Signals  []string       `yaml:"signals"` // user signals on this node only
	Position []float64      `yaml:"position"`
	Rotation []float64      `yaml:"rotation"` // euler degrees; 2D nodes use the first value
	Scale    []float64      `yaml:"scale"`
	Children []NodeDef      `yaml:"children"`
}

// SceneFile is the root of a scene YAML file. Nodes are added under the
// scene root.
type SceneFile struct {
	Nodes []NodeDef `yaml:"nodes"`
}

// LoadSceneFile reads a scene YAML file.
func LoadSceneFile(path string) (*SceneFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene: %w", err)
	}
	var f SceneFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse scene %s: %w", path, err)
	}
	return &f, nil
}

// Instantiate builds the file's nodes under parent.
func (s *Scene) Instantiate(parent *Instance, f *SceneFile) error {
	for i := range f.Nodes {
		if _, err := s.Build(parent, &f.Nodes[i]); err != nil {
			return err
		}
	}
	return nil
}

// Build creates def's subtree detached, then adds it under parent in one
// step so listeners see a fully configured subtree.
func (s *Scene) Build(parent *Instance, def *NodeDef) (*Instance, error) {
	n, err := s.build(def)
	if err != nil {
		return nil, err
	}
	if err := s.AddChild(parent, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Scene) build(def *NodeDef) (*Instance, error) {
	class := def.Class
	if class == "" {
		class = "Node"
	}
	n, err := s.NewNode(class, def.Name)
	if err != nil {
		return nil, fmt.Errorf("node %q: %w", def.Name, err)
	}
	for _, g := range def.Groups {
		n.AddToGroup(g)
	}
	for k, v := range def.Meta {
		n.SetMeta(k, v)
	}
	for _, sig := range def.Signals {
		s.AddUserSignal(n, sig)
	}
	if err := applyPose(n, def); err != nil {
		return nil, fmt.Errorf("node %q: %w", def.Name, err)
	}
	for i := range def.Children {
		c, err := s.build(&def.Children[i])
		if err != nil {
			return nil, err
		}
		c.parent = n
		n.children = append(n.children, c)
	}
	return n, nil
}

func applyPose(n *Instance, def *NodeDef) error {
	if def.Position == nil && def.Rotation == nil && def.Scale == nil {
		return nil
	}
	p := IdentityPose()
	if def.Position != nil {
		v, err := vec3(def.Position, 0)
		if err != nil {
			return fmt.Errorf("position: %w", err)
		}
		p.Translation = v
	}
	if def.Scale != nil {
		v, err := vec3(def.Scale, 1)
		if err != nil {
			return fmt.Errorf("scale: %w", err)
		}
		p.Scale = v
	}
	switch n.Dim() {
	case 3:
		if def.Rotation != nil {
			e, err := vec3(def.Rotation, 0)
			if err != nil {
				return fmt.Errorf("rotation: %w", err)
			}
			p.Rotation = mgl64.AnglesToQuat(mgl64.DegToRad(e[0]), mgl64.DegToRad(e[1]), mgl64.DegToRad(e[2]), mgl64.XYZ)
		}
		n.xform3 = ComposeTransform3D(p)
	case 2:
		t := Transform2D{
			Position: mgl64.Vec2{p.Translation[0], p.Translation[1]},
			Scale:    mgl64.Vec2{p.Scale[0], p.Scale[1]},
		}
		if len(def.Rotation) > 0 {
			t.Rotation = mgl64.DegToRad(def.Rotation[0])
		}
		n.xform2 = t
	default:
		return fmt.Errorf("class %s has no transform", n.class)
	}
	return nil
}

// vec3 accepts two or three components; a missing z takes def.
func vec3(vals []float64, def float64) (mgl64.Vec3, error) {
	switch len(vals) {
	case 2:
		return mgl64.Vec3{vals[0], vals[1], def}, nil
	case 3:
		return mgl64.Vec3{vals[0], vals[1], vals[2]}, nil
	default:
		return mgl64.Vec3{}, fmt.Errorf("want 2 or 3 values, got %d", len(vals))
	}
}

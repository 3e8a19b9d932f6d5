package data

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ClassEntry defines one host class: its direct parent and the signals it
// declares itself (inherited signals are not repeated).
type ClassEntry struct {
	Name    string   `yaml:"name"`
	Parent  string   `yaml:"parent"`
	Signals []string `yaml:"signals"`
}

// ClassTable is the host class hierarchy. Lookups are safe from any
// goroutine; registration happens while scenes are loaded.
type ClassTable struct {
	mu      sync.RWMutex
	classes map[string]*ClassEntry
}

var builtinClasses = []ClassEntry{
	{Name: "Object"},
	{Name: "Node", Parent: "Object", Signals: []string{"ready", "renamed", "tree_entered", "tree_exiting", "tree_exited", "child_entered_tree", "child_exiting_tree"}},
	{Name: "Timer", Parent: "Node", Signals: []string{"timeout"}},
	{Name: "CanvasItem", Parent: "Node", Signals: []string{"draw", "visibility_changed", "hidden"}},
	{Name: "Node2D", Parent: "CanvasItem"},
	{Name: "Sprite2D", Parent: "Node2D", Signals: []string{"texture_changed", "frame_changed"}},
	{Name: "Camera2D", Parent: "Node2D"},
	{Name: "CollisionObject2D", Parent: "Node2D", Signals: []string{"input_event", "mouse_entered", "mouse_exited"}},
	{Name: "Area2D", Parent: "CollisionObject2D", Signals: []string{"body_entered", "body_exited", "area_entered", "area_exited"}},
	{Name: "PhysicsBody2D", Parent: "CollisionObject2D"},
	{Name: "StaticBody2D", Parent: "PhysicsBody2D"},
	{Name: "CharacterBody2D", Parent: "PhysicsBody2D"},
	{Name: "RigidBody2D", Parent: "PhysicsBody2D", Signals: []string{"body_entered", "body_exited", "sleeping_state_changed"}},
	{Name: "Node3D", Parent: "Node", Signals: []string{"visibility_changed"}},
	{Name: "Camera3D", Parent: "Node3D"},
	{Name: "VisualInstance3D", Parent: "Node3D"},
	{Name: "GeometryInstance3D", Parent: "VisualInstance3D"},
	{Name: "MeshInstance3D", Parent: "GeometryInstance3D"},
	{Name: "CollisionObject3D", Parent: "Node3D", Signals: []string{"input_event", "mouse_entered", "mouse_exited"}},
	{Name: "Area3D", Parent: "CollisionObject3D", Signals: []string{"body_entered", "body_exited", "area_entered", "area_exited"}},
	{Name: "PhysicsBody3D", Parent: "CollisionObject3D"},
	{Name: "StaticBody3D", Parent: "PhysicsBody3D"},
	{Name: "CharacterBody3D", Parent: "PhysicsBody3D"},
	{Name: "RigidBody3D", Parent: "PhysicsBody3D", Signals: []string{"body_entered", "body_exited", "sleeping_state_changed"}},
	{Name: "Control", Parent: "CanvasItem", Signals: []string{"resized", "gui_input", "focus_entered", "focus_exited", "mouse_entered", "mouse_exited"}},
	{Name: "Label", Parent: "Control"},
	{Name: "BaseButton", Parent: "Control", Signals: []string{"pressed", "button_down", "button_up", "toggled"}},
	{Name: "Button", Parent: "BaseButton"},
}

// NewClassTable returns a table holding the built-in host classes.
func NewClassTable() *ClassTable {
	t := &ClassTable{classes: make(map[string]*ClassEntry, len(builtinClasses))}
	for i := range builtinClasses {
		e := builtinClasses[i]
		e.Signals = append([]string(nil), e.Signals...)
		t.classes[e.Name] = &e
	}
	return t
}

// LoadClassTable loads class_list.yaml on top of the built-in classes.
func LoadClassTable(path string) (*ClassTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read class list: %w", err)
	}
	t := NewClassTable()
	if err := t.Merge(raw); err != nil {
		return nil, fmt.Errorf("parse class list %s: %w", path, err)
	}
	return t, nil
}

// Merge parses a YAML class list and registers every entry.
func (t *ClassTable) Merge(raw []byte) error {
	var entries []ClassEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return err
	}
	for _, e := range entries {
		if err := t.Register(e.Name, e.Parent, e.Signals...); err != nil {
			return err
		}
	}
	return nil
}

// Register adds or replaces a class. The parent must already be known so the
// hierarchy can never contain a cycle.
func (t *ClassTable) Register(name, parent string, signals ...string) error {
	if name == "" {
		return fmt.Errorf("class name is empty")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if parent != "" {
		if _, ok := t.classes[parent]; !ok {
			return fmt.Errorf("class %s: unknown parent %s", name, parent)
		}
		if parent == name {
			return fmt.Errorf("class %s cannot inherit itself", name)
		}
	}
	t.classes[name] = &ClassEntry{
		Name:    name,
		Parent:  parent,
		Signals: append([]string(nil), signals...),
	}
	return nil
}

// Has reports whether class is known.
func (t *ClassTable) Has(class string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.classes[class]
	return ok
}

// Hierarchy returns class followed by all of its ancestors up to the root.
// An unknown class yields just itself.
func (t *ClassTable) Hierarchy(class string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, 8)
	for cur := class; cur != ""; {
		out = append(out, cur)
		e, ok := t.classes[cur]
		if !ok {
			break
		}
		cur = e.Parent
	}
	return out
}

// Inherits reports whether class is base or derives from it.
func (t *ClassTable) Inherits(class, base string) bool {
	for _, c := range t.Hierarchy(class) {
		if c == base {
			return true
		}
	}
	return false
}

// Signals returns every signal class declares or inherits.
func (t *ClassTable) Signals(class string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for cur := class; cur != ""; {
		e, ok := t.classes[cur]
		if !ok {
			break
		}
		out = append(out, e.Signals...)
		cur = e.Parent
	}
	return out
}

// Count returns the number of known classes.
func (t *ClassTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.classes)
}

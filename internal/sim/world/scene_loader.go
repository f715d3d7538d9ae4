package world

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/signalsfoundry/entity-state-sim/core"
	"gopkg.in/yaml.v3"
)

// SceneSummary is a small summary of what was loaded from a scene file,
// useful for logging from main().
type SceneSummary struct {
	Prototypes []string
	Entities   []string
	Attached   int
}

// Scene file shapes.
type sceneFile struct {
	Prototypes []prototypeYAML `yaml:"prototypes"`
	Entities   []entityYAML    `yaml:"entities"`
}

type prototypeYAML struct {
	Name string   `yaml:"name"`
	Tags []string `yaml:"tags"`
}

type entityYAML struct {
	Name        string          `yaml:"name"`
	Tags        []string        `yaml:"tags"`
	Position    vectorYAML      `yaml:"position"`
	Orientation *quaternionYAML `yaml:"orientation"`
	Parent      string          `yaml:"parent"` // optional; must be declared earlier
}

type vectorYAML struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

type quaternionYAML struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
	W float64 `yaml:"w"`
}

// LoadScene decodes a YAML scene description from r and populates s with its
// prototypes and pre-existing entities. Poses in the file are world poses in
// the external (ROS) convention and are converted on load.
func LoadScene(s *Scene, r io.Reader) (*SceneSummary, error) {
	if s == nil {
		return nil, fmt.Errorf("LoadScene: scene is nil")
	}

	var payload sceneFile
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&payload); err != nil && err != io.EOF {
		return nil, fmt.Errorf("LoadScene: decode failed: %w", err)
	}

	summary := &SceneSummary{}
	for i, p := range payload.Prototypes {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, fmt.Errorf("LoadScene: prototype[%d] has no name", i)
		}
		s.AddPrototype(name, p.Tags...)
		summary.Prototypes = append(summary.Prototypes, name)
	}

	byName := make(map[string]Handle, len(payload.Entities))
	for i, e := range payload.Entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, fmt.Errorf("LoadScene: entity[%d] has no name", i)
		}
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("LoadScene: duplicate entity name %q", name)
		}

		rot := mgl64.QuatIdent()
		if q := e.Orientation; q != nil {
			rot = mgl64.Quat{W: q.W, V: mgl64.Vec3{q.X, q.Y, q.Z}}
		}
		pose := core.ExternalToInternal(core.NewTransform(mgl64.Vec3{e.Position.X, e.Position.Y, e.Position.Z}, rot))
		h := s.Place(name, pose, e.Tags...)
		byName[name] = h
		summary.Entities = append(summary.Entities, name)

		if parent := strings.TrimSpace(e.Parent); parent != "" {
			ph, ok := byName[parent]
			if !ok {
				return nil, fmt.Errorf("LoadScene: entity %q references unknown parent %q", name, parent)
			}
			if err := s.AttachTo(h, ph); err != nil {
				return nil, fmt.Errorf("LoadScene: attach %q to %q: %w", name, parent, err)
			}
			summary.Attached++
		}
	}

	return summary, nil
}

// LoadSceneFile opens path and calls LoadScene.
func LoadSceneFile(s *Scene, path string) (*SceneSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scene %q: %w", path, err)
	}
	defer f.Close()
	return LoadScene(s, f)
}

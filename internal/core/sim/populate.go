package sim

import (
	"fmt"

	"github.com/zeusync/scenesync/internal/config"
	"github.com/zeusync/scenesync/internal/core/scene"
)

// Populate spawns the configured nodes in order and binds bodies where
// requested. It returns the created nodes by name.
func Populate(e *Engine, nodes []config.NodeConfig) (map[string]scene.NodeID, error) {
	created := make(map[string]scene.NodeID, len(nodes))
	for _, nc := range nodes {
		parent := scene.NoNode
		if nc.Parent != "" {
			p, ok := created[nc.Parent]
			if !ok {
				return created, fmt.Errorf("node %q: unknown parent %q", nc.Name, nc.Parent)
			}
			parent = p
		}

		id, err := e.CreateNode(parent,
			scene.WithName(nc.Name),
			scene.WithLocal(nc.Transform()),
			scene.WithKinematic(nc.Kinematic),
		)
		if err != nil {
			return created, fmt.Errorf("node %q: %w", nc.Name, err)
		}
		created[nc.Name] = id

		if nc.Body != nil {
			if _, err = e.Bind(id, nc.Body.Spec()); err != nil {
				return created, fmt.Errorf("node %q: bind: %w", nc.Name, err)
			}
		}
	}
	return created, nil
}

// Package viz renders a canvas's persisted snapshot history as a graphviz
// diagram, for debugging what a store file has accumulated.
package viz

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/astromechza/sketchsync/pkg/board"
	"github.com/astromechza/sketchsync/pkg/scene"
)

func RenderHistoryToSvg(snapshots []board.Snapshot, outputPath string) error {
	g := graphviz.New()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}

	var prev *cgraph.Node
	for i, sn := range snapshots {
		label := fmt.Sprintf("%s\n%d bytes", sn.CreatedAt.Format(time.RFC3339), len(sn.Data))
		if sc, err := scene.Decode(sn.Data); err == nil {
			label += fmt.Sprintf("\n%d objects", len(sc.Objects))
		} else {
			label += "\nundecodable"
		}

		n, err := graph.CreateNode(sn.ID)
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(label)

		if prev != nil {
			if _, err := graph.CreateEdge(strconv.Itoa(i), prev, n); err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
		prev = n
	}

	var buff bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buff); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}

	if err := os.WriteFile(outputPath, buff.Bytes(), os.ModePerm); err != nil {
		return fmt.Errorf("failed to write")
	}
	return nil
}

func RenderToTemp(snapshots []board.Snapshot) (string, error) {
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("%d%d.svg", time.Now().UnixNano(), rand.Int()))
	if err := RenderHistoryToSvg(snapshots, tf); err != nil {
		return "", err
	}
	return tf, nil
}

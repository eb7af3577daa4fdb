package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/astromechza/sketchsync/pkg/board"
	"github.com/astromechza/sketchsync/pkg/scene"
	"github.com/astromechza/sketchsync/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	canvasVar := flag.String("canvas", "", "limit output to one canvas id")
	flag.Parse()
	if flag.NArg() != 1 {
		return fmt.Errorf("expected one position argument: the sqlite store file to read")
	}
	store, err := board.OpenSqliteStore(flag.Arg(0))
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	ids, err := store.Canvases(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if *canvasVar != "" && id != *canvasVar {
			continue
		}
		doc, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		objects := "?"
		if sc, err := scene.Decode(doc.Data); err == nil {
			objects = fmt.Sprintf("%d", len(sc.Objects))
		}
		slog.Info("canvas", "id", doc.ID, "createdAt", doc.CreatedAt, "updatedAt", doc.UpdatedAt, "viewOnly", doc.ViewOnly, "objects", objects)

		snapshots, err := store.History(ctx, id)
		if err != nil {
			return err
		}
		for i, sn := range snapshots {
			slog.Info("snapshot", "i", fmt.Sprintf("%4d", i), "id", sn.ID, "createdAt", sn.CreatedAt, "bytes", len(sn.Data))
		}
		if len(snapshots) > 0 {
			if svgPath, err := viz.RenderToTemp(snapshots); err != nil {
				slog.Error("failed to render history", "canvas", id, "err", err)
			} else {
				slog.Info("rendered", "canvas", id, "path", "file://"+svgPath)
			}
		}
	}
	return nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/astromechza/sketchsync/pkg/board"
	"github.com/astromechza/sketchsync/pkg/engine"
	"github.com/astromechza/sketchsync/pkg/raster"
	"github.com/astromechza/sketchsync/pkg/scene"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "http://127.0.0.1:8080", "the base url of the server")
	canvasVar := flag.String("canvas", "", "the canvas id to open (empty generates a new one)")
	viewOnlyVar := flag.Bool("view-only", false, "open the session read-only")
	flag.Parse()

	store, err := board.NewRemoteStore(*addrVar)
	if err != nil {
		return err
	}

	canvasId := *canvasVar
	if canvasId == "" {
		canvasId = uuid.NewString()
	}

	eng := engine.New(store)
	eng.SetStatusFunc(func(s engine.Status) {
		slog.Info("status", "canvas", canvasId, "status", s)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Open(ctx, canvasId, *viewOnlyVar); err != nil {
		return err
	}
	defer eng.Close()
	slog.Info("opened", "url", fmt.Sprintf("%s/canvas/%s", *addrVar, canvasId), "shareReadOnly", fmt.Sprintf("%s/canvas/%s?viewOnly=true", *addrVar, canvasId))

	// The surface is attached after Open on purpose: the engine buffers any
	// remote state that arrived first and applies it now.
	surface := engine.NewSceneSurface()
	eng.AttachSurface(surface)

	wg := new(sync.WaitGroup)
	if !*viewOnlyVar {
		wg.Add(1)
		go func() {
			defer wg.Done()
			drawRandomlyContinuously(ctx, eng, surface)
		}()
	}

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	cancel()
	wg.Wait()

	tf := filepath.Join(os.TempDir(), canvasId+".png")
	if f, err := os.Create(tf); err != nil {
		return err
	} else {
		defer f.Close()
		if err := raster.EncodePNG(f, surface.Scene(), 1); err != nil {
			return fmt.Errorf("failed to render final scene: %w", err)
		}
	}
	slog.Info("dumped", "dump", tf)
	return nil
}

func randomShape() scene.Object {
	x, y := rand.Float64()*400, rand.Float64()*400
	w, h := 20+rand.Float64()*100, 20+rand.Float64()*100
	if rand.Intn(2) == 0 {
		return scene.NewRectangle(x, y, w, h)
	}
	return scene.NewEllipse(x, y, w, h)
}

func randomStroke() scene.Object {
	x, y := rand.Float64()*400, rand.Float64()*400
	points := [][2]float64{{x, y}}
	for i := 0; i < 5+rand.Intn(20); i++ {
		x += rand.Float64()*20 - 10
		y += rand.Float64()*20 - 10
		points = append(points, [2]float64{x, y})
	}
	return scene.NewFreedraw(points, 2)
}

// drawRandomlyContinuously exercises both persistence paths: toolbar-style
// adds through the engine's immediate path, and generic jitters through the
// surface's debounced mutation events.
func drawRandomlyContinuously(ctx context.Context, eng *engine.Engine, surface *engine.SceneSurface) {
	for {
		t := time.NewTimer(time.Second + time.Second*time.Duration(rand.Intn(4)))
		select {
		case <-t.C:
			switch rand.Intn(3) {
			case 0:
				if err := eng.AddObject(randomShape()); err != nil {
					slog.Error("failed to add shape", "err", err)
				}
			case 1:
				if err := eng.AddObject(randomStroke()); err != nil {
					slog.Error("failed to add stroke", "err", err)
				}
			default:
				sc := surface.Scene()
				if len(sc.Objects) == 0 {
					continue
				}
				o := sc.Objects[rand.Intn(len(sc.Objects))]
				o.X += rand.Float64()*40 - 20
				o.Y += rand.Float64()*40 - 20
				surface.Update(o)
			}
			sc := surface.Scene()
			slog.Info("drew", "objects", len(sc.Objects))
		case <-ctx.Done():
			t.Stop()
			slog.Info("stopping scheduled drawing")
			return
		}
	}
}

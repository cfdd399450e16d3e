//go:build js && wasm

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"log/slog"
	"syscall/js"
	"time"

	"github.com/pixelveil/pixelveil/backend-go/internal/effect"
	"github.com/pixelveil/pixelveil/backend-go/internal/engine"
	"github.com/pixelveil/pixelveil/backend-go/internal/region"
	"github.com/pixelveil/pixelveil/backend-go/internal/viewport"
)

var sess *engine.Session

// exportCancel aborts the export in flight, if any.
var exportCancel context.CancelFunc = func() {}

// hostOptions is read from the optional pixelveilConfig global set by the
// page before the module starts.
type hostOptions struct {
	Capabilities engine.Capabilities `json:"capabilities"`
	Width        float64             `json:"viewportWidth"`
	Height       float64             `json:"viewportHeight"`
}

func main() {
	opts := hostOptions{Capabilities: engine.Capabilities{Export: true}}
	if cfg := js.Global().Get("pixelveilConfig"); cfg.Type() == js.TypeString {
		if err := json.Unmarshal([]byte(cfg.String()), &opts); err != nil {
			slog.Warn("invalid pixelveilConfig", "error", err)
		}
	}

	sess = engine.NewSession(
		engine.WithCapabilities(opts.Capabilities),
		engine.WithViewport(viewport.Size{Width: opts.Width, Height: opts.Height}),
		engine.WithFrames(frameSource(), present),
	)

	api := js.Global().Get("Object").New()

	// --- Commands (frontend → engine) ---
	api.Set("loadImage", js.FuncOf(loadImage))
	api.Set("pointerDown", js.FuncOf(pointerDown))
	api.Set("pointerMove", js.FuncOf(pointerMove))
	api.Set("pointerUp", js.FuncOf(pointerUp))
	api.Set("wheel", js.FuncOf(wheel))
	api.Set("zoomIn", js.FuncOf(zoomIn))
	api.Set("zoomOut", js.FuncOf(zoomOut))
	api.Set("zoomReset", js.FuncOf(zoomReset))
	api.Set("scrollBy", js.FuncOf(scrollBy))
	api.Set("setViewport", js.FuncOf(setViewport))
	api.Set("setRenderedSize", js.FuncOf(setRenderedSize))
	api.Set("addRegion", js.FuncOf(addRegion))
	api.Set("removeRegion", js.FuncOf(removeRegion))
	api.Set("replaceRegions", js.FuncOf(replaceRegions))
	api.Set("clearAll", js.FuncOf(clearAll))
	api.Set("undo", js.FuncOf(undo))
	api.Set("redo", js.FuncOf(redo))
	api.Set("setTool", js.FuncOf(setTool))
	api.Set("cancel", js.FuncOf(cancel))

	// --- Queries (frontend ← engine) ---
	api.Set("render", js.FuncOf(render))
	api.Set("exportImage", js.FuncOf(exportImage))
	api.Set("getRegions", js.FuncOf(getRegions))
	api.Set("getState", js.FuncOf(getState))

	js.Global().Set("pixelveilEngine", api)

	// Readiness is announced with the session's capabilities; callers check
	// getState().state before editing.
	if ready := js.Global().Get("onPixelveilReady"); ready.Type() == js.TypeFunction {
		ready.Invoke(snapshotJSON())
	}

	// Keep Go runtime alive
	select {}
}

// animationFrames schedules renders on the browser's animation frames.
type animationFrames struct{}

func (animationFrames) Next(fn func()) func() {
	var cb js.Func
	fired := false
	cb = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		fired = true
		cb.Release()
		fn()
		return nil
	})
	id := js.Global().Call("requestAnimationFrame", cb)
	return func() {
		if fired {
			return
		}
		js.Global().Call("cancelAnimationFrame", id)
		cb.Release()
	}
}

// frameSource falls back to a ticker where no animation frames exist, as
// in a worker.
func frameSource() engine.FrameSource {
	if js.Global().Get("requestAnimationFrame").Type() == js.TypeFunction {
		return animationFrames{}
	}
	return engine.NewTickerFrames(16 * time.Millisecond)
}

// present hands a finished frame to the page's onPixelveilFrame callback
// as (width, height, rgba bytes).
func present(frame *image.RGBA) {
	cb := js.Global().Get("onPixelveilFrame")
	if cb.Type() != js.TypeFunction {
		return
	}
	b := frame.Bounds()
	pixels := js.Global().Get("Uint8ClampedArray").New(len(frame.Pix))
	js.CopyBytesToJS(pixels, frame.Pix)
	cb.Invoke(b.Dx(), b.Dy(), pixels)
}

func result(err error) interface{} {
	if err != nil {
		return js.ValueOf(map[string]interface{}{"error": err.Error()})
	}
	return js.ValueOf(map[string]interface{}{"ok": true})
}

func point(args []js.Value, i int) (viewport.Point, bool) {
	if len(args) < i+2 {
		return viewport.Point{}, false
	}
	return viewport.Point{X: args[i].Float(), Y: args[i+1].Float()}, true
}

// --- Command Handlers ---

func loadImage(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 || args[0].Type() != js.TypeObject {
		return js.ValueOf(map[string]interface{}{"error": "missing image bytes"})
	}
	data := make([]byte, args[0].Get("length").Int())
	js.CopyBytesToGo(data, args[0])
	return result(sess.Load(bytes.NewReader(data)))
}

func pointerDown(this js.Value, args []js.Value) interface{} {
	p, ok := point(args, 0)
	if !ok {
		return js.ValueOf(false)
	}
	return js.ValueOf(sess.PointerDown(p))
}

func pointerMove(this js.Value, args []js.Value) interface{} {
	p, ok := point(args, 0)
	if !ok {
		return js.ValueOf(false)
	}
	return js.ValueOf(sess.PointerMove(p))
}

func pointerUp(this js.Value, args []js.Value) interface{} {
	p, ok := point(args, 0)
	if !ok {
		return js.ValueOf("")
	}
	id, _ := sess.PointerUp(p)
	return js.ValueOf(id)
}

// wheel takes (deltaY, clientX, clientY).
func wheel(this js.Value, args []js.Value) interface{} {
	if len(args) < 3 {
		return nil
	}
	p, _ := point(args, 1)
	sess.Wheel(args[0].Float(), p)
	return nil
}

func zoomIn(this js.Value, args []js.Value) interface{} {
	sess.ZoomIn()
	return nil
}

func zoomOut(this js.Value, args []js.Value) interface{} {
	sess.ZoomOut()
	return nil
}

func zoomReset(this js.Value, args []js.Value) interface{} {
	sess.ZoomReset()
	return nil
}

func scrollBy(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return nil
	}
	sess.ScrollBy(args[0].Float(), args[1].Float())
	return nil
}

func setViewport(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return nil
	}
	sess.SetViewport(viewport.Size{Width: args[0].Float(), Height: args[1].Float()})
	return nil
}

func setRenderedSize(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return nil
	}
	sess.SetRenderedSize(viewport.Size{Width: args[0].Float(), Height: args[1].Float()})
	return nil
}

// addRegion takes image-space (x, y, width, height) and uses the current
// tool.
func addRegion(this js.Value, args []js.Value) interface{} {
	if len(args) < 4 {
		return js.ValueOf("")
	}
	id, _ := sess.AddRegion(args[0].Float(), args[1].Float(), args[2].Float(), args[3].Float())
	return js.ValueOf(id)
}

func removeRegion(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return js.ValueOf(false)
	}
	return js.ValueOf(sess.RemoveRegion(args[0].String()))
}

// replaceRegions installs a full collection received as JSON, as sent by
// another surface of the session.
func replaceRegions(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return js.ValueOf(map[string]interface{}{"error": "missing regions JSON"})
	}
	var regions []region.Region
	if err := json.Unmarshal([]byte(args[0].String()), &regions); err != nil {
		return result(err)
	}
	if !sess.ReplaceRegions(regions) {
		return result(engine.ErrNotReady)
	}
	return result(nil)
}

func clearAll(this js.Value, args []js.Value) interface{} {
	return js.ValueOf(sess.ClearAll())
}

func undo(this js.Value, args []js.Value) interface{} {
	return js.ValueOf(sess.Undo())
}

func redo(this js.Value, args []js.Value) interface{} {
	return js.ValueOf(sess.Redo())
}

// setTool takes (kind, blockSize) or (kind, "#rrggbb").
func setTool(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return js.ValueOf(map[string]interface{}{"error": "missing tool kind"})
	}
	var blockSize int
	var fill string
	if len(args) > 1 {
		switch args[1].Type() {
		case js.TypeNumber:
			blockSize = args[1].Int()
		case js.TypeString:
			fill = args[1].String()
		}
	}
	e, err := region.ParseEffect(effect.Kind(args[0].String()), blockSize, fill)
	if err != nil {
		return result(err)
	}
	sess.SetTool(e)
	return result(nil)
}

func cancel(this js.Value, args []js.Value) interface{} {
	exportCancel()
	sess.Cancel()
	return nil
}

// --- Query Handlers ---

// render draws a frame immediately, bypassing frame coalescing.
func render(this js.Value, args []js.Value) interface{} {
	frame, err := sess.Render(context.Background())
	if err != nil {
		return result(err)
	}
	present(frame)
	return result(nil)
}

// exportImage returns a Promise that resolves with the PNG bytes as a
// Uint8Array. The source and regions are captured at call time; cancel
// rejects a pending export.
func exportImage(this js.Value, args []js.Value) interface{} {
	promise := js.Global().Get("Promise")
	if !sess.Capabilities().Export {
		return promise.Call("reject", "export not supported by host")
	}
	if sess.State() != engine.Ready {
		return promise.Call("reject", engine.ErrNotReady.Error())
	}
	src, regions := sess.Source(), sess.Regions()

	exportCancel()
	ctx, cancelFn := context.WithCancel(context.Background())
	exportCancel = cancelFn

	var executor js.Func
	executor = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		resolve, reject := args[0], args[1]
		go func() {
			defer executor.Release()
			defer cancelFn()
			data, err := engine.Export(ctx, src, regions)
			if err == nil {
				err = ctx.Err()
			}
			if err != nil {
				slog.Warn("export failed", "error", err)
				reject.Invoke(err.Error())
				return
			}
			out := js.Global().Get("Uint8Array").New(len(data))
			js.CopyBytesToJS(out, data)
			resolve.Invoke(out)
		}()
		return nil
	})
	return promise.New(executor)
}

func getRegions(this js.Value, args []js.Value) interface{} {
	regions := sess.Regions()
	if regions == nil {
		regions = []region.Region{}
	}
	data, err := json.Marshal(regions)
	if err != nil {
		return js.ValueOf("[]")
	}
	return js.ValueOf(string(data))
}

func getState(this js.Value, args []js.Value) interface{} {
	return js.ValueOf(snapshotJSON())
}

func snapshotJSON() string {
	data, err := json.Marshal(sess.Snapshot())
	if err != nil {
		return "{}"
	}
	return string(data)
}

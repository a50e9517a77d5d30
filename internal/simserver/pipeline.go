package simserver

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hooksbot/client/internal/model"
)

// InputVideo is one uploaded source clip, already saved to disk.
type InputVideo struct {
	Name string
	Path string
}

// Pipeline stands in for the real media-processing backend. Each accepted
// task runs as one goroutine that emits the same envelope sequence the real
// pipeline produces: per-clip progress and video_link events, then a
// zip_complete with the bundle path. Cancellation stops the goroutine
// between steps.
type Pipeline struct {
	hub       *Hub
	dataDir   string
	stepDelay time.Duration

	mu    sync.Mutex
	tasks map[string]context.CancelFunc
}

// NewPipeline creates a pipeline writing task outputs under dataDir.
func NewPipeline(hub *Hub, dataDir string, stepDelay time.Duration) *Pipeline {
	return &Pipeline{
		hub:       hub,
		dataDir:   dataDir,
		stepDelay: stepDelay,
		tasks:     make(map[string]context.CancelFunc),
	}
}

// Start launches background processing for an accepted task.
func (p *Pipeline) Start(taskID string, videos []InputVideo) {
	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.tasks[taskID] = cancel
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.tasks, taskID)
			p.mu.Unlock()
			cancel()
		}()
		p.run(ctx, taskID, videos)
	}()
}

// Cancel stops a running task. Returns false if the task is not running.
func (p *Pipeline) Cancel(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cancel, ok := p.tasks[taskID]
	if ok {
		cancel()
	}
	return ok
}

// Cleanup cancels a task if still running and removes its scratch space.
func (p *Pipeline) Cleanup(taskID string) error {
	p.Cancel(taskID)
	return os.RemoveAll(filepath.Join(p.dataDir, taskID))
}

func (p *Pipeline) run(ctx context.Context, taskID string, videos []InputVideo) {
	outDir := filepath.Join(p.dataDir, taskID)
	total := len(videos)
	outputs := make([]string, 0, total)

	for i, v := range videos {
		select {
		case <-ctx.Done():
			log.Printf("[sim] task %s canceled at clip %d/%d", taskID, i+1, total)
			return
		case <-time.After(p.stepDelay):
		}

		pct := float64(i) / float64(total) * 100
		p.hub.Broadcast(model.ProgressEnvelope(taskID, pct, "generating hook for "+v.Name))

		outName := "hook_" + v.Name
		outPath := filepath.Join(outDir, outName)
		if err := copyFile(v.Path, outPath); err != nil {
			log.Printf("[sim] task %s failed on %s: %v", taskID, v.Name, err)
			p.hub.Broadcast(model.ErrorEnvelope(taskID, fmt.Sprintf("failed to process %s", v.Name)))
			return
		}
		outputs = append(outputs, outPath)

		p.hub.Broadcast(model.VideoLinkEnvelope(taskID, "/files/"+taskID+"/"+outName, outName))
	}

	select {
	case <-ctx.Done():
		log.Printf("[sim] task %s canceled before packaging", taskID)
		return
	case <-time.After(p.stepDelay):
	}

	p.hub.Broadcast(model.ProgressEnvelope(taskID, 100, "packaging outputs"))

	zipRel := filepath.Join(taskID, "output.zip")
	if err := zipFiles(outputs, filepath.Join(p.dataDir, zipRel)); err != nil {
		log.Printf("[sim] task %s failed to package outputs: %v", taskID, err)
		p.hub.Broadcast(model.ErrorEnvelope(taskID, "failed to package outputs"))
		return
	}

	p.hub.Broadcast(model.ZipCompleteEnvelope(taskID, zipRel))
	log.Printf("[sim] task %s complete, %d outputs", taskID, len(outputs))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func zipFiles(paths []string, dst string) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, p := range paths {
		if err := addToZip(zw, p, filepath.Base(p)); err != nil {
			zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return f.Close()
}

func addToZip(zw *zip.Writer, path, name string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}

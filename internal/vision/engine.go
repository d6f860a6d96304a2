package vision

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/enrollment/internal/config"
	"github.com/your-org/enrollment/internal/models"
	"github.com/your-org/enrollment/internal/observability"
)

// FaceEngine locates faces and turns them into encodings. Implementations
// must be safe for concurrent use.
type FaceEngine interface {
	Locate(ctx context.Context, img image.Image) ([]Detection, error)
	Encode(ctx context.Context, img image.Image, det Detection) (models.FaceEncoding, error)
	Close() error
}

type onnxWorker struct {
	detector *Detector
	embedder *Embedder
}

func (w *onnxWorker) close() {
	if w.detector != nil {
		w.detector.Close()
	}
	if w.embedder != nil {
		w.embedder.Close()
	}
}

// ONNXEngine runs RetinaFace and ArcFace through ONNX Runtime. Sessions are
// not shared: each call borrows one detector/embedder pair from the pool.
type ONNXEngine struct {
	pool    chan *onnxWorker
	workers []*onnxWorker
	done    chan struct{}
	once    sync.Once
}

// InitONNXRuntime loads the shared library. libPath may be empty to use the
// platform default name.
func InitONNXRuntime(libPath string) error {
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx runtime: %w", err)
	}
	return nil
}

func DestroyONNXRuntime() {
	if err := ort.DestroyEnvironment(); err != nil {
		slog.Warn("destroy onnx runtime", "error", err)
	}
}

// NewONNXEngine loads cfg.Workers detector/embedder pairs from cfg.ModelsDir.
// The ONNX Runtime environment must already be initialized.
func NewONNXEngine(cfg config.VisionConfig) (*ONNXEngine, error) {
	detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
	embPath := filepath.Join(cfg.ModelsDir, "w600k_r50.onnx")

	n := cfg.Workers
	if n < 1 {
		n = 1
	}
	e := &ONNXEngine{
		pool: make(chan *onnxWorker, n),
		done: make(chan struct{}),
	}

	for i := 0; i < n; i++ {
		w, err := loadWorker(detPath, embPath, float32(cfg.DetectionThreshold))
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		e.workers = append(e.workers, w)
		e.pool <- w
	}

	slog.Info("face engine ready", "workers", n, "models_dir", cfg.ModelsDir)
	return e, nil
}

func loadWorker(detPath, embPath string, threshold float32) (*onnxWorker, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()
	// pool size already controls parallelism
	if err := opts.SetIntraOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("set intra-op threads: %w", err)
	}

	det, err := NewDetector(detPath, threshold, opts)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}
	emb, err := NewEmbedder(embPath, opts)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}
	return &onnxWorker{detector: det, embedder: emb}, nil
}

func (e *ONNXEngine) acquire(ctx context.Context) (*onnxWorker, error) {
	select {
	case <-e.done:
		return nil, ErrEngineClosed
	default:
	}
	select {
	case w := <-e.pool:
		return w, nil
	case <-e.done:
		return nil, ErrEngineClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *ONNXEngine) release(w *onnxWorker) {
	e.pool <- w
}

func (e *ONNXEngine) Locate(ctx context.Context, img image.Image) ([]Detection, error) {
	w, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer e.release(w)

	start := time.Now()
	dets, err := w.detector.Detect(img)
	observability.StageDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	return dets, err
}

func (e *ONNXEngine) Encode(ctx context.Context, img image.Image, det Detection) (models.FaceEncoding, error) {
	face := cropFace(img, det)
	if face == nil {
		return nil, fmt.Errorf("face box %v outside image", det.BBox)
	}

	w, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer e.release(w)

	start := time.Now()
	enc, err := w.embedder.Extract(face)
	observability.StageDuration.WithLabelValues("encode").Observe(time.Since(start).Seconds())
	return enc, err
}

// Close waits for in-flight calls to return their sessions, then destroys
// them. Calls after Close fail with ErrEngineClosed.
func (e *ONNXEngine) Close() error {
	e.once.Do(func() {
		close(e.done)
		for range e.workers {
			w := <-e.pool
			w.close()
		}
	})
	return nil
}

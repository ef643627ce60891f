package embedding

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
	"go.uber.org/zap"
)

const localBatchMax = 10

// localRuntime is the process-wide hugot session. The pure Go backend is
// not safe for concurrent inference, so the mutex covers both
// initialization and every pipeline run.
var localRuntime struct {
	mu       sync.Mutex
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
	modelDir string
}

// LocalEmbedder runs a sentence-transformer ONNX export in-process.
// It is the fallback when the remote embedder is unreachable.
type LocalEmbedder struct {
	modelDir string
	logger   *zap.Logger
}

// NewLocalEmbedder creates an embedder reading the model from modelDir.
// modelDir is either the model directory itself or a parent holding exactly
// one model subdirectory; a model directory contains tokenizer.json.
func NewLocalEmbedder(modelDir string, logger *zap.Logger) *LocalEmbedder {
	return &LocalEmbedder{
		modelDir: modelDir,
		logger:   logger.Named("embedding-local"),
	}
}

var _ Embedder = (*LocalEmbedder)(nil)

func (e *LocalEmbedder) Name() string {
	return "local:" + filepath.Base(e.modelDir)
}

// Available reports whether a model is present on disk.
func (e *LocalEmbedder) Available() bool {
	_, err := resolveModelDir(e.modelDir)
	return err == nil
}

func resolveModelDir(dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("no local model directory configured")
	}
	if _, err := os.Stat(filepath.Join(dir, "tokenizer.json")); err == nil {
		return dir, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read model directory %s: %w", dir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		candidate := filepath.Join(dir, entry.Name())
		if _, err := os.Stat(filepath.Join(candidate, "tokenizer.json")); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no model with tokenizer.json found in %s", dir)
}

// initialize must be called with localRuntime.mu held.
func (e *LocalEmbedder) initialize() error {
	modelPath, err := resolveModelDir(e.modelDir)
	if err != nil {
		return err
	}
	if localRuntime.pipeline != nil {
		if localRuntime.modelDir != modelPath {
			return fmt.Errorf("local embedding runtime already loaded from %s", localRuntime.modelDir)
		}
		return nil
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return fmt.Errorf("create hugot session: %w", err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "catalog-embeddings",
		Options: []hugot.FeatureExtractionOption{
			pipelines.WithNormalization(),
		},
	})
	if err != nil {
		_ = session.Destroy()
		return fmt.Errorf("create feature extraction pipeline: %w", err)
	}

	localRuntime.session = session
	localRuntime.pipeline = pipeline
	localRuntime.modelDir = modelPath
	e.logger.Info("Loaded local embedding model", zap.String("path", modelPath))
	return nil
}

func (e *LocalEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	localRuntime.mu.Lock()
	defer localRuntime.mu.Unlock()

	if err := e.initialize(); err != nil {
		return nil, fmt.Errorf("initialize local embedder: %w", err)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += localBatchMax {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+localBatchMax, len(texts))
		result, err := localRuntime.pipeline.RunPipeline(texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("run embedding pipeline: %w", err)
		}
		out = append(out, result.Embeddings...)
	}
	return out, nil
}

// CloseLocalRuntime releases the shared hugot session. Call once at shutdown.
func CloseLocalRuntime() error {
	localRuntime.mu.Lock()
	defer localRuntime.mu.Unlock()
	if localRuntime.session == nil {
		return nil
	}
	err := localRuntime.session.Destroy()
	localRuntime.session = nil
	localRuntime.pipeline = nil
	localRuntime.modelDir = ""
	return err
}

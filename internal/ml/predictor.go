package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Session runs a loaded classifier on one input row. Implementations must be
// safe for concurrent use; the same session is shared by every request.
type Session interface {
	Run(ctx context.Context, input []float32) ([]float32, error)
	Close() error
}

// ExecSession evaluates an ONNX model through a Python onnxruntime process.
// Each call starts a fresh interpreter, so there is no shared mutable state.
type ExecSession struct {
	modelPath  string
	pythonPath string
	scriptPath string
	timeout    time.Duration
}

type inferenceRequest struct {
	Features []float32 `json:"features"`
}

type inferenceResponse struct {
	Probabilities []float64 `json:"probabilities"`
	Error         string    `json:"error,omitempty"`
}

// NewExecSession locates an interpreter and an inference script for the model
// at modelPath. pythonPath may be empty to search the usual locations.
func NewExecSession(modelPath, pythonPath string, timeout time.Duration) (*ExecSession, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file %s: %w", modelPath, err)
	}

	if pythonPath == "" {
		p, err := findPython()
		if err != nil {
			return nil, err
		}
		pythonPath = p
	}

	scriptPath, err := locateScript(modelPath)
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &ExecSession{
		modelPath:  modelPath,
		pythonPath: pythonPath,
		scriptPath: scriptPath,
		timeout:    timeout,
	}, nil
}

// locateScript prefers a script shipped next to the model, then the
// repository scripts directory, and finally writes the embedded copy.
func locateScript(modelPath string) (string, error) {
	dir := filepath.Dir(modelPath)
	candidates := []string{
		filepath.Join(dir, "onnx_inference.py"),
		filepath.Join(filepath.Dir(dir), "scripts", "onnx_inference.py"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	embedded := filepath.Join(dir, "onnx_inference_embedded.py")
	if err := createInferenceScript(embedded); err != nil {
		return "", fmt.Errorf("write inference script: %w", err)
	}
	return embedded, nil
}

func (s *ExecSession) Run(ctx context.Context, input []float32) ([]float32, error) {
	reqJSON, err := json.Marshal(inferenceRequest{Features: input})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.pythonPath, s.scriptPath, s.modelPath)
	cmd.Stdin = bytes.NewReader(reqJSON)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("inference timed out after %v: %w", s.timeout, context.DeadlineExceeded)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		log.Error().
			Err(err).
			Str("python_path", s.pythonPath).
			Str("script_path", s.scriptPath).
			Str("model_path", s.modelPath).
			Str("stderr", stderr.String()).
			Msg("Python inference execution failed")

		// the script reports its own failures as JSON on stdout
		var resp inferenceResponse
		if json.Unmarshal(stdout.Bytes(), &resp) == nil && resp.Error != "" {
			return nil, fmt.Errorf("python inference error: %s", resp.Error)
		}
		if strings.Contains(stderr.String(), "onnxruntime not installed") {
			return nil, fmt.Errorf("ONNX runtime dependency missing: %w", err)
		}
		return nil, fmt.Errorf("python inference failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp inferenceResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w, stdout: %s", err, stdout.String())
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("python inference error: %s", resp.Error)
	}

	out := make([]float32, len(resp.Probabilities))
	for i, p := range resp.Probabilities {
		out[i] = float32(p)
	}
	return out, nil
}

// Close is a no-op; every Run owns its own process.
func (s *ExecSession) Close() error { return nil }

func findPython() (string, error) {
	usable := func(path string) bool {
		cmd := exec.Command(path, "-c", "import sys, onnxruntime; print('Python', sys.version)")
		output, err := cmd.Output()
		return err == nil && strings.Contains(string(output), "Python 3")
	}

	if venv := os.Getenv("VIRTUAL_ENV"); venv != "" {
		for _, p := range []string{
			filepath.Join(venv, "bin", "python3"),
			filepath.Join(venv, "bin", "python"),
			filepath.Join(venv, "Scripts", "python.exe"),
		} {
			if _, err := os.Stat(p); err == nil && usable(p) {
				log.Info().Str("python_path", p).Msg("Using virtual environment Python")
				return p, nil
			}
		}
	}

	if execPath, err := os.Executable(); err == nil {
		execDir := filepath.Dir(execPath)
		for _, root := range []string{execDir, filepath.Dir(execDir)} {
			for _, p := range []string{
				filepath.Join(root, "venv", "bin", "python3"),
				filepath.Join(root, ".venv", "bin", "python3"),
			} {
				if _, err := os.Stat(p); err == nil && usable(p) {
					log.Info().Str("python_path", p).Msg("Using project virtual environment Python")
					return p, nil
				}
			}
		}
	}

	for _, name := range []string{"python3", "python", "python3.12", "python3.11", "python3.10"} {
		if p, err := exec.LookPath(name); err == nil && usable(p) {
			log.Info().Str("python_path", p).Msg("Using system Python")
			return p, nil
		}
	}

	return "", errors.New("no Python 3 interpreter with onnxruntime found")
}

func createInferenceScript(scriptPath string) error {
	script := `#!/usr/bin/env python3
"""
ONNX inference for the match outcome classifier (embedded version).
Reads {"features": [...]} from stdin and prints {"probabilities": [p0, p1, p2]}
in class index order: 0 = draw, 1 = home win, 2 = away win.
"""
import sys
import json

try:
    import numpy as np
    import onnxruntime as ort
except ImportError:
    print(json.dumps({"error": "onnxruntime not installed"}))
    sys.exit(1)


def to_list(probs):
    # sklearn exports may wrap probabilities in a ZipMap: [{0: p0, 1: p1, 2: p2}]
    if isinstance(probs, dict):
        return [float(probs[k]) for k in sorted(probs.keys())]
    return [float(p) for p in np.asarray(probs).ravel().tolist()]


def main():
    if len(sys.argv) != 2:
        print(json.dumps({"error": "usage: onnx_inference.py <model_path>"}))
        sys.exit(1)

    try:
        request = json.load(sys.stdin)
        features = np.array([request["features"]], dtype=np.float32)

        session = ort.InferenceSession(sys.argv[1])
        input_name = session.get_inputs()[0].name
        outputs = session.run(None, {input_name: features})

        if len(outputs) == 2:
            # [labels, probabilities]
            probabilities = to_list(outputs[1][0])
        elif len(outputs) == 1:
            probabilities = to_list(outputs[0][0])
        else:
            raise ValueError("unexpected number of outputs: %d" % len(outputs))

        print(json.dumps({"probabilities": probabilities}))
    except Exception as e:
        print(json.dumps({"error": str(e)}))
        sys.exit(1)


if __name__ == "__main__":
    main()
`

	return os.WriteFile(scriptPath, []byte(script), 0o755)
}

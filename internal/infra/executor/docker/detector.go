package docker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/bryanwahyu/automaton-tee/internal/domain/ai"
)

// Detector runs a weapon-detection container per image. The container gets
// the model and the image mounted read-only and prints a JSON array of
// detections on stdout.
type Detector struct {
	Image     string // container image
	ModelPath string // host path of the model file
	Binary    string // docker CLI, "docker" when empty
	Timeout   time.Duration
}

func NewDetector(image, modelPath string, timeout time.Duration) *Detector {
	return &Detector{Image: image, ModelPath: modelPath, Binary: "docker", Timeout: timeout}
}

// Args builds the docker CLI arguments for one image.
func (d *Detector) Args(imagePath string) []string {
	return []string{"run", "--rm", "--network", "none",
		"-v", fmt.Sprintf("%s:/model/%s:ro", d.ModelPath, filepath.Base(d.ModelPath)),
		"-v", fmt.Sprintf("%s:/input/%s:ro", imagePath, filepath.Base(imagePath)),
		"-e", "GUN_DETECTOR_ONNX_PATH=/model/" + filepath.Base(d.ModelPath),
		d.Image,
		"/input/" + filepath.Base(imagePath),
	}
}

func (d *Detector) Detect(ctx context.Context, imagePath string) ([]ai.Detection, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	abs, err := filepath.Abs(imagePath)
	if err != nil {
		return nil, err
	}
	bin := d.Binary
	if bin == "" {
		bin = "docker"
	}

	// jalankan detector container
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, d.Args(abs)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return nil, fmt.Errorf("detector exited with %d: %s", ee.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("run error: %w", err)
	}
	return parseDetections(stdout.Bytes())
}

// parseDetections reads the last stdout line that holds a JSON array;
// earlier lines are treated as container logs.
func parseDetections(out []byte) ([]ai.Detection, error) {
	var last string
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "[") {
			last = line
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read detector output: %w", err)
	}
	if last == "" {
		return nil, fmt.Errorf("%w: no detection array in detector output", ai.ErrUnparsable)
	}
	var dets []ai.Detection
	if err := json.Unmarshal([]byte(last), &dets); err != nil {
		return nil, fmt.Errorf("%w: %v", ai.ErrUnparsable, err)
	}
	return dets, nil
}

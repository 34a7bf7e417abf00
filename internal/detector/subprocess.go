package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/plastisort/internal/detection"
)

// idleShutdown is how long the Python service may sit unused before it is stopped.
const idleShutdown = 2 * time.Minute

// SubprocessDetector implements Detector with a Python ultralytics service
// reading framed requests on stdin and answering with JSON lines on stdout.
type SubprocessDetector struct {
	config    Config
	script    string
	classes   map[int]string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	idleTimer *time.Timer
}

// NewSubprocessDetector starts the service once to load the weights and read
// the model's class table.
func NewSubprocessDetector(config Config) (*SubprocessDetector, error) {
	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}
	script := findServiceScript()
	if script == "" {
		return nil, fmt.Errorf("yolo_service.py not found")
	}

	d := &SubprocessDetector{
		config: config,
		script: script,
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureStarted(); err != nil {
		return nil, err
	}
	d.resetIdleTimer()
	return d, nil
}

// Classes implements Detector.
func (d *SubprocessDetector) Classes() map[int]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.classes
}

type serviceRequest struct {
	Conf float64 `json:"conf"`
	IoU  float64 `json:"iou"`
}

type serviceDetection struct {
	Cls  int        `json:"cls"`
	Conf float64    `json:"conf"`
	Box  [4]float64 `json:"box"`
}

type serviceResponse struct {
	Detections []serviceDetection `json:"detections"`
	Error      string             `json:"error"`
}

func writeFrame(w io.Writer, data []byte) error {
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))
	if _, err := w.Write(length); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	return nil
}

// Detect implements Detector.
func (d *SubprocessDetector) Detect(frame *gocv.Mat, p Params) ([]Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncode(".jpg", *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	params, err := json.Marshal(serviceRequest{Conf: p.Confidence, IoU: p.IoU})
	if err != nil {
		return nil, err
	}
	if err := writeFrame(d.stdin, params); err != nil {
		d.shutdown()
		return nil, err
	}
	if err := writeFrame(d.stdin, buf.GetBytes()); err != nil {
		d.shutdown()
		return nil, err
	}

	line, err := d.stdout.ReadString('\n')
	if err != nil {
		d.shutdown()
		return nil, fmt.Errorf("read response: %w", err)
	}

	var response serviceResponse
	if err := json.Unmarshal([]byte(line), &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if response.Error != "" {
		return nil, errors.New(response.Error)
	}

	results := make([]Result, len(response.Detections))
	for i, sd := range response.Detections {
		results[i] = Result{
			ClassID:    sd.Cls,
			Confidence: sd.Conf,
			Box: detection.Box{
				X1: int(sd.Box[0]),
				Y1: int(sd.Box[1]),
				X2: int(sd.Box[2]),
				Y2: int(sd.Box[3]),
			},
		}
	}

	d.resetIdleTimer()
	return results, nil
}

// Close shuts down the Python process.
func (d *SubprocessDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *SubprocessDetector) ensureStarted() error {
	if d.started {
		return nil
	}

	pythonPath := findVenvPython()
	if pythonPath == "" {
		pythonPath = "python3"
	}

	d.cmd = exec.Command(pythonPath, d.script, "--model", d.config.ModelPath)

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	d.cmd.Stderr = os.Stderr

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("start yolo service: %w", err)
	}

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true

	// first line announces the class table once the weights are loaded
	line, err := d.stdout.ReadString('\n')
	if err != nil {
		d.shutdown()
		return fmt.Errorf("read class table: %w", err)
	}
	classes, err := parseClassTable([]byte(line))
	if err != nil {
		d.shutdown()
		return err
	}
	d.classes = classes

	return nil
}

func parseClassTable(line []byte) (map[int]string, error) {
	var hello struct {
		Names map[string]string `json:"names"`
		Error string            `json:"error"`
	}
	if err := json.Unmarshal(line, &hello); err != nil {
		return nil, fmt.Errorf("parse class table: %w", err)
	}
	if hello.Error != "" {
		return nil, fmt.Errorf("yolo service: %s", hello.Error)
	}

	classes := make(map[int]string, len(hello.Names))
	for k, v := range hello.Names {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("class id %q is not an integer", k)
		}
		classes[id] = v
	}
	return classes, nil
}

func (d *SubprocessDetector) shutdown() error {
	if !d.started {
		return nil
	}

	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	return err
}

func (d *SubprocessDetector) resetIdleTimer() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(idleShutdown, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.shutdown()
	})
}

func findServiceScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		"scripts/yolo_service.py",
		"../scripts/yolo_service.py",
		filepath.Join(execDir, "scripts/yolo_service.py"),
		filepath.Join(os.Getenv("HOME"), ".plastisort/scripts/yolo_service.py"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".plastisort/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

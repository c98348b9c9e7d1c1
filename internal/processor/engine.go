/**
 * OCR engine lifecycle
 *
 * One recognizer instance serves a whole run. The Engine owns it and moves
 * through Uninitialized -> Initializing -> Ready{device} or Failed{reason}.
 * Init is idempotent for the same device; a different device tears the
 * current instance down and loads a new one.
 */

package processor

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/adverant/nexus/batch-ocr/internal/config"
	"github.com/adverant/nexus/batch-ocr/internal/document"
	"github.com/adverant/nexus/batch-ocr/internal/errors"
	"github.com/adverant/nexus/batch-ocr/internal/logging"
)

// EngineState is the lifecycle state of the OCR engine
type EngineState int

const (
	StateUninitialized EngineState = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s EngineState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("EngineState(%d)", int(s))
	}
}

// RecognizerFactory loads a recognizer for a device
type RecognizerFactory func(ctx context.Context, device string) (document.Recognizer, error)

// Engine guards the single recognizer instance of a run
type Engine struct {
	mu         sync.Mutex
	factory    RecognizerFactory
	state      EngineState
	device     string
	failure    error
	recognizer document.Recognizer
	loads      int
	logger     *logging.Logger
}

// NewEngine creates an uninitialized engine
func NewEngine(factory RecognizerFactory) *Engine {
	return &Engine{
		factory: factory,
		state:   StateUninitialized,
		logger:  logging.NewLogger("engine"),
	}
}

// Init loads the recognizer for device. Calls while Ready on the same device
// are no-ops. A Failed engine reports its recorded failure for the same
// device instead of retrying.
func (e *Engine) Init(ctx context.Context, device string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateReady:
		if e.device == device {
			return nil
		}
		e.logger.Info("device changed, reloading OCR engine", "from", e.device, "to", device)
		e.teardownLocked()
	case StateFailed:
		if e.device == device {
			return e.failure
		}
	}

	e.state = StateInitializing
	e.device = device
	e.failure = nil

	rec, err := e.factory(ctx, device)
	if err != nil {
		e.state = StateFailed
		e.failure = errors.NewEngineInitError(device, remediationFor(device), err)
		e.logger.Error("OCR engine initialization failed", "device", device, "error", err)
		return e.failure
	}

	e.recognizer = rec
	e.state = StateReady
	e.loads++
	e.logger.Info("OCR engine ready", "device", device)
	return nil
}

func remediationFor(device string) string {
	if device == config.DeviceGPU {
		return "rerun with --no-gpu to use the CPU"
	}
	return "check that tesseract and its language data are installed"
}

func (e *Engine) teardownLocked() {
	if c, ok := e.recognizer.(io.Closer); ok {
		if err := c.Close(); err != nil {
			e.logger.Warn("failed to close OCR engine", "error", err)
		}
	}
	e.recognizer = nil
	e.state = StateUninitialized
}

// State returns the lifecycle state, the device, and the failure if any
func (e *Engine) State() (EngineState, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.device, e.failure
}

// Loads counts successful initializations
func (e *Engine) Loads() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loads
}

// Recognize delegates to the loaded recognizer
func (e *Engine) Recognize(ctx context.Context, image []byte) ([]document.Span, error) {
	e.mu.Lock()
	rec, state := e.recognizer, e.state
	e.mu.Unlock()

	if state != StateReady || rec == nil {
		return nil, fmt.Errorf("OCR engine not ready (state=%s)", state)
	}
	return rec.Recognize(ctx, image)
}

// Close tears the engine down
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.teardownLocked()
	return nil
}

// GPUDetector reports whether a usable GPU is present
type GPUDetector func() bool

// DetectNvidiaGPU looks for the nvidia-smi tool on PATH
func DetectNvidiaGPU() bool {
	_, err := exec.LookPath("nvidia-smi")
	return err == nil
}

// ResolveDevice turns the configured device into the one to load. An
// explicit GPU request without a GPU is an EngineInitError; the automatic
// default quietly falls back to CPU and returns a warning instead.
func ResolveDevice(requested string, explicit bool, hasGPU GPUDetector) (string, string, error) {
	if requested == config.DeviceAuto || requested == "" {
		requested = config.DefaultDevice()
		explicit = false
	}

	switch requested {
	case config.DeviceCPU:
		return config.DeviceCPU, "", nil
	case config.DeviceGPU:
		if hasGPU() {
			return config.DeviceGPU, "", nil
		}
		if explicit {
			return "", "", errors.NewEngineInitError(config.DeviceGPU, remediationFor(config.DeviceGPU),
				fmt.Errorf("GPU requested but no GPU was detected"))
		}
		return config.DeviceCPU, "no GPU detected, using CPU", nil
	default:
		return "", "", errors.NewConfigError("device", fmt.Errorf("unknown device %q", requested))
	}
}

package smoketest

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/ingwaz/gpu"
	httpcmn "github.com/aukilabs/ingwaz/http"
	"github.com/aukilabs/ingwaz/models"
	"github.com/aukilabs/ingwaz/modules/foliage"
	"github.com/aukilabs/ingwaz/spatial"
	"github.com/segmentio/encoding/json"
)

const (
	ErrTypeBadRequest = "smoke_test_bad_request"
	ErrTypeTimeout    = "smoke_test_timeout"
	ErrTypeViolation  = "smoke_test_violation"

	StatusSuccess = "success"
	StatusFailed  = "failed"

	DefaultFrames  = 240
	DefaultTimeout = time.Second * 30
)

// Options configures the scenery a smoke test flies through. A fresh
// manager is created from Config on each run so a test never touches the
// buffers of the served scene.
type Options struct {
	Tree    *spatial.Tree
	Planter foliage.Planter
	Config  foliage.Config
	Camera  models.CameraPath

	// The pause between two frames, giving background planting the time to
	// complete.
	FrameInterval time.Duration

	SendResult func(context.Context, Result) error
}

// Request is the body of a smoke test request.
type Request struct {
	Frames  int           `json:"frames"`
	Timeout time.Duration `json:"timeout"`
}

func (r Request) withDefaults() Request {
	if r.Frames <= 0 {
		r.Frames = DefaultFrames
	}
	if r.Timeout <= 0 {
		r.Timeout = DefaultTimeout
	}
	return r
}

// Violation is a scheduler invariant broken at a given frame.
type Violation struct {
	Frame uint64 `json:"frame"`
	Error string `json:"error"`
}

// Result reports a smoke test run.
type Result struct {
	Status          string        `json:"status"`
	Frames          int           `json:"frames"`
	MaxReady        int           `json:"max_ready"`
	PoolSize        int           `json:"pool_size"`
	Stats           foliage.Stats `json:"stats"`
	Violations      []Violation   `json:"violations,omitempty"`
	LatencyMilliSec float64       `json:"latency_ms"`
	Error           string        `json:"error,omitempty"`
}

// Run flies the camera through the scenery for the requested number of
// frames and checks after each one that no buffer is shared by two patches
// and that no more patches are ready than there are buffers.
func Run(ctx context.Context, opts Options, req Request) (Result, error) {
	req = req.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	start := time.Now()
	res := Result{Status: StatusFailed}

	if opts.Camera == nil {
		err := errors.New("smoke test has no camera path").
			WithType(ErrTypeBadRequest)
		res.Error = err.Error()
		return res, err
	}

	manager, err := foliage.NewManager(
		opts.Config,
		opts.Tree,
		gpu.NewMemoryDevice("smoke-test"),
		opts.Planter,
	)
	if err != nil {
		res.Error = err.Error()
		return res, errors.New("creating smoke test manager failed").Wrap(err)
	}
	defer manager.Close()

	res.PoolSize = manager.Config().PoolSize

	var ticker *time.Ticker
	if opts.FrameInterval > 0 {
		ticker = time.NewTicker(opts.FrameInterval)
		defer ticker.Stop()
	}

	for frame := uint64(0); frame < uint64(req.Frames); frame++ {
		if ticker != nil {
			select {
			case <-ctx.Done():
			case <-ticker.C:
			}
		}

		if ctx.Err() != nil {
			err := errors.New("smoke test timed out").
				WithType(ErrTypeTimeout).
				WithTag("frame", frame).
				Wrap(ctx.Err())
			res.Error = err.Error()
			res.LatencyMilliSec = milliseconds(time.Since(start))
			return res, err
		}

		viewer := opts.Camera.At(frame)
		if err := manager.Update(viewer.Position, viewer.Frustum()); err != nil {
			res.Error = err.Error()
			return res, errors.New("updating smoke test manager failed").
				WithTag("frame", frame).
				Wrap(err)
		}
		res.Frames++

		if err := manager.Verify(); err != nil {
			res.Violations = append(res.Violations, Violation{
				Frame: frame,
				Error: err.Error(),
			})
		}

		stats := manager.Stats()
		if stats.Ready > res.MaxReady {
			res.MaxReady = stats.Ready
		}
		if stats.Ready > stats.PoolSize {
			res.Violations = append(res.Violations, Violation{
				Frame: frame,
				Error: "more patches are ready than there are buffers",
			})
		}
	}

	res.Stats = manager.Stats()
	res.LatencyMilliSec = milliseconds(time.Since(start))

	if len(res.Violations) != 0 {
		err := errors.New("smoke test found invariant violations").
			WithType(ErrTypeViolation).
			WithTag("count", len(res.Violations)).
			WithTag("first_frame", res.Violations[0].Frame)
		res.Error = err.Error()
		return res, err
	}

	res.Status = StatusSuccess
	return res, nil
}

// HandleSmokeTest starts a smoke test in the background and returns
// immediately. The result is handed to opts.SendResult.
func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		b, err := io.ReadAll(r.Body)
		if err != nil {
			httpcmn.InternalServerError(w, errors.New("reading body failed").Wrap(err))
			return
		}

		var req Request
		if len(b) != 0 {
			if err := json.Unmarshal(b, &req); err != nil {
				httpcmn.BadRequest(w, errors.New("decoding smoke test request failed").
					WithType(ErrTypeBadRequest).
					Wrap(err))
				return
			}
		}

		go func() {
			res, err := Run(ctx, opts, req)
			if err != nil {
				logs.WithTag("frames", res.Frames).Warn(err)
			} else {
				logs.WithTag("frames", res.Frames).
					WithTag("max_ready", res.MaxReady).
					WithTag("latency_ms", res.LatencyMilliSec).
					Info("smoke test succeeded")
			}

			if opts.SendResult == nil {
				return
			}

			if err := opts.SendResult(ctx, res); err != nil {
				logs.WithTag("status", res.Status).
					Warn(errors.New("sending smoke test result failed").Wrap(err))
			}
		}()

		w.WriteHeader(http.StatusAccepted)
	}
}

// LastResult keeps the result of the latest smoke test. Its Send method can
// be used as Options.SendResult.
type LastResult struct {
	mutex sync.Mutex
	res   Result
	ok    bool
}

func (l *LastResult) Send(_ context.Context, res Result) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.res = res
	l.ok = true
	return nil
}

// Get returns the latest result, if a smoke test completed.
func (l *LastResult) Get() (Result, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return l.res, l.ok
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

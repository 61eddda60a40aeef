package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"reflect"
	"strconv"
	"syscall"
	"time"

	"cogentcore.org/core/math32"
	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/aukilabs/ingwaz/featureflag"
	"github.com/aukilabs/ingwaz/gpu"
	ingwazhttp "github.com/aukilabs/ingwaz/http"
	"github.com/aukilabs/ingwaz/models"
	"github.com/aukilabs/ingwaz/modules"
	"github.com/aukilabs/ingwaz/modules/foliage"
	"github.com/aukilabs/ingwaz/modules/terrainlod"
	"github.com/aukilabs/ingwaz/smoketest"
	"github.com/aukilabs/ingwaz/spatial"
	"github.com/aukilabs/ingwaz/terrain"
	iwebsocket "github.com/aukilabs/ingwaz/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

var (
	// The Ingwaz version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "ingwaz_info",
		Help:        "Ingwaz information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string        `cli:""        env:"INGWAZ_ADDR"                 help:"Listening address for debug clients."`
	AdminAddr          string        `cli:""        env:"INGWAZ_ADMIN_ADDR"           help:"Admin listening address."`
	LogLevel           string        `cli:""        env:"INGWAZ_LOG_LEVEL"            help:"Log level (debug|info|warning|error)."`
	LogIndent          bool          `cli:""        env:"INGWAZ_LOG_INDENT"           help:"Indent logs."`
	FrameDuration      time.Duration `cli:",hidden" env:"INGWAZ_FRAME_DURATION"       help:"The duration of a scene frame."`
	ClientIdleTimeout  time.Duration `cli:",hidden" env:"INGWAZ_CLIENT_IDLE_TIMEOUT"  help:"Time until an idle debug client will be disconnected."`
	LogSummaryInterval time.Duration `cli:",hidden" env:"INGWAZ_LOG_SUMMARY_INTERVAL" help:"The duration between each log summary by connection."`
	Seed               int64         `cli:""        env:"INGWAZ_SEED"                 help:"The seed of the generated terrain and foliage."`
	Terrain            terrainConfig `cli:""        env:"-"                           help:"Terrain configuration."`
	Foliage            foliageConfig `cli:""        env:"-"                           help:"Foliage configuration."`
	Camera             cameraConfig  `cli:",hidden" env:"-"                           help:"Demo camera configuration."`
	Events             eventsConfig  `cli:",hidden" env:"-"                           help:"Event pusher configuration."`
	FeatureFlags       []string      `cli:",hidden" env:"INGWAZ_FEATURE_FLAGS"        help:"Comma separated feature flags"`
	Version            bool          `cli:""        env:"-"                           help:"Show version."`
	Help               bool          `cli:""        env:"-"                           help:"Show help."`
}

type terrainConfig struct {
	Size       float32   `cli:"" env:"INGWAZ_TERRAIN_SIZE"       help:"The side length of the terrain."`
	Resolution int       `cli:"" env:"INGWAZ_TERRAIN_RESOLUTION" help:"The number of height samples per side."`
	MaxHeight  float32   `cli:"" env:"INGWAZ_TERRAIN_MAX_HEIGHT" help:"The maximum terrain height."`
	TreeKind   string    `cli:"" env:"INGWAZ_TREE_KIND"          help:"The spatial tree kind (quad|oct)."`
	TreeLevels int       `cli:"" env:"INGWAZ_TREE_LEVELS"        help:"The number of subdivision levels of the spatial tree."`
	LODBands   []float32 `cli:"" env:"INGWAZ_LOD_BANDS"          help:"Comma separated terrain LOD distance bands."`
}

type foliageConfig struct {
	PoolSize         int           `cli:""        env:"INGWAZ_POOL_SIZE"          help:"The number of foliage GPU buffers."`
	BufferCapacity   int           `cli:""        env:"INGWAZ_BUFFER_CAPACITY"    help:"The maximum number of items per patch."`
	Channels         int           `cli:""        env:"INGWAZ_CHANNELS"           help:"The number of foliage channels per node."`
	VisibilityRadius float32       `cli:""        env:"INGWAZ_VISIBILITY_RADIUS"  help:"The distance beyond which nodes are hidden."`
	ResortInterval   time.Duration `cli:",hidden" env:"INGWAZ_RESORT_INTERVAL"    help:"The minimum time between two node draw order updates."`
	ResortDistance   float32       `cli:",hidden" env:"INGWAZ_RESORT_DISTANCE"    help:"The viewpoint displacement that triggers a node draw order update."`
	MaxPlanting      int           `cli:",hidden" env:"INGWAZ_MAX_PLANTING"       help:"The maximum number of patches planted at the same time."`
	Transparent      bool          `cli:""        env:"INGWAZ_TRANSPARENT"        help:"Draw foliage far to near."`
	VertexFormat     string        `cli:""        env:"INGWAZ_VERTEX_FORMAT"      help:"The foliage vertex format (billboard|instance)."`
	DensityThreshold float32       `cli:",hidden" env:"INGWAZ_DENSITY_THRESHOLD"  help:"Density weights below this value plant nothing."`
	Verify           bool          `cli:",hidden" env:"INGWAZ_VERIFY"             help:"Verify the buffer invariants on every frame."`
}

type cameraConfig struct {
	Radius        float32 `cli:",hidden" env:"INGWAZ_CAMERA_RADIUS"          help:"The radius of the demo camera orbit."`
	Height        float32 `cli:",hidden" env:"INGWAZ_CAMERA_HEIGHT"          help:"The height of the demo camera above the terrain origin."`
	FramesPerTurn uint64  `cli:",hidden" env:"INGWAZ_CAMERA_FRAMES_PER_TURN" help:"The number of frames of a full orbit."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"INGWAZ_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed."`
	FlushInterval time.Duration `cli:",hidden" env:"INGWAZ_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"INGWAZ_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"INGWAZ_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:               ":4100",
		AdminAddr:          ":18191",
		LogLevel:           logs.InfoLevel.String(),
		FrameDuration:      time.Millisecond * 16,
		ClientIdleTimeout:  time.Minute * 5,
		LogSummaryInterval: time.Minute,
		Seed:               42,
		Terrain: terrainConfig{
			Size:       512,
			Resolution: 128,
			MaxHeight:  32,
			TreeKind:   spatial.QuadTree.String(),
			TreeLevels: 4,
			LODBands:   []float32{32, 64, 128, 256},
		},
		Foliage: foliageConfig{
			PoolSize:         64,
			BufferCapacity:   1024,
			Channels:         2,
			VisibilityRadius: 160,
			ResortInterval:   time.Millisecond * 250,
			ResortDistance:   1,
			MaxPlanting:      8,
			VertexFormat:     foliage.FormatBillboard.String(),
			DensityThreshold: 0.35,
		},
		Camera: cameraConfig{
			Radius:        120,
			Height:        48,
			FramesPerTurn: 3600,
		},
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts the Ingwaz scene server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     metrics.HTTPTransport(http.DefaultTransport),
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "ingwaz",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	world, err := newWorld(conf)
	if err != nil {
		logs.Fatal(errors.New("creating the world failed").Wrap(err))
	}
	defer world.device.Close()

	scene := models.NewScene(1, conf.FrameDuration)
	defer scene.Close()

	foliageModule := &foliage.Module{
		Manager: world.manager,
		Verify:  conf.Foliage.Verify,
	}
	lodModule := &terrainlod.Module{Selector: world.selector}

	camera := models.OrbitPath{
		Radius:        conf.Camera.Radius,
		Height:        conf.Camera.Height,
		FramesPerTurn: conf.Camera.FramesPerTurn,
		Lens: models.Viewer{
			Far: conf.Foliage.VisibilityRadius * 2,
		},
	}

	stopModules := modules.Run(ctx, scene, camera, foliageModule, lodModule)
	defer stopModules()

	go scene.StartDispatchFrames()

	lastSmokeTest := &smoketest.LastResult{}

	var service http.ServeMux
	service.HandleFunc("/health", ingwazhttp.HandleHealthCheck)
	service.HandleFunc("/version", ingwazhttp.HandleVersion(version))

	service.HandleFunc("/debug/spatial", ingwazhttp.HandleJSON(func(r *http.Request) (any, error) {
		return world.tree.DebugInfo(), nil
	}))

	service.HandleFunc("/debug/foliage", ingwazhttp.HandleJSON(func(r *http.Request) (any, error) {
		if node := r.URL.Query().Get("node"); node != "" {
			return patchInfos(world.manager, node)
		}
		return world.manager.DebugInfo(), nil
	}))

	service.HandleFunc("/debug/lod", ingwazhttp.HandleJSON(func(r *http.Request) (any, error) {
		return lodModule.State().DebugInfo(), nil
	}))

	service.Handle("/debug/frames", websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			var h iwebsocket.Handler = &iwebsocket.StatsHandler{
				Scene: scene,
				Sources: map[string]iwebsocket.StatsSource{
					"foliage": func() any {
						return world.manager.Stats()
					},
					"lod": func() any {
						return lodModule.State().DebugInfo()
					},
					"viewer": func() any {
						return scene.Viewer()
					},
				},
				ClientIdleTimeout: conf.ClientIdleTimeout,
			}
			h = iwebsocket.HandlerWithLogs(h, conf.LogSummaryInterval)
			h = iwebsocket.HandlerWithMetrics(h, "/debug/frames")
			defer h.Close()

			iwebsocket.Handle(ctx, conn, h)
		},
	})

	service.HandleFunc("/smoke-test", smoketest.HandleSmokeTest(ctx, smoketest.Options{
		Tree:          world.tree,
		Planter:       world.planter,
		Config:        smokeTestConfig(world.manager.Config()),
		Camera:        camera,
		FrameInterval: time.Millisecond,
		SendResult:    lastSmokeTest.Send,
	}))

	service.HandleFunc("/smoke-test/result", ingwazhttp.HandleJSON(func(r *http.Request) (any, error) {
		res, ok := lastSmokeTest.Get()
		if !ok {
			return nil, errors.New("no smoke test completed")
		}
		return res, nil
	}))

	readinessCheck := func() bool {
		return scene.Frame() != 0
	}
	service.HandleFunc("/ready", ingwazhttp.HandleReadyCheck(readinessCheck))

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", ingwazhttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	admin.HandleFunc("/ready", ingwazhttp.HandleReadyCheck(readinessCheck))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("tree_kind", world.tree.Kind().String()).
		WithTag("leaves", world.tree.LeafCount()).
		WithTag("pool_size", conf.Foliage.PoolSize).
		WithTag("feature_flags", conf.FeatureFlags).
		Info("starting ingwaz server")

	ingwazhttp.ListenAndServe(ctx, time.Second*5,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			ingwazhttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)
}

type world struct {
	tree     *spatial.Tree
	device   *gpu.MemoryDevice
	planter  foliage.Planter
	manager  *foliage.Manager
	selector *terrainlod.Selector
}

func newWorld(conf config) (*world, error) {
	heightfield, err := terrain.NewHeightfield(terrain.Options{
		Size:       conf.Terrain.Size,
		Resolution: conf.Terrain.Resolution,
		MaxHeight:  conf.Terrain.MaxHeight,
		Seed:       conf.Seed,
	})
	if err != nil {
		return nil, err
	}

	kind, err := spatial.ParseKind(conf.Terrain.TreeKind)
	if err != nil {
		return nil, err
	}

	tree, err := spatial.New(kind, heightfield.Bounds(), conf.Terrain.TreeLevels)
	if err != nil {
		return nil, err
	}

	format, err := foliage.ParseVertexFormat(conf.Foliage.VertexFormat)
	if err != nil {
		return nil, err
	}

	planter := &foliage.Sampler{
		Ground:   heightfield,
		Density:  terrain.NewDensityMap(conf.Foliage.Channels, conf.Seed, conf.Foliage.DensityThreshold),
		MinScale: 0.6,
		MaxScale: 1.4,
	}

	device := gpu.NewMemoryDevice("foliage")

	manager, err := foliage.NewManager(foliage.Config{
		Name:                  "foliage",
		PoolSize:              conf.Foliage.PoolSize,
		BufferCapacity:        conf.Foliage.BufferCapacity,
		Channels:              conf.Foliage.Channels,
		VisibilityRadius:      conf.Foliage.VisibilityRadius,
		ResortInterval:        conf.Foliage.ResortInterval,
		ResortDistance:        conf.Foliage.ResortDistance,
		MaxConcurrentPlanting: conf.Foliage.MaxPlanting,
		Transparent:           conf.Foliage.Transparent,
		Format:                format,
		Seed:                  conf.Seed,
		FeatureFlags:          featureflag.New(conf.FeatureFlags),
	}, tree, device, planter)
	if err != nil {
		device.Close()
		return nil, err
	}

	selector, err := terrainlod.NewSelector(terrainlod.Config{
		Bands:            conf.Terrain.LODBands,
		VisibilityRadius: math32.Max(conf.Foliage.VisibilityRadius, lastBand(conf.Terrain.LODBands)),
	}, tree)
	if err != nil {
		manager.Close()
		device.Close()
		return nil, err
	}

	return &world{
		tree:     tree,
		device:   device,
		planter:  planter,
		manager:  manager,
		selector: selector,
	}, nil
}

func smokeTestConfig(conf foliage.Config) foliage.Config {
	conf.Name = "smoke-test"
	return conf
}

func lastBand(bands []float32) float32 {
	if len(bands) == 0 {
		return 0
	}
	return bands[len(bands)-1]
}

func patchInfos(m *foliage.Manager, node string) (any, error) {
	id, err := strconv.Atoi(node)
	if err != nil {
		return nil, errors.New("invalid node id").
			WithTag("node", node).
			Wrap(err)
	}

	infos := make([]foliage.PatchInfo, 0, m.Config().Channels)
	for c := 0; c < m.Config().Channels; c++ {
		info, ok := m.Patch(id, c)
		if !ok {
			return nil, errors.New("unknown node").
				WithTag("node", id)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

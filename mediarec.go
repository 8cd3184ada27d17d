// Package mediarec is the mediarec application.
package mediarec

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"mediarec/pkg/config"
	"mediarec/pkg/log"
	"mediarec/pkg/recorder"
	"mediarec/pkg/system"
)

// Flags.
type flags struct {
	env      string
	format   string
	duration time.Duration
	width    int
	height   int
	fps      float64
	audio    bool
	list     bool
	logs     int
	recorder string
	since    time.Duration
	sessions bool
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.env, "env", "", "path to env.yaml")
	flag.StringVar(&f.format, "format", "mp4", "mp4, hevc, webm, gif, wav or jpeg")
	flag.DurationVar(&f.duration, "duration", 3*time.Second, "recording duration")
	flag.IntVar(&f.width, "width", 640, "frame width")
	flag.IntVar(&f.height, "height", 480, "frame height")
	flag.Float64Var(&f.fps, "fps", 30, "frame rate")
	flag.BoolVar(&f.audio, "audio", false, "record a test tone")
	flag.BoolVar(&f.list, "list", false, "list recordings and exit")
	flag.IntVar(&f.logs, "logs", 0, "print the N most recent logs and exit")
	flag.StringVar(&f.recorder, "recorder", "", "only print logs from this recorder session")
	flag.DurationVar(&f.since, "since", 0, "only print logs newer than this")
	flag.BoolVar(&f.sessions, "sessions", false, "list recorder sessions with logs and exit")
	flag.Parse()
	return f
}

// Run .
func Run() error {
	f := parseFlags()
	if f.env == "" {
		flag.Usage()
		return nil
	}

	envPath, err := filepath.Abs(f.env)
	if err != nil {
		return fmt.Errorf("could not get absolute path of env.yaml: %w", err)
	}

	wg := &sync.WaitGroup{}
	app, err := newApp(envPath, wg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interactive := !f.list && f.logs == 0 && !f.sessions
	if err := app.start(ctx, interactive); err != nil {
		return err
	}

	switch {
	case f.list:
		err = app.listRecordings()
	case f.sessions:
		err = app.listSessions()
	case f.logs > 0:
		err = app.printLogs(logQuery(f, time.Now()))
	default:
		err = app.runRecording(ctx, f)
	}

	cancel()
	wg.Wait()
	return err
}

func newApp(envPath string, wg *sync.WaitGroup) (*App, error) {
	env, err := config.ReadEnv(envPath)
	if err != nil {
		return nil, fmt.Errorf("could not get environment config: %w", err)
	}

	logger := log.NewLogger(env.Level(), wg)
	logDB := log.NewDB(env.LogDBPath(), wg)

	return &App{
		WG:     wg,
		Env:    env,
		Logger: logger,
		logDB:  logDB,
	}, nil
}

// App is the main application struct.
type App struct {
	WG     *sync.WaitGroup
	Env    *config.Env
	Logger *log.Logger
	logDB  *log.DB

	// Set by start.
	logDBReady bool
	Recorders  *recorder.Context
}

func (app *App) start(ctx context.Context, logToStdout bool) error {
	app.Logger.Start(ctx)
	if logToStdout {
		go app.Logger.LogToStdout(ctx)
	}

	if err := app.Env.PrepareEnvironment(); err != nil {
		return fmt.Errorf("could not prepare environment: %w", err)
	}

	if err := app.logDB.Init(ctx); err != nil {
		// Continue even if log database is corrupt.
		time.Sleep(10 * time.Millisecond)
		app.Logger.Error().Src("app").Msgf("could not initialize log database: %v", err)
	} else {
		app.logDBReady = true
		go app.logDB.SaveLogs(ctx, app.Logger)
		time.Sleep(10 * time.Millisecond)
	}

	recorders, err := recorder.NewContext(ctx, app.Env, app.Logger)
	if err != nil {
		return fmt.Errorf("could not create recorder context: %w", err)
	}
	app.Recorders = recorders

	go app.Recorders.Storage.PurgeLoop(ctx, 10*time.Minute)
	return nil
}

func (app *App) listRecordings() error {
	recordings, err := app.Recorders.Storage.Recordings()
	if err != nil {
		return err
	}
	for _, rec := range recordings {
		fmt.Printf("%v\t%v\t%v\n",
			rec.Name, rec.Size, rec.ModTime.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// ErrNoLogDB log database could not be opened.
var ErrNoLogDB = errors.New("log database unavailable")

func logQuery(f flags, now time.Time) log.Query {
	q := log.Query{
		Recorder: f.recorder,
		Limit:    f.logs,
	}
	if f.since > 0 {
		q.Since = log.UnixMicro(now.Add(-f.since).UnixMicro())
	}
	return q
}

func (app *App) printLogs(q log.Query) error {
	if !app.logDBReady {
		return ErrNoLogDB
	}
	logs, err := app.logDB.Query(q)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoLogDB, err)
	}
	for i := len(logs) - 1; i >= 0; i-- {
		t := time.UnixMicro(int64(logs[i].Time))
		fmt.Printf("%v %v\n", t.Format("2006-01-02 15:04:05"), logs[i])
	}
	return nil
}

func (app *App) listSessions() error {
	if !app.logDBReady {
		return ErrNoLogDB
	}
	sessions, err := app.logDB.Recorders()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoLogDB, err)
	}
	for _, s := range sessions {
		fmt.Printf("%v\t%v\n", s.ID, s.Count)
	}
	return nil
}

func (app *App) runRecording(ctx context.Context, f flags) error {
	rec, err := newRecorder(app.Recorders, f)
	if err != nil {
		return err
	}

	scene := startScene(rec, f.fps, f.audio || f.format == "wav")

	statusCtx, statusCancel := context.WithCancel(ctx)
	defer statusCancel()
	sys := system.New(app.Recorders.Storage, 2*time.Second, app.Logger)
	go sys.StatusLoop(statusCtx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case <-time.After(f.duration):
	case signal := <-stop:
		app.Logger.Info().Msg("") // New line.
		app.Logger.Info().Src("app").Msgf("received %v, stopping", signal)
	}

	if err := scene.Close(); err != nil {
		app.Logger.Error().Src("app").Recorder(rec.ID()).Msgf("inputs: %v", err)
	}

	ctx2, cancel2 := context.WithTimeout(ctx, 1*time.Minute)
	defer cancel2()

	path, err := rec.FinishWriting().Wait(ctx2)
	if err != nil {
		return fmt.Errorf("could not finish recording: %w", err)
	}
	app.Logger.Info().Src("app").Recorder(rec.ID()).Msgf("system: %v", sys.Status())
	fmt.Println(path)
	return nil
}

// ErrUnknownFormat unknown recording format.
var ErrUnknownFormat = errors.New("unknown format")

func newRecorder(c *recorder.Context, f flags) (*recorder.Session, error) {
	opts := recorder.VideoOptions{
		Width:     f.width,
		Height:    f.height,
		FrameRate: f.fps,
	}
	if f.audio {
		opts.SampleRate = toneSampleRate
		opts.ChannelCount = toneChannelCount
	}

	switch f.format {
	case "mp4":
		return recorder.NewMP4Recorder(c, opts)
	case "hevc":
		return recorder.NewHEVCRecorder(c, opts)
	case "webm":
		return recorder.NewWEBMRecorder(c, opts)
	case "gif":
		if f.fps <= 0 {
			return nil, fmt.Errorf("%w: fps %v", recorder.ErrInvalidArgument, f.fps)
		}
		return recorder.NewGIFRecorder(c, f.width, f.height, 1/f.fps)
	case "wav":
		return recorder.NewWAVRecorder(c, toneSampleRate, toneChannelCount)
	case "jpeg":
		return recorder.NewJPEGRecorder(c, f.width, f.height, 0)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f.format)
}

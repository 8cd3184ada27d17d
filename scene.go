package mediarec

import (
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"mediarec/pkg/clock"
	"mediarec/pkg/input"
	"mediarec/pkg/recorder"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/image/draw"
)

// Test tone.
const (
	toneSampleRate   = 44100
	toneChannelCount = 2
	toneFrequency    = 440
	toneBufferFrames = 1024
)

// scene feeds a recorder with a test pattern and a tone.
type scene struct {
	thread *input.RenderThread
	camera *input.CameraInput
	ticker *time.Ticker
	audio  *input.AudioInput
}

func startScene(rec *recorder.Session, fps float64, audio bool) *scene {
	var s scene
	clk := clock.NewRealtimeClock()

	if width, height := rec.FrameSize(); width != 0 && height != 0 {
		s.thread = input.NewRenderThread(4)
		watermark := input.NewWatermarkTextureInput(input.CreateDefault(rec, s.thread))
		watermark.SetWatermark(recDot(), image.Rect(width-24, 8, width-8, 24))

		s.ticker = time.NewTicker(time.Duration(float64(time.Second) / fps))
		s.camera = input.NewCameraInput(watermark, clk, s.ticker.C, colorBars{}, &movingBox{})
	}
	if audio {
		tone := &toneSource{
			sampleRate:   toneSampleRate,
			channelCount: toneChannelCount,
			frequency:    toneFrequency,
		}
		s.audio = input.NewAudioInput(rec, clk, tone, false)
	}
	return &s
}

// Close stops the inputs. Readbacks still queued on the
// render thread are dropped.
func (s *scene) Close() error {
	var result *multierror.Error
	if s.camera != nil {
		s.ticker.Stop()
		if err := s.camera.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		s.thread.Close()
	}
	if s.audio != nil {
		if err := s.audio.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func recDot() image.Image {
	dot := image.NewRGBA(image.Rect(0, 0, 16, 16))
	draw.Draw(dot, dot.Bounds(), image.NewUniform(color.RGBA{R: 255, A: 255}), image.Point{}, draw.Src)
	return dot
}

var barColors = []color.RGBA{
	{R: 192, G: 192, B: 192, A: 255},
	{R: 192, G: 192, B: 0, A: 255},
	{R: 0, G: 192, B: 192, A: 255},
	{R: 0, G: 192, B: 0, A: 255},
	{R: 192, G: 0, B: 192, A: 255},
	{R: 192, G: 0, B: 0, A: 255},
	{R: 0, G: 0, B: 192, A: 255},
}

type colorBars struct{}

func (colorBars) Depth() float64 {
	return 0
}

func (colorBars) Render(frame *image.RGBA) {
	bounds := frame.Bounds()
	for i, c := range barColors {
		bar := image.Rect(
			bounds.Min.X+bounds.Dx()*i/len(barColors),
			bounds.Min.Y,
			bounds.Min.X+bounds.Dx()*(i+1)/len(barColors),
			bounds.Max.Y,
		)
		draw.Draw(frame, bar, &image.Uniform{C: c}, image.Point{}, draw.Src)
	}
}

// movingBox bounces a white box horizontally, one step per frame.
type movingBox struct {
	frame int
}

func (*movingBox) Depth() float64 {
	return 1
}

func (b *movingBox) Render(frame *image.RGBA) {
	bounds := frame.Bounds()
	size := bounds.Dy() / 4
	travel := bounds.Dx() - size
	if size <= 0 || travel <= 0 {
		return
	}

	pos := (b.frame * 4) % (2 * travel)
	if pos > travel {
		pos = 2*travel - pos
	}
	b.frame++

	box := image.Rect(pos, (bounds.Dy()-size)/2, pos+size, (bounds.Dy()+size)/2).Add(bounds.Min)
	draw.Draw(frame, box, image.White, image.Point{}, draw.Src)
}

// toneSource generates a sine wave in real time.
type toneSource struct {
	sampleRate   int
	channelCount int
	frequency    float64
}

func (s *toneSource) Attach(fn func([]float32)) func() {
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		interval := time.Duration(toneBufferFrames * float64(time.Second) / float64(s.sampleRate))
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		buf := make([]float32, toneBufferFrames*s.channelCount)
		var n int
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
			n = s.fill(buf, n)
			fn(buf)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(stop) })
		<-done
	}
}

// fill writes the tone starting at sample frame n and returns the next frame.
func (s *toneSource) fill(buf []float32, n int) int {
	for i := 0; i < len(buf)/s.channelCount; i++ {
		t := float64(n+i) / float64(s.sampleRate)
		v := float32(0.25 * math.Sin(2*math.Pi*s.frequency*t))
		for c := 0; c < s.channelCount; c++ {
			buf[i*s.channelCount+c] = v
		}
	}
	return n + len(buf)/s.channelCount
}

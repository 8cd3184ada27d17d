package encoder

// Synchronous is an encoder that finishes on the calling goroutine.
type Synchronous interface {
	FrameSize() (width int, height int)
	CommitFrame(pixels []byte, timestamp int64) Status
	CommitSamples(samples []float32, timestamp int64) Status

	// Finish finalizes the file and returns its path.
	Finish() (string, error)
}

// Background returns an Encoder that runs enc.Finish on a new goroutine.
// Finish errors are passed to onError before the handler is called.
func Background(enc Synchronous, onError func(error)) Encoder {
	return &background{enc: enc, onError: onError}
}

type background struct {
	enc      Synchronous
	onError  func(error)
	finished bool
}

func (b *background) FrameSize() (int, int) {
	return b.enc.FrameSize()
}

func (b *background) CommitFrame(pixels []byte, timestamp int64) Status {
	if b.finished {
		return StatusInvalidOperation
	}
	return b.enc.CommitFrame(pixels, timestamp)
}

func (b *background) CommitSamples(samples []float32, timestamp int64) Status {
	if b.finished {
		return StatusInvalidOperation
	}
	return b.enc.CommitSamples(samples, timestamp)
}

func (b *background) FinishWriting(handler FinishHandler) Status {
	if b.finished {
		return StatusInvalidOperation
	}
	if handler == nil {
		return StatusInvalidArgument
	}
	b.finished = true

	go func() {
		path, err := b.enc.Finish()
		if err != nil {
			if b.onError != nil {
				b.onError(err)
			}
			path = ""
		}
		handler(path)
	}()
	return StatusOK
}

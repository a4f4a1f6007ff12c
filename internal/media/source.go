package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"go.uber.org/zap"
)

// ErrSourceUnavailable wraps failures to open a capture source.
var ErrSourceUnavailable = errors.New("media source unavailable")

const defaultFrameDuration = 33 * time.Millisecond

// Source produces a local track.
type Source interface {
	Track() webrtc.TrackLocal
	Start() error
	Close() error
}

// IVFSource plays an IVF file (VP8, VP9 or AV1) into a sample track, looping
// at the end of the file.
type IVFSource struct {
	path  string
	track *webrtc.TrackLocalStaticSample
	file  *os.File

	reader        *ivfreader.IVFReader
	frameDuration time.Duration

	frames atomic.Uint64

	mu      sync.Mutex
	started bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}
}

// OpenIVF opens path and checks its header. Errors wrap ErrSourceUnavailable
// and are returned before any session is touched.
func OpenIVF(path string) (*IVFSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	reader, header, err := ivfreader.NewWith(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, path, err)
	}

	mimeType, err := mimeTypeFor(header.FourCC)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, path, err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mimeType}, "screen", "screenlink")
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("create track: %w", err)
	}

	frameDuration := defaultFrameDuration
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		frameDuration = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	}

	return &IVFSource{
		path:          path,
		track:         track,
		file:          file,
		reader:        reader,
		frameDuration: frameDuration,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}, nil
}

func mimeTypeFor(fourCC string) (string, error) {
	switch fourCC {
	case "VP80":
		return webrtc.MimeTypeVP8, nil
	case "VP90":
		return webrtc.MimeTypeVP9, nil
	case "AV01":
		return webrtc.MimeTypeAV1, nil
	default:
		return "", fmt.Errorf("unsupported codec %q", fourCC)
	}
}

// Track returns the track frames are written to.
func (s *IVFSource) Track() webrtc.TrackLocal {
	return s.track
}

// FrameDuration is the pacing derived from the file's timebase.
func (s *IVFSource) FrameDuration() time.Duration {
	return s.frameDuration
}

// Frames counts samples written so far.
func (s *IVFSource) Frames() uint64 {
	return s.frames.Load()
}

// Start begins pacing frames into the track. Starting twice is a no-op.
func (s *IVFSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: %s is closed", ErrSourceUnavailable, s.path)
	}
	if s.started {
		return nil
	}
	s.started = true
	go s.pump()
	return nil
}

func (s *IVFSource) pump() {
	defer close(s.done)

	ticker := time.NewTicker(s.frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		frame, _, err := s.reader.ParseNextFrame()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if err := s.rewind(); err != nil {
				zap.L().Warn("cannot loop media file", zap.String("path", s.path), zap.Error(err))
				return
			}
			continue
		}
		if err != nil {
			zap.L().Warn("media file read failed", zap.String("path", s.path), zap.Error(err))
			return
		}

		if err := s.track.WriteSample(pionmedia.Sample{Data: frame, Duration: s.frameDuration}); err != nil {
			zap.L().Debug("write sample failed", zap.Error(err))
			continue
		}
		s.frames.Add(1)
	}
}

func (s *IVFSource) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	reader, _, err := ivfreader.NewWith(s.file)
	if err != nil {
		return err
	}
	s.reader = reader
	return nil
}

// Close stops the pump and releases the file.
func (s *IVFSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	close(s.stop)
	s.mu.Unlock()

	if started {
		<-s.done
	}
	return s.file.Close()
}

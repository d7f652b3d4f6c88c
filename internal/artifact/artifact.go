package artifact

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/fault"
)

// Store persists turn audio as WAV files under date-keyed directories.
// When saving is disabled every call is a cheap no-op returning an empty
// path. Filenames carry a wall-clock stamp plus a monotonic sequence so
// two turns inside one second never collide.
type Store struct {
	enabled   bool
	inputDir  string
	outputDir string
	log       *slog.Logger
	now       func() time.Time

	mu  sync.Mutex
	seq int
}

func NewStore(cfg config.ConversationConfig, log *slog.Logger) *Store {
	return &Store{
		enabled:   cfg.SaveAudio,
		inputDir:  cfg.AudioInputDir,
		outputDir: cfg.AudioOutputDir,
		log:       log.With(slog.String("component", "artifact")),
		now:       time.Now,
	}
}

func (s *Store) Enabled() bool { return s.enabled }

func (s *Store) nextName(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return fmt.Sprintf("%s_%s_%04d.wav", prefix, s.now().Format("20060102_150405"), s.seq)
}

// SaveInput writes the raw turn input under the input directory.
func (s *Store) SaveInput(pcm []byte, sampleRate, channels int) (string, error) {
	if !s.enabled {
		return "", nil
	}
	return s.write(s.inputDir, s.nextName("input"), pcm, sampleRate, channels)
}

// SaveResponse writes the synthesized reply under the output directory.
func (s *Store) SaveResponse(pcm []byte, sampleRate, channels int) (string, error) {
	if !s.enabled {
		return "", nil
	}
	return s.write(s.outputDir, s.nextName("response"), pcm, sampleRate, channels)
}

func (s *Store) write(baseDir, name string, pcm []byte, sampleRate, channels int) (string, error) {
	if baseDir == "" {
		return "", fault.New(fault.KindConfig, "artifact directory not configured")
	}
	if sampleRate <= 0 {
		sampleRate = 22050
	}
	if channels <= 0 {
		channels = 1
	}

	dir := filepath.Join(baseDir, s.now().Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fault.Wrap(fault.KindSynthesis, err, "create artifact directory")
	}
	path := filepath.Join(dir, name)

	file, err := os.Create(path)
	if err != nil {
		return "", fault.Wrap(fault.KindSynthesis, err, "create artifact file")
	}
	defer file.Close()

	if err := encodeWav(file, pcm, sampleRate, channels); err != nil {
		os.Remove(path)
		return "", fault.Wrap(fault.KindSynthesis, err, "encode artifact")
	}

	s.log.Debug("audio artifact saved",
		slog.String("path", path),
		slog.Int("bytes", len(pcm)))
	return path, nil
}

func encodeWav(file *os.File, pcm []byte, sampleRate, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// ReadWav loads a WAV file back into 16-bit little-endian PCM along with
// its format, used when a turn request points at an audio file on disk.
func ReadWav(path string) ([]byte, int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fault.Wrap(fault.KindRecognition, err, "open audio file")
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fault.Wrap(fault.KindRecognition, err, "decode audio file")
	}
	if buf.Format == nil {
		return nil, 0, 0, fault.New(fault.KindRecognition, "audio file missing format header")
	}

	pcm := make([]byte, len(buf.Data)*2)
	for i, sample := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(sample)))
	}
	return pcm, buf.Format.SampleRate, buf.Format.NumChannels, nil
}

package asr

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"

	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/fault"
)

// execRecognizer shells out to an external recognition process. The
// audio is handed over as a temp WAV file and the transcript read back
// as JSON on stdout.
type execRecognizer struct {
	cmd []string
	cfg config.ASRProviderConfig
	mu  sync.Mutex
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewExecRecognizer(cfg config.ASRProviderConfig) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfig, err, "parse asr command")
	}
	if len(args) == 0 {
		return nil, fault.New(fault.KindConfig, "asr command is empty")
	}
	return &execRecognizer{cmd: args, cfg: cfg}, nil
}

func (r *execRecognizer) Transcribe(ctx context.Context, pcm []byte, params Params) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := os.CreateTemp(os.TempDir(), "parley_asr_*.wav")
	if err != nil {
		return Result{}, fault.Wrap(fault.KindRecognition, err, "temp file")
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writePCMToWav(file, pcm, params.SampleRate, params.Channels); err != nil {
		return Result{}, fault.Wrap(fault.KindRecognition, err, "encode input audio")
	}

	base := r.cmd[0]
	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if r.cfg.Model != "" {
		cmdArgs = append(cmdArgs, "--model", r.cfg.Model)
	}
	if params.Language != "" {
		cmdArgs = append(cmdArgs, "--language", params.Language)
	}
	if len(params.Hotwords) > 0 {
		cmdArgs = append(cmdArgs, "--hotwords", strings.Join(params.Hotwords, ","))
	}
	if r.cfg.VADModel != "" {
		cmdArgs = append(cmdArgs, "--vad-model", r.cfg.VADModel)
	}
	if r.cfg.PunctuationModel != "" {
		cmdArgs = append(cmdArgs, "--punc-model", r.cfg.PunctuationModel)
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Result{}, fault.Wrap(fault.KindRecognition, err, fmt.Sprintf("asr command failed: %s", stderr.String()))
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fault.Wrap(fault.KindRecognition, err, "decode asr response")
	}
	return Result{Text: resp.Text, Confidence: resp.Confidence}, nil
}

func writePCMToWav(file *os.File, pcm []byte, sampleRate, channels int) error {
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

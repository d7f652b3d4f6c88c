package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/fault"
)

// execSynth shells out to an external synthesis process which writes
// line-delimited JSON chunks of base64 PCM on stdout. Chunks are
// accumulated into one buffer; the model occupies one device, so calls
// are serialized.
type execSynth struct {
	cmd []string
	cfg config.TTSProviderConfig
	mu  sync.Mutex
}

type execRequest struct {
	Text            string  `json:"text"`
	Speaker         string  `json:"speaker"`
	Speed           float64 `json:"speed"`
	Pitch           float64 `json:"pitch"`
	SampleRate      int     `json:"sample_rate"`
	Channels        int     `json:"channels"`
	Emotion         string  `json:"emotion,omitempty"`
	EmotionStrength float64 `json:"emotion_strength,omitempty"`
	ModelPath       string  `json:"model_path,omitempty"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
}

func NewExecSynth(cfg config.TTSProviderConfig) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfig, err, "parse tts command")
	}
	if len(args) == 0 {
		return nil, fault.New(fault.KindConfig, "tts command is empty")
	}
	return &execSynth{cmd: args, cfg: cfg}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, text string, params Params) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	reqPayload := execRequest{
		Text:            text,
		Speaker:         params.Speaker,
		Speed:           params.Speed,
		Pitch:           params.Pitch,
		SampleRate:      params.SampleRate,
		Channels:        params.Channels,
		Emotion:         params.Emotion,
		EmotionStrength: params.EmotionStrength,
		ModelPath:       e.cfg.ModelPath,
	}
	data, err := json.Marshal(reqPayload)
	if err != nil {
		return Result{}, fault.Wrap(fault.KindSynthesis, err, "encode tts request")
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(data)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fault.Wrap(fault.KindSynthesis, err, "stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return Result{}, fault.Wrap(fault.KindSynthesis, err, "start tts command")
	}

	var pcm []byte
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			_ = cmd.Wait()
			return Result{}, fault.Wrap(fault.KindSynthesis, err, "decode tts chunk")
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			_ = cmd.Wait()
			return Result{}, fault.Wrap(fault.KindSynthesis, err, "decode tts pcm")
		}
		pcm = append(pcm, chunk...)
		if resp.Final {
			break
		}
	}
	if err := cmd.Wait(); err != nil {
		return Result{}, fault.Wrap(fault.KindSynthesis, err, "tts command failed")
	}
	if err := scanner.Err(); err != nil {
		return Result{}, fault.Wrap(fault.KindSynthesis, err, "read tts output")
	}
	return Result{PCM: pcm, SampleRate: params.SampleRate, Channels: params.Channels}, nil
}

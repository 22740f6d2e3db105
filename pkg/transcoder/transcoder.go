package transcoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/logging"
	"github.com/sirupsen/logrus"
)

const maxAudioPlaceholder = "{max_audio_length_secs}"

// DefaultArgs converts whatever container ffmpeg recognises on stdin into
// raw s16le mono 16 kHz on stdout.
var DefaultArgs = []string{
	"-hide_banner", "-nostdin", "-loglevel", "error",
	"-i", "pipe:0",
	"-t", maxAudioPlaceholder,
	"-ac", "1", "-ar", strconv.Itoa(config.PCMSampleRate),
	"-f", "s16le", "-acodec", "pcm_s16le",
	"pipe:1",
}

type Result struct {
	PCM       []byte
	DurationS float64
	Truncated bool
}

type Transcoder struct {
	cnf    config.TranscoderInfo
	logger *logrus.Entry
}

func New(cnf config.TranscoderInfo, logger *logrus.Logger) *Transcoder {
	if cnf.Binary == "" {
		cnf.Binary = "ffmpeg"
	}
	if len(cnf.Args) == 0 {
		cnf.Args = DefaultArgs
	}
	return &Transcoder{
		cnf:    cnf,
		logger: logger.WithField("component", config.ComponentTranscoder),
	}
}

// Transcode pipes audio through the converter. The process receives SIGTERM
// after terminate_after and SIGKILL after kill_after; the whole call never
// outlives the configured timeout.
func (t *Transcoder) Transcode(ctx context.Context, audio []byte, maxAudioLengthSecs int) (*Result, error) {
	if maxAudioLengthSecs <= 0 {
		return nil, fmt.Errorf("%w: max_audio_length_secs must be positive", config.ErrTranscoder)
	}
	log := logging.FromContext(ctx, t.logger)

	ctx, cancel := context.WithTimeout(ctx, t.cnf.Timeout)
	defer cancel()
	termCtx, termCancel := context.WithTimeout(ctx, t.cnf.TerminateAfter)
	defer termCancel()

	args := make([]string, len(t.cnf.Args))
	for i, a := range t.cnf.Args {
		args[i] = strings.ReplaceAll(a, maxAudioPlaceholder, strconv.Itoa(maxAudioLengthSecs))
	}

	cmd := exec.CommandContext(termCtx, t.cnf.Binary, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = t.cnf.KillAfter - t.cnf.TerminateAfter

	var stdout bytes.Buffer
	stderr := &tailBuffer{limit: 2048}
	cmd.Stdin = bytes.NewReader(audio)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- cmd.Run()
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", config.ErrTranscoder, ctx.Err())
	}

	if err != nil {
		if termCtx.Err() != nil {
			return nil, fmt.Errorf("%w: stopped after %s: %v", config.ErrTranscoder, time.Since(start).Round(time.Millisecond), termCtx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: exit status %d: %s", config.ErrTranscoder, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%w: %v", config.ErrTranscoder, err)
	}

	pcm := stdout.Bytes()
	if maxBytes := maxAudioLengthSecs * config.PCMBytesPerSecond; len(pcm) > maxBytes {
		pcm = pcm[:maxBytes]
	}
	// whole 16 bit samples only
	pcm = pcm[:len(pcm)&^1]
	if len(pcm) == 0 {
		return nil, fmt.Errorf("%w: converter produced no audio", config.ErrTranscoder)
	}

	res := &Result{
		PCM:       pcm,
		DurationS: float64(len(pcm)) / config.PCMBytesPerSecond,
	}
	res.Truncated = res.DurationS >= float64(maxAudioLengthSecs)

	log.WithFields(logrus.Fields{
		"input_bytes":  len(audio),
		"output_bytes": len(pcm),
		"duration_s":   res.DurationS,
		"truncated":    res.Truncated,
		"took":         time.Since(start).Round(time.Millisecond),
	}).Infoln("transcoded audio")

	return res, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.limit {
		b.buf = b.buf[len(b.buf)-b.limit:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}

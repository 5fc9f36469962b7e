package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"time"

	"creditjobs/internal/domain"
	"creditjobs/internal/jobs"
)

// SyntheticGenerator stands in for the model providers. It walks through a few
// progress steps and renders placeholder output, which keeps the whole
// submit-to-complete path exercisable without provider credentials.
//
// A prompt payload carrying {"simulate_failure": "<kind>"} fails the attempt
// with that kind.
type SyntheticGenerator struct {
	StepDelay time.Duration
}

type syntheticPrompt struct {
	SimulateFailure string `json:"simulate_failure"`
	// FailAttempts limits the simulated failure to the first N attempts.
	FailAttempts int `json:"fail_attempts"`
}

func (g SyntheticGenerator) Generate(ctx context.Context, item jobs.WorkItem, report func(int) error) ([]Artifact, error) {
	var prompt syntheticPrompt
	if len(item.Payload) > 0 {
		if err := json.Unmarshal(item.Payload, &prompt); err != nil {
			return nil, Fail(domain.FailureInvalidInput, fmt.Errorf("decode prompt: %w", err))
		}
	}

	for _, pct := range []int{25, 50, 75} {
		if err := g.step(ctx); err != nil {
			return nil, err
		}
		if err := report(pct); err != nil {
			return nil, err
		}
	}

	if prompt.SimulateFailure != "" && (prompt.FailAttempts == 0 || item.Attempt <= prompt.FailAttempts) {
		kind, err := domain.ParseFailureKind(prompt.SimulateFailure)
		if err != nil {
			return nil, Fail(kind, err)
		}
		return nil, Fail(kind, errors.New("simulated failure"))
	}

	switch item.Category {
	case domain.CategoryImage:
		n := item.Parameters.Quantity
		if n <= 0 {
			n = 1
		}
		out := make([]Artifact, 0, n)
		for i := 0; i < n; i++ {
			data, err := placeholderPNG(fmt.Sprintf("%s-%d", item.JobID, i))
			if err != nil {
				return nil, err
			}
			out = append(out, Artifact{MIME: "image/png", Data: data})
		}
		return out, nil
	case domain.CategoryVideo, domain.CategoryTraining:
		manifest, err := json.Marshal(map[string]any{
			"job_id":     item.JobID,
			"category":   item.Category,
			"parameters": item.Parameters,
			"attempt":    item.Attempt,
		})
		if err != nil {
			return nil, err
		}
		return []Artifact{{MIME: "application/json", Data: manifest}}, nil
	default:
		return nil, Fail(domain.FailureInvalidInput, fmt.Errorf("unsupported category %q", item.Category))
	}
}

func (g SyntheticGenerator) step(ctx context.Context) error {
	if g.StepDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(g.StepDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// placeholderPNG renders a small solid tile whose colour is derived from seed.
func placeholderPNG(seed string) ([]byte, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	sum := h.Sum32()
	fill := color.RGBA{R: uint8(sum >> 16), G: uint8(sum >> 8), B: uint8(sum), A: 0xff}

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

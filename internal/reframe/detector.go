package reframe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// Box is a detection rectangle in source pixels.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Area returns the box area.
func (b Box) Area() float64 {
	return b.W * b.H
}

// Center returns the box center point.
func (b Box) Center() (float64, float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Detector finds subjects in a still frame. Implementations return no boxes
// (and no error) when nothing is found.
type Detector interface {
	Detect(ctx context.Context, imagePath string) ([]Box, error)
}

// CommandDetector shells out to an external detector. The command receives
// the image path as its last argument and prints a JSON array of boxes
// ({"x","y","w","h"} in pixels) on stdout.
type CommandDetector struct {
	Command string // command line, split on whitespace
}

// NewCommandDetector returns nil when cmdline is empty, letting callers
// treat an unconfigured detector as absent.
func NewCommandDetector(cmdline string) *CommandDetector {
	if strings.TrimSpace(cmdline) == "" {
		return nil
	}
	return &CommandDetector{Command: cmdline}
}

// Detect implements Detector.
func (d *CommandDetector) Detect(ctx context.Context, imagePath string) ([]Box, error) {
	parts := strings.Fields(d.Command)
	if len(parts) == 0 {
		return nil, fmt.Errorf("reframe: empty detector command")
	}
	args := append(parts[1:], imagePath)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, parts[0], args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("reframe: detector failed: %w (stderr=%s)", err, strings.TrimSpace(stderr.String()))
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return nil, nil
	}

	var boxes []Box
	if err := json.Unmarshal(out, &boxes); err != nil {
		return nil, fmt.Errorf("reframe: parse detector output: %w", err)
	}

	valid := boxes[:0]
	for _, b := range boxes {
		if b.W > 0 && b.H > 0 {
			valid = append(valid, b)
		}
	}
	return valid, nil
}

// largestBox picks the biggest detection, the usual proxy for the primary
// subject.
func largestBox(boxes []Box) (Box, bool) {
	if len(boxes) == 0 {
		return Box{}, false
	}
	best := boxes[0]
	for _, b := range boxes[1:] {
		if b.Area() > best.Area() {
			best = b
		}
	}
	return best, true
}

package services

import (
	"bufio"
	"fmt"
	"io"
	"sync"
)

const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"

	maxRelayLine = 1 << 20
)

// Relay copies worker output line by line to the parent's streams, tagging
// every line with the worker index. Lines from different workers never
// interleave mid-line.
type Relay struct {
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
}

func NewRelay(stdout, stderr io.Writer) *Relay {
	return &Relay{stdout: stdout, stderr: stderr}
}

// Stream drains src until EOF. It keeps draining after a write error or an
// over-long line so the worker never blocks on a full pipe.
func (r *Relay) Stream(worker int, name string, src io.Reader) error {
	dst := r.stdout
	if name == StreamStderr {
		dst = r.stderr
	}

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRelayLine)

	var writeErr error
	for scanner.Scan() {
		line := fmt.Sprintf("[%d %s] %s\n", worker, name, scanner.Bytes())

		r.mu.Lock()
		_, err := io.WriteString(dst, line)
		r.mu.Unlock()

		if err != nil && writeErr == nil {
			writeErr = fmt.Errorf("relay worker %d %s: %w", worker, name, err)
		}
	}

	if err := scanner.Err(); err != nil {
		_, _ = io.Copy(io.Discard, src)
		return fmt.Errorf("relay worker %d %s: %w", worker, name, err)
	}
	return writeErr
}

package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/ctt-hpc/ctt/pkg/types"
)

// runFunc executes a command and returns its stdout
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// PBS drives a PBS Professional server through the pbsnodes client
type PBS struct {
	binary  string
	timeout time.Duration
	run     runFunc
}

// NewPBS creates a PBS backend. binary is the pbsnodes executable and
// timeout bounds every command.
func NewPBS(binary string, timeout time.Duration) *PBS {
	if binary == "" {
		binary = "pbsnodes"
	}
	return &PBS{
		binary:  binary,
		timeout: timeout,
		run:     execCommand,
	}
}

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), &CommandError{
			Args:   append([]string{name}, args...),
			Output: stderr.String(),
			Err:    err,
		}
	}
	return stdout.Bytes(), nil
}

func (p *PBS) exec(ctx context.Context, args ...string) ([]byte, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.run(ctx, p.binary, args...)
}

// pbsnodesOutput is the subset of `pbsnodes -av -F json` ctt reads
type pbsnodesOutput struct {
	Nodes map[string]pbsNode `json:"nodes"`
}

type pbsNode struct {
	State   string   `json:"state"`
	Jobs    []string `json:"jobs"`
	Comment string   `json:"comment"`
}

// QueryNodeStatus lists every vnode known to the server
func (p *PBS) QueryNodeStatus(ctx context.Context) (map[string]types.NodeReport, error) {
	out, err := p.exec(ctx, "-av", "-F", "json")
	if err != nil {
		return nil, err
	}
	return parsePBSNodes(out)
}

func parsePBSNodes(data []byte) (map[string]types.NodeReport, error) {
	var parsed pbsnodesOutput
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse pbsnodes output: %w", err)
	}

	reports := make(map[string]types.NodeReport, len(parsed.Nodes))
	for name, n := range parsed.Nodes {
		if n.State == "" {
			return nil, fmt.Errorf("node %s has no state in pbsnodes output", name)
		}
		reports[name] = types.NodeReport{
			State:   n.State,
			HasJobs: len(n.Jobs) > 0,
			Comment: n.Comment,
		}
	}
	return reports, nil
}

// OfflineNode marks a node offline with a comment
func (p *PBS) OfflineNode(ctx context.Context, name, comment string) error {
	_, err := p.exec(ctx, "-o", "-C", comment, name)
	return err
}

// OnlineNode clears the offline state and comment of a node
func (p *PBS) OnlineNode(ctx context.Context, name string) error {
	_, err := p.exec(ctx, "-r", "-C", "", name)
	return err
}

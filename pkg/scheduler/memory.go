package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ctt-hpc/ctt/pkg/types"
)

// Command records one scheduler command issued against a Memory backend
type Command struct {
	Op      string // "offline" or "online"
	Node    string
	Comment string
}

// Memory is an in-process scheduler backend. It keeps node state in a map
// and applies offline/online commands to it the way PBS would.
type Memory struct {
	mu       sync.Mutex
	nodes    map[string]types.NodeReport
	commands []Command

	// QueryErr and CommandErr, when set, are returned by the corresponding calls
	QueryErr   error
	CommandErr error
}

// NewMemory creates an empty in-memory scheduler
func NewMemory() *Memory {
	return &Memory{nodes: make(map[string]types.NodeReport)}
}

// SetNode sets the reported state of a node
func (m *Memory) SetNode(name string, report types.NodeReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[name] = report
}

// RemoveNode makes the scheduler stop reporting a node
func (m *Memory) RemoveNode(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, name)
}

// Node returns the current report for a node
func (m *Memory) Node(name string) (types.NodeReport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.nodes[name]
	return r, ok
}

// Commands returns every offline/online command issued so far
func (m *Memory) Commands() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Command, len(m.commands))
	copy(out, m.commands)
	return out
}

// ResetCommands clears the command log
func (m *Memory) ResetCommands() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = nil
}

// QueryNodeStatus returns a copy of all node reports
func (m *Memory) QueryNodeStatus(ctx context.Context) (map[string]types.NodeReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	out := make(map[string]types.NodeReport, len(m.nodes))
	for k, v := range m.nodes {
		out[k] = v
	}
	return out, nil
}

// OfflineNode adds the offline flag to a node's state
func (m *Memory) OfflineNode(ctx context.Context, name, comment string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, Command{Op: "offline", Node: name, Comment: comment})
	if m.CommandErr != nil {
		return m.CommandErr
	}
	r, ok := m.nodes[name]
	if !ok {
		return fmt.Errorf("unknown node %s", name)
	}
	if !hasFlag(r.State, "offline") {
		if r.State == "free" {
			r.State = "offline"
		} else {
			r.State += ",offline"
		}
	}
	r.Comment = comment
	m.nodes[name] = r
	return nil
}

// OnlineNode removes the offline flag from a node's state
func (m *Memory) OnlineNode(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, Command{Op: "online", Node: name})
	if m.CommandErr != nil {
		return m.CommandErr
	}
	r, ok := m.nodes[name]
	if !ok {
		return fmt.Errorf("unknown node %s", name)
	}
	var kept []string
	for _, f := range strings.Split(r.State, ",") {
		if f != "offline" && f != "" {
			kept = append(kept, f)
		}
	}
	r.State = strings.Join(kept, ",")
	if r.State == "" {
		r.State = "free"
	}
	r.Comment = ""
	m.nodes[name] = r
	return nil
}

func hasFlag(state, flag string) bool {
	for _, f := range strings.Split(state, ",") {
		if f == flag {
			return true
		}
	}
	return false
}

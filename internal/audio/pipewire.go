package audio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// PipeWire queries the PipeWire graph through pw-link
type PipeWire struct {
	output func(name string, args ...string) ([]byte, error)
}

// NewPipeWire creates a new PipeWire instance
func NewPipeWire() *PipeWire {
	return &PipeWire{output: func(name string, args ...string) ([]byte, error) {
		return exec.Command(name, args...).Output()
	}}
}

// ListPorts returns all output ports ("node:port") that can be recorded from
func (pw *PipeWire) ListPorts() ([]string, error) {
	output, err := pw.output("pw-link", "-o")
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePorts(string(output)), nil
}

// ListNodes returns the distinct node names owning output ports, in graph order
func (pw *PipeWire) ListNodes() ([]string, error) {
	ports, err := pw.ListPorts()
	if err != nil {
		return nil, err
	}
	return nodesFromPorts(ports), nil
}

// ResolveTarget picks the first node whose name contains name (case-insensitive)
// and checks that none of its ports is duplicated.
func (pw *PipeWire) ResolveTarget(name string) (string, error) {
	ports, err := pw.ListPorts()
	if err != nil {
		return "", err
	}

	needle := strings.ToLower(name)
	for _, node := range nodesFromPorts(ports) {
		if !strings.Contains(strings.ToLower(node), needle) {
			continue
		}
		if err := validateNode(node, ports); err != nil {
			return "", err
		}
		slog.Debug("Resolved PipeWire target", "requested", name, "node", node)
		return node, nil
	}
	return "", fmt.Errorf("%w: no PipeWire node matching %q", ErrNoInputDevice, name)
}

func parsePorts(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "Input ports:") && !strings.HasPrefix(line, "Output ports:") {
			ports = append(ports, line)
		}
	}
	return ports
}

func nodesFromPorts(ports []string) []string {
	seen := make(map[string]bool)
	var nodes []string
	for _, port := range ports {
		// node names may contain ':' themselves, the port is the last segment
		i := strings.LastIndex(port, ":")
		if i <= 0 {
			continue
		}
		node := port[:i]
		if !seen[node] {
			seen[node] = true
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// validateNode rejects a node when two sources publish identically named ports
func validateNode(node string, allPorts []string) error {
	prefix := node + ":"
	for _, port := range allPorts {
		if !strings.HasPrefix(port, prefix) {
			continue
		}
		if duplicates := findPortDuplicates(port, allPorts); len(duplicates) > 1 {
			return fmt.Errorf("duplicate sources detected for '%s': %v. Please close conflicting applications", node, duplicates)
		}
	}
	return nil
}

// findPortDuplicates finds all ports with exactly the same name
func findPortDuplicates(portName string, allPorts []string) []string {
	var duplicates []string
	for _, port := range allPorts {
		if port == portName {
			duplicates = append(duplicates, port)
		}
	}
	return duplicates
}

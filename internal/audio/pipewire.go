package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Runner runs a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// PipeWire queries the PipeWire graph through pw-link.
type PipeWire struct {
	run Runner
}

// NewPipeWire creates a PipeWire client. A nil runner executes pw-link.
func NewPipeWire(run Runner) *PipeWire {
	if run == nil {
		run = execRunner
	}
	return &PipeWire{run: run}
}

// ListPorts returns all input and output ports.
func (pw *PipeWire) ListPorts(ctx context.Context) ([]string, error) {
	return pw.list(ctx, "-io")
}

// CapturePorts returns the output ports, which are the ones a recorder can
// read from.
func (pw *PipeWire) CapturePorts(ctx context.Context) ([]string, error) {
	return pw.list(ctx, "-o")
}

func (pw *PipeWire) list(ctx context.Context, flag string) ([]string, error) {
	output, err := pw.run(ctx, "pw-link", flag)
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePorts(string(output)), nil
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

// ValidatePort checks that a port exists exactly once. An empty or
// "disabled" port is always valid.
func (pw *PipeWire) ValidatePort(ctx context.Context, portName string) error {
	if portName == "" || portName == "disabled" {
		return nil
	}
	ports, err := pw.ListPorts(ctx)
	if err != nil {
		return err
	}
	return validatePortIn(portName, ports)
}

func validatePortIn(portName string, ports []string) error {
	duplicates := findPortDuplicates(portName, ports)
	if len(duplicates) == 0 {
		return fmt.Errorf("port not found: %s", portName)
	}
	if len(duplicates) > 1 {
		slog.Debug("Duplicate port", "port", portName, "count", len(duplicates))
		return fmt.Errorf("duplicate sources detected for '%s': %v. Please close conflicting applications", portName, duplicates)
	}
	return nil
}

// findPortDuplicates returns every port with exactly portName.
func findPortDuplicates(portName string, ports []string) []string {
	var duplicates []string
	for _, port := range ports {
		if port == portName {
			duplicates = append(duplicates, port)
		}
	}
	return duplicates
}

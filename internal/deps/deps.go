// Package deps reports on the external programs the capture client shells
// out to.
package deps

import (
	"os/exec"
	"strings"
)

// Status represents the installation status of a dependency
type Status struct {
	Name      string
	Installed bool
	Path      string
	Version   string
	// Needed says what uses the tool
	Needed string
}

// Tool is an external program and the flag that prints its version
type Tool struct {
	Name        string
	VersionFlag string
	Needed      string
}

// ClientTools are the programs "speechrelay listen" may run.
var ClientTools = []Tool{
	{Name: "pw-record", VersionFlag: "--version", Needed: "microphone capture"},
	{Name: "notify-send", VersionFlag: "--version", Needed: "desktop notifications"},
}

// Check looks tool up in PATH and reads the first line of its version output.
func Check(tool Tool) Status {
	status := Status{Name: tool.Name, Needed: tool.Needed}
	path, err := exec.LookPath(tool.Name)
	if err != nil {
		return status
	}
	status.Installed = true
	status.Path = path

	if tool.VersionFlag == "" {
		return status
	}
	output, err := exec.Command(path, tool.VersionFlag).Output()
	if err == nil {
		line, _, _ := strings.Cut(string(output), "\n")
		status.Version = strings.TrimSpace(line)
	}
	return status
}

// CheckAll runs Check over tools, keeping their order.
func CheckAll(tools []Tool) []Status {
	out := make([]Status, 0, len(tools))
	for _, t := range tools {
		out = append(out, Check(t))
	}
	return out
}

package runtime

// PythonRuntime runs Python code. This is the primary runtime: the agent
// writes Python, and the sandbox image ships CPython at /usr/local/bin.
type PythonRuntime struct{}

func (p *PythonRuntime) Name() string { return "python" }

func (p *PythonRuntime) Image() string { return "docker.io/library/python:3.12-slim" }

func (p *PythonRuntime) Command(codePath string) []string {
	return []string{
		"python3", "-u", // unbuffered: logs must arrive before a timeout kill
		"-B", // no .pyc files on a read-only rootfs
		codePath,
	}
}

func (p *PythonRuntime) FileExtension() string { return ".py" }

func (p *PythonRuntime) Validate(code string) error { return validateSize(code) }

// NodeRuntime runs Node.js code.
type NodeRuntime struct{}

func (n *NodeRuntime) Name() string { return "node" }

func (n *NodeRuntime) Image() string { return "docker.io/library/node:20-slim" }

func (n *NodeRuntime) Command(codePath string) []string {
	return []string{
		"node",
		"--max-old-space-size=256",
		"--disallow-code-generation-from-strings",
		codePath,
	}
}

func (n *NodeRuntime) FileExtension() string { return ".js" }

func (n *NodeRuntime) Validate(code string) error { return validateSize(code) }

// ShellRuntime runs POSIX shell scripts.
type ShellRuntime struct{}

func (s *ShellRuntime) Name() string { return "shell" }

func (s *ShellRuntime) Image() string { return "docker.io/library/alpine:3.19" }

func (s *ShellRuntime) Command(codePath string) []string {
	return []string{"/bin/sh", "-eu", codePath}
}

func (s *ShellRuntime) FileExtension() string { return ".sh" }

func (s *ShellRuntime) Validate(code string) error { return validateSize(code) }

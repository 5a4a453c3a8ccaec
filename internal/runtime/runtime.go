package runtime

import (
	"fmt"
)

// Runtime describes how to run a source string for one language: which
// container image carries the interpreter, and the argv that points the
// interpreter at the mounted code file.
type Runtime interface {
	// Name returns the runtime identifier (e.g., "python").
	Name() string

	// Image returns the container image reference for this runtime.
	Image() string

	// Command returns the argv executing the code file at codePath
	// inside the container.
	Command(codePath string) []string

	// FileExtension returns the extension for code files (e.g., ".py").
	FileExtension() string

	// Validate rejects code that cannot possibly run (empty, oversized).
	// Isolation is the sandbox's job; this is early feedback only.
	Validate(code string) error
}

// Registry maps language names to their Runtime implementations.
type Registry struct {
	runtimes map[string]Runtime
}

// NewRegistry creates a registry with all supported runtimes.
func NewRegistry() *Registry {
	r := &Registry{
		runtimes: make(map[string]Runtime),
	}
	r.Register(&PythonRuntime{})
	r.Register(&NodeRuntime{})
	r.Register(&ShellRuntime{})
	return r
}

func (r *Registry) Register(rt Runtime) {
	r.runtimes[rt.Name()] = rt
}

func (r *Registry) Get(language string) (Runtime, error) {
	rt, ok := r.runtimes[language]
	if !ok {
		return nil, fmt.Errorf("unsupported language: %q (supported: python, node, shell)", language)
	}
	return rt, nil
}

// Languages returns all registered language names.
func (r *Registry) Languages() []string {
	langs := make([]string, 0, len(r.runtimes))
	for name := range r.runtimes {
		langs = append(langs, name)
	}
	return langs
}

func validateSize(code string) error {
	if len(code) == 0 {
		return fmt.Errorf("empty code")
	}
	if len(code) > 1<<20 {
		return fmt.Errorf("code too large: %d bytes (max 1MB)", len(code))
	}
	return nil
}

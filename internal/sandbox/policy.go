package sandbox

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/strslice"
	"github.com/rs/zerolog/log"

	"agent-desk-sandbox/pkg/seccomp"
)

// SeccompEncoding selects how the seccomp profile reaches the engine.
// Resolved once at policy construction, never per call.
type SeccompEncoding int

const (
	// SeccompByPath passes a host file path via security-opt. Works when
	// the engine can resolve host paths (local unix socket).
	SeccompByPath SeccompEncoding = iota
	// SeccompInline embeds the profile JSON in the security-opt value.
	// Required for remote or VM-backed engines that cannot see host files.
	SeccompInline
)

// SecurityPolicy is an immutable declarative description of a container's
// isolation and resource constraints. Treat values as read-only after
// construction; the presets hand out fresh copies.
type SecurityPolicy struct {
	NetworkMode string

	MemoryBytes int64
	CPUs        float64
	PidsLimit   int64

	User           string
	CapDrop        []string
	SecurityOpt    []string
	ReadOnlyRootfs bool

	// SeccompJSON is the generated Docker-format profile; empty means the
	// engine's default profile. The encoding and, for SeccompByPath, the
	// on-disk location are fixed at construction.
	SeccompJSON []byte
	Encoding    SeccompEncoding
	profilePath string

	Tmpfs map[string]string

	Timeout time.Duration
}

// CodePolicy is the strict preset for one-shot code execution: no network,
// read-only root, 256MB / 1 CPU / 64 pids, 30s timeout.
func CodePolicy() SecurityPolicy {
	p := SecurityPolicy{
		NetworkMode:    "none",
		MemoryBytes:    256 << 20,
		CPUs:           1.0,
		PidsLimit:      64,
		User:           "65534:65534",
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		ReadOnlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": "rw,noexec,nosuid,size=64m"},
		Timeout:        30 * time.Second,
		Encoding:       DetectSeccompEncoding(),
	}
	p.attachSeccomp()
	return p
}

// UIPolicy is the relaxed preset for the virtual-desktop container: writable
// root (Xvfb writes its socket under /tmp/.X11-unix), 1GB / 1.5 CPU / 256
// pids, 120s timeout. Network stays off unless explicitly enabled for
// browser automation.
func UIPolicy(networkEnabled bool) SecurityPolicy {
	network := "none"
	if networkEnabled {
		network = "bridge"
	}
	p := SecurityPolicy{
		NetworkMode:    network,
		MemoryBytes:    1 << 30,
		CPUs:           1.5,
		PidsLimit:      256,
		User:           "", // image default; the desktop stack needs its own user
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		ReadOnlyRootfs: false,
		Timeout:        120 * time.Second,
		Encoding:       DetectSeccompEncoding(),
	}
	p.attachSeccomp()
	return p
}

// DetectSeccompEncoding inspects the Docker host once: remote engines
// (tcp/ssh) cannot resolve host file paths, so the profile is passed inline.
func DetectSeccompEncoding() SeccompEncoding {
	return seccompEncodingForHost(os.Getenv("DOCKER_HOST"))
}

func seccompEncodingForHost(host string) SeccompEncoding {
	switch {
	case host == "", strings.HasPrefix(host, "unix://"), strings.HasPrefix(host, "npipe://"):
		return SeccompByPath
	default:
		return SeccompInline
	}
}

// attachSeccomp generates the profile and, for path encoding, materializes
// it on disk. Failure degrades to the engine's default profile with a
// warning rather than blocking execution.
func (p *SecurityPolicy) attachSeccomp() {
	data, err := seccomp.DefaultProfileJSON()
	if err != nil {
		log.Warn().Err(err).Msg("seccomp profile generation failed, using engine default")
		return
	}
	p.SeccompJSON = data

	if p.Encoding == SeccompByPath {
		path, err := writeSeccompProfile(data)
		if err != nil {
			log.Warn().Err(err).Msg("seccomp profile write failed, passing profile inline")
			p.Encoding = SeccompInline
			return
		}
		p.profilePath = path
	}
}

func writeSeccompProfile(data []byte) (string, error) {
	dir := filepath.Join(os.TempDir(), "agent-desk-sandbox")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "seccomp.json")
	if err := os.WriteFile(path, data, 0o644); err != nil { // #nosec G306 -- profile is not a secret, the engine reads it
		return "", err
	}
	return path, nil
}

// securityOpts returns the final security-opt list including the seccomp
// reference in whichever encoding the policy fixed at construction.
func (p SecurityPolicy) securityOpts() []string {
	opts := make([]string, len(p.SecurityOpt))
	copy(opts, p.SecurityOpt)

	if len(p.SeccompJSON) == 0 {
		return opts
	}
	if p.Encoding == SeccompByPath && p.profilePath != "" {
		return append(opts, "seccomp="+p.profilePath)
	}
	return append(opts, "seccomp="+string(p.SeccompJSON))
}

// HostConfig converts the declarative policy into engine creation
// parameters. Pure aside from reading the fields fixed at construction.
func (p SecurityPolicy) HostConfig(binds []string) *container.HostConfig {
	pids := p.PidsLimit
	return &container.HostConfig{
		NetworkMode:    container.NetworkMode(p.NetworkMode),
		CapDrop:        strslice.StrSlice(p.CapDrop),
		SecurityOpt:    p.securityOpts(),
		ReadonlyRootfs: p.ReadOnlyRootfs,
		Tmpfs:          p.Tmpfs,
		Binds:          binds,
		Resources: container.Resources{
			Memory:     p.MemoryBytes,
			MemorySwap: p.MemoryBytes, // no swap headroom beyond the limit
			NanoCPUs:   int64(p.CPUs * 1e9),
			PidsLimit:  &pids,
		},
	}
}

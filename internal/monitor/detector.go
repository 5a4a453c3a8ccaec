package monitor

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// EscapeDetector scans submitted code and captured output for container
// escape attempts. Advisory only: seccomp and capability dropping do the
// actual enforcement, this layer feeds logging and metrics.
type EscapeDetector struct {
	patterns []DetectionPattern
}

// DetectionPattern is one suspicious construct to match in code.
type DetectionPattern struct {
	Name        string
	Description string
	Regex       *regexp.Regexp
	Severity    Severity
}

// Severity ranks detected threats.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Detection is one matched suspicious pattern.
type Detection struct {
	Pattern  string `json:"pattern"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
	Line     int    `json:"line,omitempty"`
}

// NewEscapeDetector creates a detector with the default pattern set.
func NewEscapeDetector() *EscapeDetector {
	return &EscapeDetector{patterns: defaultPatterns()}
}

// AnalyzeCode scans submitted code line by line before execution.
func (d *EscapeDetector) AnalyzeCode(code string) []Detection {
	var detections []Detection

	lines := strings.Split(code, "\n")
	for i, line := range lines {
		for _, p := range d.patterns {
			if p.Regex.MatchString(line) {
				detections = append(detections, Detection{
					Pattern:  p.Name,
					Severity: p.Severity.String(),
					Detail:   p.Description,
					Line:     i + 1,
				})

				log.Warn().
					Str("pattern", p.Name).
					Str("severity", p.Severity.String()).
					Int("line", i+1).
					Msg("suspicious pattern in submitted code")
			}
		}
	}

	return detections
}

// AnalyzeOutput scans captured output for signs the isolation was pierced.
func (d *EscapeDetector) AnalyzeOutput(output string) []Detection {
	var detections []Detection

	outputMarkers := []struct {
		name   string
		substr string
		sev    Severity
	}{
		{"kernel_leak", "Linux version", SeverityHigh},
		{"shadow_read", "root:x:0:0", SeverityCritical},
		{"engine_socket", "docker.sock", SeverityCritical},
		{"host_proc_leak", "/proc/1/root", SeverityCritical},
	}

	for _, p := range outputMarkers {
		if strings.Contains(output, p.substr) {
			detections = append(detections, Detection{
				Pattern:  p.name,
				Severity: p.sev.String(),
				Detail:   "suspicious content in output: " + p.name,
			})
		}
	}

	return detections
}

func defaultPatterns() []DetectionPattern {
	return []DetectionPattern{
		{
			Name:        "proc_self_access",
			Description: "reading /proc/self for namespace or fd details",
			Regex:       regexp.MustCompile(`/proc/self/(root|exe|fd|ns|maps|status)`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "cgroup_breakout",
			Description: "cgroup release_agent escape",
			Regex:       regexp.MustCompile(`/sys/fs/cgroup|notify_on_release|release_agent`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "engine_socket_access",
			Description: "reaching for the container engine socket",
			Regex:       regexp.MustCompile(`/var/run/docker|/run/docker\.sock|/var/run/containerd`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "kernel_exploit",
			Description: "known kernel exploit primitive",
			Regex:       regexp.MustCompile(`(?i)(dirty.?cow|dirty.?pipe|userfaultfd)`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "metadata_service",
			Description: "cloud metadata endpoint access",
			Regex:       regexp.MustCompile(`169\.254\.169\.254|metadata\.google|metadata\.aws`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "reverse_shell",
			Description: "reverse shell construction",
			Regex:       regexp.MustCompile(`(?i)(nc|ncat|netcat|socat)\s+.*-[elp]|/dev/tcp/|bash\s+-i\s+>&`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "capability_probe",
			Description: "capability inspection or manipulation",
			Regex:       regexp.MustCompile(`(?i)(cap_sys_admin|setcap|getcap|capsh)`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "ptrace_attempt",
			Description: "process tracing or memory injection",
			Regex:       regexp.MustCompile(`(?i)(ptrace|process_vm_readv|process_vm_writev|PTRACE_ATTACH)`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "x11_host_socket",
			Description: "pointing the display at a socket outside the sandbox",
			Regex:       regexp.MustCompile(`DISPLAY\W{0,4}=\s*["']?(unix)?:0\b|/tmp/\.X11-unix/X0\b`),
			Severity:    SeverityMedium,
		},
		{
			Name:        "crypto_miner",
			Description: "cryptocurrency mining workload",
			Regex:       regexp.MustCompile(`(?i)(stratum\+tcp|xmrig|minerd|cryptonight|hashrate)`),
			Severity:    SeverityMedium,
		},
	}
}

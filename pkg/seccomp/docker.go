package seccomp

import (
	"encoding/json"
	"fmt"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Docker's seccomp JSON format: a default action, an architecture map, and
// syscall rules. Field names follow the Docker daemon's profile schema.
type dockerProfile struct {
	DefaultAction string        `json:"defaultAction"`
	ArchMap       []dockerArch  `json:"archMap"`
	Syscalls      []dockerRule  `json:"syscalls"`
}

type dockerArch struct {
	Architecture     string   `json:"architecture"`
	SubArchitectures []string `json:"subArchitectures"`
}

type dockerRule struct {
	Names  []string `json:"names"`
	Action string   `json:"action"`
}

var actionNames = map[specs.LinuxSeccompAction]string{
	specs.ActAllow: "SCMP_ACT_ALLOW",
	specs.ActErrno: "SCMP_ACT_ERRNO",
	specs.ActKill:  "SCMP_ACT_KILL",
	specs.ActTrap:  "SCMP_ACT_TRAP",
	specs.ActLog:   "SCMP_ACT_LOG",
}

var archMap = map[specs.Arch]dockerArch{
	specs.ArchX86_64: {
		Architecture:     "SCMP_ARCH_X86_64",
		SubArchitectures: []string{"SCMP_ARCH_X86", "SCMP_ARCH_X32"},
	},
	specs.ArchAARCH64: {
		Architecture:     "SCMP_ARCH_AARCH64",
		SubArchitectures: []string{"SCMP_ARCH_ARM"},
	},
}

// DockerJSON serializes a runtime-spec seccomp profile into the JSON document
// the Docker engine accepts via security-opt, either as a host file path or
// inline.
func DockerJSON(p *specs.LinuxSeccomp) ([]byte, error) {
	def, ok := actionNames[p.DefaultAction]
	if !ok {
		return nil, fmt.Errorf("unsupported default action %q", p.DefaultAction)
	}

	dp := dockerProfile{DefaultAction: def}

	for _, arch := range p.Architectures {
		m, ok := archMap[arch]
		if !ok {
			return nil, fmt.Errorf("unsupported architecture %q", arch)
		}
		dp.ArchMap = append(dp.ArchMap, m)
	}

	for _, rule := range p.Syscalls {
		action, ok := actionNames[rule.Action]
		if !ok {
			return nil, fmt.Errorf("unsupported action %q", rule.Action)
		}
		dp.Syscalls = append(dp.Syscalls, dockerRule{
			Names:  rule.Names,
			Action: action,
		})
	}

	return json.Marshal(dp)
}

// DefaultProfileJSON is DockerJSON applied to DefaultProfile.
func DefaultProfileJSON() ([]byte, error) {
	return DockerJSON(DefaultProfile())
}

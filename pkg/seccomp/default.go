package seccomp

import (
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// DefaultProfile returns the deny-by-default profile used for every sandbox
// container. The allowlist covers what an interpreter and its standard
// library need: process control, memory mapping, file and socket I/O,
// signals, timers, and polling. Socket syscalls are allowed because network
// isolation is enforced by the container's network mode, not by seccomp.
//
// Deliberately absent: ptrace/process_vm_*, mount/umount2/pivot_root,
// reboot, kexec_load, module loading, keyctl, bpf, setns/unshare: the
// privilege-escalation and container-breakout surface. Unlisted syscalls
// fail with EPERM.
func DefaultProfile() *specs.LinuxSeccomp {
	return NewBuilder().
		AllowSyscalls(
			// process control
			"exit", "exit_group", "getpid", "getppid", "gettid",
			"clone", "clone3", "fork", "vfork", "wait4", "waitid",
			"execve", "execveat",
			"kill", "tgkill",
			"sched_yield", "sched_getaffinity",
		).
		AllowSyscalls(
			// memory
			"mmap", "munmap", "mprotect", "mremap", "brk",
			"madvise", "mlock", "munlock",
			"memfd_create",
		).
		AllowSyscalls(
			// file I/O
			"open", "openat", "close", "read", "write", "pread64", "pwrite64",
			"readv", "writev", "lseek",
			"stat", "fstat", "lstat", "newfstatat", "statx",
			"statfs", "fstatfs",
			"access", "faccessat", "faccessat2",
			"dup", "dup2", "dup3", "fcntl", "ioctl", "flock",
			"mkdir", "mkdirat", "rmdir", "unlink", "unlinkat",
			"rename", "renameat", "renameat2",
			"readlink", "readlinkat",
			"getcwd", "chdir", "fchdir",
			"getdents", "getdents64",
			"ftruncate", "truncate", "fallocate",
			"copy_file_range", "sendfile",
			"umask", "chmod", "fchmod", "fchmodat",
			"chown", "fchown", "fchownat",
			"utimensat",
		).
		AllowSyscalls(
			// pipes and sockets (subprocess plumbing; the network namespace
			// is what actually keeps traffic off the wire)
			"pipe", "pipe2", "socketpair",
			"socket", "connect", "bind", "listen", "accept", "accept4",
			"getsockname", "getpeername",
			"setsockopt", "getsockopt",
			"sendto", "recvfrom", "sendmsg", "recvmsg",
			"shutdown",
		).
		AllowSyscalls(
			// signals
			"rt_sigaction", "rt_sigprocmask", "rt_sigreturn",
			"sigaltstack",
		).
		AllowSyscalls(
			// time
			"clock_gettime", "clock_getres", "clock_nanosleep",
			"nanosleep", "gettimeofday",
			"timerfd_create", "timerfd_settime", "timerfd_gettime",
		).
		AllowSyscalls(
			// polling
			"select", "pselect6", "poll", "ppoll",
			"epoll_create", "epoll_create1", "epoll_ctl",
			"epoll_wait", "epoll_pwait", "epoll_pwait2",
			"eventfd", "eventfd2",
		).
		AllowSyscalls(
			// misc runtime support
			"getrandom", "arch_prctl", "prctl",
			"set_tid_address", "set_robust_list", "get_robust_list",
			"futex", "futex_waitv", "rseq",
			"getuid", "getgid", "geteuid", "getegid", "getgroups",
			"uname", "sysinfo",
			"prlimit64", "getrlimit", "setrlimit",
		).
		Build()
}

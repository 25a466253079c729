// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
)

// containerFDCount is the number of descriptor slots the manager hands
// to a sandboxed application. Slots 0-2 are the broker connection and
// diagnostic stderr; 3 and 4 are the internal storage transport.
const containerFDCount = 5

// bwrapArgs builds the bubblewrap command line for a container
// sandbox. The filesystem view is a fixed hardened profile, not
// configurable per application: read-only system directories, private
// /proc and /dev, tmpfs for everything writable, fresh pid/net/ipc/uts
// namespaces, and no capability inheritance (bwrap always applies
// cap-drop ALL and PR_SET_NO_NEW_PRIVS).
//
// The five ABI descriptor slots survive into the application because
// bwrap leaves inherited descriptors open.
func bwrapArgs(executable string) []string {
	args := []string{
		"--unshare-pid",
		"--unshare-net",
		"--unshare-ipc",
		"--unshare-uts",
		"--die-with-parent",
		"--proc", "/proc",
		"--dev", "/dev",
		"--tmpfs", "/tmp",
		"--tmpfs", "/run",
	}

	// Read-only binds for the system directories an application
	// executable needs. Optional ones are skipped when absent so the
	// same profile works on merged-/usr and split layouts.
	for _, dir := range []string{"/usr", "/lib", "/lib64", "/bin", "/sbin", "/etc"} {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		args = append(args, "--ro-bind", dir, dir)
	}

	// The executable itself may live outside the system directories
	// (e.g. a build tree during development).
	executableDir := filepath.Dir(executable)
	args = append(args, "--ro-bind", executableDir, executableDir)

	args = append(args, "--clearenv", "--", executable)
	return args
}

// bwrapPath locates the bubblewrap executable.
func bwrapPath() (string, error) {
	for _, path := range []string{"/usr/bin/bwrap", "/usr/local/bin/bwrap", "/bin/bwrap"} {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("bwrap not found in standard locations")
}

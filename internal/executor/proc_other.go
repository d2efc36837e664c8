//go:build !unix

package executor

import "os/exec"

// setProcessGroup keeps exec.CommandContext's default cancellation, which
// kills only the direct child.
func setProcessGroup(cmd *exec.Cmd) {}

package sequence

import (
	"fmt"
	"os/exec"
)

// CheckInterpreter verifies the configured sequence interpreter binary is
// reachable before the daemon starts accepting commands, the way the
// original main() shelled out to confirm its Python interpreter could
// import the sequence support module. Generalized here to whatever
// interpreter command is configured rather than hard-coded to python3.
func CheckInterpreter(interpreter string) error {
	path, err := exec.LookPath(interpreter)
	if err != nil {
		return fmt.Errorf("sequence interpreter %q not reachable: %w", interpreter, err)
	}
	if err := exec.Command(path, "--version").Run(); err != nil {
		return fmt.Errorf("sequence interpreter %q preflight failed: %w", interpreter, err)
	}
	return nil
}

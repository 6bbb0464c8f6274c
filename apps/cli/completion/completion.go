// Package completion installs and removes shell completion scripts generated by cobra.
package completion

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

// Shell is a shell picbatch can complete for.
type Shell string

const (
	Bash       Shell = "bash"
	Zsh        Shell = "zsh"
	Fish       Shell = "fish"
	Powershell Shell = "powershell"
)

// target describes where a shell looks for completion scripts and how to generate one.
type target struct {
	path     func(home, name string) string
	generate func(root *cobra.Command, w io.Writer) error
	// activate is printed after install.
	activate string
	// loader is a file that must source the script, if the shell needs one.
	loader string
}

var targets = map[Shell]target{
	Bash: {
		path: func(home, name string) string { return filepath.Join(home, ".bash_completion.d", name) },
		generate: func(root *cobra.Command, w io.Writer) error {
			return root.GenBashCompletionV2(w, true)
		},
		activate: "Completion is active in new terminals.",
		loader:   ".bash_completion",
	},
	Zsh: {
		path:     func(home, name string) string { return filepath.Join(home, ".zsh", "completion", "_"+name) },
		generate: func(root *cobra.Command, w io.Writer) error { return root.GenZshCompletion(w) },
		activate: "Add the completion directory to fpath in ~/.zshrc and run: autoload -Uz compinit && compinit",
	},
	Fish: {
		path: func(home, name string) string {
			return filepath.Join(home, ".config", "fish", "completions", name+".fish")
		},
		generate: func(root *cobra.Command, w io.Writer) error { return root.GenFishCompletion(w, true) },
		activate: "Run 'exec fish' to load completion in the current session.",
	},
	Powershell: {
		path: func(home, name string) string {
			return filepath.Join(home, "Documents", "WindowsPowerShell", "Scripts", name+".ps1")
		},
		generate: func(root *cobra.Command, w io.Writer) error { return root.GenPowerShellCompletionWithDesc(w) },
		activate: "Dot-source the script from your PowerShell profile.",
	},
}

// DetectShell reads the shell from $SHELL.
func DetectShell() (Shell, error) {
	shellPath := os.Getenv("SHELL")
	if shellPath == "" {
		if runtime.GOOS == "windows" {
			return Powershell, nil
		}
		return "", fmt.Errorf("unable to detect shell: SHELL environment variable not set")
	}
	shell := Shell(filepath.Base(shellPath))
	if _, ok := targets[shell]; !ok || shell == Powershell {
		return "", fmt.Errorf("unsupported shell: %s", shell)
	}
	return shell, nil
}

// ScriptPath returns where the completion script for the named program lives.
func ScriptPath(shell Shell, home, name string) (string, error) {
	t, ok := targets[shell]
	if !ok {
		return "", fmt.Errorf("unsupported shell: %s", shell)
	}
	if shell == Powershell && runtime.GOOS != "windows" {
		return "", fmt.Errorf("powershell not supported on %s", runtime.GOOS)
	}
	return t.path(home, name), nil
}

// NewCommands returns the install-completion and uninstall-completion commands for root.
func NewCommands(root *cobra.Command) []*cobra.Command {
	var installShell, uninstallShell string

	install := &cobra.Command{
		Use:   "install-completion",
		Short: "Install shell completion for " + root.Name(),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("failed to get home directory: %w", err)
			}
			return Install(cmd.OutOrStdout(), root, installShell, home)
		},
	}
	install.Flags().StringVarP(&installShell, "shell", "s", "", "Shell to install for (bash, zsh, fish, powershell); detected from $SHELL when empty")

	uninstall := &cobra.Command{
		Use:   "uninstall-completion",
		Short: "Remove shell completion for " + root.Name(),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("failed to get home directory: %w", err)
			}
			return Uninstall(cmd.OutOrStdout(), root.Name(), uninstallShell, home)
		},
	}
	uninstall.Flags().StringVarP(&uninstallShell, "shell", "s", "", "Shell to remove completion from; detected from $SHELL when empty")

	return []*cobra.Command{install, uninstall}
}

func resolveShell(flag string) (Shell, error) {
	if flag != "" {
		return Shell(flag), nil
	}
	shell, err := DetectShell()
	if err != nil {
		return "", fmt.Errorf("%w (pass --shell explicitly)", err)
	}
	return shell, nil
}

// Install writes the completion script for root under home.
func Install(out io.Writer, root *cobra.Command, shellFlag, home string) error {
	shell, err := resolveShell(shellFlag)
	if err != nil {
		return err
	}
	path, err := ScriptPath(shell, home, root.Name())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create completion directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create completion file: %w", err)
	}
	if err := targets[shell].generate(root, f); err != nil {
		f.Close()
		return fmt.Errorf("failed to generate %s completion: %w", shell, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write completion file: %w", err)
	}

	if loader := targets[shell].loader; loader != "" {
		if err := ensureLine(filepath.Join(home, loader), "source "+path, path); err != nil {
			fmt.Fprintf(out, "Warning: could not enable auto-load: %v\n", err)
		}
	}

	fmt.Fprintf(out, "Installed %s completion at %s\n%s\n", shell, path, targets[shell].activate)
	return nil
}

// Uninstall removes the completion script for the named program.
func Uninstall(out io.Writer, name, shellFlag, home string) error {
	shell, err := resolveShell(shellFlag)
	if err != nil {
		return err
	}
	path, err := ScriptPath(shell, home, name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("completion not installed for %s (expected at %s)", shell, path)
	}

	if loader := targets[shell].loader; loader != "" {
		if err := dropLines(filepath.Join(home, loader), path); err != nil {
			fmt.Fprintf(out, "Warning: could not disable auto-load: %v\n", err)
		}
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove completion file: %w", err)
	}

	fmt.Fprintf(out, "Removed %s completion from %s\n", shell, path)
	return nil
}

// ensureLine appends line to file unless a line mentioning marker is already there.
func ensureLine(file, line, marker string) error {
	content, err := os.ReadFile(file)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if strings.Contains(string(content), marker) {
		return nil
	}

	f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if len(content) > 0 && content[len(content)-1] != '\n' {
		line = "\n" + line
	}
	_, err = f.WriteString(line + "\n")
	return err
}

// dropLines removes every line of file mentioning marker. A missing file is not an error.
func dropLines(file, marker string) error {
	content, err := os.ReadFile(file)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	lines := strings.Split(string(content), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if !strings.Contains(line, marker) {
			kept = append(kept, line)
		}
	}
	return os.WriteFile(file, []byte(strings.Join(kept, "\n")), 0644)
}

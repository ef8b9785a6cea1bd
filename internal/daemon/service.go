package daemon

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"
)

// launchdLabel identifies the screenman launch agent on macOS.
const launchdLabel = "com.allaspectsdev.screenman"

// launchdPlist is rendered into ~/Library/LaunchAgents so launchd keeps the
// daemon alive across logins and crashes.
const launchdPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.Binary}}</string>
        <string>start</string>
        <string>--foreground</string>
    </array>

    <key>WorkingDirectory</key>
    <string>{{.DataDir}}</string>

    <key>KeepAlive</key>
    <true/>

    <key>RunAtLoad</key>
    <true/>

    <key>StandardOutPath</key>
    <string>{{.DataDir}}/screenman.out.log</string>

    <key>StandardErrorPath</key>
    <string>{{.DataDir}}/screenman.err.log</string>

    <key>EnvironmentVariables</key>
    <dict>
        <key>PATH</key>
        <string>/usr/local/bin:/usr/bin:/bin:/opt/homebrew/bin</string>
    </dict>

    <key>ProcessType</key>
    <string>Background</string>

    <key>ThrottleInterval</key>
    <integer>5</integer>
</dict>
</plist>
`

// InstallService writes the launch agent plist and loads it with launchctl.
func InstallService() error {
	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating screenman binary: %w", err)
	}
	if binary, err = filepath.EvalSymlinks(binary); err != nil {
		return fmt.Errorf("resolving screenman binary: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("locating home directory: %w", err)
	}
	dataDir := filepath.Join(home, ".screenman")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	plistPath, err := agentPlistPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(plistPath), 0o755); err != nil {
		return fmt.Errorf("creating LaunchAgents directory: %w", err)
	}

	var buf bytes.Buffer
	tmpl := template.Must(template.New("plist").Parse(launchdPlist))
	err = tmpl.Execute(&buf, struct {
		Label   string
		Binary  string
		DataDir string
	}{launchdLabel, binary, dataDir})
	if err != nil {
		return fmt.Errorf("rendering plist: %w", err)
	}
	if err := os.WriteFile(plistPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", plistPath, err)
	}
	fmt.Printf("Plist written to %s\n", plistPath)

	// Unload any older copy first so load starts from a clean slate.
	_ = launchctl("unload", plistPath).Run()

	load := launchctl("load", plistPath)
	load.Stdout = os.Stdout
	load.Stderr = os.Stderr
	if err := load.Run(); err != nil {
		return fmt.Errorf("launchctl load: %w", err)
	}

	fmt.Printf("Service %s loaded via launchctl\n", launchdLabel)
	return nil
}

// UninstallService unloads the launch agent and deletes its plist.
func UninstallService() error {
	plistPath, err := agentPlistPath()
	if err != nil {
		return err
	}

	_ = launchctl("unload", plistPath).Run()

	if err := os.Remove(plistPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing plist: %w", err)
	}

	fmt.Printf("Service %s uninstalled\n", launchdLabel)
	return nil
}

func agentPlistPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"), nil
}

func launchctl(args ...string) *exec.Cmd {
	return exec.Command("launchctl", args...)
}

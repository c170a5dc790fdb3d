package browser

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/go-rod/rod/lib/launcher"
	"go.uber.org/zap"
)

// InstallChrome downloads a Chromium build for the current OS/arch into rod's
// cache and returns the binary path. With withDeps the shared libraries
// Chromium needs are installed through the system package manager first.
func InstallChrome(ctx context.Context, revision int, withDeps bool, logger *zap.Logger) (string, error) {
	if withDeps {
		if err := InstallChromeDependencies(ctx, logger); err != nil {
			return "", err
		}
	}

	downloader := launcher.NewBrowser()
	downloader.Context = ctx
	if revision > 0 {
		downloader.Revision = revision
	}

	logger.Info("Resolving chromium", zap.Int("revision", downloader.Revision))
	path, err := downloader.Get()
	if err != nil {
		return "", fmt.Errorf("failed to download chrome: %w", err)
	}

	return path, nil
}

type packageManager struct {
	bin      string
	prepare  []string
	install  []string
	packages []string
}

var packageManagers = []packageManager{
	{
		bin:     "apt-get",
		prepare: []string{"update"},
		install: []string{"install", "-y", "--no-install-recommends"},
		packages: []string{
			"ca-certificates", "fonts-liberation", "libasound2", "libatk-bridge2.0-0",
			"libatk1.0-0", "libcups2", "libdbus-1-3", "libdrm2", "libgbm1", "libgtk-3-0",
			"libnspr4", "libnss3", "libxcomposite1", "libxdamage1", "libxfixes3",
			"libxrandr2", "libxkbcommon0", "libpango-1.0-0",
		},
	},
	{
		bin:     "dnf",
		install: []string{"install", "-y"},
		packages: []string{
			"alsa-lib", "atk", "cups-libs", "gtk3", "libXcomposite", "libXdamage",
			"libXrandr", "libxkbcommon", "nss", "nspr", "pango", "mesa-libgbm", "libdrm",
		},
	},
	{
		bin:     "apk",
		install: []string{"add", "--no-cache"},
		packages: []string{
			"chromium", "nss", "freetype", "harfbuzz", "ttf-freefont", "ca-certificates",
		},
	},
}

// InstallChromeDependencies installs OS packages required by Chromium using
// the first supported package manager on PATH.
func InstallChromeDependencies(ctx context.Context, logger *zap.Logger) error {
	if runtime.GOOS != "linux" {
		return nil
	}

	for _, pm := range packageManagers {
		path, err := exec.LookPath(pm.bin)
		if err != nil {
			continue
		}

		logger.Info("Installing chromium dependencies", zap.String("package_manager", pm.bin))
		if len(pm.prepare) > 0 {
			if err := runCommand(ctx, path, pm.prepare...); err != nil {
				return err
			}
		}
		args := append(append([]string{}, pm.install...), pm.packages...)
		return runCommand(ctx, path, args...)
	}

	return fmt.Errorf("no supported package manager found for chrome dependencies")
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %v failed: %w\n%s", name, args, err, out.String())
	}
	return nil
}

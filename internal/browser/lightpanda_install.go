package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"
)

// LightpandaDownloadURL is the nightly Linux build of Lightpanda.
const LightpandaDownloadURL = "https://github.com/lightpanda-io/browser/releases/download/nightly/lightpanda-x86_64-linux"

var lightpandaBinaryNames = []string{"lightpanda-x86_64-linux", "lightpanda"}

// EnsureLightpandaBinary returns the path of a Lightpanda binary, looking next
// to the executable and in ./browser before downloading the nightly build.
func EnsureLightpandaBinary(ctx context.Context, logger *zap.Logger) (string, error) {
	if runtime.GOOS != "linux" {
		return "", fmt.Errorf("lightpanda only supports linux, current OS: %s", runtime.GOOS)
	}

	execPath, err := os.Executable()
	if err != nil {
		return "", err
	}
	execDir := filepath.Dir(execPath)

	searchPaths := []string{execDir, filepath.Join(execDir, "browser"), "./browser", "."}
	for _, dir := range searchPaths {
		for _, name := range lightpandaBinaryNames {
			fullPath := filepath.Join(dir, name)
			info, err := os.Stat(fullPath)
			if err != nil {
				continue
			}
			if err := ensureExecutable(fullPath, info); err != nil {
				logger.Warn("failed to set executable bit", zap.String("path", fullPath), zap.Error(err))
			}
			logger.Info("Lightpanda found", zap.String("path", fullPath))
			return fullPath, nil
		}
	}

	browserDir := "./browser"
	if err := os.MkdirAll(browserDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create browser directory: %w", err)
	}

	binaryPath := filepath.Join(browserDir, lightpandaBinaryNames[0])
	if err := downloadLightpanda(ctx, binaryPath, logger); err != nil {
		return "", err
	}
	return binaryPath, nil
}

func downloadLightpanda(ctx context.Context, destPath string, logger *zap.Logger) error {
	logger.Info("Downloading Lightpanda", zap.String("url", LightpandaDownloadURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, LightpandaDownloadURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download lightpanda: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("lightpanda download failed with status: %d", resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("failed to save file: %w", err)
	}

	if err := os.Chmod(destPath, 0o755); err != nil {
		return fmt.Errorf("failed to make executable: %w", err)
	}

	logger.Info("Lightpanda installed", zap.String("path", destPath))
	return nil
}

func ensureExecutable(path string, info os.FileInfo) error {
	mode := info.Mode()
	if mode&0o111 != 0 {
		return nil
	}
	return os.Chmod(path, mode|0o755)
}

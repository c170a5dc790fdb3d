package nats

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// NATSVersion is the version of NATS server to download
const NATSVersion = "2.10.24"

// DownloadURL returns the release archive URL for goos/goarch.
func DownloadURL(goos, goarch string) (string, error) {
	switch goos {
	case "linux", "darwin", "windows":
	default:
		return "", fmt.Errorf("unsupported OS: %s", goos)
	}
	switch goarch {
	case "amd64", "arm64":
	default:
		return "", fmt.Errorf("unsupported architecture: %s", goarch)
	}

	return fmt.Sprintf(
		"https://github.com/nats-io/nats-server/releases/download/v%s/nats-server-v%s-%s-%s.zip",
		NATSVersion, NATSVersion, goos, goarch,
	), nil
}

// EnsureNATSBinary returns binPath, downloading nats-server there first when
// it is missing and autoDL is set.
func EnsureNATSBinary(ctx context.Context, binPath string, autoDL bool, logger *zap.Logger) (string, error) {
	if _, err := os.Stat(binPath); err == nil {
		logger.Debug("NATS server binary found", zap.String("path", binPath))
		return binPath, nil
	}
	if path, err := exec.LookPath("nats-server"); err == nil {
		return path, nil
	}

	if !autoDL {
		return "", fmt.Errorf("NATS server binary not found at %s and auto-download is disabled", binPath)
	}

	downloadURL, err := DownloadURL(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(binPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", binPath, err)
	}

	tmpFile, err := os.CreateTemp("", "nats-server-*.zip")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())
	defer tmpFile.Close()

	logger.Info("Downloading NATS server", zap.String("url", downloadURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download NATS server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download NATS server: HTTP %d", resp.StatusCode)
	}
	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		return "", fmt.Errorf("failed to save NATS server: %w", err)
	}
	tmpFile.Close()

	if err := extractNATSBinary(tmpFile.Name(), binPath, runtime.GOOS); err != nil {
		return "", fmt.Errorf("failed to extract NATS server: %w", err)
	}
	if err := os.Chmod(binPath, 0o755); err != nil {
		return "", fmt.Errorf("failed to make NATS server executable: %w", err)
	}

	logger.Info("NATS server installed", zap.String("path", binPath))
	return binPath, nil
}

// extractNATSBinary copies the nats-server executable out of a release zip.
func extractNATSBinary(zipPath, destPath, goos string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open zip: %w", err)
	}
	defer r.Close()

	binaryName := "nats-server"
	if goos == "windows" {
		binaryName = "nats-server.exe"
	}

	for _, f := range r.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, "/"+binaryName) && f.Name != binaryName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("failed to open file in zip: %w", err)
		}
		defer rc.Close()

		out, err := os.Create(destPath)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer out.Close()

		if _, err := io.Copy(out, rc); err != nil {
			return fmt.Errorf("failed to copy binary: %w", err)
		}
		return nil
	}

	return fmt.Errorf("%s not found in zip", binaryName)
}

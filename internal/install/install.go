// Package install resolves the agent binary: platform-specific naming, a
// presence check, and downloading the release tarball when it is missing.
package install

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	// BinaryName is the base name of the launcher this package manages.
	BinaryName = "cody-agent"

	// tarballURL is the npm registry location of the agent package.
	tarballURL = "https://registry.npmjs.org/@sourcegraph/cody/-/cody-%s.tgz"
)

var (
	ErrUnsupportedPlatform = errors.New("install: unsupported platform")
	ErrDownloadFailed      = errors.New("install: agent download failed")
)

// PlatformArch maps the running platform to the agent's asset naming.
func PlatformArch() (string, error) {
	switch runtime.GOOS {
	case "linux":
		switch runtime.GOARCH {
		case "amd64":
			return "linux-x64", nil
		case "arm64":
			return "linux-arm64", nil
		}
	case "darwin":
		switch runtime.GOARCH {
		case "amd64":
			return "macos-x64", nil
		case "arm64":
			return "macos-arm64", nil
		}
	case "windows":
		if runtime.GOARCH == "amd64" {
			return "win-x64", nil
		}
	}
	return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, runtime.GOOS, runtime.GOARCH)
}

// FormatBinaryName yields the versioned launcher file name, e.g.
// cody-agent-linux-x64-5.5.14.
func FormatBinaryName(name, version string) (string, error) {
	arch, err := PlatformArch()
	if err != nil {
		return "", err
	}
	suffix := ""
	if arch == "win-x64" {
		suffix = ".exe"
	}
	return fmt.Sprintf("%s-%s-%s%s", name, arch, version, suffix), nil
}

// BinaryPath reports where the launcher for version lives under dir and
// whether it is already present.
func BinaryPath(dir, version string) (string, bool, error) {
	name, err := FormatBinaryName(BinaryName, version)
	if err != nil {
		return "", false, err
	}
	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return path, false, nil
	}
	return path, true, nil
}

// EnsureBinary returns the launcher path for version, downloading and
// unpacking the agent package into dir first when it is not installed yet.
func EnsureBinary(ctx context.Context, dir, version string) (string, error) {
	return ensureBinary(ctx, dir, version, fmt.Sprintf(tarballURL, version))
}

// ensureBinary is EnsureBinary with the source URL injected for tests.
func ensureBinary(ctx context.Context, dir, version, url string) (string, error) {
	path, exists, err := BinaryPath(dir, version)
	if err != nil {
		return "", err
	}
	if exists {
		return path, nil
	}

	log.Info().Str("version", version).Str("dir", dir).Msg("install.agent downloading")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode)
	}

	if err := extractTarGz(resp.Body, dir); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if err := writeLauncher(path, filepath.Join(dir, "package", "dist", "index.js")); err != nil {
		return "", err
	}
	log.Info().Str("path", path).Msg("install.agent ready")
	return path, nil
}

// extractTarGz unpacks a gzipped tarball under dir, rejecting entries that
// would escape it.
func extractTarGz(r io.Reader, dir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		name := filepath.Clean(hdr.Name)
		if name == ".." || strings.HasPrefix(name, ".."+string(os.PathSeparator)) || filepath.IsAbs(name) {
			return fmt.Errorf("tar entry escapes target dir: %s", hdr.Name)
		}
		target := filepath.Join(dir, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
	}
}

// writeLauncher creates the executable entry point that runs the unpacked
// package with node.
func writeLauncher(path, indexJS string) error {
	var content string
	if runtime.GOOS == "windows" {
		content = fmt.Sprintf("@echo off\r\nnode %s %%*\r\n", indexJS)
	} else {
		content = fmt.Sprintf("#!/bin/sh\nnode %s \"$@\"\n", indexJS)
	}
	return os.WriteFile(path, []byte(content), 0o755)
}

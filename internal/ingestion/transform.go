package ingestion

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/landregistry/inspire-reconciler/internal/errors"
)

// minPlausibleGeoJSONBytes is the smallest output size the reprojection tool
// could plausibly produce for a real council; anything smaller suggests the
// tool failed silently (zero exit code, empty or truncated output).
const minPlausibleGeoJSONBytes = 256

// Unzip extracts archivePath's cadastral-parcels GML file into workDir and
// returns its path (§4.2 step 4: "unzip to a working directory").
func Unzip(archivePath, workDir string) (string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", errors.FileSystemError(err, "opening council archive")
	}
	defer r.Close()

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", errors.FileSystemError(err, "creating unzip working directory")
	}

	var gmlPath string
	for _, f := range r.File {
		cleanName := filepath.Clean(f.Name)
		if strings.HasPrefix(cleanName, "..") {
			continue // path traversal guard
		}
		dest := filepath.Join(workDir, cleanName)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return "", errors.FileSystemError(err, "creating archive subdirectory")
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return "", errors.FileSystemError(err, "creating archive subdirectory")
		}
		if err := extractEntry(f, dest); err != nil {
			return "", err
		}
		if strings.EqualFold(filepath.Ext(dest), ".gml") {
			gmlPath = dest
		}
	}
	if gmlPath == "" {
		return "", errors.New(errors.ErrorTypeTask, errors.SeverityHigh, "archive contained no GML file")
	}
	return gmlPath, nil
}

func extractEntry(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return errors.FileSystemError(err, "opening archive entry")
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return errors.FileSystemError(err, "creating extracted file")
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return errors.FileSystemError(err, "extracting archive entry")
	}
	return nil
}

// Reproject invokes an external geospatial tool (ogr2ogr) to reproject the
// cadastral-parcels GML into WGS84 GeoJSON (§4.2 step 4), then
// plausibility-checks the output rather than trusting a zero exit code
// alone.
func Reproject(ctx context.Context, gmlPath, outGeoJSONPath string) error {
	cmd := exec.CommandContext(ctx, "ogr2ogr",
		"-f", "GeoJSON",
		"-t_srs", "EPSG:4326",
		outGeoJSONPath, gmlPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return errors.TaskError(err, "reprojection tool failed: "+string(output))
	}

	info, err := os.Stat(outGeoJSONPath)
	if err != nil {
		return errors.FileSystemError(err, "checking reprojected output")
	}
	if info.Size() < minPlausibleGeoJSONBytes {
		return errors.New(errors.ErrorTypeTask, errors.SeverityHigh,
			fmt.Sprintf("reprojection produced implausibly small output (%d bytes)", info.Size()))
	}
	return nil
}

// Package xmlreport renders completed test reports as XML documents for build servers: the
// generic test result format read by Visual Studio and TFS, and JUnit XML.
package xmlreport

import (
	"fmt"
	"os"
	"path/filepath"
)

// Renderer produces the complete content of a report document.
type Renderer interface {
	Render() ([]byte, error)
}

// WriteFile renders the report and replaces whatever is at path with it. The document is
// written to a temporary file in the same directory and then renamed over path, so path
// either keeps its old content or has the complete new document.
func WriteFile(path string, r Renderer) error {
	data, err := r.Render()
	if err != nil {
		return fmt.Errorf("rendering report for %s: %w", path, err)
	}
	if err := writeFileAtomically(path, data); err != nil {
		return fmt.Errorf("writing report to %s: %w", path, err)
	}
	return nil
}

func writeFileAtomically(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tempPath := f.Name()
	_, err = f.Write(data)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tempPath, 0644) //nolint:gosec
	}
	if err == nil {
		err = os.Rename(tempPath, path)
	}
	if err != nil {
		_ = os.Remove(tempPath)
	}
	return err
}

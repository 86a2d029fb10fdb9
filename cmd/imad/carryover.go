package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/export"
	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/measurement"
)

// restoreCarryOver loads the root log saved by a previous run.
func restoreCarryOver(eng *measurement.Engine, path string, logger *zap.Logger) error {
	buf, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read carry-over: %w", err)
	}
	root, _ := eng.Namespace(measurement.RootID)
	n, err := export.RestoreKexec(root, buf)
	if err != nil {
		return fmt.Errorf("restore carry-over %s: %w", path, err)
	}
	logger.Info("restored carried-over measurements", zap.String("file", path), zap.Int("entries", n))
	return nil
}

// saveCarryOver writes the root log for the next run.
func saveCarryOver(eng *measurement.Engine, path string, logger *zap.Logger) error {
	root, _ := eng.Namespace(measurement.RootID)
	buf, err := export.Kexec(root)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".carry-over-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	logger.Info("saved measurements for carry-over", zap.String("file", path), zap.Int("bytes", len(buf)))
	return nil
}

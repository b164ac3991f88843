package logging

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const capturePrefix = "bursts_"

// CaptureRotator records the exact bytes sent on the telemetry link into
// one file per day. Finished days are gzip-compressed.
type CaptureRotator struct {
	dir         string
	useUTC      bool
	logger      *logrus.Logger
	currentFile *os.File
	currentDate string
	mutex       sync.Mutex
	now         func() time.Time
	wg          sync.WaitGroup
}

// NewCaptureRotator creates the capture directory and opens today's file.
func NewCaptureRotator(dir string, useUTC bool, logger *logrus.Logger) (*CaptureRotator, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}

	r := &CaptureRotator{
		dir:    dir,
		useUTC: useUTC,
		logger: logger,
		now:    time.Now,
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if err := r.rotate(r.today()); err != nil {
		return nil, fmt.Errorf("failed to initialize capture file: %w", err)
	}

	return r, nil
}

// Start runs housekeeping until ctx is done: daily rotation and, when
// maxDays > 0, removal of old captures.
func (r *CaptureRotator) Start(ctx context.Context, maxDays int) {
	r.logger.Info("Starting capture rotator")

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Capture rotator stopping")
			return
		case <-ticker.C:
			r.checkRotation()
			if maxDays > 0 {
				if err := r.CleanupOldCaptures(maxDays); err != nil {
					r.logger.WithError(err).Warn("Failed to clean up captures")
				}
			}
		}
	}
}

func (r *CaptureRotator) today() string {
	now := r.now()
	if r.useUTC {
		now = now.UTC()
	}
	return now.Format("2006-01-02")
}

func (r *CaptureRotator) checkRotation() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.rotateIfNeeded(); err != nil {
		r.logger.WithError(err).Error("Failed to rotate capture file")
	}
}

// rotateIfNeeded must be called with the mutex held.
func (r *CaptureRotator) rotateIfNeeded() error {
	date := r.today()
	if date == r.currentDate {
		return nil
	}

	r.logger.WithFields(logrus.Fields{
		"old_date": r.currentDate,
		"new_date": date,
	}).Info("Rotating capture file")

	return r.rotate(date)
}

// rotate must be called with the mutex held.
func (r *CaptureRotator) rotate(date string) error {
	if r.currentFile != nil {
		if err := r.currentFile.Close(); err != nil {
			r.logger.WithError(err).Error("Failed to close old capture file")
		}
		r.currentFile = nil

		if r.currentDate != date {
			oldPath := r.pathFor(r.currentDate)
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				r.compress(oldPath)
			}()
		}
	}

	path := r.pathFor(date)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create capture file %s: %w", path, err)
	}

	r.currentFile = file
	r.currentDate = date

	r.logger.WithField("file", path).Info("Opened capture file")
	return nil
}

func (r *CaptureRotator) pathFor(date string) string {
	return filepath.Join(r.dir, capturePrefix+date+".bin")
}

// Write appends p to the current capture file. Callers pass whole bursts so
// a burst never straddles two files.
func (r *CaptureRotator) Write(p []byte) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.currentFile == nil {
		return 0, fmt.Errorf("capture rotator closed")
	}
	if err := r.rotateIfNeeded(); err != nil {
		return 0, err
	}
	return r.currentFile.Write(p)
}

// compress gzips a finished capture file and removes the original.
func (r *CaptureRotator) compress(path string) {
	gzPath := path + ".gz"

	r.logger.WithFields(logrus.Fields{
		"source": path,
		"target": gzPath,
	}).Info("Compressing capture file")

	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.WithField("file", path).Debug("Capture file doesn't exist, skipping compression")
			return
		}
		r.logger.WithError(err).WithField("file", path).Error("Failed to open capture file for compression")
		return
	}
	defer src.Close()

	dst, err := os.Create(gzPath)
	if err != nil {
		r.logger.WithError(err).WithField("file", gzPath).Error("Failed to create compressed file")
		return
	}
	defer dst.Close()

	gz := gzip.NewWriter(dst)
	gz.Name = filepath.Base(path)
	gz.ModTime = time.Now()

	if _, err := io.Copy(gz, src); err != nil {
		r.logger.WithError(err).Error("Failed to compress capture file")
		return
	}
	if err := gz.Close(); err != nil {
		r.logger.WithError(err).Error("Failed to close gzip writer")
		return
	}
	if err := dst.Close(); err != nil {
		r.logger.WithError(err).Error("Failed to close compressed file")
		return
	}

	if err := os.Remove(path); err != nil {
		r.logger.WithError(err).WithField("file", path).Error("Failed to remove original capture file")
		return
	}

	r.logger.WithField("file", gzPath).Info("Capture file compressed")
}

// Close closes the current file and waits for pending compression.
func (r *CaptureRotator) Close() error {
	r.mutex.Lock()
	var err error
	if r.currentFile != nil {
		err = r.currentFile.Close()
		r.currentFile = nil
	}
	r.mutex.Unlock()

	r.wg.Wait()
	return err
}

// CurrentFile returns the path of the file being written.
func (r *CaptureRotator) CurrentFile() string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.currentDate == "" {
		return ""
	}
	return r.pathFor(r.currentDate)
}

// CaptureFiles lists every capture file, compressed or not.
func (r *CaptureRotator) CaptureFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(r.dir, capturePrefix+"*.bin*"))
	if err != nil {
		return nil, fmt.Errorf("failed to list capture files: %w", err)
	}
	return files, nil
}

// CleanupOldCaptures removes captures last modified more than maxDays ago.
func (r *CaptureRotator) CleanupOldCaptures(maxDays int) error {
	if maxDays <= 0 {
		return fmt.Errorf("maxDays must be positive")
	}

	files, err := r.CaptureFiles()
	if err != nil {
		return err
	}

	cutoff := r.now().AddDate(0, 0, -maxDays)
	current := r.CurrentFile()

	removed := 0
	for _, file := range files {
		if file == current {
			continue
		}

		info, err := os.Stat(file)
		if err != nil {
			r.logger.WithError(err).WithField("file", file).Warn("Failed to stat capture file")
			continue
		}

		if info.ModTime().Before(cutoff) {
			if err := os.Remove(file); err != nil {
				r.logger.WithError(err).WithField("file", file).Error("Failed to remove old capture file")
			} else {
				removed++
			}
		}
	}

	if removed > 0 {
		r.logger.WithField("count", removed).Info("Cleaned up old capture files")
	}
	return nil
}

package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// TestCaptureRotator_New tests creation of the capture directory and file
func TestCaptureRotator_New(t *testing.T) {
	tests := []struct {
		name   string
		subdir string
		useUTC bool
	}{
		{name: "Flat directory", subdir: "captures", useUTC: false},
		{name: "UTC timezone", subdir: "captures_utc", useUTC: true},
		{name: "Nested directory", subdir: "nested/capture/dir", useUTC: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), tt.subdir)

			rotator, err := NewCaptureRotator(dir, tt.useUTC, quietLogger())
			require.NoError(t, err)
			require.NotNil(t, rotator)
			defer rotator.Close()

			assert.DirExists(t, dir)

			current := rotator.CurrentFile()
			assert.FileExists(t, current)

			now := time.Now()
			if tt.useUTC {
				now = now.UTC()
			}
			assert.Equal(t, "bursts_"+now.Format("2006-01-02")+".bin", filepath.Base(current))
		})
	}
}

// TestCaptureRotator_Write tests that bytes land unchanged in the file
func TestCaptureRotator_Write(t *testing.T) {
	rotator, err := NewCaptureRotator(t.TempDir(), true, quietLogger())
	require.NoError(t, err)
	defer rotator.Close()

	burst := []byte{0x41, 0x42, 0x43, 0x44, 0xFF, 0xFF, 0xFF, 0xFF}
	n, err := rotator.Write(burst)
	require.NoError(t, err)
	assert.Equal(t, len(burst), n)

	content, err := os.ReadFile(rotator.CurrentFile())
	require.NoError(t, err)
	assert.Equal(t, burst, content)
}

// TestCaptureRotator_DateRotation tests rotation and compression when the day changes
func TestCaptureRotator_DateRotation(t *testing.T) {
	dir := t.TempDir()
	rotator, err := NewCaptureRotator(dir, true, quietLogger())
	require.NoError(t, err)
	defer rotator.Close()

	day1 := time.Date(2024, 11, 10, 23, 59, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Minute)

	// Start the first day from a known date
	rotator.mutex.Lock()
	rotator.now = func() time.Time { return day1 }
	require.NoError(t, rotator.rotateIfNeeded())
	rotator.mutex.Unlock()

	_, err = rotator.Write([]byte("first day"))
	require.NoError(t, err)
	firstFile := rotator.CurrentFile()

	rotator.mutex.Lock()
	rotator.now = func() time.Time { return day2 }
	rotator.mutex.Unlock()

	_, err = rotator.Write([]byte("second day"))
	require.NoError(t, err)

	secondFile := rotator.CurrentFile()
	assert.NotEqual(t, firstFile, secondFile)
	assert.Equal(t, filepath.Join(dir, "bursts_2024-11-11.bin"), secondFile)

	// Wait for background compression
	rotator.wg.Wait()

	assert.NoFileExists(t, firstFile)
	gzPath := firstFile + ".gz"
	require.FileExists(t, gzPath)

	f, err := os.Open(gzPath)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()
	content, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "first day", string(content))

	content, err = os.ReadFile(secondFile)
	require.NoError(t, err)
	assert.Equal(t, "second day", string(content))
}

// TestCaptureRotator_CaptureFiles tests listing of capture files
func TestCaptureRotator_CaptureFiles(t *testing.T) {
	dir := t.TempDir()
	rotator, err := NewCaptureRotator(dir, false, quietLogger())
	require.NoError(t, err)
	defer rotator.Close()

	testFiles := []string{
		"bursts_2023-01-01.bin",
		"bursts_2023-01-02.bin.gz",
	}
	for _, name := range testFiles {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0644))

	files, err := rotator.CaptureFiles()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range files {
		names[filepath.Base(f)] = true
	}
	for _, name := range testFiles {
		assert.True(t, names[name], "expected %s", name)
	}
	assert.False(t, names["unrelated.txt"])
	assert.True(t, names[filepath.Base(rotator.CurrentFile())])
}

// TestCaptureRotator_CleanupOldCaptures tests age-based removal
func TestCaptureRotator_CleanupOldCaptures(t *testing.T) {
	dir := t.TempDir()
	rotator, err := NewCaptureRotator(dir, false, quietLogger())
	require.NoError(t, err)
	defer rotator.Close()

	oldFile := filepath.Join(dir, "bursts_2023-01-01.bin.gz")
	require.NoError(t, os.WriteFile(oldFile, []byte("old"), 0644))
	oldTime := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))

	recentFile := filepath.Join(dir, "bursts_2023-12-31.bin")
	require.NoError(t, os.WriteFile(recentFile, []byte("recent"), 0644))

	require.NoError(t, rotator.CleanupOldCaptures(5))

	assert.NoFileExists(t, oldFile)
	assert.FileExists(t, recentFile)
	assert.FileExists(t, rotator.CurrentFile())

	err = rotator.CleanupOldCaptures(0)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "maxDays must be positive")
}

// TestCaptureRotator_Close tests that writes fail after Close
func TestCaptureRotator_Close(t *testing.T) {
	rotator, err := NewCaptureRotator(t.TempDir(), false, quietLogger())
	require.NoError(t, err)

	_, err = rotator.Write([]byte("data"))
	require.NoError(t, err)

	assert.NoError(t, rotator.Close())

	_, err = rotator.Write([]byte("more"))
	assert.Error(t, err)
}

// TestCaptureRotator_ConcurrentWrites tests that whole writes are never interleaved
func TestCaptureRotator_ConcurrentWrites(t *testing.T) {
	rotator, err := NewCaptureRotator(t.TempDir(), false, quietLogger())
	require.NoError(t, err)
	defer rotator.Close()

	const workers = 8
	const writes = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < writes; j++ {
				if _, err := rotator.Write([]byte(fmt.Sprintf("w%d-%03d;", id, j))); err != nil {
					t.Errorf("Write failed: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	content, err := os.ReadFile(rotator.CurrentFile())
	require.NoError(t, err)
	assert.Len(t, content, workers*writes*len("w0-000;"))
	assert.Contains(t, string(content), "w0-000;")
	assert.Contains(t, string(content), fmt.Sprintf("w%d-%03d;", workers-1, writes-1))
}

// BenchmarkCaptureRotator_Write benchmarks writing one burst
func BenchmarkCaptureRotator_Write(b *testing.B) {
	rotator, err := NewCaptureRotator(b.TempDir(), false, quietLogger())
	require.NoError(b, err)
	defer rotator.Close()

	burst := make([]byte, 28*20+4)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := rotator.Write(burst); err != nil {
			b.Fatal(err)
		}
	}
}

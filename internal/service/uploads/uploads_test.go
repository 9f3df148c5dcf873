package uploads_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ugoplus/smartcvnaija/internal/domain"
	"github.com/Ugoplus/smartcvnaija/internal/service/uploads"
)

func newManager(t *testing.T) *uploads.Manager {
	t.Helper()
	m, err := uploads.New(t.TempDir(), slog.Default())
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestSaveReadDelete(t *testing.T) {
	m := newManager(t)
	data := []byte("%PDF-1.4 test")

	path, err := m.Save("2348012345678", ".pdf", data)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "cv_2348012345678_"))
	assert.True(t, strings.HasSuffix(path, ".pdf"))

	got, err := m.Read(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, m.Delete(path))
	_, err = m.Read(path)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// deleting again is fine
	assert.NoError(t, m.Delete(path))
}

func TestSaveSanitizesIdentifier(t *testing.T) {
	m := newManager(t)

	path, err := m.Save("../../etc/passwd", ".pdf", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, m.Dir(), filepath.Dir(path))
	assert.Contains(t, filepath.Base(path), "cv_etcpasswd_")
}

func TestReadRefusesEscapingPath(t *testing.T) {
	m := newManager(t)

	_, err := m.Read(filepath.Join(m.Dir(), "..", "secret"))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = m.Read("/etc/hostname")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestScheduleDelete(t *testing.T) {
	m := newManager(t)

	path, err := m.Save("2348012345678", ".pdf", []byte("x"))
	require.NoError(t, err)

	m.ScheduleDelete(path, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDeleteCancelsTimer(t *testing.T) {
	m := newManager(t)

	path, err := m.Save("2348012345678", ".pdf", []byte("x"))
	require.NoError(t, err)
	m.ScheduleDelete(path, 30*time.Millisecond)
	require.NoError(t, m.Delete(path))

	// the fired timer must not error on the already-deleted file
	time.Sleep(60 * time.Millisecond)
	_, err = m.Read(path)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSweep(t *testing.T) {
	m := newManager(t)

	oldPath, err := m.Save("2348012345678", ".pdf", []byte("old"))
	require.NoError(t, err)
	keptPath, err := m.Save("2348098765432", ".docx", []byte("kept"))
	require.NoError(t, err)
	freshPath, err := m.Save("2347011122233", ".pdf", []byte("fresh"))
	require.NoError(t, err)

	// age two files past the cutoff
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))
	require.NoError(t, os.Chtimes(keptPath, past, past))

	// a stray non-upload file is never touched
	stray := filepath.Join(m.Dir(), "notes.txt")
	require.NoError(t, os.WriteFile(stray, []byte("keep"), 0o640))
	require.NoError(t, os.Chtimes(stray, past, past))

	removed, err := m.Sweep(time.Hour, func(path string) bool {
		return path == keptPath
	})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = m.Read(oldPath)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = m.Read(keptPath)
	assert.NoError(t, err)
	_, err = m.Read(freshPath)
	assert.NoError(t, err)
	_, err = os.Stat(stray)
	assert.NoError(t, err)
}

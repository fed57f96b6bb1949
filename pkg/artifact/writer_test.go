package artifact

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job_abc_1.pdb")

	data := []byte("HEADER    TEST STRUCTURE\nEND\n")
	require.NoError(t, WriteAtomic(path, data))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "job_abc_1.pdb", entries[0].Name())
}

func TestWriteAtomic_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "structures")
	path := filepath.Join(dir, "job_abc_1.pdb")

	require.NoError(t, WriteAtomic(path, []byte("END\n")))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestWriteAtomic_ConcurrentWriters(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job_abc_1.pdb")

	// Two distinct full payloads; a reader must only ever see one of them
	// in full, never a truncation or interleaving.
	payloadA := bytes.Repeat([]byte("AAAAAAAA\n"), 2048)
	payloadB := bytes.Repeat([]byte("BBBBBBBB\n"), 2048)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := payloadA
			if i%2 == 1 {
				p = payloadB
			}
			assert.NoError(t, WriteAtomic(path, p))
		}(i)
	}
	wg.Wait()

	got, err := Read(path)
	require.NoError(t, err)
	if !bytes.Equal(got, payloadA) && !bytes.Equal(got, payloadB) {
		t.Fatalf("reader observed a torn write (%d bytes)", len(got))
	}
}

func TestStructurePath(t *testing.T) {
	p := StructurePath("/data/structures", "job_abc", 3)
	assert.True(t, strings.HasSuffix(p, "job_abc_3.pdb"))
}

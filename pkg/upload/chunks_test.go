package upload

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUploadID(t *testing.T) {
	id := NewUploadID()
	assert.True(t, strings.HasPrefix(id, "u_"))
	assert.True(t, ValidUploadID(id))

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewUploadID()
		require.False(t, seen[id], "duplicate upload id %s", id)
		seen[id] = true
	}
}

func TestValidUploadID(t *testing.T) {
	assert.True(t, ValidUploadID("u_abc123"))
	assert.False(t, ValidUploadID("u_"))
	assert.False(t, ValidUploadID("abc123"))
	assert.False(t, ValidUploadID(""))
}

func TestNormalizeChunkSize(t *testing.T) {
	tests := []struct {
		name     string
		desired  int64
		fileSize int64
		want     int64
	}{
		{"default on zero", 0, 10 * MiB, DefaultChunkSize},
		{"default on negative", -1, 10 * MiB, DefaultChunkSize},
		{"clamped to minimum", 1024, 10 * MiB, MinChunkSize},
		{"clamped to maximum", 500 * MiB, 10 * GiB, MaxChunkSize},
		{"capped to file size", DefaultChunkSize, 100_000, 100_000},
		{"passes through in range", 2 * MiB, 10 * MiB, 2 * MiB},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeChunkSize(tt.desired, tt.fileSize))
		})
	}
}

const (
	MiB = 1024 * 1024
	GiB = 1024 * MiB
)

func TestTotalChunks(t *testing.T) {
	assert.Equal(t, 3, TotalChunks(2_500_000, 1_000_000))
	assert.Equal(t, 1, TotalChunks(100, 1_000_000))
	assert.Equal(t, 2, TotalChunks(2_000_000, 1_000_000))
	assert.Equal(t, 0, TotalChunks(0, 1_000_000))
}

func TestExpectedChunkSize(t *testing.T) {
	// 2,500,000 bytes in 1,000,000-byte chunks: [1M, 1M, 500K].
	assert.Equal(t, int64(1_000_000), ExpectedChunkSize(0, 3, 2_500_000, 1_000_000))
	assert.Equal(t, int64(1_000_000), ExpectedChunkSize(1, 3, 2_500_000, 1_000_000))
	assert.Equal(t, int64(500_000), ExpectedChunkSize(2, 3, 2_500_000, 1_000_000))

	// Exact multiple: the last chunk is full-size.
	assert.Equal(t, int64(1_000_000), ExpectedChunkSize(1, 2, 2_000_000, 1_000_000))

	// Single-chunk file.
	assert.Equal(t, int64(100), ExpectedChunkSize(0, 1, 100, 1_000_000))
}

func TestMissingChunks(t *testing.T) {
	assert.Equal(t, []int{1}, MissingChunks([]int{0, 2}, 3))
	assert.Equal(t, []int{0, 1, 2}, MissingChunks(nil, 3))
	assert.Empty(t, MissingChunks([]int{0, 1, 2}, 3))
	assert.Equal(t, []int{1}, MissingChunks([]int{0, 0, 2}, 3))
}

func TestSortedChunks(t *testing.T) {
	in := []int{3, 1, 2}
	out := SortedChunks(in)
	assert.Equal(t, []int{1, 2, 3}, out)
	assert.Equal(t, []int{3, 1, 2}, in, "input must not be mutated")
}

func TestProgressPercent(t *testing.T) {
	assert.Equal(t, 0, ProgressPercent(0, 100))
	assert.Equal(t, 50, ProgressPercent(50, 100))
	assert.Equal(t, 100, ProgressPercent(100, 100))
	assert.Equal(t, 100, ProgressPercent(150, 100))
	assert.Equal(t, 0, ProgressPercent(10, 0))
}

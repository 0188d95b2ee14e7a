package upload

import (
	"crypto/rand"
	"sort"
	"strconv"
	"strings"
	"time"
)

// base36 digits used for upload id generation.
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewUploadID generates a globally unique upload id of the form
// u_<base36 millisecond timestamp><8 base36 random chars>.
func NewUploadID() string {
	var b strings.Builder
	b.WriteString("u_")
	b.WriteString(strconv.FormatInt(time.Now().UnixMilli(), 36))

	buf := make([]byte, 8)
	// rand.Read never fails on supported platforms.
	_, _ = rand.Read(buf)
	for _, c := range buf {
		b.WriteByte(base36Alphabet[int(c)%len(base36Alphabet)])
	}
	return b.String()
}

// ValidUploadID reports whether s looks like an upload id: the "u_" prefix
// followed by at least one character.
func ValidUploadID(s string) bool {
	return strings.HasPrefix(s, "u_") && len(s) > 2
}

// NormalizeChunkSize clamps the desired chunk size into
// [MinChunkSize, MaxChunkSize] and caps it to fileSize so a session never
// has a chunk larger than the file. A zero or negative desired size selects
// DefaultChunkSize.
func NormalizeChunkSize(desired, fileSize int64) int64 {
	size := desired
	if size <= 0 {
		size = DefaultChunkSize
	}
	if size < MinChunkSize {
		size = MinChunkSize
	}
	if size > MaxChunkSize {
		size = MaxChunkSize
	}
	if size > fileSize {
		size = fileSize
	}
	return size
}

// TotalChunks returns ceil(fileSize / chunkSize).
func TotalChunks(fileSize, chunkSize int64) int {
	if fileSize <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((fileSize + chunkSize - 1) / chunkSize)
}

// ExpectedChunkSize returns the exact byte length chunk index must have.
// Every chunk is chunkSize bytes except the last, which carries the
// remainder fileSize - (totalChunks-1)*chunkSize.
func ExpectedChunkSize(index, totalChunks int, fileSize, chunkSize int64) int64 {
	if index == totalChunks-1 {
		return fileSize - int64(totalChunks-1)*chunkSize
	}
	return chunkSize
}

// MissingChunks returns the ascending complement of received over
// [0, totalChunks).
func MissingChunks(received []int, totalChunks int) []int {
	have := make(map[int]bool, len(received))
	for _, idx := range received {
		have[idx] = true
	}

	missing := make([]int, 0, totalChunks-len(have))
	for i := 0; i < totalChunks; i++ {
		if !have[i] {
			missing = append(missing, i)
		}
	}
	return missing
}

// SortedChunks returns a sorted copy of the given chunk indices.
func SortedChunks(indices []int) []int {
	out := make([]int, len(indices))
	copy(out, indices)
	sort.Ints(out)
	return out
}

// ProgressPercent returns min(100, round(bytesUploaded/totalBytes*100)).
func ProgressPercent(bytesUploaded, totalBytes int64) int {
	if totalBytes <= 0 {
		return 0
	}
	pct := int((float64(bytesUploaded)/float64(totalBytes))*100 + 0.5)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Package chunk partitions a blob into ordered, contiguous byte ranges that are
// uploaded independently.
package chunk

// Status is the upload state of a single chunk.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
)

// Chunk is the byte range [Start, End) of a blob. Only Progress and Status
// change after Split creates it.
type Chunk struct {
	Index    int     `json:"index"`
	Start    int64   `json:"start"`
	End      int64   `json:"end"`
	Digest   string  `json:"digest"`
	Progress float64 `json:"progress"`
	Status   Status  `json:"status"`
}

// Size returns End - Start.
func (c Chunk) Size() int64 { return c.End - c.Start }

// Done reports whether the chunk has been uploaded.
func (c Chunk) Done() bool { return c.Status == StatusSuccess }

// Count returns ceil(size / chunkSize), or 0 when either argument is not positive.
func Count(size, chunkSize int64) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// Split partitions [0, size) into Count(size, chunkSize) pending chunks tagged
// with the whole-blob digest. The final chunk may be shorter than chunkSize.
func Split(size, chunkSize int64, digest string) []Chunk {
	n := Count(size, chunkSize)
	if n == 0 {
		return nil
	}
	chunks := make([]Chunk, n)
	for i := range chunks {
		start := int64(i) * chunkSize
		end := min(start+chunkSize, size)
		chunks[i] = Chunk{
			Index:  i,
			Start:  start,
			End:    end,
			Digest: digest,
			Status: StatusPending,
		}
	}
	return chunks
}

// Sizes returns the size of each chunk in order.
func Sizes(chunks []Chunk) []int64 {
	out := make([]int64, len(chunks))
	for i, c := range chunks {
		out[i] = c.Size()
	}
	return out
}

package gpu_mirror

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-cull/common"
	"github.com/aukilabs/go-tooling/pkg/errors"
)

// HostUploaderStats counts the operations a HostUploader received.
type HostUploaderStats struct {
	Creates      int
	Writes       int
	BytesWritten int
}

// HostUploader keeps the mirrored arrays in process memory. It backs headless
// runs and lets tests inspect exactly what a device would receive.
type HostUploader struct {
	mu      sync.Mutex
	buffers [NumBuffers][]byte
	stats   HostUploaderStats
}

var _ Uploader = &HostUploader{}

// NewHostUploader creates an empty HostUploader.
//
// Returns:
//   - *HostUploader: the uploader
func NewHostUploader() *HostUploader {
	return &HostUploader{}
}

func (u *HostUploader) EnsureBuffer(id BufferID, size int) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if id < 0 || id >= NumBuffers {
		return false, errors.Newf("unknown buffer %d", id)
	}
	if u.buffers[id] != nil && len(u.buffers[id]) >= size {
		return false, nil
	}
	// Content is dropped like it is for a recreated device buffer.
	u.buffers[id] = make([]byte, common.GrowCapacity(len(u.buffers[id]), size))
	u.stats.Creates++
	return true, nil
}

func (u *HostUploader) Write(id BufferID, offset int, data []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if id < 0 || id >= NumBuffers {
		return errors.Newf("unknown buffer %d", id)
	}
	buf := u.buffers[id]
	if offset < 0 || offset+len(data) > len(buf) {
		return errors.New("buffer write out of range").
			WithTag("buffer", id.String()).
			WithTag("offset", offset).
			WithTag("size", len(data)).
			WithTag("buffer_size", len(buf))
	}
	copy(buf[offset:], data)
	u.stats.Writes++
	u.stats.BytesWritten += len(data)
	return nil
}

func (u *HostUploader) Release() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.buffers = [NumBuffers][]byte{}
}

// Bytes returns the current content of a buffer. The slice is owned by the uploader.
//
// Parameters:
//   - id: the buffer
//
// Returns:
//   - []byte: the buffer content, nil if it was never created
func (u *HostUploader) Bytes(id BufferID) []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.buffers[id]
}

// Stats returns the operation counts so far.
func (u *HostUploader) Stats() HostUploaderStats {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stats
}

// Package shm reads frames published by an external capture daemon through
// a POSIX shared memory ring buffer.
package shm

/*
#cgo LDFLAGS: -lrt -lpthread

#include <stdlib.h>
#include <stdint.h>
#include <time.h>
#include <sys/mman.h>
#include <fcntl.h>
#include <unistd.h>
#include <string.h>

#define RING_BUFFER_SIZE 30
#define MAX_FRAME_SIZE (1920 * 1080 * 3 / 2)

typedef struct {
    uint64_t frame_number;
    struct timespec timestamp;
    int camera_id;
    int width;
    int height;
    int format;
    size_t data_size;
    uint8_t data[MAX_FRAME_SIZE];
} Frame;

typedef struct {
    volatile uint32_t write_index;
    volatile uint32_t frame_interval_ms;
    Frame frames[RING_BUFFER_SIZE];
} SharedFrameBuffer;

static SharedFrameBuffer* open_shm(const char* name) {
    int fd = shm_open(name, O_RDONLY, 0666);
    if (fd == -1) {
        return NULL;
    }
    SharedFrameBuffer* shm = (SharedFrameBuffer*)mmap(
        NULL, sizeof(SharedFrameBuffer), PROT_READ, MAP_SHARED, fd, 0);
    close(fd);
    if (shm == MAP_FAILED) {
        return NULL;
    }
    return shm;
}

static void close_shm(SharedFrameBuffer* shm) {
    if (shm != NULL) {
        munmap((void*)shm, sizeof(SharedFrameBuffer));
    }
}

static uint32_t get_write_index(SharedFrameBuffer* shm) {
    return shm->write_index;
}

static int read_frame(SharedFrameBuffer* shm, uint32_t index, Frame* out) {
    if (index >= RING_BUFFER_SIZE) {
        return -1;
    }
    memcpy(out, &shm->frames[index], sizeof(Frame));
    return 0;
}
*/
import "C"

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"unsafe"

	"github.com/TheWiseOptimist/ShootOFF/internal/camera"
	"github.com/TheWiseOptimist/ShootOFF/internal/device"
	"github.com/TheWiseOptimist/ShootOFF/internal/logger"
)

const (
	// Format constants of the capture daemon
	FormatJPEG = 0
	FormatNV12 = 1
	FormatRGB  = 2

	RingBufferSize = 30
	MaxFrameSize   = 1920 * 1080 * 3 / 2

	// DefaultName is the segment published by the capture daemon.
	DefaultName = "/shootoff_camera"
)

// Reader is a camera.DeviceSource backed by shared memory.
type Reader struct {
	name string

	mu        sync.Mutex
	shm       *C.SharedFrameBuffer
	lastIndex uint32
	size      image.Point
}

// NewReader creates a reader for the named segment. The segment is mapped
// on Open.
func NewReader(name string) *Reader {
	if name == "" {
		name = DefaultName
	}
	return &Reader{name: name}
}

func (r *Reader) Name() string { return "shm:" + r.name }

func (r *Reader) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shm != nil
}

// Open maps the segment. The frame size is dictated by the daemon; the
// size of the latest published frame is returned, or the requested size
// when nothing has been published yet.
func (r *Reader) Open(size image.Point) image.Point {
	cName := C.CString(r.name)
	defer C.free(unsafe.Pointer(cName))

	shm := C.open_shm(cName)
	if shm == nil {
		logger.Error("Device", "Failed to open shared memory %s", r.name)
		return image.Pt(camera.SizeUnavailable, camera.SizeUnavailable)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.shm = shm
	r.lastIndex = uint32(C.get_write_index(shm))
	r.size = size

	if r.lastIndex > 0 {
		var cFrame C.Frame
		if C.read_frame(shm, C.uint32_t((r.lastIndex-1)%RingBufferSize), &cFrame) == 0 {
			r.size = image.Pt(int(cFrame.width), int(cFrame.height))
		}
	}
	logger.Info("Device", "Opened shared memory %s (%s)", r.name, r.size)
	return r.size
}

// IsImageNew reports whether the write index moved since the last frame.
func (r *Reader) IsImageNew() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shm == nil {
		return false
	}
	return uint32(C.get_write_index(r.shm)) != r.lastIndex
}

// GetFrame converts the latest published frame to RGBA.
func (r *Reader) GetFrame() *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shm == nil {
		return nil
	}

	writeIndex := uint32(C.get_write_index(r.shm))
	if writeIndex == 0 {
		return nil
	}
	r.lastIndex = writeIndex

	var cFrame C.Frame
	if C.read_frame(r.shm, C.uint32_t((writeIndex-1)%RingBufferSize), &cFrame) != 0 {
		return nil
	}
	img, err := convertFrame(&cFrame)
	if err != nil {
		logger.Warn("Device", "Frame %d: %v", uint64(cFrame.frame_number), err)
		return nil
	}
	return img
}

func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shm != nil {
		C.close_shm(r.shm)
		r.shm = nil
	}
	return nil
}

func convertFrame(cFrame *C.Frame) (*image.RGBA, error) {
	dataSize := int(cFrame.data_size)
	if dataSize < 0 || dataSize > MaxFrameSize {
		return nil, fmt.Errorf("invalid frame size %d", dataSize)
	}
	data := (*[MaxFrameSize]byte)(unsafe.Pointer(&cFrame.data[0]))[:dataSize:dataSize]
	w, h := int(cFrame.width), int(cFrame.height)

	switch int(cFrame.format) {
	case FormatNV12:
		return device.NV12ToRGBA(data, w, h)
	case FormatRGB:
		if len(data) < w*h*3 {
			return nil, fmt.Errorf("rgb: %d bytes for %dx%d", len(data), w, h)
		}
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for i, j := 0, 0; i < w*h; i, j = i+1, j+3 {
			img.Pix[i*4] = data[j]
			img.Pix[i*4+1] = data[j+1]
			img.Pix[i*4+2] = data[j+2]
			img.Pix[i*4+3] = 0xff
		}
		return img, nil
	case FormatJPEG:
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("jpeg: %w", err)
		}
		return device.ToRGBA(img), nil
	default:
		return nil, fmt.Errorf("unsupported format %d", int(cFrame.format))
	}
}

// Package mempool recycles the large per-page scratch buffers of inference
// and inpainting: input tensors, mask planes and diffusion bookkeeping.
package mempool

import "sync"

const (
	minClass  = 1024
	classStep = 4096
)

// sizeClass rounds n up to the bucket that serves it.
func sizeClass(n int) int {
	if n <= minClass {
		return minClass
	}
	return (n + classStep - 1) / classStep * classStep
}

// buckets keeps one sync.Pool per size class.
type buckets[T any] struct {
	pools sync.Map // size class -> *sync.Pool
}

func (b *buckets[T]) pool(cls int) *sync.Pool {
	p, _ := b.pools.LoadOrStore(cls, &sync.Pool{New: func() any {
		buf := make([]T, cls)
		return &buf
	}})
	return p.(*sync.Pool)
}

func (b *buckets[T]) get(n int) []T {
	cls := sizeClass(n)
	buf := *(b.pool(cls).Get().(*[]T))
	if cap(buf) < cls {
		buf = make([]T, cls)
	}
	return buf[:n]
}

func (b *buckets[T]) put(buf []T) {
	if cap(buf) < minClass {
		return
	}
	// Only exact class capacities go back so get never sees a short buffer.
	cls := cap(buf)
	if sizeClass(cls) != cls {
		return
	}
	buf = buf[:cls]
	b.pool(cls).Put(&buf)
}

var (
	floats buckets[float32]
	flags  buckets[bool]
)

// GetFloat32 returns a buffer of length n. Its contents are undefined.
func GetFloat32(n int) []float32 { return floats.get(n) }

// PutFloat32 hands a buffer from GetFloat32 back. Nil is ignored.
func PutFloat32(buf []float32) { floats.put(buf) }

// GetBool returns a zeroed buffer of length n.
func GetBool(n int) []bool {
	buf := flags.get(n)
	clear(buf)
	return buf
}

// PutBool hands a buffer from GetBool back. Nil is ignored.
func PutBool(buf []bool) { flags.put(buf) }

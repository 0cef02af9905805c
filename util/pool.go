package util

import "sync"

// bufPool holds DefaultBufSize scratch buffers for the relay copy loops,
// one pair per active session.
var bufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DefaultBufSize)
		return &buf
	},
}

// GetBuf retrieves a buffer from the pool.  Callers must return it
// with [PutBuf] when finished.
func GetBuf() *[]byte {
	return bufPool.Get().(*[]byte)
}

// PutBuf returns a buffer to the pool.  Nil and undersized buffers are
// dropped.
func PutBuf(buf *[]byte) {
	if buf == nil || cap(*buf) < DefaultBufSize {
		return
	}
	*buf = (*buf)[:DefaultBufSize]
	bufPool.Put(buf)
}

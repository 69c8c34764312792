package segstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegment_AppendBlobInvariant(t *testing.T) {
	seg := NewSegment("chunk-stream0-00001.m4s")

	for k := 0; k < 3; k++ {
		seg.AppendBlob([]byte{byte(k)})
		seg.mu.Lock()
		got := len(seg.chunks)
		seg.mu.Unlock()
		assert.Equal(t, k+2, got, "chunk list length after signaling chunk %d", k)
	}
}

func TestSegment_CompletedDataIsConcatenation(t *testing.T) {
	seg := NewSegment("chunk-stream0-00001.m4s")
	seg.AppendBlob([]byte("foo"))
	seg.AppendBlob([]byte("bar"))
	seg.Complete()

	require.True(t, seg.Completed())
	assert.Equal(t, []byte("foobar"), seg.CompletedData())
}

func TestSegment_ReaderSeesOrderedBytesWhileGrowing(t *testing.T) {
	seg := NewSegment("chunk-stream0-00001.m4s")
	seg.SignalFirstByte()

	var wg sync.WaitGroup
	var got []byte
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx := context.Background()
		i := 0
		for {
			c := seg.ChunkAt(i)
			if c == nil {
				break
			}
			subCtx, cancel := context.WithTimeout(ctx, time.Second)
			ok := c.Wait(subCtx)
			cancel()
			if !ok {
				return
			}
			if data := c.Data(); data != nil {
				got = append(got, data...)
			}
			i++
		}
	}()

	time.Sleep(10 * time.Millisecond)
	seg.AppendBlob([]byte("abc"))
	time.Sleep(10 * time.Millisecond)
	seg.AppendBlob([]byte("def"))
	seg.Complete()

	wg.Wait()
	assert.Equal(t, []byte("abcdef"), got)
}

func TestSegment_ManyConcurrentReadersSeeSameBytes(t *testing.T) {
	seg := NewSegment("chunk-stream0-00001.m4s")

	const nReaders = 10
	results := make([][]byte, nReaders)
	var wg sync.WaitGroup
	for r := 0; r < nReaders; r++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			i := 0
			for {
				c := seg.ChunkAt(i)
				if c == nil {
					time.Sleep(time.Millisecond)
					continue
				}
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				ok := c.Wait(ctx)
				cancel()
				if !ok {
					return
				}
				if data := c.Data(); data != nil {
					results[idx] = append(results[idx], data...)
				}
				i++
				if seg.Completed() && i >= func() int {
					seg.mu.Lock()
					defer seg.mu.Unlock()
					return len(seg.chunks)
				}() {
					return
				}
			}
		}(r)
	}

	blobs := [][]byte{[]byte("one-"), []byte("two-"), []byte("three")}
	for _, b := range blobs {
		seg.AppendBlob(b)
		time.Sleep(time.Millisecond)
	}
	seg.Complete()

	wg.Wait()
	want := []byte("one-two-three")
	for r := 0; r < nReaders; r++ {
		assert.Equal(t, want, results[r], "reader %d", r)
	}
}

func TestChunk_WaitTimesOutWithoutSignal(t *testing.T) {
	c := newChunk()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, c.Wait(ctx))
}

func TestInitialSegment_SetThenWait(t *testing.T) {
	initSeg := NewInitialSegment()
	go func() {
		time.Sleep(5 * time.Millisecond)
		initSeg.Set([]byte("header-bytes"))
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.True(t, initSeg.Wait(ctx))
	assert.Equal(t, []byte("header-bytes"), initSeg.Data())
}

func TestInitialSegment_WaitTimesOut(t *testing.T) {
	initSeg := NewInitialSegment()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.False(t, initSeg.Wait(ctx))
}

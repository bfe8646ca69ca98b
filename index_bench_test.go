package ordex

import (
	"fmt"
	"path/filepath"
	"testing"
)

const benchKeys = 10000

func benchIndex(b *testing.B, onDisk bool) *Index {
	b.Helper()
	var opts []Option
	if onDisk {
		opts = append(opts, WithFile(filepath.Join(b.TempDir(), "bench.odx")))
	}
	idx, err := New(TypeString, true, opts...)
	if err != nil {
		b.Fatalf("open index: %v", err)
	}
	b.Cleanup(func() { _ = idx.Close() })
	return idx
}

func benchKey(i int) Key {
	return StringKey(fmt.Sprintf("key%08d", i))
}

func BenchmarkIndexGet(b *testing.B) {
	for _, onDisk := range []bool{false, true} {
		b.Run(fmt.Sprintf("disk=%v", onDisk), func(b *testing.B) {
			idx := benchIndex(b, onDisk)
			for i := 0; i < benchKeys; i++ {
				if _, err := idx.Put(benchKey(i), ObjectID(i)); err != nil {
					b.Fatalf("populate: %v", err)
				}
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, _, err := idx.Get(benchKey((i * 7) % benchKeys)); err != nil {
					b.Errorf("get failed: %v", err)
				}
			}
		})
	}
}

func BenchmarkIndexPut(b *testing.B) {
	for _, onDisk := range []bool{false, true} {
		b.Run(fmt.Sprintf("disk=%v", onDisk), func(b *testing.B) {
			idx := benchIndex(b, onDisk)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := idx.Put(benchKey(i), ObjectID(i)); err != nil {
					b.Errorf("put failed: %v", err)
				}
			}
		})
	}
}

func BenchmarkIndexScan(b *testing.B) {
	idx := benchIndex(b, false)
	for i := 0; i < benchKeys; i++ {
		if _, err := idx.Put(benchKey(i), ObjectID(i)); err != nil {
			b.Fatalf("populate: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		it := idx.Iterator(benchKey(1000), benchKey(2000), Ascending)
		n := 0
		for it.Next() {
			n++
		}
		if n != 1001 {
			b.Fatalf("scanned %d entries", n)
		}
	}
}

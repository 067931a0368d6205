package abi_test

import (
	"testing"

	"github.com/reglet-dev/memexchange/internal/abi"
	"github.com/reglet-dev/memexchange/internal/linear"
)

func BenchmarkPutParseRef(b *testing.B) {
	buf := make([]byte, abi.RefSize)
	ref := abi.SizedRef{Ptr: 0x1000, Len: 4096}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		abi.PutRef(buf, ref)
		_ = abi.ParseRef(buf)
	}
}

func BenchmarkDecode(b *testing.B) {
	mem := linear.New(1, 1)
	if err := abi.WriteRef(mem, 1024, abi.SizedRef{Ptr: 2048, Len: 512}); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := abi.Decode(mem, 1024); err != nil {
			b.Fatal(err)
		}
	}
}

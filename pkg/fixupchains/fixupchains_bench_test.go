package fixupchains

import (
	"testing"

	"github.com/appsworld/go-linkedit/types"
)

const (
	benchPageSize  = 0x4000
	benchPageCount = 100
	benchSpacing   = 0x100 // bytes between fixups of a chain
)

// syntheticImage builds a DYLD_CHAINED_PTR_64 image whose every page holds one
// chain of pageSize/spacing rebases, with every tenth page left empty
func syntheticImage(b *testing.B) (*DyldChainedFixups, types.MemorySource) {
	b.Helper()

	pageStarts := make([]types.DCPtrStart, benchPageCount)
	img := make([]byte, benchPageSize*benchPageCount)
	for page := range pageStarts {
		if page%10 == 9 {
			pageStarts[page] = types.DYLD_CHAINED_PTR_START_NONE
			continue
		}
		for off := 0; off < benchPageSize; off += benchSpacing {
			next := uint64(benchSpacing / 4)
			if off+benchSpacing >= benchPageSize {
				next = 0
			}
			put64(img, page*benchPageSize+off, next<<51|uint64(0x100000000+off))
		}
	}

	dcf := parse(b, payload{
		segments: []*segment{{
			format:     types.DYLD_CHAINED_PTR_64,
			pageSize:   benchPageSize,
			pageCount:  benchPageCount,
			pageStarts: pageStarts,
		}},
	})
	return dcf, types.MemorySource(img)
}

func BenchmarkWalk(b *testing.B) {
	dcf, src := syntheticImage(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := dcf.Walk(src, func(Pointer) error { return nil }); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPointerFor(b *testing.B) {
	dcf, src := syntheticImage(b)

	// hits early and late in a chain, misaligned misses and an empty page
	offsets := []uint64{
		0x100,
		benchPageSize + 0x3f00,
		benchPageSize*20 + 1,
		benchPageSize * 9,
		benchPageSize*50 + 0x2000,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = dcf.PointerFor(src, offsets[i%len(offsets)])
	}
}

package vectorstore

import "golang.org/x/sys/cpu"

// hasAVX2 records whether the host CPU advertises AVX2, probed once at
// package init. The dot-product kernel below is pure Go regardless of the
// result — the assembly kernels this was adapted from are not part of this
// tree — but the capability is still queried and kept available for a
// later architecture-specific kernel without re-plumbing the call site.
var hasAVX2 = cpu.X86.HasAVX2

// dotProductUnrolled computes the dot product of two equal-length float32
// vectors with 4-way loop unrolling for better instruction-level
// parallelism on the scalar path.
func dotProductUnrolled(a, b []float32) float32 {
	n := len(a)
	var sum0, sum1, sum2, sum3 float32
	i := 0
	for ; i <= n-4; i += 4 {
		sum0 += a[i] * b[i]
		sum1 += a[i+1] * b[i+1]
		sum2 += a[i+2] * b[i+2]
		sum3 += a[i+3] * b[i+3]
	}
	for ; i < n; i++ {
		sum0 += a[i] * b[i]
	}
	return sum0 + sum1 + sum2 + sum3
}

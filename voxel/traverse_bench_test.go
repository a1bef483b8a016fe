package voxel

import "testing"

var benchSink []Index

func BenchmarkTraverseDDA(b *testing.B) {
	b.ReportAllocs()
	start := Point3{0.1, 0.2, 0.3}
	end := Point3{25.3, 14.9, 9.7}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		benchSink = TraverseDDA(start, end, 0.1)
	}
}

func BenchmarkTraverseBresenham3D(b *testing.B) {
	b.ReportAllocs()
	start := Point3{0.1, 0.2, 0.3}
	end := Point3{25.3, 14.9, 9.7}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		benchSink = TraverseBresenham3D(start, end, 0.1)
	}
}

func BenchmarkTraverseAmanatidesWoo(b *testing.B) {
	b.ReportAllocs()
	start := Point3{0.1, 0.2, 0.3}
	end := Point3{25.3, 14.9, 9.7}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		benchSink, _ = TraverseAmanatidesWoo(start, end, 0.1)
	}
}

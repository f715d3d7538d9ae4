//go:build perf

package perf

import "testing"

var smallConfig = perfConfig{
	Entities:  1000,
	BatchSize: 50,
	Lookups:   1000,
}

func BenchmarkSpawnSmall(b *testing.B) {
	benchmarkSpawn(b, smallConfig)
}

func BenchmarkBatchSpawnSmall(b *testing.B) {
	benchmarkBatchSpawn(b, smallConfig)
}

func BenchmarkGetRelativeSmall(b *testing.B) {
	benchmarkGetRelative(b, smallConfig)
}

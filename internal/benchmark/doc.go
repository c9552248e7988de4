// Package benchmark times repeated weight transfers over a session and
// reports duration and throughput statistics.
package benchmark

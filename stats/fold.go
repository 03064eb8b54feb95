// Package stats folds raw collector snapshots into the rates and
// derived ratios the cluster status cascades consume (spec §4.B).
/*
 * Copyright (c) 2024, mastermind authors. All rights reserved.
 */
package stats

// Naming convention, mirrored from the teacher's stats package:
//  -> "*.n"   - counter
//  -> "*.bps" - throughput (bytes/sec)
//  -> "*.pct" - utilization fraction of 1.0
const (
	NetTxRate = "net.tx.bps"
	NetRxRate = "net.rx.bps"

	DiskReadRate  = "disk.read.bps"
	DiskWriteRate = "disk.write.bps"

	DiskUtilRead  = "disk.util.read.pct"
	DiskUtilWrite = "disk.util.write.pct"
)

// minDelta is the floor guard of spec §4.B: a fold with Δt <= 1s is
// ignored and the previously computed rate is kept as-is.
const minDelta = 1

// RateFold is a monotone-counter unidirectional map (spec §4.B): given a
// cumulative counter's value at successive timestamps, it derives a rate,
// holding the rate steady across counter wraps, process restarts, and
// samples too close together to divide meaningfully.
type RateFold struct {
	known  bool
	prevV  uint64
	prevTS int64
	rate   float64
}

// Update folds in one new (value, ts) observation and returns the rate in
// effect after the fold.
func (f *RateFold) Update(value uint64, ts int64) float64 {
	if !f.known {
		f.known = true
		f.prevV, f.prevTS = value, ts
		return f.rate
	}
	dt := ts - f.prevTS
	if dt > minDelta && value >= f.prevV {
		f.rate = float64(value-f.prevV) / float64(dt)
	}
	f.prevV, f.prevTS = value, ts
	return f.rate
}

func (f *RateFold) Rate() float64 { return f.rate }

// DiskUtilFold derives the read/write disk-utilization split of spec
// §4.B from three monotone io-ticks-style counters.
type DiskUtilFold struct {
	known                             bool
	prevIOTicks, prevReadTicks, prevWriteTicks uint64
	prevTS                             int64
	utilRead, utilWrite                float64
}

// Update folds in one new (io_ticks, read_ticks, write_ticks, ts)
// observation. Disk utilization is (io_ticks_delta / Δt) / 1000, split
// into read and write halves by the ratio of read_ticks to
// read_ticks+write_ticks deltas.
func (f *DiskUtilFold) Update(ioTicks, readTicks, writeTicks uint64, ts int64) (utilRead, utilWrite float64) {
	if !f.known {
		f.known = true
		f.prevIOTicks, f.prevReadTicks, f.prevWriteTicks, f.prevTS = ioTicks, readTicks, writeTicks, ts
		return f.utilRead, f.utilWrite
	}
	dt := ts - f.prevTS
	if dt > minDelta && ioTicks >= f.prevIOTicks && readTicks >= f.prevReadTicks && writeTicks >= f.prevWriteTicks {
		ioDelta := ioTicks - f.prevIOTicks
		readDelta := readTicks - f.prevReadTicks
		writeDelta := writeTicks - f.prevWriteTicks
		util := (float64(ioDelta) / float64(dt)) / 1000

		total := readDelta + writeDelta
		if total == 0 {
			f.utilRead, f.utilWrite = util/2, util/2
		} else {
			readShare := float64(readDelta) / float64(total)
			f.utilRead = util * readShare
			f.utilWrite = util * (1 - readShare)
		}
	}
	f.prevIOTicks, f.prevReadTicks, f.prevWriteTicks, f.prevTS = ioTicks, readTicks, writeTicks, ts
	return f.utilRead, f.utilWrite
}

// BackendFold holds the per-NodeBackend folding state: throughput rates
// plus the disk-utilization split, keyed identically to NodeBackendStat's
// raw counters.
type BackendFold struct {
	ReadRate, WriteRate RateFold
	DiskUtil            DiskUtilFold
}

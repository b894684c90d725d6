// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package resample converts normalized float audio blocks into 16-bit PCM at a
// lower sample rate by averaging consecutive source windows.
package resample

import (
	"errors"
	"fmt"
	"math"
)

// ErrUpsample is returned when the target rate exceeds the source rate.
var ErrUpsample = errors.New("target sample rate must not exceed source sample rate")

const fullScale = 0x7FFF

// Downsample averages samples in [-1, 1] taken at srcRate into windows
// of srcRate/dstRate source samples and scales each mean to int16.
//
// Window i covers source indices [round(i*ratio), round((i+1)*ratio)), each
// window starting where the previous one ended. An empty window yields 0.
// When both rates are equal every sample is scaled without averaging.
func Downsample(samples []float32, srcRate, dstRate int) ([]int16, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", srcRate, dstRate)
	}
	if dstRate > srcRate {
		return nil, fmt.Errorf("%w: %d -> %d", ErrUpsample, srcRate, dstRate)
	}

	if dstRate == srcRate {
		out := make([]int16, len(samples))
		for i, s := range samples {
			out[i] = scale(float64(s))
		}
		return out, nil
	}

	ratio := float64(srcRate) / float64(dstRate)
	out := make([]int16, OutputLength(len(samples), srcRate, dstRate))

	offset := 0
	for i := range out {
		next := int(math.Round(float64(i+1) * ratio))
		out[i] = scale(windowMean(samples, offset, next))
		offset = next
	}
	return out, nil
}

// OutputLength is the number of samples Downsample produces for n input samples.
func OutputLength(n, srcRate, dstRate int) int {
	if srcRate <= 0 {
		return 0
	}
	return int(math.Round(float64(n) * float64(dstRate) / float64(srcRate)))
}

// windowMean returns the mean of samples[from:to], clipped to the slice.
// An empty window has mean 0.
func windowMean(samples []float32, from, to int) float64 {
	var sum float64
	count := 0
	for j := from; j < to && j < len(samples); j++ {
		sum += float64(samples[j])
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func scale(v float64) int16 {
	v = min(1, max(-1, v))
	return int16(v * fullScale)
}

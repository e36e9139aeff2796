// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package timesync estimates the temporal offset between two IMU streams
// via FFT-based cross-correlation of their angular-motion magnitudes,
// built on gonum.org/v1/gonum/dsp/fourier.
package timesync

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"xrfusion.io/x/xrfusion/conn/quat"
	"xrfusion.io/x/xrfusion/conn/ringbuf"
)

// ErrNotReady is returned by ComputeOffset before either buffer holds
// windowDuration*rate samples.
var ErrNotReady = errors.New("timesync: not enough samples yet")

// Source indices: 0 is the primary stream, 1 the supplemental one.
const (
	Source1 = 0
	Source2 = 1
)

// Sync accumulates per-sample angular motion for two IMU streams and, on
// demand, estimates the offset of stream 2 relative to stream 1.
//
// Sync is not safe for concurrent use; the pool guards it with its own
// mutex, the way it guards rate estimators.
type Sync struct {
	buf             [2]*ringbuf.Buffer
	prevQuat        [2]quat.Quat
	hasPrevQuat     [2]bool
	prevEuler       [2]quat.Euler
	hasPrevEuler    [2]bool
	samplingRate    [2]float64
	windowSamples   int
	windowDurationS float64
}

// New creates a Sync sized for a window of windowDurationS seconds given
// the two streams' estimated sample rates.
//
// windowSamples = max(8, ceil(windowDurationS * max(rate1, rate2) * 1.2)).
func New(windowDurationS, rate1, rate2 float64) *Sync {
	maxRate := math.Max(rate1, rate2)
	n := int(math.Ceil(windowDurationS * maxRate * 1.2))
	if n < 8 {
		n = 8
	}
	return &Sync{
		buf:             [2]*ringbuf.Buffer{ringbuf.New(n), ringbuf.New(n)},
		samplingRate:    [2]float64{rate1, rate2},
		windowSamples:   n,
		windowDurationS: windowDurationS,
	}
}

// AddQuaternionSample feeds a new orientation sample for the given source
// index (Source1 or Source2). The first sample of a source only seeds the
// "previous" state and contributes a zero to the angular-motion buffer.
func (s *Sync) AddQuaternionSample(source int, q quat.Quat) {
	q = quat.Normalize(q)
	if !s.hasPrevQuat[source] {
		s.prevQuat[source] = q
		s.hasPrevQuat[source] = true
		s.buf[source].Push(0)
		return
	}
	dist := quat.AngularDistance(s.prevQuat[source], q)
	s.buf[source].Push(float32(dist))
	s.prevQuat[source] = q
}

// AddEulerSample feeds a new Euler-angle sample for adapters that only
// produce Euler triples, using wrapped per-axis deltas in place of
// quaternion angular distance.
func (s *Sync) AddEulerSample(source int, e quat.Euler) {
	if !s.hasPrevEuler[source] {
		s.prevEuler[source] = e
		s.hasPrevEuler[source] = true
		s.buf[source].Push(0)
		return
	}
	prev := s.prevEuler[source]
	dRoll := quat.DegreeDelta(prev.Roll, e.Roll) * math.Pi / 180
	dPitch := quat.DegreeDelta(prev.Pitch, e.Pitch) * math.Pi / 180
	dYaw := quat.DegreeDelta(prev.Yaw, e.Yaw) * math.Pi / 180
	mag := math.Sqrt(dRoll*dRoll + dPitch*dPitch + dYaw*dYaw)
	s.buf[source].Push(float32(mag))
	s.prevEuler[source] = e
}

// Ready reports whether either buffer holds at least
// windowDurationS*sampleRate samples for its source.
func (s *Sync) Ready() bool {
	min1 := int(s.windowDurationS * s.samplingRate[0])
	min2 := int(s.windowDurationS * s.samplingRate[1])
	return s.buf[0].Len() >= min1 || s.buf[1].Len() >= min2
}

// Reset forgets both buffers and the previous-sample state.
func (s *Sync) Reset() {
	s.buf[0].Reset()
	s.buf[1].Reset()
	s.hasPrevQuat = [2]bool{}
	s.hasPrevEuler = [2]bool{}
}

// Result is the outcome of a successful ComputeOffset.
type Result struct {
	// OffsetSeconds is the estimated lag of stream 2 relative to stream 1;
	// a positive value means stream 2 lags stream 1.
	OffsetSeconds float64
	// Confidence is the normalized cross-correlation peak height, in [0, 1]
	// for well-behaved inputs. It is not hard-clamped.
	Confidence float64
}

// ComputeOffset estimates the temporal offset between the two accumulated
// streams:
//  1. extract chronologically ordered arrays from both ring buffers;
//  2. resample the shorter to the longer's length by linear interpolation;
//  3. zero-mean, unit-variance normalize both;
//  4. cross-correlate via FFT (zero-padded to the next power of two);
//  5. locate and parabolically refine the correlation peak;
//  6. convert the peak lag to seconds using the average sample rate.
func (s *Sync) ComputeOffset() (Result, error) {
	if !s.Ready() {
		return Result{}, ErrNotReady
	}
	sig1 := s.buf[0].Ordered()
	sig2 := s.buf[1].Ordered()

	targetLen := len(sig1)
	if len(sig2) > targetLen {
		targetLen = len(sig2)
	}
	sig1 = resample(sig1, targetLen)
	sig2 = resample(sig2, targetLen)
	normalize(sig1)
	normalize(sig2)

	correlation := crossCorrelateFFT(sig1, sig2)

	maxIdx := argmax(correlation)
	var delta float64
	if maxIdx > 0 && maxIdx < len(correlation)-1 {
		delta = parabolicInterpolation(correlation[maxIdx-1], correlation[maxIdx], correlation[maxIdx+1])
	}

	zeroLag := targetLen - 1
	lagSamples := float64(maxIdx-zeroLag) + delta

	avgRate := (s.samplingRate[0] + s.samplingRate[1]) / 2
	if avgRate <= 0 {
		avgRate = 1
	}

	return Result{
		OffsetSeconds: lagSamples / avgRate,
		Confidence:    correlation[maxIdx] / float64(targetLen),
	}, nil
}

// resample linearly interpolates signal to outLen samples. A single-sample
// input simply repeats its value; this never occurs in practice since
// Ready() requires a nontrivial window, but it is guarded nonetheless.
func resample(signal []float32, outLen int) []float32 {
	inLen := len(signal)
	if inLen == outLen {
		return signal
	}
	out := make([]float32, outLen)
	if inLen == 1 || outLen == 1 {
		for i := range out {
			out[i] = signal[0]
		}
		return out
	}
	for i := 0; i < outLen; i++ {
		srcIdx := float64(i) * float64(inLen-1) / float64(outLen-1)
		idx0 := int(srcIdx)
		idx1 := idx0 + 1
		if idx1 >= inLen {
			out[i] = signal[inLen-1]
			continue
		}
		t := srcIdx - float64(idx0)
		out[i] = float32((1-t)*float64(signal[idx0]) + t*float64(signal[idx1]))
	}
	return out
}

// normalize rescales signal in place to zero mean and unit variance,
// leaving it untouched if its standard deviation is too small to divide by
// safely.
func normalize(signal []float32) {
	n := float64(len(signal))
	if n == 0 {
		return
	}
	var mean float64
	for _, v := range signal {
		mean += float64(v)
	}
	mean /= n
	for i := range signal {
		signal[i] -= float32(mean)
	}
	var variance float64
	for _, v := range signal {
		variance += float64(v) * float64(v)
	}
	std := math.Sqrt(variance / n)
	if std > 1e-6 {
		for i := range signal {
			signal[i] = float32(float64(signal[i]) / std)
		}
	}
}

// nextPow2 returns the smallest power of two >= n.
func nextPow2(n int) int {
	p := 1
	for p < n {
		p *= 2
	}
	return p
}

// crossCorrelateFFT computes the "full" cross-correlation of sig1 and sig2
// (equal length) via FFT: zero-pad both to the next power of two >=
// 2*len-1, multiply F1 * conj(F2) in the frequency domain, inverse-transform
// and rotate so index len-1 is zero lag.
func crossCorrelateFFT(sig1, sig2 []float32) []float64 {
	n := len(sig1)
	outLen := 2*n - 1
	fftSize := nextPow2(outLen)

	c1 := make([]complex128, fftSize)
	c2 := make([]complex128, fftSize)
	for i := 0; i < n; i++ {
		c1[i] = complex(float64(sig1[i]), 0)
		c2[i] = complex(float64(sig2[i]), 0)
	}

	plan := fourier.NewCmplxFFT(fftSize)
	f1 := plan.Coefficients(nil, c1)
	f2 := plan.Coefficients(nil, c2)

	product := make([]complex128, fftSize)
	for i := range product {
		product[i] = f1[i] * conj128(f2[i])
	}

	// gonum's inverse transform is unnormalized; dividing by the FFT size
	// recovers the correlation values.
	timeDomain := plan.Sequence(nil, product)

	// The circular correlation holds lag L at index L for L >= 0 and at
	// fftSize+L for L < 0; index i of the "full" layout is lag i-mid.
	result := make([]float64, outLen)
	mid := n - 1
	for i := 0; i < outLen; i++ {
		src := (fftSize - mid + i) % fftSize
		result[i] = real(timeDomain[src]) / float64(fftSize)
	}
	return result
}

func conj128(c complex128) complex128 {
	return complex(real(c), -imag(c))
}

func argmax(s []float64) int {
	best := 0
	for i, v := range s {
		if v > s[best] {
			best = i
		}
	}
	return best
}

// parabolicInterpolation refines a discrete peak to sub-sample accuracy
// given the peak and its two neighbors, returning 0 when the denominator is
// too close to zero to trust.
func parabolicInterpolation(yMinus1, y0, yPlus1 float64) float64 {
	denom := yMinus1 - 2*y0 + yPlus1
	if math.Abs(denom) < 1e-6 {
		return 0
	}
	return 0.5 * (yMinus1 - yPlus1) / denom
}

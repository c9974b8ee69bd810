package audio

import "math"

// hann returns a periodic Hann window of length n.
func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n)))
	}
	return w
}

// hzToMel converts frequency in Hz to mel scale.
func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

// melToHz converts mel scale frequency back to Hz.
func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// melFilterBank creates area-normalized triangular mel filters.
// Returns [numMels][fftSize/2+1].
func melFilterBank(numMels, fftSize, sampleRate int, lowFreq, highFreq float64) [][]float64 {
	halfFFT := fftSize/2 + 1
	lowMel := hzToMel(lowFreq)
	highMel := hzToMel(highFreq)

	// numMels + 2 equally spaced mel points, as Hz
	edges := make([]float64, numMels+2)
	step := (highMel - lowMel) / float64(numMels+1)
	for i := range edges {
		edges[i] = melToHz(lowMel + float64(i)*step)
	}

	binHz := float64(sampleRate) / float64(fftSize)
	bank := make([][]float64, numMels)
	for m := range bank {
		left, center, right := edges[m], edges[m+1], edges[m+2]
		norm := 2.0 / (right - left)
		filter := make([]float64, halfFFT)
		for k := range filter {
			f := float64(k) * binHz
			var w float64
			switch {
			case f > left && f <= center:
				w = (f - left) / (center - left)
			case f > center && f < right:
				w = (right - f) / (right - center)
			}
			filter[k] = w * norm
		}
		bank[m] = filter
	}
	return bank
}

// toDB converts power to decibels relative to the maximum, clipping
// everything more than topDB below the peak.
func toDB(s [][]float64, topDB float64) {
	const amin = 1e-10
	peak := amin
	for _, row := range s {
		for _, v := range row {
			peak = math.Max(peak, v)
		}
	}
	ref := 10 * math.Log10(peak)
	floor := math.Inf(-1)
	if topDB > 0 {
		floor = -topDB
	}
	for _, row := range s {
		for i, v := range row {
			row[i] = math.Max(10*math.Log10(math.Max(v, amin))-ref, floor)
		}
	}
}

// minMaxScale maps s onto [0, 1].
func minMaxScale(s [][]float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, row := range s {
		for _, v := range row {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	span := hi - lo + 1e-8
	for _, row := range s {
		for i, v := range row {
			row[i] = (v - lo) / span
		}
	}
}

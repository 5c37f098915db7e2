package msghandler

import "math"

// SampleRate is the internal sample rate tones and DTMF are synthesized
// at; callers resample or run the whole graph at this rate, matching
// config's CARD_SAMPLE_RATE in the common case.
const SampleRate = 8000

var dtmfRows = []float64{697, 770, 852, 941}
var dtmfCols = []float64{1209, 1336, 1477, 1633}

var dtmfKeypad = map[byte][2]float64{
	'1': {dtmfRows[0], dtmfCols[0]}, '2': {dtmfRows[0], dtmfCols[1]}, '3': {dtmfRows[0], dtmfCols[2]}, 'A': {dtmfRows[0], dtmfCols[3]},
	'4': {dtmfRows[1], dtmfCols[0]}, '5': {dtmfRows[1], dtmfCols[1]}, '6': {dtmfRows[1], dtmfCols[2]}, 'B': {dtmfRows[1], dtmfCols[3]},
	'7': {dtmfRows[2], dtmfCols[0]}, '8': {dtmfRows[2], dtmfCols[1]}, '9': {dtmfRows[2], dtmfCols[2]}, 'C': {dtmfRows[2], dtmfCols[3]},
	'*': {dtmfRows[3], dtmfCols[0]}, '0': {dtmfRows[3], dtmfCols[1]}, '#': {dtmfRows[3], dtmfCols[2]}, 'D': {dtmfRows[3], dtmfCols[3]},
}

// synthTone generates ms milliseconds of a single sine tone at fqHz, with
// amplitude amplPermille/1000 of full scale: amp/1000 * sin(2*pi*f*n/Fs).
func synthTone(fqHz float64, amplPermille int, ms int) []int16 {
	n := ms * SampleRate / 1000
	out := make([]int16, n)
	amp := float64(amplPermille) / 1000.0 * 32767.0
	for i := range out {
		out[i] = clamp16(amp * math.Sin(2*math.Pi*fqHz*float64(i)/SampleRate))
	}
	return out
}

// synthDTMF generates ms milliseconds of the digit's row+column tone sum,
// each scaled to half the requested amplitude so the combined peak stays
// within amplPermille/1000 of full scale.
func synthDTMF(digit byte, amplPermille int, ms int) []int16 {
	pair, ok := dtmfKeypad[digit]
	if !ok {
		return synthSilence(ms)
	}
	n := ms * SampleRate / 1000
	out := make([]int16, n)
	amp := float64(amplPermille) / 1000.0 * 32767.0 / 2.0
	for i := range out {
		v := amp*math.Sin(2*math.Pi*pair[0]*float64(i)/SampleRate) +
			amp*math.Sin(2*math.Pi*pair[1]*float64(i)/SampleRate)
		out[i] = clamp16(v)
	}
	return out
}

func synthSilence(ms int) []int16 {
	return make([]int16, ms*SampleRate/1000)
}

func clamp16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// Package util contains misc internal utilities.
package util

import (
	"math"
	"strconv"
	"strings"
)

// IntSliceToCSV converts a slice of ints to CSV formatted data.
// e.g., []int{1,2,3,4,5} => "1,2,3,4,5"
func IntSliceToCSV(is []int) string {
	s := make([]string, len(is))
	for i, v := range is {
		s[i] = strconv.Itoa(v)
	}

	return strings.Join(s, ",")
}

// FloatSliceToCSV converts a slice of floats to CSV formatted data, using
// the shortest representation of each value
func FloatSliceToCSV(fs []float64) string {
	s := make([]string, len(fs))
	for i, v := range fs {
		s[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(s, ",")
}

// Arange returns start, start+step, ... stopping short of stop, as numpy's
// arange does.  A value within a millionth of a step of stop counts as stop
// and is left out.  A step that does not move from start towards stop, or
// start == stop, yields nil.
func Arange(start, stop, step float64) []float64 {
	if step == 0 {
		return nil
	}
	n := int(math.Ceil((stop-start)/step - 1e-6))
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

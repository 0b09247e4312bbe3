package radargram

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// WriteFile writes a radargram container. samples is trace-major and must
// hold len(fixes) * sampleCount values. Used by format converters and tests;
// the viewer itself never writes radargrams.
func WriteFile(path string, fixes []TraceFix, sampleCount int, samples []float32) error {
	if len(fixes) == 0 || sampleCount <= 0 {
		return fmt.Errorf("radargram must have at least one trace and one sample")
	}
	if len(samples) != len(fixes)*sampleCount {
		return fmt.Errorf("sample count mismatch: have %d values, want %d", len(samples), len(fixes)*sampleCount)
	}

	minVal := float32(math.Inf(1))
	maxVal := float32(math.Inf(-1))
	for _, v := range samples {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create radargram file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	if _, err := w.WriteString(magic); err != nil {
		return err
	}
	for _, v := range []interface{}{
		uint16(version), uint16(0),
		uint32(len(fixes)), uint32(sampleCount),
		minVal, maxVal,
	} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	for _, fix := range fixes {
		if err := binary.Write(w, binary.LittleEndian, []float64{fix.Lat, fix.Lon, fix.AlongTrack}); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, samples); err != nil {
		return err
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush radargram file: %w", err)
	}
	return nil
}

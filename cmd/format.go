package cmd

import (
	"fmt"
	"strings"
	"time"
)

// formatElapsed renders d as m:ss, or h:mm:ss from one hour on.
func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	s := int(d%time.Minute) / int(time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}

// levelMeter draws amplitude in [0, 1] as a bar of width cells.
func levelMeter(amplitude float64, width int) string {
	if amplitude < 0 {
		amplitude = 0
	}
	if amplitude > 1 {
		amplitude = 1
	}
	filled := int(amplitude*float64(width) + 0.5)
	return "[" + strings.Repeat("#", filled) + strings.Repeat(" ", width-filled) + "]"
}

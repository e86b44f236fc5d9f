package display

import "fmt"

var byteUnits = []string{"B", "KB", "MB", "GB", "TB"}

var unitDivisors = map[string]float64{
	"B":  1,
	"KB": 1 << 10,
	"MB": 1 << 20,
	"GB": 1 << 30,
	"TB": 1 << 40,
}

// FormatBytes picks the largest binary unit below 1024, e.g. "1.50 GB".
func FormatBytes(v float64) string {
	for _, unit := range byteUnits {
		if v < 1024 {
			return fmt.Sprintf("%.2f %s", v, unit)
		}
		v /= 1024
	}
	return fmt.Sprintf("%.2f PB", v)
}

// FormatBytesIn formats v in a fixed unit; unknown units divide by one.
func FormatBytesIn(v float64, unit string) string {
	div, ok := unitDivisors[unit]
	if !ok {
		div = 1
	}
	return fmt.Sprintf("%.2f %s", v/div, unit)
}

// groupThousands renders n with comma separators and no decimals.
func groupThousands(n float64) string {
	s := fmt.Sprintf("%.0f", n)
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	out := make([]byte, 0, len(s)+len(s)/3)
	for i := 0; i < len(s); i++ {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}

package util

import (
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
)

// PadRight pads or truncates str to a fixed display width.
func PadRight(str string, width int) string {
	w := runewidth.StringWidth(str)
	if w > width {
		return runewidth.Truncate(str, width, "...")
	}
	return str + strings.Repeat(" ", width-w)
}

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// FormatSize renders a byte count with one decimal in binary units,
// dropping the decimal when it is zero.
func FormatSize(size int64) string {
	if size < 1024 {
		return strconv.FormatInt(size, 10) + " B"
	}
	exp := 0
	div := int64(1)
	for size/div >= 1024 && exp < len(sizeUnits)-1 {
		div *= 1024
		exp++
	}
	whole := size / div
	tenth := (size % div) * 10 / div
	if tenth == 0 {
		return strconv.FormatInt(whole, 10) + " " + sizeUnits[exp]
	}
	return strconv.FormatInt(whole, 10) + "." + strconv.FormatInt(tenth, 10) + " " + sizeUnits[exp]
}

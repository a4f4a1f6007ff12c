package media

import (
	"fmt"
	"strconv"
	"strings"
)

// Region is a rectangle of the captured frame, in pixels.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ParseRegion parses "x,y,width,height".
func ParseRegion(s string) (Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Region{}, fmt.Errorf("region %q: want x,y,width,height", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Region{}, fmt.Errorf("region %q: %w", s, err)
		}
		v[i] = n
	}
	r := Region{X: v[0], Y: v[1], Width: v[2], Height: v[3]}
	return r, r.Validate()
}

// Validate rejects empty or negative regions.
func (r Region) Validate() error {
	if r.X < 0 || r.Y < 0 {
		return fmt.Errorf("region %s: origin must not be negative", r)
	}
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("region %s: size must be positive", r)
	}
	return nil
}

// Empty reports whether r is the zero region, meaning "no cropping".
func (r Region) Empty() bool {
	return r == Region{}
}

func (r Region) String() string {
	return fmt.Sprintf("%d,%d,%dx%d", r.X, r.Y, r.Width, r.Height)
}

package controller

import (
	"fmt"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"

	"openrgb-go-home/internal/proto"
)

// ParseColor accepts "#rrggbb", "rrggbb", "#rgb", "rgb(r, g, b)" with
// 0-255 channels and "hsv(h, s, v)" with h in degrees and s, v in [0, 1].
func ParseColor(s string) (proto.Color, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(s, "rgb("):
		var r, g, b int
		if _, err := fmt.Sscanf(s, "rgb(%d,%d,%d)", &r, &g, &b); err != nil {
			return 0, fmt.Errorf("parse color %q: %w", s, err)
		}
		for _, v := range []int{r, g, b} {
			if v < 0 || v > 255 {
				return 0, fmt.Errorf("parse color %q: channel %d out of range", s, v)
			}
		}
		return proto.RGB(uint8(r), uint8(g), uint8(b)), nil

	case strings.HasPrefix(s, "hsv("):
		var h, sat, v float64
		if _, err := fmt.Sscanf(s, "hsv(%g,%g,%g)", &h, &sat, &v); err != nil {
			return 0, fmt.Errorf("parse color %q: %w", s, err)
		}
		c := colorful.Hsv(h, sat, v)
		if !c.IsValid() {
			return 0, fmt.Errorf("parse color %q: out of gamut", s)
		}
		return FromColorful(c), nil
	}

	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return 0, fmt.Errorf("parse color %q: %w", s, err)
	}
	return FromColorful(c), nil
}

// FromColorful converts c, clamped to the RGB gamut.
func FromColorful(c colorful.Color) proto.Color {
	r, g, b := c.Clamped().RGB255()
	return proto.RGB(r, g, b)
}

// ToColorful converts c to a colorful.Color.
func ToColorful(c proto.Color) colorful.Color {
	return colorful.Color{
		R: float64(c.R()) / 255,
		G: float64(c.G()) / 255,
		B: float64(c.B()) / 255,
	}
}

// Gradient returns n colors blended from "from" to "to" in HCL space.
func Gradient(from, to proto.Color, n int) []proto.Color {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []proto.Color{from}
	}
	a, b := ToColorful(from), ToColorful(to)
	out := make([]proto.Color, n)
	for i := range out {
		t := float64(i) / float64(n-1)
		out[i] = FromColorful(a.BlendHcl(b, t))
	}
	out[0], out[n-1] = from, to
	return out
}

// Brightness returns the HSV value of c scaled to 0-255.
func Brightness(c proto.Color) uint8 {
	_, _, v := ToColorful(c).Hsv()
	return uint8(v*255 + 0.5)
}

// WithBrightness returns c with its HSV value set to b/255.
func WithBrightness(c proto.Color, b uint8) proto.Color {
	h, s, _ := ToColorful(c).Hsv()
	return FromColorful(colorful.Hsv(h, s, float64(b)/255))
}

// Fill returns n copies of c.
func Fill(c proto.Color, n int) []proto.Color {
	out := make([]proto.Color, n)
	for i := range out {
		out[i] = c
	}
	return out
}

// Package logo decodes the upstream logo document and renders it to PNG.
//
// The upstream describes the logo as a list of characters, each made of
// 8x8 pixel panels. Panel placement is fixed per character, so a document
// only carries colours. Rendering the same document always produces
// byte-identical PNG output, which is what change detection relies on.
package logo

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strconv"

	"github.com/goccy/go-json"
)

const (
	// Width and Height of the full logo at size 1.
	Width  = 152
	Height = 32

	// MaxCharacters is the number of characters the panel layout knows about.
	MaxCharacters = 7

	// MaxSize bounds the pixel scale accepted by Render.
	MaxSize = 16

	// AllCharacters selects the full logo in Options.Character.
	AllCharacters = -1

	panelSide   = 8
	panelPixels = panelSide * panelSide
)

// unlit is the colour of a pixel the upstream sends as an empty string.
var unlit = color.RGBA{R: 155, G: 155, B: 155, A: 255}

// panelOrigins holds the top-left pixel offset of every panel, per character.
var panelOrigins = [MaxCharacters][]image.Point{
	{{0, 0}, {0, 16}, {0, 24}, {0, 32}},
	{{0, 0}, {0, 8}, {8, 8}, {0, 16}, {0, 24}, {8, 24}, {16, 24}},
	{{0, 8}, {8, 8}, {16, 8}, {0, 16}, {16, 16}, {0, 24}, {8, 24}, {16, 24}},
	{{0, 8}, {8, 8}, {16, 8}, {0, 16}, {0, 24}},
	{{8, 8}, {16, 8}, {0, 16}, {16, 16}, {0, 24}, {8, 24}, {16, 24}},
	{{0, 0}, {0, 8}, {8, 8}, {0, 16}, {0, 24}, {8, 24}, {16, 24}},
	{{0, 8}, {8, 8}, {16, 8}, {0, 16}, {16, 16}, {0, 24}, {8, 24}},
}

// payload is the upstream JSON document.
type payload struct {
	Logo *[][][]string `json:"logo"`
}

// Logo is a validated upstream logo.
type Logo struct {
	characters [][][]color.RGBA
}

// Parse strictly decodes an upstream document. Unknown fields, a missing
// logo field, panels the layout has no slot for and malformed colours are
// all rejected with ErrInvalidPayload.
func Parse(data []byte) (*Logo, error) {
	var doc payload
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if doc.Logo == nil {
		return nil, fmt.Errorf("%w: missing logo field", ErrInvalidPayload)
	}

	chars := *doc.Logo
	if len(chars) > MaxCharacters {
		return nil, fmt.Errorf("%w: %d characters, at most %d supported", ErrInvalidPayload, len(chars), MaxCharacters)
	}

	l := &Logo{characters: make([][][]color.RGBA, len(chars))}
	for c, panels := range chars {
		if len(panels) > len(panelOrigins[c]) {
			return nil, fmt.Errorf("%w: character %d has %d panels, layout has %d",
				ErrInvalidPayload, c, len(panels), len(panelOrigins[c]))
		}
		l.characters[c] = make([][]color.RGBA, len(panels))
		for p, pixels := range panels {
			if len(pixels) > panelPixels {
				return nil, fmt.Errorf("%w: character %d panel %d has %d pixels",
					ErrInvalidPayload, c, p, len(pixels))
			}
			origin := panelOrigins[c][p]
			x := characterOriginX(c) + origin.X
			y := origin.Y
			if len(pixels) > 0 {
				lastCol := min(len(pixels), panelSide) - 1
				lastRow := (len(pixels) - 1) / panelSide
				if x+lastCol >= Width || y+lastRow >= Height {
					return nil, fmt.Errorf("%w: character %d panel %d falls outside the canvas",
						ErrInvalidPayload, c, p)
				}
			}
			colours := make([]color.RGBA, len(pixels))
			for i, s := range pixels {
				col, err := parseColour(s)
				if err != nil {
					return nil, fmt.Errorf("%w: character %d panel %d pixel %d: %v",
						ErrInvalidPayload, c, p, i, err)
				}
				colours[i] = col
			}
			l.characters[c][p] = colours
		}
	}
	return l, nil
}

// Characters returns how many characters the logo carries.
func (l *Logo) Characters() int {
	return len(l.characters)
}

// Render draws the logo according to opts.
func (l *Logo) Render(opts Options) (*image.RGBA, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	size := opts.Size

	if opts.Character == AllCharacters {
		img := image.NewRGBA(image.Rect(0, 0, Width*size, Height*size))
		for c := range l.characters {
			l.drawCharacter(img, c, characterOriginX(c), 0, size)
		}
		return img, nil
	}

	c := opts.Character
	if c >= len(l.characters) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCharacter, c)
	}
	offsetY := 0
	if opts.Crop && c != 0 && c != 1 && c != 5 {
		offsetY = -panelSide
	}
	width := 3 * panelSide
	if c == 0 {
		width = panelSide
	}
	img := image.NewRGBA(image.Rect(0, 0, width*size, (Height+offsetY)*size))
	l.drawCharacter(img, c, 0, offsetY, size)
	return img, nil
}

// PNG renders the logo and encodes it.
func (l *Logo) PNG(opts Options) ([]byte, error) {
	img, err := l.Render(opts)
	if err != nil {
		return nil, err
	}
	return Encode(img)
}

// Encode writes img as PNG with a fixed compression level.
func Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

func (l *Logo) drawCharacter(img *image.RGBA, c, offsetX, offsetY, size int) {
	bounds := img.Bounds()
	for p, pixels := range l.characters[c] {
		origin := panelOrigins[c][p]
		for i, col := range pixels {
			x := (origin.X + i%panelSide + offsetX) * size
			y := (origin.Y + i/panelSide + offsetY) * size
			for dy := 0; dy < size; dy++ {
				for dx := 0; dx < size; dx++ {
					pt := image.Pt(x+dx, y+dy)
					if pt.In(bounds) {
						img.SetRGBA(pt.X, pt.Y, col)
					}
				}
			}
		}
	}
}

func characterOriginX(c int) int {
	if c == 0 {
		return 0
	}
	return (c*3 - 2) * panelSide
}

func parseColour(s string) (color.RGBA, error) {
	switch {
	case s == "":
		return unlit, nil
	case len(s) == 7 && s[0] == '#':
		s = s[1:]
	case len(s) == 6:
	default:
		return color.RGBA{}, fmt.Errorf("colour %q is not #rrggbb", s)
	}

	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("colour %q is not hex", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

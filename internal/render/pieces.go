package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// piece outlines on a 45x45 view box
var pieceShapes = map[nchess.PieceType]string{
	nchess.Pawn: `<circle cx="22.5" cy="12" r="5"/>
<path d="M 15 35 L 30 35 L 27 24 C 29 22 28 19 22.5 18 C 17 19 16 22 18 24 Z"/>
<rect x="12" y="35" width="21" height="4"/>`,
	nchess.Rook: `<path d="M 12 36 L 33 36 L 33 33 L 30 31 L 29 17 L 32 15 L 32 9 L 28 9 L 28 12 L 25 12 L 25 9 L 20 9 L 20 12 L 17 12 L 17 9 L 13 9 L 13 15 L 16 17 L 15 31 L 12 33 Z"/>
<rect x="10" y="36" width="25" height="3"/>`,
	nchess.Knight: `<path d="M 14 38 L 33 38 L 32 28 C 32 18 28 11 20 9 L 19 6 L 16 9 L 14 12 L 9 22 L 10 25 L 14 24 L 18 20 L 19 23 L 14 30 Z"/>
<circle cx="16.5" cy="14" r="1.2"/>`,
	nchess.Bishop: `<path d="M 11 38 L 34 38 L 34 35 L 11 35 Z"/>
<path d="M 15 34 L 30 34 C 31 28 30 22 22.5 13 C 15 22 14 28 15 34 Z"/>
<circle cx="22.5" cy="10" r="3"/>`,
	nchess.Queen: `<path d="M 11 38 L 34 38 L 34 34 L 11 34 Z"/>
<path d="M 12 33 L 33 33 L 36 14 L 29 25 L 27 11 L 22.5 24 L 18 11 L 16 25 L 9 14 Z"/>
<circle cx="9" cy="12" r="2.2"/><circle cx="18" cy="9" r="2.2"/><circle cx="27" cy="9" r="2.2"/><circle cx="36" cy="12" r="2.2"/>`,
	nchess.King: `<path d="M 21 4 L 24 4 L 24 7 L 27 7 L 27 10 L 24 10 L 24 14 L 21 14 L 21 10 L 18 10 L 18 7 L 21 7 Z"/>
<path d="M 11 38 L 34 38 L 34 34 L 11 34 Z"/>
<path d="M 12 33 L 33 33 C 38 25 34 17 28 17 C 25 17 23 19 22.5 21 C 22 19 20 17 17 17 C 11 17 7 25 12 33 Z"/>`,
}

func pieceSVG(piece nchess.Piece) ([]byte, error) {
	shape, ok := pieceShapes[piece.Type()]
	if !ok {
		return nil, fmt.Errorf("no shape for piece %v", piece)
	}
	fill, stroke := "#ffffff", "#000000"
	if piece.Color() == nchess.Black {
		fill, stroke = "#262626", "#000000"
	}
	var b bytes.Buffer
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45" width="45" height="45">`)
	fmt.Fprintf(&b, `<g fill="%s" stroke="%s" stroke-width="1.5" stroke-linejoin="round">`, fill, stroke)
	b.WriteString(shape)
	b.WriteString(`</g></svg>`)
	return b.Bytes(), nil
}

type pieceCacheKey struct {
	piece nchess.Piece
	size  int
}

var (
	pieceCache   = map[pieceCacheKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

func renderPieceImage(piece nchess.Piece, size int) (image.Image, error) {
	key := pieceCacheKey{piece: piece, size: size}

	pieceCacheMu.RLock()
	if img, ok := pieceCache[key]; ok {
		pieceCacheMu.RUnlock()
		return img, nil
	}
	pieceCacheMu.RUnlock()

	data, err := pieceSVG(piece)
	if err != nil {
		return nil, err
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(size, size, scanner), 1.0)

	pieceCacheMu.Lock()
	pieceCache[key] = img
	pieceCacheMu.Unlock()
	return img, nil
}

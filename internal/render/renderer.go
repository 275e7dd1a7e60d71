package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"math"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	squareSize   = 64
	boardSquares = 8
	boardSize    = squareSize * boardSquares
	sideMargin   = 24
	captionBand  = 28
)

type MoveHighlight struct {
	From nchess.Square
	To   nchess.Square
}

type RenderOptions struct {
	Highlight *MoveHighlight
	// Flip draws the board from Black's side.
	Flip    bool
	Caption string
}

type BoardRenderer interface {
	RenderPNG(ctx context.Context, board *nchess.Board, opts RenderOptions) ([]byte, error)
}

type svgBoardRenderer struct{}

func NewSVGBoardRenderer() BoardRenderer {
	return &svgBoardRenderer{}
}

// HighlightFromUCI parses a move such as "e2e4" or "e7e8q" into a highlight.
func HighlightFromUCI(move string) (*MoveHighlight, error) {
	move = strings.ToLower(strings.TrimSpace(move))
	if len(move) != 4 && len(move) != 5 {
		return nil, fmt.Errorf("invalid move %q", move)
	}
	from, err := parseSquare(move[0:2])
	if err != nil {
		return nil, err
	}
	to, err := parseSquare(move[2:4])
	if err != nil {
		return nil, err
	}
	return &MoveHighlight{From: from, To: to}, nil
}

func parseSquare(s string) (nchess.Square, error) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return nchess.NoSquare, fmt.Errorf("invalid square %q", s)
	}
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1')), nil
}

type layout struct {
	origin image.Point
	flip   bool
}

func (l layout) squareRect(sq nchess.Square) image.Rectangle {
	col := int(sq.File())
	row := 7 - int(sq.Rank())
	if l.flip {
		col = 7 - col
		row = 7 - row
	}
	x := l.origin.X + col*squareSize
	y := l.origin.Y + row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func (r *svgBoardRenderer) RenderPNG(ctx context.Context, board *nchess.Board, opts RenderOptions) ([]byte, error) {
	if board == nil {
		return nil, fmt.Errorf("board is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	top := sideMargin
	if strings.TrimSpace(opts.Caption) != "" {
		top += captionBand
	}
	lay := layout{origin: image.Point{X: sideMargin, Y: top}, flip: opts.Flip}
	img := image.NewRGBA(image.Rect(0, 0, boardSize+sideMargin*2, boardSize+top+sideMargin))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(frameColor), image.Point{}, imagedraw.Src)

	drawSquares(img, lay)
	drawHighlight(img, board, opts.Highlight, lay)
	if err := drawPieces(img, board, lay); err != nil {
		return nil, err
	}
	drawCoordinates(img, lay)
	if opts.Caption != "" {
		drawCaption(img, opts.Caption)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

var (
	lightSquare            = color.RGBA{233, 207, 163, 255}
	darkSquare             = color.RGBA{187, 136, 96, 255}
	frameColor             = color.RGBA{40, 43, 58, 255}
	whiteMoveHighlightFill = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	blackMoveHighlightFill = color.NRGBA{R: 148, G: 207, B: 255, A: 140}
	moveArrowColor         = color.NRGBA{R: 220, G: 60, B: 60, A: 170}
	coordinateTextColor    = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
)

func squareColor(sq nchess.Square) color.Color {
	if (int(sq.File())+int(sq.Rank()))%2 == 0 {
		return darkSquare
	}
	return lightSquare
}

func allSquares(yield func(nchess.Square)) {
	for rank := nchess.Rank1; rank <= nchess.Rank8; rank++ {
		for file := nchess.FileA; file <= nchess.FileH; file++ {
			yield(nchess.NewSquare(file, rank))
		}
	}
}

func drawSquares(dst *image.RGBA, lay layout) {
	allSquares(func(sq nchess.Square) {
		imagedraw.Draw(dst, lay.squareRect(sq), image.NewUniform(squareColor(sq)), image.Point{}, imagedraw.Src)
	})
}

func drawPieces(dst *image.RGBA, board *nchess.Board, lay layout) error {
	var firstErr error
	squares := board.SquareMap()
	allSquares(func(sq nchess.Square) {
		piece, ok := squares[sq]
		if !ok || piece == nchess.NoPiece || firstErr != nil {
			return
		}
		img, err := renderPieceImage(piece, squareSize)
		if err != nil {
			firstErr = err
			return
		}
		rect := lay.squareRect(sq)
		imagedraw.Draw(dst, rect, img, image.Point{}, imagedraw.Over)
	})
	return firstErr
}

// drawHighlight tints both squares of the move in the mover's color and
// draws an arrow from source to destination.
func drawHighlight(img *image.RGBA, board *nchess.Board, h *MoveHighlight, lay layout) {
	if h == nil {
		return
	}
	fill := whiteMoveHighlightFill
	if moverColor(board, h) == nchess.Black {
		fill = blackMoveHighlightFill
	}
	imagedraw.Draw(img, lay.squareRect(h.From), image.NewUniform(fill), image.Point{}, imagedraw.Over)
	imagedraw.Draw(img, lay.squareRect(h.To), image.NewUniform(fill), image.Point{}, imagedraw.Over)
	drawArrow(img, lay.squareRect(h.From), lay.squareRect(h.To), moveArrowColor)
}

func moverColor(board *nchess.Board, h *MoveHighlight) nchess.Color {
	if p := board.Piece(h.To); p != nchess.NoPiece {
		return p.Color()
	}
	if p := board.Piece(h.From); p != nchess.NoPiece {
		return p.Color()
	}
	return nchess.NoColor
}

func drawCoordinates(dst *image.RGBA, lay layout) {
	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: dst, Face: face, Src: image.NewUniform(coordinateTextColor)}
	ascent := face.Metrics().Ascent.Ceil()

	for i := 0; i < boardSquares; i++ {
		file := nchess.File(i)
		rank := nchess.Rank(i)

		fileRect := lay.squareRect(nchess.NewSquare(file, nchess.Rank1))
		drawCenteredText(drawer, file.String(), fileRect.Min.X+squareSize/2, lay.origin.Y+boardSize+(sideMargin+ascent)/2)

		rankRect := lay.squareRect(nchess.NewSquare(nchess.FileA, rank))
		drawCenteredText(drawer, rank.String(), sideMargin/2, rankRect.Min.Y+(squareSize+ascent)/2)
	}
}

func drawCaption(dst *image.RGBA, caption string) {
	drawer := &font.Drawer{Dst: dst, Face: basicfont.Face7x13, Src: image.NewUniform(coordinateTextColor)}
	ascent := basicfont.Face7x13.Metrics().Ascent.Ceil()
	drawCenteredText(drawer, caption, dst.Bounds().Dx()/2, sideMargin/2+(captionBand+ascent)/2)
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	if text == "" {
		return
	}
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

func drawArrow(img *image.RGBA, fromRect, toRect image.Rectangle, clr color.Color) {
	start := pointF{X: float64(fromRect.Min.X + squareSize/2), Y: float64(fromRect.Min.Y + squareSize/2)}
	end := pointF{X: float64(toRect.Min.X + squareSize/2), Y: float64(toRect.Min.Y + squareSize/2)}
	dx, dy := end.X-start.X, end.Y-start.Y
	length := math.Hypot(dx, dy)
	if length == 0 {
		return
	}
	dirX, dirY := dx/length, dy/length
	perpX, perpY := -dirY, dirX

	baseLength := length - squareSize*0.45
	if baseLength < squareSize*0.35 {
		baseLength = length * 0.6
	}
	halfWidth := squareSize * 0.08
	headWidth := squareSize * 0.32
	baseX := start.X + dirX*baseLength
	baseY := start.Y + dirY*baseLength

	fillTriangle(img,
		pointF{start.X - perpX*halfWidth, start.Y - perpY*halfWidth},
		pointF{start.X + perpX*halfWidth, start.Y + perpY*halfWidth},
		pointF{baseX + perpX*halfWidth, baseY + perpY*halfWidth}, clr)
	fillTriangle(img,
		pointF{start.X - perpX*halfWidth, start.Y - perpY*halfWidth},
		pointF{baseX + perpX*halfWidth, baseY + perpY*halfWidth},
		pointF{baseX - perpX*halfWidth, baseY - perpY*halfWidth}, clr)
	fillTriangle(img,
		end,
		pointF{baseX - perpX*headWidth/2, baseY - perpY*headWidth/2},
		pointF{baseX + perpX*headWidth/2, baseY + perpY*headWidth/2}, clr)
}

type pointF struct {
	X float64
	Y float64
}

func fillTriangle(img *image.RGBA, a, b, c pointF, clr color.Color) {
	minX := int(math.Floor(math.Min(a.X, math.Min(b.X, c.X))))
	maxX := int(math.Ceil(math.Max(a.X, math.Max(b.X, c.X))))
	minY := int(math.Floor(math.Min(a.Y, math.Min(b.Y, c.Y))))
	maxY := int(math.Ceil(math.Max(a.Y, math.Max(b.Y, c.Y))))
	src := image.NewUniform(clr)
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			if inTriangle(float64(x)+0.5, float64(y)+0.5, a, b, c) {
				imagedraw.Draw(img, image.Rect(x, y, x+1, y+1), src, image.Point{}, imagedraw.Over)
			}
		}
	}
}

func inTriangle(x, y float64, a, b, c pointF) bool {
	denom := (b.Y-c.Y)*(a.X-c.X) + (c.X-b.X)*(a.Y-c.Y)
	if denom == 0 {
		return false
	}
	alpha := ((b.Y-c.Y)*(x-c.X) + (c.X-b.X)*(y-c.Y)) / denom
	beta := ((c.Y-a.Y)*(x-c.X) + (a.X-c.X)*(y-c.Y)) / denom
	return alpha >= 0 && beta >= 0 && 1-alpha-beta >= 0
}

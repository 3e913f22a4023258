package histogram

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fogleman/gg"
)

const (
	chartWidth  = 600
	chartHeight = 150
	chartScale  = 2
	titleHeight = 24
	labelHeight = 16
)

// Render draws the vote histogram as PNG bytes. Drawing is CPU-bound, so it
// runs on its own goroutine; Render returns early with ctx.Err() if ctx is
// done first.
func Render(ctx context.Context, votes []float64) ([]byte, error) {
	s, err := Summarize(votes)
	if err != nil {
		return nil, err
	}

	type result struct {
		png []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		png, err := draw(s)
		done <- result{png, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.png, r.err
	}
}

// Title is the chart heading for a summary.
func Title(s Summary) string {
	name := s.MeanName()
	if name == "" {
		name = "no votes"
	}
	return fmt.Sprintf("Playtest Votes | Average Vote = %.2f (%s)", s.Mean, name)
}

func draw(s Summary) ([]byte, error) {
	dc := gg.NewContext(chartWidth*chartScale, chartHeight*chartScale)
	dc.Scale(chartScale, chartScale)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	plotTop := float64(titleHeight)
	plotHeight := float64(chartHeight - titleHeight - labelHeight)
	barWidth := float64(chartWidth) / float64(NumBuckets)

	maxCount := 1
	for _, c := range s.Counts {
		maxCount = max(maxCount, c)
	}

	for i, b := range Buckets {
		x := float64(i) * barWidth

		r, g, bl := hexRGB(b.Color)

		// background bar
		dc.SetRGBA(r, g, bl, 0.2)
		dc.DrawRectangle(x+1, plotTop, barWidth-2, plotHeight)
		dc.Fill()

		if c := s.Counts[i]; c > 0 {
			h := plotHeight * float64(c) / float64(maxCount)
			dc.SetRGB(r, g, bl)
			dc.DrawRectangle(x+1, plotTop+plotHeight-h, barWidth-2, h)
			dc.Fill()
			dc.SetRGB(0, 0, 0)
			dc.DrawStringAnchored(fmt.Sprint(c), x+barWidth/2, plotTop+plotHeight-h-2, 0.5, 0)
		}

		dc.SetRGB(0.2, 0.2, 0.2)
		dc.DrawStringAnchored(fmt.Sprint(i+1), x+barWidth/2, float64(chartHeight)-labelHeight/2, 0.5, 0.5)
	}

	if s.MeanBucket >= 0 {
		cx := float64(s.MeanBucket)*barWidth + barWidth/2
		dc.SetRGB(0, 0, 0)
		dc.SetLineWidth(1)
		dc.SetDash(4, 3)
		dc.DrawLine(cx, plotTop, cx, plotTop+plotHeight)
		dc.Stroke()
		dc.SetDash()
		dc.DrawCircle(cx, plotTop+plotHeight/2, 5)
		dc.Fill()
	}

	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored(Title(s), float64(chartWidth)/2, float64(titleHeight)/2, 0.5, 0.5)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// hexRGB converts "#rrggbb" to unit RGB components; malformed input is grey.
func hexRGB(hex string) (r, g, b float64) {
	hex = strings.TrimPrefix(hex, "#")
	n, err := strconv.ParseUint(hex, 16, 32)
	if err != nil || len(hex) != 6 {
		return 0.5, 0.5, 0.5
	}
	return float64(n>>16&0xff) / 255, float64(n>>8&0xff) / 255, float64(n&0xff) / 255
}

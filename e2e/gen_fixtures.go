//go:build ignore

// gen_fixtures creates small test images for the E2E smoke test, including
// file names that would break a shell-built command line.
// Usage: go run gen_fixtures.go <output_dir>
package main

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: gen_fixtures <output_dir>")
		os.Exit(1)
	}
	dir := os.Args[1]
	if err := os.MkdirAll(filepath.Join(dir, "cards"), 0o755); err != nil {
		panic(err)
	}

	fixtures := map[string]image.Image{
		// JPEG at a known quality so "auto" quality can be checked.
		"banner.jpg": gradient(400, 225),
		"logo.png":   alphaGradient(100, 100),
		"anim.gif":   solidWithBorder(64, 64, 30),
		"scan.bmp":   gradient(120, 80),

		// Shell metacharacters and a leading dash.
		"photo $(touch pwned).jpg": gradient(50, 50),
		"a;b&c|d.png":              solidWithBorder(40, 40, 90),
		"-rf.png":                  solidWithBorder(40, 40, 120),
		"quote's \"double\".png":   alphaGradient(30, 30),
		"brackets[0].png":          solidWithBorder(20, 20, 150),
	}
	for i := 1; i <= 3; i++ {
		fixtures[filepath.Join("cards", fmt.Sprintf("card-%d.png", i))] = solidWithBorder(200, 150, uint8(i*60))
	}

	for name, img := range fixtures {
		if err := imaging.Save(img, filepath.Join(dir, name), imaging.JPEGQuality(85)); err != nil {
			panic(fmt.Sprintf("%s: %v", name, err))
		}
	}

	fmt.Fprintf(os.Stderr, "[gen_fixtures] created %d fixtures in %s\n", len(fixtures), dir)
}

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 255 / w),
				G: uint8(y * 255 / h),
				B: 128,
				A: 255,
			})
		}
	}
	return img
}

func solidWithBorder(w, h int, base uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{R: base, G: base + 40, B: base + 80, A: 255}
			if x < 4 || x >= w-4 || y < 4 || y >= h-4 {
				c = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func alphaGradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: 220, G: 60, B: 30,
				A: uint8(x * 255 / w),
			})
		}
	}
	return img
}

// Package main runs the monocular tracking pipeline over a directory of
// images and prints the estimated camera trajectory.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/monoslam/rimage"
	"go.viam.com/monoslam/slam"
	"go.viam.com/monoslam/vision/keypoints"
)

var logger = golog.NewDevelopmentLogger("monoslam")

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	flags := flag.NewFlagSet(args[0], flag.ExitOnError)
	settingsPath := flags.String("settings", "", "path to the YAML settings file (required)")
	vocabPath := flags.String("vocabulary", "", "path to the bag-of-words vocabulary (optional)")
	imageDir := flags.String("images", "", "directory of input frames, processed in lexical order (required)")
	fps := flags.Float64("fps", 30, "frame rate used to synthesize timestamps")
	plotDir := flags.String("plot", "", "directory to write keypoint overlays into (optional)")
	if err := flags.Parse(args[1:]); err != nil {
		return err
	}
	if *settingsPath == "" || *imageDir == "" {
		flags.Usage()
		return errors.New("both -settings and -images are required")
	}
	if *fps <= 0 {
		return errors.New("-fps must be positive")
	}

	session := slam.NewSession(logger)
	if err := session.Initialize(ctx, *settingsPath, *vocabPath); err != nil {
		return err
	}
	defer session.Shutdown()

	paths, err := listImages(*imageDir)
	if err != nil {
		return err
	}
	logger.Infow("processing image stream", "frames", len(paths), "dir", *imageDir)

	for i, path := range paths {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		img, err := decodeImage(path)
		if err != nil {
			logger.Warnw("skipping unreadable image", "path", path, "error", err)
			continue
		}
		timestamp := float64(i) / *fps
		pose, state, err := session.ProcessFrame(ctx, img, timestamp)
		if err != nil {
			return errors.Wrapf(err, "frame %d", i)
		}
		wire := pose.Wire()
		fmt.Printf("%.6f %s %.6f %.6f %.6f %.6f %.6f %.6f %.6f\n",
			timestamp, state, wire[0], wire[1], wire[2], wire[3], wire[4], wire[5], wire[6])
		if *plotDir != "" {
			if err := plotFrame(img, *plotDir, i); err != nil {
				logger.Warnw("cannot plot keypoints", "frame", i, "error", err)
			}
		}
	}
	logger.Infow("stream finished",
		"keyframes", session.KeyframeCount(), "landmarks", session.LandmarkCount())
	return nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read image directory")
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".png", ".jpg", ".jpeg":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func decodeImage(path string) (image.Image, error) {
	//nolint:gosec
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	img, _, err := image.Decode(f)
	return img, err
}

// plotFrame writes a keypoint overlay for one frame, using a standalone FAST
// detection so the overlay does not depend on session internals.
func plotFrame(img image.Image, dir string, idx int) error {
	gray := rimage.MakeGray(img)
	cfg := &keypoints.FASTConfig{NMSWinSize: 7, Threshold: 0.15, NMatchesCircle: 9, Oriented: false}
	fast, err := keypoints.NewFASTKeypointsFromImage(gray, cfg)
	if err != nil {
		return err
	}
	overlay := keypoints.PlotKeypoints(gray, fast.Points)
	outPath := filepath.Join(dir, fmt.Sprintf("frame_%06d.png", idx))
	//nolint:gosec
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(out.Close)
	return png.Encode(out, overlay)
}

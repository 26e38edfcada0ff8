package videochunk

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os/exec"
)

// ExtractFrame decodes the single frame at offsetIndex out of chunkPath by
// seeking ffmpeg to offsetIndex/fps and decoding one JPEG frame to stdout.
// Used by C8's lazy image loading for chunked-mode frames and by C9's
// storage adapter in internal/db.
func ExtractFrame(ffmpegPath, chunkPath string, offsetIndex int, fps float64) (image.Image, error) {
	if ffmpegPath == "" {
		ffmpegPath = ffmpegBinary
	}
	if !IsFFmpegAvailable() && ffmpegPath == ffmpegBinary {
		return nil, fmt.Errorf("videochunk: ffmpeg not found in PATH")
	}
	if fps <= 0 {
		fps = 1
	}
	seekSeconds := float64(offsetIndex) / fps

	args := []string{
		"-ss", fmt.Sprintf("%f", seekSeconds),
		"-i", chunkPath,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"pipe:1",
	}
	cmd := exec.Command(ffmpegPath, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("videochunk: extract frame: %w", err)
	}
	img, err := jpeg.Decode(&out)
	if err != nil {
		return nil, fmt.Errorf("videochunk: decode extracted frame: %w", err)
	}
	return img, nil
}

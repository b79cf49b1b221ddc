package download

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	id3v2 "github.com/bogem/id3v2/v2"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Metadata is what gets embedded into a finished file.
type Metadata struct {
	Title  string
	Artist string
	Album  string
}

// Processor converts and tags finished transfers.
type Processor interface {
	Convert(ctx context.Context, in, out string) error
	Tag(ctx context.Context, path string, meta Metadata) error
}

// FFmpegProcessor shells out to ffmpeg for conversion and m4a tags and uses
// ID3v2 frames for mp3.
type FFmpegProcessor struct {
	// Binary defaults to "ffmpeg" on PATH.
	Binary string
}

var _ Processor = FFmpegProcessor{}

func (p FFmpegProcessor) binary() (string, error) {
	name := p.Binary
	if name == "" {
		name = "ffmpeg"
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("ffmpeg not found: %w", err)
	}
	return path, nil
}

// Convert re-encodes the audio of in into the container implied by out's
// extension, dropping any video.
func (p FFmpegProcessor) Convert(ctx context.Context, in, out string) error {
	kwargs := ffmpeg.KwArgs{"vn": ""}
	switch strings.ToLower(filepath.Ext(out)) {
	case ".mp3":
		kwargs["acodec"] = "libmp3lame"
		kwargs["q:a"] = "2"
	case ".m4a", ".aac":
		kwargs["acodec"] = "aac"
		kwargs["b:a"] = "192k"
	default:
		kwargs["acodec"] = "copy"
	}
	stream := ffmpeg.Input(in).Output(out, kwargs).OverWriteOutput()
	return p.run(ctx, stream)
}

// Tag embeds meta. mp3 files get ID3v2 frames; everything else is remuxed
// by ffmpeg with the codecs copied.
func (p FFmpegProcessor) Tag(ctx context.Context, path string, meta Metadata) error {
	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		return tagID3(path, meta)
	}

	var pairs []string
	if meta.Title != "" {
		pairs = append(pairs, "title="+meta.Title)
	}
	if meta.Artist != "" {
		pairs = append(pairs, "artist="+meta.Artist)
	}
	if meta.Album != "" {
		pairs = append(pairs, "album="+meta.Album)
	}
	if len(pairs) == 0 {
		return nil
	}

	tmp := filepath.Join(filepath.Dir(path), ".tmp_tagged_"+filepath.Base(path))
	stream := ffmpeg.Input(path).
		Output(tmp, ffmpeg.KwArgs{"c": "copy", "metadata": pairs}).
		OverWriteOutput()
	if err := p.run(ctx, stream); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to embed metadata for %s: %w", filepath.Ext(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace original file with tagged version: %w", err)
	}
	return nil
}

func (p FFmpegProcessor) run(ctx context.Context, stream *ffmpeg.Stream) error {
	bin, err := p.binary()
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, bin, stream.GetArgs()...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if msg := lastLine(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w", msg, err)
		}
		return err
	}
	return nil
}

func tagID3(path string, meta Metadata) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return err
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	if meta.Title != "" {
		tag.SetTitle(meta.Title)
	}
	if meta.Artist != "" {
		tag.SetArtist(meta.Artist)
	}
	if meta.Album != "" {
		tag.SetAlbum(meta.Album)
	}
	return tag.Save()
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

// Package pipeline implements the conversion collaborator: it locates a
// track by title with yt-dlp, transcodes it to mp3/mp4, and hands the
// resulting file to the transport for delivery.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ambotlabs/ambot/internal/admission"
	"github.com/ambotlabs/ambot/internal/storage"
)

// Sender delivers a finished file back to the user. Implemented by the
// telegram transport.
type Sender interface {
	SendDocument(ctx context.Context, userID int64, path, filename string) error
}

// Pipeline runs yt-dlp and delivers artifacts through a Sender.
type Pipeline struct {
	binary string
	sender Sender
	log    *slog.Logger
}

// New creates a Pipeline shelling out to the given yt-dlp binary.
func New(binary string, sender Sender, log *slog.Logger) *Pipeline {
	if binary == "" {
		binary = "yt-dlp"
	}
	return &Pipeline{binary: binary, sender: sender, log: log}
}

// Convert searches for the title and downloads/transcodes it into a temp
// directory. The artifact's Cleanup removes the directory.
func (p *Pipeline) Convert(ctx context.Context, kind storage.JobKind, title string, quality int) (*admission.Artifact, error) {
	dir, err := os.MkdirTemp("", "ambot-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	args := []string{
		"--no-playlist",
		"--quiet",
		"--no-warnings",
		"-o", filepath.Join(dir, "%(title)s.%(ext)s"),
	}

	switch kind {
	case storage.KindMP3:
		args = append(args,
			"-f", "bestaudio/best",
			"-x", "--audio-format", "mp3",
			"--audio-quality", strconv.Itoa(quality)+"K",
		)
	case storage.KindMP4:
		args = append(args,
			"-f", fmt.Sprintf("bestvideo[height<=%d]+bestaudio/best", quality),
			"--merge-output-format", "mp4",
		)
	default:
		cleanup()
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}

	args = append(args, "ytsearch1:"+title)

	p.log.Debug("running yt-dlp", "kind", kind, "quality", quality, "title", title)

	cmd := exec.CommandContext(ctx, p.binary, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		cleanup()
		return nil, fmt.Errorf("yt-dlp: %w: %s", err, truncate(string(out), 200))
	}

	path, err := findOutput(dir, kind)
	if err != nil {
		cleanup()
		return nil, err
	}

	return &admission.Artifact{
		Path:     path,
		Filename: title + filepath.Ext(path),
		Cleanup:  cleanup,
	}, nil
}

// Deliver sends the artifact to the user. A send failure (for example a
// file over the transport's size cap) is reported back so the charge can
// be refunded.
func (p *Pipeline) Deliver(ctx context.Context, userID int64, artifact *admission.Artifact) error {
	if err := p.sender.SendDocument(ctx, userID, artifact.Path, artifact.Filename); err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	return nil
}

func findOutput(dir string, kind storage.JobKind) (string, error) {
	ext := ".mp3"
	if kind == storage.KindMP4 {
		ext = ".mp4"
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, f := range files {
		if !f.IsDir() && strings.EqualFold(filepath.Ext(f.Name()), ext) {
			return filepath.Join(dir, f.Name()), nil
		}
	}
	return "", fmt.Errorf("no %s output produced", ext)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package cache

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/lrstanley/go-ytdlp"
)

// YTDLPDownloader fetches audio with yt-dlp. The binary must be on PATH.
type YTDLPDownloader struct {
	logger *log.Logger
}

func NewYTDLPDownloader(logger *log.Logger) *YTDLPDownloader {
	return &YTDLPDownloader{logger: logger}
}

func (d *YTDLPDownloader) Download(ctx context.Context, playableID, destPath string) error {
	url := fmt.Sprintf("https://www.youtube.com/watch?v=%s", playableID)

	cmd := ytdlp.New().
		Format("bestaudio").
		NoPlaylist().
		Output(destPath)

	if _, err := cmd.Run(ctx, url); err != nil {
		return fmt.Errorf("yt-dlp failed for %s: %w", playableID, err)
	}

	d.logger.Infof("download complete: %s", playableID)
	return nil
}

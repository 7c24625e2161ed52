package channel

import (
	"context"
	"fmt"
	"os"

	"asticker2vid/internal/scratch"
)

// TransientFiles is a FileSource that keeps nothing: every request downloads
// into a scratch file that is unlinked as soon as it is open. The open
// descriptor keeps the data readable until the caller closes it.
type TransientFiles struct {
	Scratch *scratch.Manager
	Fetcher Fetcher
}

func (t *TransientFiles) Open(ctx context.Context, key, fileID, url string) (*os.File, error) {
	res, err := t.Scratch.Acquire("_delivery.mp4")
	if err != nil {
		return nil, err
	}
	defer res.Cleanup()

	if _, err := t.Fetcher.ToFile(ctx, url, res.Path); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", fileID, err)
	}
	return os.Open(res.Path)
}

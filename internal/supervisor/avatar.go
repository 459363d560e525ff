package supervisor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxAvatarBytes = 1 << 20

var avatarClient = &http.Client{Timeout: 10 * time.Second}

func fetchURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := avatarClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("avatar fetch: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxAvatarBytes))
}

package download

import (
	"context"
	"fmt"
	nethttp "net/http"

	"github.com/meigma/assetcache/internal/sizing"
)

func (c *Client) fetchMusic(ctx context.Context, minor, crc uint32) ([]byte, error) {
	url := fmt.Sprintf("%s?m=0&a=%d&g=%d&c=%d&v=0", c.musicURL, MusicMajor, minor, crc)
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, url, nethttp.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != nethttp.StatusOK {
		return nil, fmt.Errorf("music %d: unexpected status %d", minor, resp.StatusCode)
	}
	return sizing.ReadAllWithLimit(resp.Body, maxFileSize, fmt.Errorf("%w: music %d exceeds %d bytes", ErrProtocol, minor, maxFileSize))
}

package ssh

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
)

// Evidence files go into the fleet report verbatim, so reads are bounded.
const maxEvidenceBytes = 1 << 20

// Download fetches remotePath over SFTP. Used by the verification phase to
// collect evidence (sshd_config, jail status) for the fleet report.
func (c *Client) Download(ctx context.Context, remotePath string) ([]byte, error) {
	conn, err := c.current()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		return nil, fmt.Errorf("opening sftp session: %w", err)
	}
	defer client.Close()

	f, err := client.Open(remotePath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", remotePath, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxEvidenceBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", remotePath, err)
	}

	log.Debug().
		Str("path", remotePath).
		Int("bytes", len(data)).
		Msg("downloaded evidence file")
	return data, nil
}

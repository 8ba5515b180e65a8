// Package extract unpacks installer containers. The zip path is
// native; everything else (NSIS/Squirrel exe, dmg) goes through 7z as
// an external collaborator, always under a timeout.
package extract

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/portelect/portelect/internal/execx"
)

type SevenZip struct {
	binary  string
	timeout time.Duration
}

func NewSevenZip(timeout time.Duration) *SevenZip {
	return &SevenZip{binary: "7z", timeout: timeout}
}

// Extract unpacks src into dst. okExitCodes tolerates the warning
// exits 7z uses for recoverable issues (code 2 on HFS+ dmg images).
func (s *SevenZip) Extract(ctx context.Context, src, dst string, okExitCodes ...int) ([]byte, error) {
	if err := os.MkdirAll(dst, 0755); err != nil {
		return nil, err
	}

	out, err := execx.Run(ctx, execx.Cmd{
		Name:        s.binary,
		Args:        []string{"x", "-y", src, "-o" + dst},
		Timeout:     s.timeout,
		OKExitCodes: okExitCodes,
	})
	if err != nil {
		return out, fmt.Errorf("7z extract %s: %w", src, err)
	}

	return out, nil
}

// SPDX-License-Identifier: GPL-3.0-or-later

package dnsoverquic

import (
	"context"
	"log/slog"
)

// SLogger is the structured logger used by this package.
//
// It is compatible with [*slog.Logger].
type SLogger interface {
	InfoContext(ctx context.Context, msg string, args ...any)
}

var _ SLogger = &slog.Logger{}

var discardLogger = slog.New(slog.DiscardHandler)

package executor

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/siteaudit/internal/audit"
	"github.com/JakeFAU/siteaudit/internal/lhr"
)

const (
	auditFinalScreenshot = "final-screenshot"
	auditThumbnails      = "screenshot-thumbnails"
)

// writeArtifacts persists screenshots and filmstrip frames. Failures are logged only.
func (e *Executor) writeArtifacts(ctx context.Context, logger *zap.Logger, key string, result *lhr.Result) {
	if a, ok := result.Audits[auditFinalScreenshot]; ok && a.Details != nil && a.Details.Data != "" {
		e.putImage(ctx, logger, path.Join(key, audit.ArtifactScreenshot), a.Details.Data)
	}
	if fp := result.FullPageScreenshot; fp != nil && fp.Screenshot.Data != "" {
		e.putImage(ctx, logger, path.Join(key, audit.ArtifactFullScreenshot), fp.Screenshot.Data)
	}
	frames, err := result.Filmstrip(auditThumbnails)
	if err != nil {
		logger.Warn("read filmstrip", zap.Error(err))
	}
	for i, frame := range frames {
		if frame.Data == "" {
			continue
		}
		e.putImage(ctx, logger, audit.ThumbnailKey(key, i), frame.Data)
	}
	if err := e.store.Sync(ctx, key); err != nil {
		logger.Warn("mirror artifacts", zap.Error(err))
	}
}

func (e *Executor) putImage(ctx context.Context, logger *zap.Logger, key, dataURI string) {
	raw, err := decodeDataURI(dataURI)
	if err != nil {
		logger.Warn("decode image", zap.String("artifact", key), zap.Error(err))
		return
	}
	if _, err := e.store.PutObject(ctx, key, "image/jpeg", bytes.NewReader(raw)); err != nil {
		logger.Warn("write artifact", zap.String("artifact", key), zap.Error(err))
	}
}

// decodeDataURI base64-decodes everything after the first comma.
func decodeDataURI(s string) ([]byte, error) {
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return raw, nil
}

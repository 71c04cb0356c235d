package audit

import (
	"path"
	"strconv"

	"github.com/JakeFAU/siteaudit/internal/route"
)

// Fixed artifact names inside a job's artifact directory.
const (
	ArtifactPayloadHTML    = "payload.html"
	ArtifactReportHTML     = "lighthouse.html"
	ArtifactReportJSON     = "lighthouse.json"
	ArtifactScreenshot     = "screenshot.jpeg"
	ArtifactFullScreenshot = "full-screenshot.jpeg"
	ArtifactThumbnailsDir  = "__screenshot-thumbnails__"
)

// KnownArtifacts lists every artifact a job may leave behind.
var KnownArtifacts = []string{
	ArtifactPayloadHTML,
	ArtifactReportHTML,
	ArtifactReportJSON,
	ArtifactScreenshot,
	ArtifactFullScreenshot,
	ArtifactThumbnailsDir,
}

// ArtifactKey returns the artifact directory key for r: "<site host>/<path slug>".
func ArtifactKey(r route.Route) string {
	return path.Join(r.Host(), r.Slug())
}

// ThumbnailKey returns the key of filmstrip frame i under an artifact key.
func ThumbnailKey(artifactKey string, i int) string {
	return path.Join(artifactKey, ArtifactThumbnailsDir, strconv.Itoa(i)+".jpeg")
}

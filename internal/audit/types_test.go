package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/siteaudit/internal/route"
)

func TestNewJobAndDuration(t *testing.T) {
	t.Parallel()

	r, err := route.New("https://a.test:8443", false, "/Blog/Post.html")
	require.NoError(t, err)
	created := time.Unix(100, 0)
	job := NewJob(r, created)

	require.Equal(t, r.ID(), job.ID)
	require.Equal(t, StatusPending, job.Status)
	require.Zero(t, job.Duration())

	finished := created.Add(42 * time.Second)
	job.FinishedAt = &finished
	require.Equal(t, 42*time.Second, job.Duration())

	require.Equal(t, "a.test:8443/Blog/Post", ArtifactKey(r))
	require.Equal(t, "a.test:8443/Blog/Post/__screenshot-thumbnails__/3.jpeg", ThumbnailKey(ArtifactKey(r), 3))
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
	require.False(t, StatusFailedRetry.Terminal())
	require.False(t, StatusRunning.Terminal())
	require.False(t, StatusPending.Terminal())
}

func TestLookupDevice(t *testing.T) {
	t.Parallel()

	d, err := LookupDevice("mobile")
	require.NoError(t, err)
	require.Equal(t, Mobile, d)

	_, err = LookupDevice("tablet")
	require.Error(t, err)
}

package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func installFakeYTDLP(t *testing.T, script string) string {
	t.Helper()
	fakeBin := filepath.Join(t.TempDir(), "bin")
	if err := os.MkdirAll(fakeBin, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(fakeBin, "yt-dlp"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", fakeBin+":"+os.Getenv("PATH"))
	return fakeBin
}

func TestResolve_FlatPlaylistFlagsPrivateAndDropsEmpty(t *testing.T) {
	script := `#!/usr/bin/env bash
set -euo pipefail
argfile="${FAKE_ARGS_FILE:?}"
printf '%s\n' "$@" > "$argfile"
cat <<'EOF'
{
  "_type": "playlist",
  "id": "PLabc",
  "title": "Field Recordings",
  "description": "A playlist",
  "uploader": "creator",
  "entries": [
    {"id": "vid0000000a", "title": "First", "uploader": "creator", "duration": 61.0},
    {"id": "", "title": "broken"},
    {"id": "vid0000000b", "title": "[Private video]"},
    {"id": "vid0000000c", "title": "[Deleted video]"},
    {"id": "vid0000000d", "title": "Last", "duration": 12}
  ]
}
EOF
`
	argsFile := filepath.Join(t.TempDir(), "args")
	t.Setenv("FAKE_ARGS_FILE", argsFile)
	installFakeYTDLP(t, script)

	m, err := Client{}.Resolve(context.Background(), "https://www.youtube.com/playlist?list=PLabc", true, Options{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if m.Title != "Field Recordings" || m.Uploader != "creator" {
		t.Fatalf("manifest header = %q/%q", m.Title, m.Uploader)
	}
	if len(m.Entries) != 4 {
		t.Fatalf("got %d entries, want 4 (empty id dropped)", len(m.Entries))
	}
	if m.Entries[0].ExternalID != "vid0000000a" || m.Entries[0].DurationSeconds != 61 {
		t.Fatalf("first entry = %+v", m.Entries[0])
	}
	if !m.Entries[1].Private || !m.Entries[2].Private {
		t.Fatalf("placeholder entries not flagged private: %+v", m.Entries[1:3])
	}
	if m.Entries[3].Position != 4 {
		t.Fatalf("positions not sequential: %+v", m.Entries[3])
	}

	raw, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	args := string(raw)
	if !strings.Contains(args, "--flat-playlist") || !strings.Contains(args, "-J") {
		t.Fatalf("unexpected yt-dlp args:\n%s", args)
	}
}

func TestResolve_SingleVideo(t *testing.T) {
	script := `#!/usr/bin/env bash
set -euo pipefail
cat <<'EOF'
{"id": "dQw4w9WgXcQ", "title": "Solo", "uploader": "creator", "duration": 212.4}
EOF
`
	installFakeYTDLP(t, script)

	m, err := Client{}.Resolve(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ", false, Options{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(m.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(m.Entries))
	}
	e := m.Entries[0]
	if e.ExternalID != "dQw4w9WgXcQ" || e.Title != "Solo" || e.DurationSeconds != 212 || e.Position != 1 {
		t.Fatalf("entry = %+v", e)
	}
}

func TestProbe_MapsMetadata(t *testing.T) {
	script := `#!/usr/bin/env bash
set -euo pipefail
cat <<'EOF'
{
  "id": "dQw4w9WgXcQ",
  "title": "Full Probe",
  "description": "desc",
  "duration": 630.9,
  "view_count": 12345,
  "like_count": 678,
  "upload_date": "20240131",
  "uploader": "creator",
  "channel_id": "UC0123456789abcdefghijkl",
  "thumbnail": "https://i.ytimg.com/vi/dQw4w9WgXcQ/hq720.jpg",
  "tags": ["music"],
  "categories": ["Entertainment"],
  "width": 1920,
  "height": 1080,
  "fps": 29.97,
  "format_id": "137+140",
  "filesize_approx": 73400320
}
EOF
`
	installFakeYTDLP(t, script)

	meta, err := Client{}.Probe(context.Background(), "dQw4w9WgXcQ", Options{})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if meta.Resolution != "1920x1080" {
		t.Fatalf("resolution = %q, want 1920x1080", meta.Resolution)
	}
	if meta.UploaderID != "UC0123456789abcdefghijkl" {
		t.Fatalf("uploader id did not fall back to channel_id: %q", meta.UploaderID)
	}
	if meta.SourceURL != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
		t.Fatalf("source url = %q", meta.SourceURL)
	}
	if meta.DurationSeconds != 630 || meta.FPS != 29.97 || meta.FileSizeApprox != 73400320 {
		t.Fatalf("numeric fields = %+v", meta)
	}
}

func TestDownload_MaterializesIntoDestDir(t *testing.T) {
	script := `#!/usr/bin/env bash
set -euo pipefail
dest=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-P" ]; then dest="$a"; fi
  prev="$a"
done
echo "media bytes" > "$dest/dQw4w9WgXcQ.mp4"
`
	installFakeYTDLP(t, script)

	destDir := t.TempDir()
	err := Client{}.Download(context.Background(), "dQw4w9WgXcQ", destDir, Options{Quality: "720p"})
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if _, err := os.Stat(filepath.Join(destDir, "dQw4w9WgXcQ.mp4")); err != nil {
		t.Fatalf("media not materialized: %v", err)
	}
}

func TestDownload_ClassifiesFailures(t *testing.T) {
	cases := []struct {
		name   string
		stderr string
		want   error
	}{
		{"rate limited", "ERROR: HTTP Error 429: Too Many Requests", ErrRateLimited},
		{"unavailable", "ERROR: [youtube] dQw4w9WgXcQ: Video unavailable. This video is private", ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			script := "#!/usr/bin/env bash\nset -euo pipefail\necho \"" + tc.stderr + "\" >&2\nexit 1\n"
			installFakeYTDLP(t, script)

			err := Client{}.Download(context.Background(), "dQw4w9WgXcQ", t.TempDir(), Options{})
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
			if !strings.Contains(err.Error(), "ERROR:") {
				t.Fatalf("error detail lost: %v", err)
			}
		})
	}
}

func TestDownload_PlainFailureKeepsDetail(t *testing.T) {
	script := `#!/usr/bin/env bash
set -euo pipefail
echo "ERROR: unable to download video data: connection reset by peer" >&2
exit 1
`
	installFakeYTDLP(t, script)

	err := Client{}.Download(context.Background(), "dQw4w9WgXcQ", t.TempDir(), Options{})
	if err == nil {
		t.Fatalf("expected failure")
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrRateLimited) {
		t.Fatalf("transient failure misclassified: %v", err)
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("error detail lost: %v", err)
	}
}

func TestSelectFormat(t *testing.T) {
	cases := []struct {
		quality string
		want    string
	}{
		{"", "bv*+ba/b"},
		{"best", "bv*+ba/b"},
		{"1080p", "bv*[height<=1080]+ba/b[height<=1080]"},
		{"720", "bv*[height<=720]+ba/b[height<=720]"},
		{"weird", "bv*+ba/b"},
	}
	for _, tc := range cases {
		if got := selectFormat(tc.quality); got != tc.want {
			t.Fatalf("selectFormat(%q) = %q, want %q", tc.quality, got, tc.want)
		}
	}
}

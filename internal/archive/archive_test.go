package archive

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 14, 6, 0, 0, 0, time.UTC)
	sha := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

	cases := []struct {
		name   string
		prefix string
		title  string
		sha    string
		want   string
	}{
		{"typical", "epapers", "DIE ZEIT 12/2024", sha, "epapers/2024/die-zeit-12-2024-2cf24dba5fb0.epub"},
		{"umlauts transliterated", "epapers/", "Zürich Ausgabe", sha, "epapers/2024/zuerich-ausgabe-2cf24dba5fb0.epub"},
		{"upper umlauts and sharp s", "epapers", "ÖKO Frühling Straße", sha, "epapers/2024/oeko-fruehling-strasse-2cf24dba5fb0.epub"},
		{"other accents dropped", "epapers", "Café", sha, "epapers/2024/caf-2cf24dba5fb0.epub"},
		{"empty title", "epapers", "  ", sha, "epapers/2024/epaper-2cf24dba5fb0.epub"},
		{"no prefix", "", "Issue", "abc", "2024/issue-abc.epub"},
		{"no digest", "x", "Issue", "", "x/2024/issue.epub"},
		{"traversal stays inside", "epapers", "../../etc/passwd", sha, "epapers/2024/etc-passwd-2cf24dba5fb0.epub"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Key(tc.prefix, tc.title, tc.sha, at))
		})
	}
}

func TestNoopStore(t *testing.T) {
	t.Parallel()

	uri, err := NoopStore{}.PutObject(context.Background(), "a.epub", ContentType, strings.NewReader("x"))
	require.NoError(t, err)
	require.Empty(t, uri)
}
